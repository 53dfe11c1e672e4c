// Package sequence executes ordered lists of processing blocks over one or
// many frames, isolating per-frame failures and producing a run report.
package sequence

import (
	"context"
	"log/slog"
	"time"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
)

// Item is a loadable frame descriptor. The engine consumes the image
// source only through this interface; materialization (file decoding,
// memory mapping) is the collaborator's responsibility.
type Item interface {
	// ID identifies the item in the run report.
	ID() string

	// Load materializes the frame. A failure is recorded as a position-0
	// failure for this item.
	Load() (*frame.Frame, error)
}

// frameItem adapts an in-memory frame to Item.
type frameItem struct {
	f *frame.Frame
}

func (it frameItem) ID() string {
	if it.f.ID != "" {
		return it.f.ID
	}
	return "frame"
}

func (it frameItem) Load() (*frame.Frame, error) { return it.f, nil }

// FromFrames wraps in-memory frames as items. Single frames are the
// one-element case: the orchestrator has a single code path.
func FromFrames(frames ...*frame.Frame) []Item {
	items := make([]Item, len(frames))
	for i, f := range frames {
		items[i] = frameItem{f: f}
	}
	return items
}

// Sequence is an ordered list of blocks. The order defines both execution
// order per frame and the order in which Initialize/Terminate hooks fire.
type Sequence struct {
	blocks []block.Block
}

// New creates a sequence over the given blocks.
func New(blocks ...block.Block) *Sequence {
	return &Sequence{blocks: blocks}
}

// Blocks returns the block list for read-only inspection (result display
// after a run).
func (s *Sequence) Blocks() []block.Block {
	out := make([]block.Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// runOptions collects optional run configuration.
type runOptions struct {
	progress Callback
	metrics  *Metrics
	observer func(index int, f *frame.Frame)
}

// RunOption configures a single run.
type RunOption func(*runOptions)

// WithProgress attaches a progress callback to the run.
func WithProgress(cb Callback) RunOption {
	return func(o *runOptions) {
		if cb != nil {
			o.progress = cb
		}
	}
}

// WithMetrics attaches a metrics collector to the run.
func WithMetrics(m *Metrics) RunOption {
	return func(o *runOptions) { o.metrics = m }
}

// WithFrameObserver registers a read-only consumer invoked with each frame
// after its traversal, successful or not. The engine itself does not
// retain frames beyond the current iteration.
func WithFrameObserver(fn func(index int, f *frame.Frame)) RunOption {
	return func(o *runOptions) { o.observer = fn }
}

func newRunOptions(opts []RunOption) runOptions {
	o := runOptions{progress: NoOpCallback{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run executes every block over every item, in order. One entry per item
// appears in the report, in input order. Only initialization failures
// abort the run; apply and load failures are isolated to their frame, and
// terminate failures are collected into the report.
//
// Context cancellation is honored between frames only: the engine imposes
// no timeouts of its own. On cancellation the blocks are still terminated
// and the partial report is returned together with ctx.Err().
func (s *Sequence) Run(ctx context.Context, items []Item, opts ...RunOption) (*Report, error) {
	o := newRunOptions(opts)

	if err := s.initialize(); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.runStarted()
	}

	report := newReport(s.blocks)
	o.progress.OnStart(len(items))

	var runErr error
	for k, item := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		outcome := s.runItem(k, item, &o)
		report.add(outcome)
		if o.metrics != nil {
			o.metrics.frameDone(outcome.OK, time.Duration(outcome.ElapsedNs))
		}
		var frameErr error
		if !outcome.OK {
			frameErr = outcome.failure
		}
		o.progress.OnFrame(k+1, len(items), outcome.ID, frameErr)
	}

	s.terminateInto(report, o.metrics)
	report.finish()
	o.progress.OnComplete(report)
	return report, runErr
}

// RunFrame processes a single in-memory frame, normalizing it to a
// one-element run.
func (s *Sequence) RunFrame(ctx context.Context, f *frame.Frame, opts ...RunOption) (*Report, error) {
	return s.Run(ctx, FromFrames(f), opts...)
}

// initialize calls Initialize on each block in order. On failure the
// already-initialized blocks are torn down, best effort, before the
// InitError is surfaced.
func (s *Sequence) initialize() error {
	for i, b := range s.blocks {
		if err := b.Initialize(); err != nil {
			for _, done := range s.blocks[:i] {
				if terr := done.Terminate(); terr != nil {
					slog.Warn("terminate during init teardown failed",
						"block", done.Name(), "error", terr)
				}
			}
			return &InitError{Block: b.Name(), Err: err}
		}
	}
	return nil
}

// runItem routes one item through the block chain and returns its outcome.
// Partially processed frames keep whichever result keys were written
// before the failing block.
func (s *Sequence) runItem(index int, item Item, o *runOptions) Outcome {
	start := time.Now()
	outcome := Outcome{Index: index, ID: item.ID()}

	f, err := item.Load()
	if err != nil {
		lerr := &LoadError{FrameID: outcome.ID, Err: err}
		slog.Debug("frame load failed", "frame", outcome.ID, "error", err)
		outcome.FailedBlock = StageLoad
		outcome.Err = lerr.Error()
		outcome.failure = lerr
		outcome.ElapsedNs = time.Since(start).Nanoseconds()
		return outcome
	}
	if f.ID == "" {
		f.ID = outcome.ID
	}

	for i, b := range s.blocks {
		if err := b.Apply(f); err != nil {
			aerr := &ApplyError{Block: b.Name(), FrameID: outcome.ID, Err: err}
			slog.Debug("block failed, skipping rest of chain for frame",
				"block", b.Name(), "frame", outcome.ID, "error", err)
			outcome.FailedBlock = b.Name()
			outcome.Err = aerr.Error()
			outcome.failure = aerr
			outcome.BlocksRun = i
			outcome.ElapsedNs = time.Since(start).Nanoseconds()
			if o.observer != nil {
				o.observer(index, f)
			}
			return outcome
		}
	}

	outcome.OK = true
	outcome.BlocksRun = len(s.blocks)
	outcome.ElapsedNs = time.Since(start).Nanoseconds()
	if o.observer != nil {
		o.observer(index, f)
	}
	return outcome
}

// terminateInto calls Terminate on every block in sequence order,
// collecting failures into the report instead of raising them.
func (s *Sequence) terminateInto(report *Report, m *Metrics) {
	for _, b := range s.blocks {
		if err := b.Terminate(); err != nil {
			slog.Debug("block terminate failed", "block", b.Name(), "error", err)
			report.TermFailures = append(report.TermFailures, TermFailure{
				Block: b.Name(),
				Err:   err.Error(),
			})
			if m != nil {
				m.termFailure()
			}
		}
	}
}
