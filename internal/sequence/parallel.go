package sequence

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
	"golang.org/x/sync/errgroup"
)

// ParallelConfig configures the parallel run extension.
type ParallelConfig struct {
	// Workers is the number of concurrent workers (0 = runtime.NumCPU()).
	Workers int
}

// DefaultParallelConfig returns sensible defaults for parallel runs.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{Workers: runtime.NumCPU()}
}

// shardedBlock pairs a Sharder with its per-worker shards for a run.
type shardedBlock struct {
	receiver block.Sharder
	shards   []block.Block
}

// RunParallel processes items concurrently across workers. Because blocks
// may depend on cross-frame accumulator state mutated in frame order, this
// is restricted: every block must either be block.Stateless (shared across
// workers) or block.Sharder (one accumulator shard per worker, merged
// before Terminate). Blocks that are neither reject the run up front.
//
// Outcomes appear in input order. Frame-order-sensitive accumulators see
// their shard's frames in an arbitrary interleaving; Sharder
// implementations must be order-insensitive or sort at Merge.
func (s *Sequence) RunParallel(ctx context.Context, items []Item, cfg ParallelConfig, opts ...RunOption) (*Report, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers == 1 || len(items) <= 1 {
		return s.Run(ctx, items, opts...)
	}

	chains, sharded, err := s.buildWorkerChains(workers)
	if err != nil {
		return nil, err
	}

	o := newRunOptions(opts)
	if err := initializeChains(s.blocks, sharded); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.runStarted()
	}

	report := newReport(s.blocks)
	o.progress.OnStart(len(items))

	outcomes := make([]*Outcome, len(items))
	jobs := make(chan int)

	var progressMu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		chain := chains[w]
		g.Go(func() error {
			worker := &Sequence{blocks: chain}
			for idx := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				outcome := worker.runItem(idx, items[idx], &runOptions{observer: lockedObserver(&progressMu, o.observer)})
				outcomes[idx] = &outcome

				if o.metrics != nil {
					o.metrics.frameDone(outcome.OK, time.Duration(outcome.ElapsedNs))
				}

				// Callbacks are not required to be concurrency-safe.
				progressMu.Lock()
				processed++
				o.progress.OnFrame(processed, len(items), outcome.ID, outcome.failure)
				progressMu.Unlock()
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return
			}
		}
	}()

	runErr := g.Wait()
	if err := ctx.Err(); err != nil {
		runErr = err
	}

	mergeShards(report, sharded)
	terminateChains(report, s.blocks, o.metrics)

	for _, outcome := range outcomes {
		if outcome != nil {
			report.add(*outcome)
		}
	}
	report.finish()
	o.progress.OnComplete(report)
	return report, runErr
}

// buildWorkerChains validates the block list for parallel execution and
// produces one chain per worker.
func (s *Sequence) buildWorkerChains(workers int) ([][]block.Block, []shardedBlock, error) {
	chains := make([][]block.Block, workers)
	for w := range chains {
		chains[w] = make([]block.Block, len(s.blocks))
	}
	var sharded []shardedBlock

	for i, b := range s.blocks {
		switch tb := b.(type) {
		case block.Sharder:
			shards := tb.Shard(workers)
			if len(shards) != workers {
				return nil, nil, fmt.Errorf("block %q sharded into %d instances, want %d",
					b.Name(), len(shards), workers)
			}
			for w := range workers {
				chains[w][i] = shards[w]
			}
			sharded = append(sharded, shardedBlock{receiver: tb, shards: shards})
		case block.Stateless:
			for w := range workers {
				chains[w][i] = b
			}
		default:
			return nil, nil, fmt.Errorf(
				"block %q keeps cross-frame state and cannot be sharded; use Run instead", b.Name())
		}
	}
	return chains, sharded, nil
}

// initializeChains initializes blocks in sequence order. For sharded
// blocks the receiver is initialized first (resetting the merged
// accumulator) and then each shard.
func initializeChains(blocks []block.Block, sharded []shardedBlock) error {
	shardsOf := func(b block.Block) []block.Block {
		for _, sb := range sharded {
			if block.Block(sb.receiver) == b {
				return sb.shards
			}
		}
		return nil
	}

	var initialized []block.Block
	for _, b := range blocks {
		instances := append([]block.Block{b}, shardsOf(b)...)
		for _, inst := range instances {
			if err := inst.Initialize(); err != nil {
				for _, done := range initialized {
					_ = done.Terminate()
				}
				return &InitError{Block: b.Name(), Err: err}
			}
			initialized = append(initialized, inst)
		}
	}
	return nil
}

// mergeShards folds worker shards back into their receivers, collecting
// failures the same way terminate failures are collected.
func mergeShards(report *Report, sharded []shardedBlock) {
	for _, sb := range sharded {
		if err := sb.receiver.Merge(sb.shards); err != nil {
			report.TermFailures = append(report.TermFailures, TermFailure{
				Block: sb.receiver.Name(),
				Err:   fmt.Sprintf("merge shards: %v", err),
			})
		}
	}
}

// terminateChains terminates the receiver blocks in sequence order.
// Shards are transient state carriers and are not terminated themselves.
func terminateChains(report *Report, blocks []block.Block, m *Metrics) {
	for _, b := range blocks {
		if err := b.Terminate(); err != nil {
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

// lockedObserver serializes observer invocations across workers.
func lockedObserver(mu *sync.Mutex, fn func(int, *frame.Frame)) func(int, *frame.Frame) {
	if fn == nil {
		return nil
	}
	return func(i int, f *frame.Frame) {
		mu.Lock()
		defer mu.Unlock()
		fn(i, f)
	}
}
