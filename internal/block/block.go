// Package block defines the processing step contract for skypipe sequences.
//
// A Block is a named unit of pipeline work applied to one frame at a time.
// Blocks may keep private state that accumulates across the frames of a
// single run (a PSF model refined as more frames are seen, a light curve
// under construction). That state is owned exclusively by the block
// instance: the orchestrator never reads it, and blocks communicate with
// each other only through the frame's result mapping.
package block

import "github.com/asterlab/skypipe/internal/frame"

// Block is a single processing step with a run lifecycle.
//
// Initialize runs once before the first frame and must fully reset any
// cross-frame accumulator state, since a sequence may be re-run with the
// same block instances. Apply runs once per frame, in frame order.
// Terminate runs once after the last frame, in sequence order, even when
// some frames failed.
//
// A block instance must not be shared between concurrently running
// sequences if it accumulates cross-frame state.
type Block interface {
	// Name identifies the block in reports and errors.
	Name() string

	// Initialize prepares the block for a run. Failure aborts the run.
	Initialize() error

	// Apply processes one frame. It may read result keys written by
	// earlier blocks, write new keys, and mutate pixels only if the block
	// is pixel-transforming. Failure skips the remaining blocks for this
	// frame only.
	Apply(f *frame.Frame) error

	// Terminate finalizes accumulated state. Failure is reported but does
	// not undo per-frame results.
	Terminate() error
}

// Base provides the name plus no-op lifecycle hooks so most blocks only
// implement Apply. Embed it by value.
type Base struct {
	name string
}

// NewBase creates a Base with the given block name.
func NewBase(name string) Base { return Base{name: name} }

// Name returns the block name.
func (b Base) Name() string { return b.name }

// Initialize is a no-op.
func (Base) Initialize() error { return nil }

// Terminate is a no-op.
func (Base) Terminate() error { return nil }

// Stateless marks blocks whose Apply keeps no cross-frame state and is
// safe to call concurrently on different frames. Required (or Sharder)
// for parallel runs.
type Stateless interface {
	Block

	// StatelessBlock is a marker; implementations are empty.
	StatelessBlock()
}

// Sharder is implemented by stateful blocks that can run under the
// parallel extension by sharding their accumulator per worker and merging
// the shards before Terminate.
type Sharder interface {
	Block

	// Shard returns n independent block instances, one per worker. The
	// receiver is not itself used for Apply during a sharded run.
	Shard(n int) []Block

	// Merge folds the shards' accumulated state back into the receiver.
	// Called once, before Terminate, after all frames have been applied.
	Merge(shards []Block) error
}
