package sequence

import "fmt"

// InitError reports a block whose Initialize failed. It is the only error
// kind that aborts a run: no frames are processed and no report is
// produced, though already-initialized blocks are torn down first.
type InitError struct {
	Block string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("sequence: initialize block %q: %v", e.Block, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ApplyError reports a block failure on one frame. It is recorded in the
// run report and never propagates beyond that frame's traversal.
type ApplyError struct {
	Block   string
	FrameID string
	Err     error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("sequence: block %q failed on frame %q: %v", e.Block, e.FrameID, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// LoadError reports that the image source failed to materialize a frame.
// It is treated as a failure at position 0: the whole block chain is
// skipped for that item and the run continues.
type LoadError struct {
	FrameID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("sequence: load frame %q: %v", e.FrameID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TermFailure is a collected Terminate error, surfaced in the run report
// only so that every block still gets its termination attempt.
type TermFailure struct {
	Block string `json:"block" yaml:"block"`
	Err   string `json:"error" yaml:"error"`
}
