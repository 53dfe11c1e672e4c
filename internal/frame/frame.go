package frame

import (
	"fmt"
	"sort"
	"time"
)

// Frame is the mutable per-image container handed through a sequence.
// It carries the pixel grid, provenance metadata, and a mapping of named
// results contributed by blocks. The engine never inspects result values;
// blocks communicate through keys alone.
type Frame struct {
	// ID identifies the frame in run reports. Defaults to Path when loaded
	// from storage.
	ID string

	// Path is the source file, empty for in-memory frames.
	Path string

	// ObservedAt is the acquisition time when known.
	ObservedAt time.Time

	// Exposure is the exposure time in seconds (0 when unknown).
	Exposure float64

	// Pixels is the raw pixel grid. Blocks must treat it as read-only
	// unless they are pixel-transforming (calibration, trimming).
	Pixels *Grid

	results map[string]any
}

// New creates a frame around a pixel grid.
func New(pixels *Grid) *Frame {
	return &Frame{Pixels: pixels, results: make(map[string]any)}
}

// NotFoundError is returned by Get for an absent result key. Blocks must
// treat a missing dependency as a hard error, not a default.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("frame: no result under key %q", e.Key)
}

// TypeMismatchError is returned by Value when a result exists but has a
// different dynamic type than requested.
type TypeMismatchError struct {
	Key  string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("frame: result %q is %s, not %s", e.Key, e.Got, e.Want)
}

// Set attaches a named result, silently overwriting any previous value
// under the same key (last-write-wins, no merge).
func (f *Frame) Set(key string, value any) {
	if f.results == nil {
		f.results = make(map[string]any)
	}
	f.results[key] = value
}

// Get returns the result stored under key, or a *NotFoundError.
func (f *Frame) Get(key string) (any, error) {
	v, ok := f.results[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return v, nil
}

// Has reports whether a result exists under key.
func (f *Frame) Has(key string) bool {
	_, ok := f.results[key]
	return ok
}

// Keys returns the result keys in sorted order.
func (f *Frame) Keys() []string {
	keys := make([]string, 0, len(f.results))
	for k := range f.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the result under key asserted to type T. Absent keys yield
// *NotFoundError, present-but-mistyped values *TypeMismatchError.
func Value[T any](f *Frame, key string) (T, error) {
	var zero T
	v, err := f.Get(key)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Key:  key,
			Want: fmt.Sprintf("%T", zero),
			Got:  fmt.Sprintf("%T", v),
		}
	}
	return typed, nil
}
