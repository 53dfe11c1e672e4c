// Package loader materializes sequence items from image files on disk.
// Decoding happens lazily in Item.Load, so a corrupt file surfaces as a
// per-frame load failure instead of aborting the whole run.
package loader

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/sequence"
)

// SupportedExtensions lists the file extensions FromPaths accepts.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// IsSupported reports whether the path has a supported image extension.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// pathItem is a lazily decoded file-backed item.
type pathItem struct {
	path     string
	exposure float64
}

func (it pathItem) ID() string { return filepath.Base(it.path) }

func (it pathItem) Load() (*frame.Frame, error) {
	f, err := LoadFrame(it.path)
	if err != nil {
		return nil, err
	}
	f.Exposure = it.exposure
	return f, nil
}

// Option configures items produced by FromPaths.
type Option func(*pathItem)

// WithExposure sets the exposure time in seconds recorded on loaded
// frames, for dark scaling during calibration.
func WithExposure(seconds float64) Option {
	return func(it *pathItem) { it.exposure = seconds }
}

// FromPaths wraps image files as sequence items in the given order.
// Unreadable files are not detected here; their load failures are isolated
// per frame by the sequence engine.
func FromPaths(paths []string, opts ...Option) []sequence.Item {
	items := make([]sequence.Item, len(paths))
	for i, p := range paths {
		it := pathItem{path: p}
		for _, opt := range opts {
			opt(&it)
		}
		items[i] = it
	}
	return items
}

// frameItem wraps a frame that already lives in memory.
type frameItem struct {
	f *frame.Frame
}

func (it frameItem) ID() string { return it.f.ID }

func (it frameItem) Load() (*frame.Frame, error) { return it.f, nil }

// FromFrames wraps in-memory frames as sequence items, for callers that
// build or generate frames instead of reading them from disk.
func FromFrames(frames ...*frame.Frame) []sequence.Item {
	items := make([]sequence.Item, len(frames))
	for i, f := range frames {
		items[i] = frameItem{f: f}
	}
	return items
}

// Glob expands the patterns into a sorted, deduplicated list of supported
// image paths.
func Glob(patterns ...string) ([]string, error) {
	seen := map[string]bool{}
	var paths []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if IsSupported(m) && !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no supported image files matched")
	}
	return paths, nil
}

// LoadFrame decodes one image file into a frame with a luminance pixel
// grid and file provenance.
func LoadFrame(path string) (*frame.Frame, error) {
	if !IsSupported(path) {
		return nil, fmt.Errorf("unsupported format %q", filepath.Ext(path))
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	f := frame.New(frame.GridFromImage(img))
	f.ID = filepath.Base(path)
	f.Path = path
	f.ObservedAt = fi.ModTime()
	return f, nil
}
