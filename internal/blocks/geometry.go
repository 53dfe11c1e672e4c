package blocks

import (
	"fmt"
	"math"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
)

// Trim crops a fixed margin off every edge of the frame, removing the
// overscan region. Pixel-transforming.
type Trim struct {
	block.Base
	margin int
}

// NewTrim creates a trim block removing margin pixels from each edge.
func NewTrim(margin int) *Trim {
	return &Trim{Base: block.NewBase("trim"), margin: margin}
}

// StatelessBlock marks Trim safe for parallel runs.
func (t *Trim) StatelessBlock() {}

func (t *Trim) Apply(f *frame.Frame) error {
	g := f.Pixels
	if 2*t.margin >= g.Width || 2*t.margin >= g.Height {
		return fmt.Errorf("margin %d leaves no pixels in %dx%d frame", t.margin, g.Width, g.Height)
	}
	trimmed, _, _ := g.Sub(t.margin, t.margin, g.Width-2*t.margin, g.Height-2*t.margin)
	f.Pixels = trimmed
	return nil
}

// Cutouts extracts a square stamp around every detected source and counts
// how many sources fall inside each stamp, so downstream PSF stacking can
// reject blended cutouts.
type Cutouts struct {
	block.Base
	size int
}

// NewCutouts creates a cutout block with the given stamp edge length.
func NewCutouts(size int) *Cutouts {
	if size < 3 {
		size = 3
	}
	return &Cutouts{Base: block.NewBase("cutouts"), size: size}
}

// StatelessBlock marks Cutouts safe for parallel runs.
func (c *Cutouts) StatelessBlock() {}

func (c *Cutouts) Apply(f *frame.Frame) error {
	sources, err := f.Sources()
	if err != nil {
		return fmt.Errorf("cutouts need detected sources: %w", err)
	}

	cutouts := make([]frame.Cutout, 0, len(sources))
	for _, s := range sources {
		if s.Discarded {
			continue
		}
		x0 := int(math.Round(s.X)) - c.size/2
		y0 := int(math.Round(s.Y)) - c.size/2
		data, cx0, cy0 := f.Pixels.Sub(x0, y0, c.size, c.size)
		if len(data.Data) == 0 {
			continue
		}
		cutouts = append(cutouts, frame.Cutout{
			X0:          cx0,
			Y0:          cy0,
			Data:        data,
			SourceIndex: s.Index,
			NSources:    countInside(sources, cx0, cy0, data.Width, data.Height),
		})
	}
	f.SetCutouts(cutouts)
	return nil
}

func countInside(sources []frame.Source, x0, y0, w, h int) int {
	n := 0
	for _, s := range sources {
		if s.Discarded {
			continue
		}
		if s.X >= float64(x0) && s.X < float64(x0+w) &&
			s.Y >= float64(y0) && s.Y < float64(y0+h) {
			n++
		}
	}
	return n
}
