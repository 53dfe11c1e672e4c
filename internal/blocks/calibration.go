// Package blocks provides the concrete processing steps: calibration,
// source detection, centroiding, cutout geometry, PSF modeling and
// photometry. Each block operates on one frame at a time and communicates
// with the others only through the frame's result keys.
package blocks

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/mempool"
	"github.com/asterlab/skypipe/internal/sequence"
)

// Calibration removes the instrumental signature from science frames using
// master bias, dark and flat frames built by median stacking.
//
// The masters are produced in Initialize from the configured calibration
// items, so a failed master build aborts the run before any science frame
// is touched. Missing calibration sets fall back to neutral masters
// (bias 0, dark 0, flat 1).
type Calibration struct {
	block.Base

	bias []sequence.Item
	dark []sequence.Item
	flat []sequence.Item

	masterBias *frame.Grid
	masterDark *frame.Grid // per-second dark current
	masterFlat *frame.Grid
}

// NewCalibration creates a calibration block with no master inputs.
func NewCalibration() *Calibration {
	return &Calibration{Base: block.NewBase("calibration")}
}

// WithBias sets the bias frame inputs.
func (c *Calibration) WithBias(items ...sequence.Item) *Calibration {
	c.bias = items
	return c
}

// WithDark sets the dark frame inputs.
func (c *Calibration) WithDark(items ...sequence.Item) *Calibration {
	c.dark = items
	return c
}

// WithFlat sets the flat frame inputs.
func (c *Calibration) WithFlat(items ...sequence.Item) *Calibration {
	c.flat = items
	return c
}

// StatelessBlock marks Calibration safe for parallel runs: the masters are
// frozen in Initialize and Apply only reads them.
func (c *Calibration) StatelessBlock() {}

// MasterBias returns the stacked bias master, nil when no bias inputs were
// configured.
func (c *Calibration) MasterBias() *frame.Grid { return c.masterBias }

// MasterDark returns the stacked per-second dark master, nil when no dark
// inputs were configured.
func (c *Calibration) MasterDark() *frame.Grid { return c.masterDark }

// MasterFlat returns the stacked normalized flat master, nil when no flat
// inputs were configured.
func (c *Calibration) MasterFlat() *frame.Grid { return c.masterFlat }

// Initialize builds the masters. Order matters: the dark master is
// bias-subtracted and the flat master is bias- and dark-subtracted.
func (c *Calibration) Initialize() error {
	c.masterBias, c.masterDark, c.masterFlat = nil, nil, nil

	if len(c.bias) > 0 {
		master, err := c.stackMaster(c.bias, func(g *frame.Grid, _ float64) {})
		if err != nil {
			return fmt.Errorf("master bias: %w", err)
		}
		c.masterBias = master
	}
	if len(c.dark) > 0 {
		master, err := c.stackMaster(c.dark, func(g *frame.Grid, exp float64) {
			if exp <= 0 {
				exp = 1
			}
			for i := range g.Data {
				g.Data[i] = (g.Data[i] - c.biasAt(i)) / exp
			}
		})
		if err != nil {
			return fmt.Errorf("master dark: %w", err)
		}
		c.masterDark = master
	}
	if len(c.flat) > 0 {
		master, err := c.stackMaster(c.flat, func(g *frame.Grid, exp float64) {
			for i := range g.Data {
				g.Data[i] -= c.biasAt(i) + c.darkAt(i)*exp
			}
			if mean := g.Mean(); mean != 0 {
				g.Scale(1 / mean)
			}
		})
		if err != nil {
			return fmt.Errorf("master flat: %w", err)
		}
		c.masterFlat = master
	}

	slog.Debug("calibration masters ready",
		"bias", len(c.bias), "dark", len(c.dark), "flat", len(c.flat))
	return nil
}

// Apply calibrates the frame pixels in place: subtract the scaled dark and
// the bias, divide by the flat. Negative pixels clamp to 0 and non-finite
// results (flat zeros) become -1.
func (c *Calibration) Apply(f *frame.Frame) error {
	g := f.Pixels
	if err := c.checkShape(g); err != nil {
		return err
	}
	exp := f.Exposure
	for i, v := range g.Data {
		out := (v - (c.darkAt(i)*exp + c.biasAt(i))) / c.flatAt(i)
		switch {
		case math.IsNaN(out) || math.IsInf(out, 0):
			out = -1
		case out < 0:
			out = 0
		}
		g.Data[i] = out
	}
	return nil
}

// stackMaster loads every item, applies the per-frame correction, and
// median-stacks the results pixel by pixel.
func (c *Calibration) stackMaster(items []sequence.Item, correct func(g *frame.Grid, exp float64)) (*frame.Grid, error) {
	grids := make([]*frame.Grid, 0, len(items))
	for _, item := range items {
		f, err := item.Load()
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", item.ID(), err)
		}
		g := f.Pixels.Clone()
		if len(grids) > 0 && (g.Width != grids[0].Width || g.Height != grids[0].Height) {
			return nil, fmt.Errorf("frame %q is %dx%d, want %dx%d",
				item.ID(), g.Width, g.Height, grids[0].Width, grids[0].Height)
		}
		correct(g, f.Exposure)
		grids = append(grids, g)
	}
	return medianStack(grids), nil
}

// medianStack computes the per-pixel median across same-sized grids.
func medianStack(grids []*frame.Grid) *frame.Grid {
	out := frame.NewGrid(grids[0].Width, grids[0].Height)
	buf := mempool.GetFloat64(len(grids))
	defer mempool.PutFloat64(buf)
	for i := range out.Data {
		for k, g := range grids {
			buf[k] = g.Data[i]
		}
		out.Data[i] = medianOf(buf)
	}
	return out
}

func (c *Calibration) checkShape(g *frame.Grid) error {
	for _, m := range []*frame.Grid{c.masterBias, c.masterDark, c.masterFlat} {
		if m != nil && (m.Width != g.Width || m.Height != g.Height) {
			return fmt.Errorf("frame is %dx%d but masters are %dx%d",
				g.Width, g.Height, m.Width, m.Height)
		}
	}
	return nil
}

func (c *Calibration) biasAt(i int) float64 {
	if c.masterBias == nil {
		return 0
	}
	return c.masterBias.Data[i]
}

func (c *Calibration) darkAt(i int) float64 {
	if c.masterDark == nil {
		return 0
	}
	return c.masterDark.Data[i]
}

func (c *Calibration) flatAt(i int) float64 {
	if c.masterFlat == nil {
		return 1
	}
	return c.masterFlat.Data[i]
}
