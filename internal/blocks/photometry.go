package blocks

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
)

// AperturePhotometry measures the flux of every source as the sum of
// pixels inside a circular aperture minus the local sky, estimated as the
// median of an annulus around the aperture. When a PSF fit is available
// the aperture radius scales with the fitted FWHM.
type AperturePhotometry struct {
	block.Base

	radius     float64 // fixed radius in pixels when no PSF scale applies
	fwhmScale  float64 // aperture radius as a multiple of the fitted FWHM, 0 disables
	annulusIn  float64 // inner annulus radius, multiple of the aperture radius
	annulusOut float64 // outer annulus radius, multiple of the aperture radius
}

// NewAperturePhotometry creates a photometry block with a 5 px aperture
// that switches to 1.5 FWHM when a PSF fit is present.
func NewAperturePhotometry() *AperturePhotometry {
	return &AperturePhotometry{
		Base:       block.NewBase("aperture_photometry"),
		radius:     5,
		fwhmScale:  1.5,
		annulusIn:  1.6,
		annulusOut: 2.4,
	}
}

// WithRadius sets the fixed aperture radius in pixels.
func (a *AperturePhotometry) WithRadius(radius float64) *AperturePhotometry {
	a.radius = radius
	return a
}

// WithFWHMScale sets the aperture radius as a multiple of the fitted FWHM.
// Zero keeps the fixed radius even when a PSF fit exists.
func (a *AperturePhotometry) WithFWHMScale(scale float64) *AperturePhotometry {
	a.fwhmScale = scale
	return a
}

// WithAnnulus sets the sky annulus radii as multiples of the aperture
// radius.
func (a *AperturePhotometry) WithAnnulus(in, out float64) *AperturePhotometry {
	a.annulusIn, a.annulusOut = in, out
	return a
}

// StatelessBlock marks AperturePhotometry safe for parallel runs.
func (a *AperturePhotometry) StatelessBlock() {}

func (a *AperturePhotometry) Apply(f *frame.Frame) error {
	sources, err := f.Sources()
	if err != nil {
		return fmt.Errorf("photometry needs detected sources: %w", err)
	}

	radius := a.radius
	if a.fwhmScale > 0 {
		if psf, err := f.PSFParams(); err == nil && psf.FWHM() > 0 {
			radius = a.fwhmScale * psf.FWHM()
		}
	}
	if radius < 1 {
		radius = 1
	}

	fluxes := make([]float64, len(sources))
	for i, s := range sources {
		if s.Discarded {
			fluxes[i] = math.NaN()
			continue
		}
		fluxes[i] = a.measure(f.Pixels, s.X, s.Y, radius)
	}
	f.SetFluxes(fluxes)
	return nil
}

func (a *AperturePhotometry) measure(g *frame.Grid, cx, cy, radius float64) float64 {
	rIn := radius * a.annulusIn
	rOut := radius * a.annulusOut

	var apSum float64
	apN := 0
	var sky []float64

	x0 := clampIndex(int(cx-rOut)-1, g.Width)
	x1 := clampIndex(int(cx+rOut)+1, g.Width)
	y0 := clampIndex(int(cy-rOut)-1, g.Height)
	y1 := clampIndex(int(cy+rOut)+1, g.Height)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d := math.Hypot(float64(x)-cx, float64(y)-cy)
			switch {
			case d <= radius:
				apSum += g.At(x, y)
				apN++
			case d >= rIn && d <= rOut:
				sky = append(sky, g.At(x, y))
			}
		}
	}
	if apN == 0 {
		return math.NaN()
	}
	background := 0.0
	if len(sky) > 0 {
		background = medianOf(sky)
	}
	return apSum - background*float64(apN)
}

// FluxPoint is one sample of a light curve.
type FluxPoint struct {
	FrameID    string    `json:"frame_id" yaml:"frame_id"`
	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
	Flux       float64   `json:"flux" yaml:"flux"`
}

// LightCurve accumulates the target source's flux across frames into a
// time series, the canonical cross-frame accumulator. It shards cleanly:
// each worker collects its own points and Merge concatenates them, with
// Terminate ordering the series by observation time.
type LightCurve struct {
	block.Base
	target int
	points []FluxPoint
}

// NewLightCurve creates a light curve accumulator for the source at the
// given detection index.
func NewLightCurve(target int) *LightCurve {
	return &LightCurve{Base: block.NewBase("light_curve"), target: target}
}

// Initialize resets the accumulated series so the block can be re-run.
func (l *LightCurve) Initialize() error {
	l.points = nil
	return nil
}

func (l *LightCurve) Apply(f *frame.Frame) error {
	fluxes, err := f.Fluxes()
	if err != nil {
		return fmt.Errorf("light curve needs photometry: %w", err)
	}
	if l.target < 0 || l.target >= len(fluxes) {
		return fmt.Errorf("target source %d not among %d measured sources", l.target, len(fluxes))
	}
	l.points = append(l.points, FluxPoint{
		FrameID:    f.ID,
		ObservedAt: f.ObservedAt,
		Flux:       fluxes[l.target],
	})
	return nil
}

// Terminate orders the series chronologically.
func (l *LightCurve) Terminate() error {
	l.sortPoints()
	return nil
}

// Shard returns per-worker accumulators for the parallel extension.
func (l *LightCurve) Shard(n int) []block.Block {
	shards := make([]block.Block, n)
	for i := range shards {
		shards[i] = NewLightCurve(l.target)
	}
	return shards
}

// Merge folds the worker series back into the receiver.
func (l *LightCurve) Merge(shards []block.Block) error {
	for _, s := range shards {
		shard, ok := s.(*LightCurve)
		if !ok {
			return errors.New("foreign shard type")
		}
		l.points = append(l.points, shard.points...)
	}
	l.sortPoints()
	return nil
}

// Series returns the accumulated light curve. Ordered after Terminate.
func (l *LightCurve) Series() []FluxPoint {
	out := make([]FluxPoint, len(l.points))
	copy(out, l.points)
	return out
}

func (l *LightCurve) sortPoints() {
	sort.SliceStable(l.points, func(i, j int) bool {
		if !l.points[i].ObservedAt.Equal(l.points[j].ObservedAt) {
			return l.points[i].ObservedAt.Before(l.points[j].ObservedAt)
		}
		return l.points[i].FrameID < l.points[j].FrameID
	})
}
