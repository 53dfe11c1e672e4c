package blocks

import (
	"fmt"
	"math"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
)

// refineFunc computes a refined center inside a stamp, in stamp
// coordinates. ok is false when the stamp carries no usable signal.
type refineFunc func(g *frame.Grid) (x, y float64, ok bool)

// centroid refines detected source coordinates inside a square window
// around each source. Refinements that move a source farther than the
// limit are rejected and the original coordinate kept, which guards
// against a neighbor dominating the window.
type centroid struct {
	block.Base
	box    int
	limit  float64
	refine refineFunc
}

func newCentroid(name string, box int, refine refineFunc) *centroid {
	if box < 3 {
		box = 3
	}
	return &centroid{
		Base:   block.NewBase(name),
		box:    box,
		limit:  float64(box) / 2,
		refine: refine,
	}
}

// WithLimit sets the maximum accepted deviation from the initial
// coordinate, in pixels. Defaults to half the window size.
func (c *centroid) WithLimit(limit float64) *centroid {
	c.limit = limit
	return c
}

// StatelessBlock marks centroid refinement safe for parallel runs.
func (c *centroid) StatelessBlock() {}

func (c *centroid) Apply(f *frame.Frame) error {
	sources, err := f.Sources()
	if err != nil {
		return fmt.Errorf("centroiding needs detected sources: %w", err)
	}

	refined := make([]frame.Source, len(sources))
	copy(refined, sources)
	for i, s := range sources {
		if s.Discarded || !f.Pixels.InBounds(int(s.X), int(s.Y)) {
			continue
		}
		x0 := int(math.Round(s.X)) - c.box/2
		y0 := int(math.Round(s.Y)) - c.box/2
		stamp, cx0, cy0 := f.Pixels.Sub(x0, y0, c.box, c.box)
		if len(stamp.Data) == 0 {
			continue
		}
		rx, ry, ok := c.refine(stamp)
		if !ok {
			continue
		}
		nx, ny := float64(cx0)+rx, float64(cy0)+ry
		if math.Hypot(nx-s.X, ny-s.Y) < c.limit {
			refined[i].X, refined[i].Y = nx, ny
		}
	}
	f.SetSources(refined)
	return nil
}

// NewCentroidCOM refines sources with a background-subtracted center of
// mass over the window.
func NewCentroidCOM(box int) *centroid {
	return newCentroid("centroid_com", box, centerOfMass)
}

// NewCentroidQuadratic refines sources by fitting a quadratic through the
// brightest pixel and its direct neighbors.
func NewCentroidQuadratic(box int) *centroid {
	return newCentroid("centroid_quadratic", box, quadraticPeak)
}

func centerOfMass(g *frame.Grid) (float64, float64, bool) {
	floor := g.Min()
	var sumW, sumX, sumY float64
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			w := g.At(x, y) - floor
			sumW += w
			sumX += w * float64(x)
			sumY += w * float64(y)
		}
	}
	if sumW <= 0 {
		return 0, 0, false
	}
	return sumX / sumW, sumY / sumW, true
}

// quadraticPeak locates the brightest pixel and solves the vertex of a 1D
// parabola through it and its neighbors, independently per axis.
func quadraticPeak(g *frame.Grid) (float64, float64, bool) {
	px, py := 0, 0
	peak := math.Inf(-1)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if v := g.At(x, y); v > peak {
				peak, px, py = v, x, y
			}
		}
	}
	if px == 0 || py == 0 || px == g.Width-1 || py == g.Height-1 {
		return 0, 0, false
	}
	dx, okx := parabolaVertex(g.At(px-1, py), g.At(px, py), g.At(px+1, py))
	dy, oky := parabolaVertex(g.At(px, py-1), g.At(px, py), g.At(px, py+1))
	if !okx || !oky {
		return 0, 0, false
	}
	return float64(px) + dx, float64(py) + dy, true
}

// parabolaVertex returns the sub-pixel offset of the parabola through
// (-1, l), (0, c), (1, r).
func parabolaVertex(l, c, r float64) (float64, bool) {
	denom := l - 2*c + r
	if denom >= 0 {
		// Not a maximum.
		return 0, false
	}
	d := 0.5 * (l - r) / denom
	if d < -1 || d > 1 {
		return 0, false
	}
	return d, true
}
