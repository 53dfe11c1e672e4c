package frame

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/asterlab/skypipe/internal/mempool"
)

// Grid is a row-major 2D pixel buffer. All processing operates on float64
// values regardless of the source image depth.
type Grid struct {
	Width  int
	Height int
	Data   []float64
}

// NewGrid allocates a zeroed grid of the given dimensions.
func NewGrid(width, height int) *Grid {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Grid{Width: width, Height: height, Data: make([]float64, width*height)}
}

// GridFromImage converts a decoded image to a luminance grid.
func GridFromImage(img image.Image) *Grid {
	bounds := img.Bounds()
	g := NewGrid(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, gr, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma on 16-bit channel values.
			g.Data[i] = 0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(b)
			i++
		}
	}
	return g
}

// At returns the pixel value at (x, y). Panics if out of bounds,
// mirroring slice indexing semantics.
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// SetAt stores a pixel value at (x, y).
func (g *Grid) SetAt(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// InBounds reports whether (x, y) addresses a valid pixel.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	out := &Grid{Width: g.Width, Height: g.Height, Data: make([]float64, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Sub extracts a copy of the sub-grid with origin (x0, y0) and the given
// size, clamped to the grid bounds. The returned origin is the clamped one.
func (g *Grid) Sub(x0, y0, width, height int) (*Grid, int, int) {
	x1, y1 := x0+width, y0+height
	x0 = clampInt(x0, 0, g.Width)
	y0 = clampInt(y0, 0, g.Height)
	x1 = clampInt(x1, 0, g.Width)
	y1 = clampInt(y1, 0, g.Height)
	out := NewGrid(x1-x0, y1-y0)
	for y := y0; y < y1; y++ {
		copy(out.Data[(y-y0)*out.Width:(y-y0+1)*out.Width], g.Data[y*g.Width+x0:y*g.Width+x1])
	}
	return out, x0, y0
}

// Validate checks structural consistency of the grid.
func (g *Grid) Validate() error {
	if g == nil {
		return fmt.Errorf("nil grid")
	}
	if g.Width < 0 || g.Height < 0 {
		return fmt.Errorf("invalid grid size %dx%d", g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("grid data length %d does not match %dx%d", len(g.Data), g.Width, g.Height)
	}
	return nil
}

// Min returns the smallest pixel value (0 for an empty grid).
func (g *Grid) Min() float64 {
	if len(g.Data) == 0 {
		return 0
	}
	m := g.Data[0]
	for _, v := range g.Data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest pixel value (0 for an empty grid).
func (g *Grid) Max() float64 {
	if len(g.Data) == 0 {
		return 0
	}
	m := g.Data[0]
	for _, v := range g.Data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Mean returns the average pixel value.
func (g *Grid) Mean() float64 {
	if len(g.Data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range g.Data {
		sum += v
	}
	return sum / float64(len(g.Data))
}

// Std returns the population standard deviation of pixel values.
func (g *Grid) Std() float64 {
	if len(g.Data) == 0 {
		return 0
	}
	mean := g.Mean()
	var sum float64
	for _, v := range g.Data {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(g.Data)))
}

// Median returns the median pixel value without mutating the grid.
func (g *Grid) Median() float64 {
	n := len(g.Data)
	if n == 0 {
		return 0
	}
	buf := mempool.GetFloat64(n)
	defer mempool.PutFloat64(buf)
	copy(buf, g.Data)
	sort.Float64s(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	return (buf[n/2-1] + buf[n/2]) / 2
}

// Scale multiplies every pixel by k in place.
func (g *Grid) Scale(k float64) {
	for i := range g.Data {
		g.Data[i] *= k
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
