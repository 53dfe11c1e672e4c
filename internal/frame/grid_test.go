package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridAtSetAt(t *testing.T) {
	g := NewGrid(3, 2)
	g.SetAt(2, 1, 7.5)
	assert.InDelta(t, 7.5, g.At(2, 1), 1e-12)
	assert.InDelta(t, 0, g.At(0, 0), 1e-12)
}

func TestGridStats(t *testing.T) {
	g := &Grid{Width: 5, Height: 1, Data: []float64{1, 2, 3, 4, 10}}

	assert.InDelta(t, 1, g.Min(), 1e-12)
	assert.InDelta(t, 10, g.Max(), 1e-12)
	assert.InDelta(t, 4, g.Mean(), 1e-12)
	assert.InDelta(t, 3, g.Median(), 1e-12)
	assert.InDelta(t, 3.1622776601683795, g.Std(), 1e-9)
}

func TestGridMedianEven(t *testing.T) {
	g := &Grid{Width: 4, Height: 1, Data: []float64{4, 1, 3, 2}}
	assert.InDelta(t, 2.5, g.Median(), 1e-12)
	// Median must not reorder the grid itself.
	assert.Equal(t, []float64{4, 1, 3, 2}, g.Data)
}

func TestGridSubClamped(t *testing.T) {
	g := NewGrid(10, 10)
	for y := range 10 {
		for x := range 10 {
			g.SetAt(x, y, float64(y*10+x))
		}
	}

	sub, x0, y0 := g.Sub(7, 8, 5, 5)
	assert.Equal(t, 7, x0)
	assert.Equal(t, 8, y0)
	require.Equal(t, 3, sub.Width)
	require.Equal(t, 2, sub.Height)
	assert.InDelta(t, g.At(7, 8), sub.At(0, 0), 1e-12)
	assert.InDelta(t, g.At(9, 9), sub.At(2, 1), 1e-12)
}

func TestGridSubNegativeOrigin(t *testing.T) {
	g := NewGrid(4, 4)
	sub, x0, y0 := g.Sub(-2, -2, 4, 4)
	assert.Equal(t, 0, x0)
	assert.Equal(t, 0, y0)
	assert.Equal(t, 2, sub.Width)
	assert.Equal(t, 2, sub.Height)
}

func TestGridFromImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(1, 0, color.Gray{Y: 255})

	g := GridFromImage(img)
	require.Equal(t, 2, g.Width)
	require.Equal(t, 1, g.Height)
	assert.InDelta(t, 0, g.At(0, 0), 1e-9)
	assert.InDelta(t, 65535, g.At(1, 0), 1.0)
}

func TestGridCloneIndependent(t *testing.T) {
	g := NewGrid(2, 2)
	g.SetAt(0, 0, 1)
	c := g.Clone()
	c.SetAt(0, 0, 9)
	assert.InDelta(t, 1, g.At(0, 0), 1e-12)
}

func TestGridValidate(t *testing.T) {
	g := NewGrid(3, 3)
	require.NoError(t, g.Validate())

	g.Data = g.Data[:5]
	require.Error(t, g.Validate())
}
