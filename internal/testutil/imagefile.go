package testutil

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/asterlab/skypipe/internal/frame"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// GridToGray16 converts a grid to a 16-bit grayscale image, clamping to the
// representable range.
func GridToGray16(g *frame.Grid) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.Data[y*g.Width+x]
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			i := img.PixOffset(x, y)
			u := uint16(v + 0.5)
			img.Pix[i] = uint8(u >> 8)
			img.Pix[i+1] = uint8(u)
		}
	}
	return img
}

// WriteStarFieldFile renders the config into a temp image file and returns
// its path. The format is inferred from the extension (png, tiff, bmp).
func WriteStarFieldFile(t *testing.T, cfg StarFieldConfig, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	img := GridToGray16(GenerateStarField(cfg))
	require.NoError(t, imaging.Save(img, path))
	return path
}
