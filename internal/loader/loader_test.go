package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/asterlab/skypipe/internal/sequence"
	"github.com/asterlab/skypipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"frame.png", true},
		{"frame.PNG", true},
		{"frame.tif", true},
		{"frame.tiff", true},
		{"frame.bmp", true},
		{"frame.jpg", true},
		{"frame.fits", false},
		{"frame", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsSupported(tt.path), tt.path)
	}
}

func TestLoadFrameFillsProvenance(t *testing.T) {
	cfg := testutil.DefaultStarFieldConfig()
	path := testutil.WriteStarFieldFile(t, cfg, "field.png")

	f, err := LoadFrame(path)
	require.NoError(t, err)

	assert.Equal(t, "field.png", f.ID)
	assert.Equal(t, path, f.Path)
	assert.False(t, f.ObservedAt.IsZero())
	assert.Equal(t, cfg.Width, f.Pixels.Width)
	assert.Equal(t, cfg.Height, f.Pixels.Height)
	assert.Greater(t, f.Pixels.Max(), f.Pixels.Median(), "stars stand above the sky")
}

func TestLoadFrameErrors(t *testing.T) {
	_, err := LoadFrame("nope.fits")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	_, err = LoadFrame(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not a png"), 0o600))
	_, err = LoadFrame(garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestFromPathsIsolatesBadFiles(t *testing.T) {
	good := testutil.WriteStarFieldFile(t, testutil.DefaultStarFieldConfig(), "good.png")
	bad := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("junk"), 0o600))

	items := FromPaths([]string{good, bad}, WithExposure(30))
	report, err := sequence.New().Run(context.Background(), items)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.True(t, report.Outcomes[0].OK)
	assert.False(t, report.Outcomes[1].OK)
	assert.Equal(t, sequence.StageLoad, report.Outcomes[1].FailedBlock)
}

func TestFromPathsExposureOption(t *testing.T) {
	path := testutil.WriteStarFieldFile(t, testutil.DefaultStarFieldConfig(), "dark.png")
	items := FromPaths([]string{path}, WithExposure(120))

	f, err := items[0].Load()
	require.NoError(t, err)
	assert.Equal(t, 120.0, f.Exposure)
}

func TestFromFramesWrapsInMemoryFrames(t *testing.T) {
	a := testutil.NewStarFrame(testutil.DefaultStarFieldConfig())
	a.ID = "a"
	b := testutil.NewStarFrame(testutil.DefaultStarFieldConfig())
	b.ID = "b"

	items := FromFrames(a, b)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID())

	f, err := items[1].Load()
	require.NoError(t, err)
	assert.Same(t, b, f)
}

func TestGlobFiltersAndDeduplicates(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.StarFieldConfig{Width: 16, Height: 16, Background: 50}
	for _, name := range []string{"a.png", "b.png"} {
		src := testutil.WriteStarFieldFile(t, cfg, name)
		data, err := os.ReadFile(src)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	paths, err := Glob(filepath.Join(dir, "*"), filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	require.Len(t, paths, 2)

	_, err = Glob(filepath.Join(dir, "*.fits"))
	require.Error(t, err)
}
