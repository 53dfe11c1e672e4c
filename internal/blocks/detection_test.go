package blocks

import (
	"math"
	"testing"

	"github.com/asterlab/skypipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentDetectionFindsKnownStars(t *testing.T) {
	cfg := testutil.DefaultStarFieldConfig()
	f := testutil.NewStarFrame(cfg)

	require.NoError(t, NewSegmentDetection().Apply(f))

	sources, err := f.Sources()
	require.NoError(t, err)
	require.Len(t, sources, len(cfg.Stars))

	// Every injected star is recovered within a pixel.
	for _, star := range cfg.Stars {
		found := false
		for _, s := range sources {
			if math.Hypot(s.X-star.X, s.Y-star.Y) < 1 {
				found = true
				break
			}
		}
		assert.True(t, found, "star at (%.1f, %.1f) not detected", star.X, star.Y)
	}
}

func TestSegmentDetectionOrdersByPeak(t *testing.T) {
	f := testutil.NewStarFrame(testutil.DefaultStarFieldConfig())
	require.NoError(t, NewSegmentDetection().Apply(f))

	sources, err := f.Sources()
	require.NoError(t, err)
	for i := 1; i < len(sources); i++ {
		assert.GreaterOrEqual(t, sources[i-1].Peak, sources[i].Peak)
		assert.Equal(t, i, sources[i].Index)
	}
}

func TestSegmentDetectionToleranceMergesClosePairs(t *testing.T) {
	cfg := testutil.StarFieldConfig{
		Width: 64, Height: 64, Background: 100, Stars: []testutil.Star{
			{X: 30, Y: 30, Amp: 600, Sigma: 1.5},
			{X: 34, Y: 30, Amp: 300, Sigma: 1.5},
		},
	}
	f := testutil.NewStarFrame(cfg)

	require.NoError(t, NewSegmentDetection().WithTolerance(8).Apply(f))
	sources, err := f.Sources()
	require.NoError(t, err)

	// The faint neighbor sits within the tolerance of the bright star and
	// is dropped.
	require.Len(t, sources, 1)
	assert.InDelta(t, 30.0, sources[0].Y, 1)
}

func TestSegmentDetectionMaxSourcesCap(t *testing.T) {
	cfg := testutil.StarFieldConfig{
		Width: 256, Height: 256, Background: 100, NoiseSigma: 1, Seed: 3,
		Stars: testutil.RandomStars(12, 256, 256, 3),
	}
	f := testutil.NewStarFrame(cfg)

	require.NoError(t, NewSegmentDetection().WithMaxSources(5).Apply(f))
	sources, err := f.Sources()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(sources), 5)
}

func TestSegmentDetectionEmptyField(t *testing.T) {
	cfg := testutil.StarFieldConfig{Width: 64, Height: 64, Background: 100, NoiseSigma: 2, Seed: 9}
	f := testutil.NewStarFrame(cfg)

	require.NoError(t, NewSegmentDetection().Apply(f))
	sources, err := f.Sources()
	require.NoError(t, err)
	assert.Empty(t, sources)
}
