package blocks

import (
	"testing"

	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// epsfFrame builds a frame whose epsf key holds a clean Gaussian stamp.
func epsfFrame(sigma float64) *frame.Frame {
	g := testutil.GenerateStarField(testutil.StarFieldConfig{
		Width: 21, Height: 21, Background: 0.02,
		Stars: []testutil.Star{{X: 10, Y: 10, Amp: 1, Sigma: sigma}},
	})
	f := frame.New(frame.NewGrid(21, 21))
	f.SetEPSF(g)
	return f
}

func TestMedianEPSFStacksIsolatedCutouts(t *testing.T) {
	cfg := testutil.DefaultStarFieldConfig()
	cfg.NoiseSigma = 0
	f := testutil.NewStarFrame(cfg)
	require.NoError(t, NewSegmentDetection().Apply(f))
	require.NoError(t, NewCutouts(21).Apply(f))

	require.NoError(t, NewMedianEPSF().Apply(f))

	epsf, err := f.EPSF()
	require.NoError(t, err)
	assert.Equal(t, 21, epsf.Width)
	assert.Equal(t, 21, epsf.Height)

	// Normalized stamps peak at 1.
	assert.InDelta(t, 1.0, epsf.Max(), 0.05)

	n, err := frame.Value[int](f, "epsf_n_sources")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMedianEPSFRejectsBlendedCutouts(t *testing.T) {
	f := frame.New(frame.NewGrid(8, 8))
	stamp := frame.NewGrid(5, 5)
	stamp.Data[12] = 1
	f.SetCutouts([]frame.Cutout{
		{Data: stamp, NSources: 1},
		{Data: stamp.Clone(), NSources: 3},
	})

	require.NoError(t, NewMedianEPSF().Apply(f))
	n, err := frame.Value[int](f, "epsf_n_sources")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMedianEPSFFailsWithoutUsableCutouts(t *testing.T) {
	f := frame.New(frame.NewGrid(8, 8))
	f.SetCutouts(nil)
	require.Error(t, NewMedianEPSF().Apply(f))

	g := frame.New(frame.NewGrid(8, 8))
	require.Error(t, NewMedianEPSF().Apply(g))
}

func TestMomentsSeedIsReasonable(t *testing.T) {
	g := testutil.GenerateStarField(testutil.StarFieldConfig{
		Width: 21, Height: 21,
		Stars: []testutil.Star{{X: 9.5, Y: 11.0, Amp: 1, Sigma: 2}},
	})

	m := moments(g)
	assert.InDelta(t, 9.5, m.X, 0.5)
	assert.InDelta(t, 11.0, m.Y, 0.5)
	assert.InDelta(t, 1.0, m.Amplitude, 0.1)
	assert.Greater(t, m.SigmaX, 0.0)
	assert.Greater(t, m.SigmaY, 0.0)
}

func TestGaussian2DFitRecoversWidth(t *testing.T) {
	f := epsfFrame(2.0)

	fit := NewGaussian2D()
	require.NoError(t, fit.Initialize())
	require.NoError(t, fit.Apply(f))

	psf, err := f.PSFParams()
	require.NoError(t, err)
	assert.Equal(t, "gaussian", psf.Model)
	assert.InDelta(t, 10, psf.X, 0.2)
	assert.InDelta(t, 10, psf.Y, 0.2)
	assert.InDelta(t, 2.0, psf.SigmaX, 0.2)
	assert.InDelta(t, 2.0, psf.SigmaY, 0.2)
	assert.InDelta(t, 2.0*gaussianSigmaToFWHM, psf.FWHM(), 0.5)
	assert.InDelta(t, 1.0, psf.Amplitude, 0.1)
}

func TestMoffat2DFitRecoversCenter(t *testing.T) {
	f := epsfFrame(1.8)

	fit := NewMoffat2D()
	require.NoError(t, fit.Initialize())
	require.NoError(t, fit.Apply(f))

	psf, err := f.PSFParams()
	require.NoError(t, err)
	assert.Equal(t, "moffat", psf.Model)
	assert.InDelta(t, 10, psf.X, 0.3)
	assert.InDelta(t, 10, psf.Y, 0.3)
	assert.Greater(t, psf.Beta, 0.0)
}

func TestPSFFitWarmStartsAndResets(t *testing.T) {
	fit := NewGaussian2D()
	require.NoError(t, fit.Initialize())
	require.Nil(t, fit.lastParams)

	require.NoError(t, fit.Apply(epsfFrame(2.0)))
	require.NotNil(t, fit.lastParams)
	first := append([]float64(nil), fit.lastParams...)

	// The second frame starts from the first frame's solution.
	require.NoError(t, fit.Apply(epsfFrame(2.1)))
	assert.NotEqual(t, first, fit.lastParams)

	require.NoError(t, fit.Initialize())
	assert.Nil(t, fit.lastParams)
}

func TestPSFFitShardsMergeWarmStart(t *testing.T) {
	fit := NewGaussian2D()
	require.NoError(t, fit.Initialize())

	shards := fit.Shard(2)
	require.Len(t, shards, 2)
	require.NoError(t, shards[0].Apply(epsfFrame(2.0)))

	require.NoError(t, fit.Merge(shards))
	assert.NotNil(t, fit.lastParams)
}

func TestPSFFitRequiresEPSF(t *testing.T) {
	f := frame.New(frame.NewGrid(8, 8))
	err := NewGaussian2D().Apply(f)
	require.Error(t, err)

	var nf *frame.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
