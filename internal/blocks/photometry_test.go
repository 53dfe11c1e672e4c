package blocks

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/sequence"
	"github.com/asterlab/skypipe/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAperturePhotometryMeasuresKnownFlux(t *testing.T) {
	star := testutil.Star{X: 32, Y: 32, Amp: 500, Sigma: 1.5}
	f := testutil.NewStarFrame(testutil.StarFieldConfig{
		Width: 64, Height: 64, Background: 100, Stars: []testutil.Star{star},
	})
	f.SetSources([]frame.Source{{Index: 0, X: star.X, Y: star.Y, Peak: 600}})

	require.NoError(t, NewAperturePhotometry().WithRadius(7).WithFWHMScale(0).Apply(f))

	fluxes, err := f.Fluxes()
	require.NoError(t, err)
	require.Len(t, fluxes, 1)

	// A 7 px aperture on a sigma 1.5 Gaussian captures essentially the
	// whole profile once the flat sky is subtracted.
	assert.InDelta(t, star.TotalFlux(), fluxes[0], star.TotalFlux()*0.02)
}

func TestAperturePhotometryScalesWithFittedFWHM(t *testing.T) {
	star := testutil.Star{X: 32, Y: 32, Amp: 500, Sigma: 1.5}
	f := testutil.NewStarFrame(testutil.StarFieldConfig{
		Width: 64, Height: 64, Background: 100, Stars: []testutil.Star{star},
	})
	f.SetSources([]frame.Source{{Index: 0, X: star.X, Y: star.Y, Peak: 600}})
	f.SetPSFParams(frame.PSF{Model: "gaussian", FWHMX: 2, FWHMY: 2})

	// FWHM scale 1.5 gives a 3 px aperture: less of the profile than a
	// wide fixed aperture, but well above half the flux.
	require.NoError(t, NewAperturePhotometry().WithFWHMScale(1.5).Apply(f))
	fluxes, err := f.Fluxes()
	require.NoError(t, err)
	assert.Greater(t, fluxes[0], star.TotalFlux()*0.5)
	assert.Less(t, fluxes[0], star.TotalFlux()*1.02)
}

func TestAperturePhotometryDiscardedSourceIsNaN(t *testing.T) {
	f := testutil.NewStarFrame(testutil.StarFieldConfig{Width: 32, Height: 32, Background: 10})
	f.SetSources([]frame.Source{
		{Index: 0, X: 16, Y: 16, Peak: 10},
		{Index: 1, X: 8, Y: 8, Peak: 5, Discarded: true},
	})

	require.NoError(t, NewAperturePhotometry().Apply(f))
	fluxes, err := f.Fluxes()
	require.NoError(t, err)
	require.Len(t, fluxes, 2)
	assert.False(t, math.IsNaN(fluxes[0]))
	assert.True(t, math.IsNaN(fluxes[1]))
}

func TestAperturePhotometryRequiresSources(t *testing.T) {
	f := testutil.NewStarFrame(testutil.StarFieldConfig{Width: 16, Height: 16})
	require.Error(t, NewAperturePhotometry().Apply(f))
}

// lightCurveFrames builds frames carrying increasing target flux with
// timestamps in input order.
func lightCurveFrames(t *testing.T, fluxes ...float64) []*frame.Frame {
	t.Helper()
	base := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	frames := make([]*frame.Frame, len(fluxes))
	for i, flux := range fluxes {
		f := frame.New(frame.NewGrid(4, 4))
		f.ID = time.Duration(i).String()
		f.ObservedAt = base.Add(time.Duration(i) * time.Minute)
		f.SetFluxes([]float64{flux})
		frames[i] = f
	}
	return frames
}

func TestLightCurveAccumulatesInTimeOrder(t *testing.T) {
	lc := NewLightCurve(0)
	frames := lightCurveFrames(t, 10, 12, 11)

	_, err := sequence.New(lc).Run(context.Background(), sequence.FromFrames(frames...))
	require.NoError(t, err)

	series := lc.Series()
	require.Len(t, series, 3)
	assert.Equal(t, []float64{10, 12, 11}, []float64{series[0].Flux, series[1].Flux, series[2].Flux})
	assert.True(t, series[0].ObservedAt.Before(series[1].ObservedAt))
}

func TestLightCurveTargetOutOfRange(t *testing.T) {
	lc := NewLightCurve(5)
	f := frame.New(frame.NewGrid(4, 4))
	f.SetFluxes([]float64{1})

	err := lc.Apply(f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target source 5")
}

func TestLightCurveRerunResets(t *testing.T) {
	lc := NewLightCurve(0)
	frames := lightCurveFrames(t, 1, 2)

	_, err := sequence.New(lc).Run(context.Background(), sequence.FromFrames(frames...))
	require.NoError(t, err)
	_, err = sequence.New(lc).Run(context.Background(), sequence.FromFrames(frames...))
	require.NoError(t, err)

	assert.Len(t, lc.Series(), 2)
}

func TestLightCurveShardsMergeChronologically(t *testing.T) {
	lc := NewLightCurve(0)
	frames := lightCurveFrames(t, 10, 20, 30, 40)

	_, err := sequence.New(lc).RunParallel(context.Background(),
		sequence.FromFrames(frames...), sequence.ParallelConfig{Workers: 2})
	require.NoError(t, err)

	series := lc.Series()
	require.Len(t, series, 4)
	for i := 1; i < len(series); i++ {
		assert.True(t, !series[i].ObservedAt.Before(series[i-1].ObservedAt))
	}
	assert.Equal(t, 10.0, series[0].Flux)
	assert.Equal(t, 40.0, series[3].Flux)
}
