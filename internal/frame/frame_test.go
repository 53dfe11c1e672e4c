package frame

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	f := New(NewGrid(4, 4))
	f.Set("n", 1)

	v, err := f.Get("n")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestGetMissingKey(t *testing.T) {
	f := New(NewGrid(2, 2))

	_, err := f.Get("absent")
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "absent", nf.Key)
}

func TestSetOverwritesSilently(t *testing.T) {
	f := New(NewGrid(2, 2))
	f.Set("k", 1)
	f.Set("k", 2)

	v, err := f.Get("k")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestValueTypeMismatch(t *testing.T) {
	f := New(NewGrid(2, 2))
	f.Set("flux", "not a number")

	_, err := Value[float64](f, "flux")
	require.Error(t, err)

	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
	assert.Equal(t, "flux", tm.Key)
	assert.Equal(t, "float64", tm.Want)
	assert.Equal(t, "string", tm.Got)
}

func TestValueMissingKeyIsNotFound(t *testing.T) {
	f := New(NewGrid(2, 2))

	_, err := Value[int](f, "absent")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestKeysSorted(t *testing.T) {
	f := New(NewGrid(2, 2))
	f.Set("b", 1)
	f.Set("a", 2)
	f.Set("c", 3)

	assert.Equal(t, []string{"a", "b", "c"}, f.Keys())
}

func TestSourcesAccessors(t *testing.T) {
	f := New(NewGrid(8, 8))

	_, err := f.Sources()
	require.Error(t, err)

	want := []Source{{Index: 0, X: 3, Y: 4, Peak: 100}}
	f.SetSources(want)

	got, err := f.Sources()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, f.Has(KeySources))
}

func TestEPSFAccessors(t *testing.T) {
	f := New(NewGrid(8, 8))
	g := NewGrid(5, 5)
	f.SetEPSF(g)

	got, err := f.EPSF()
	require.NoError(t, err)
	assert.Same(t, g, got)
}

func TestPSFParamsAccessors(t *testing.T) {
	f := New(NewGrid(8, 8))

	_, err := f.PSFParams()
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	p := PSF{Model: "gaussian", SigmaX: 2, FWHMX: 4.7, FWHMY: 4.9}
	f.SetPSFParams(p)

	got, err := f.PSFParams()
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.InDelta(t, 4.8, got.FWHM(), 1e-12)
}

func TestFluxesAccessors(t *testing.T) {
	f := New(NewGrid(8, 8))
	f.SetFluxes([]float64{10.5, 20.25})

	got, err := f.Fluxes()
	require.NoError(t, err)
	assert.Equal(t, []float64{10.5, 20.25}, got)
}
