package frame

// Well-known result keys shared between blocks. A block may define private
// keys of its own; these are only the ones with typed accessors.
const (
	KeySources = "sources"
	KeyCutouts = "cutouts"
	KeyEPSF    = "epsf"
	KeyPSF     = "psf"
	KeyFluxes  = "fluxes"
)

// Source is a detected point source in pixel coordinates.
type Source struct {
	// Index identifies the source within its frame, in detection order.
	Index int

	// X, Y are the (possibly centroid-refined) pixel coordinates.
	X float64
	Y float64

	// Peak is the maximum pixel value inside the source region.
	Peak float64

	// Discarded marks sources excluded from downstream measurement.
	Discarded bool
}

// Cutout is a small stamp extracted around a source.
type Cutout struct {
	// X0, Y0 is the origin of the stamp in frame coordinates.
	X0 int
	Y0 int

	// Data holds the stamp pixels.
	Data *Grid

	// SourceIndex is the source the stamp was centered on.
	SourceIndex int

	// NSources counts detected sources falling inside the stamp.
	NSources int
}

// Sources returns the detected sources, failing with *NotFoundError if no
// detection block has run.
func (f *Frame) Sources() ([]Source, error) {
	return Value[[]Source](f, KeySources)
}

// SetSources stores the detected sources.
func (f *Frame) SetSources(sources []Source) {
	f.Set(KeySources, sources)
}

// Cutouts returns the extracted stamps, failing with *NotFoundError if no
// cutout block has run.
func (f *Frame) Cutouts() ([]Cutout, error) {
	return Value[[]Cutout](f, KeyCutouts)
}

// SetCutouts stores the extracted stamps.
func (f *Frame) SetCutouts(cutouts []Cutout) {
	f.Set(KeyCutouts, cutouts)
}

// EPSF returns the effective PSF grid, failing with *NotFoundError if no
// PSF stacking block has run.
func (f *Frame) EPSF() (*Grid, error) {
	return Value[*Grid](f, KeyEPSF)
}

// SetEPSF stores the effective PSF grid.
func (f *Frame) SetEPSF(g *Grid) {
	f.Set(KeyEPSF, g)
}

// PSF holds fitted point-spread-function model parameters. Theta is the
// rotation in radians; Beta only applies to the Moffat model.
type PSF struct {
	Model      string
	Amplitude  float64
	X          float64
	Y          float64
	SigmaX     float64
	SigmaY     float64
	Theta      float64
	Background float64
	Beta       float64
	FWHMX      float64
	FWHMY      float64
}

// FWHM returns the mean full width at half maximum of the fitted model.
func (p PSF) FWHM() float64 { return (p.FWHMX + p.FWHMY) / 2 }

// PSFParams returns the fitted PSF model parameters, failing with
// *NotFoundError if no PSF fitting block has run.
func (f *Frame) PSFParams() (PSF, error) {
	return Value[PSF](f, KeyPSF)
}

// SetPSFParams stores the fitted PSF model parameters.
func (f *Frame) SetPSFParams(p PSF) {
	f.Set(KeyPSF, p)
}

// Fluxes returns per-source fluxes aligned with the sources slice, failing
// with *NotFoundError if no photometry block has run. Discarded sources
// carry NaN.
func (f *Frame) Fluxes() ([]float64, error) {
	return Value[[]float64](f, KeyFluxes)
}

// SetFluxes stores per-source fluxes.
func (f *Frame) SetFluxes(fluxes []float64) {
	f.Set(KeyFluxes, fluxes)
}
