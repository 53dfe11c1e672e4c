package blocks

import (
	"fmt"
	"math"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/mempool"
)

// gaussianSigmaToFWHM converts a Gaussian sigma to full width at half
// maximum: 2*sqrt(2*ln 2).
const gaussianSigmaToFWHM = 2.3548200450309493

// MedianEPSF stacks source cutouts into an effective PSF: each stamp is
// normalized to its peak and the stack is reduced pixel by pixel with the
// median. Only cutouts containing at most maxSources sources contribute,
// which rejects blended stamps.
type MedianEPSF struct {
	block.Base
	maxSources int
	normalize  bool
}

// NewMedianEPSF creates an ePSF stacking block that keeps isolated
// (single-source) cutouts only.
func NewMedianEPSF() *MedianEPSF {
	return &MedianEPSF{Base: block.NewBase("median_epsf"), maxSources: 1, normalize: true}
}

// WithMaxSources sets how many sources a cutout may contain and still be
// stacked.
func (m *MedianEPSF) WithMaxSources(n int) *MedianEPSF {
	m.maxSources = n
	return m
}

// WithNormalize controls peak normalization of the stamps before stacking.
func (m *MedianEPSF) WithNormalize(normalize bool) *MedianEPSF {
	m.normalize = normalize
	return m
}

// StatelessBlock marks MedianEPSF safe for parallel runs.
func (m *MedianEPSF) StatelessBlock() {}

func (m *MedianEPSF) Apply(f *frame.Frame) error {
	cutouts, err := f.Cutouts()
	if err != nil {
		return fmt.Errorf("epsf stacking needs cutouts: %w", err)
	}

	var stamps []*frame.Grid
	for _, c := range cutouts {
		if c.NSources > m.maxSources || len(c.Data.Data) == 0 {
			continue
		}
		if len(stamps) > 0 && (c.Data.Width != stamps[0].Width || c.Data.Height != stamps[0].Height) {
			// Edge-clipped stamps have odd shapes; skip them.
			continue
		}
		stamp := c.Data.Clone()
		if m.normalize {
			if peak := stamp.Max(); peak > 0 {
				stamp.Scale(1 / peak)
			}
		}
		stamps = append(stamps, stamp)
	}
	if len(stamps) == 0 {
		return fmt.Errorf("no isolated cutouts to stack")
	}

	epsf := frame.NewGrid(stamps[0].Width, stamps[0].Height)
	buf := mempool.GetFloat64(len(stamps))
	defer mempool.PutFloat64(buf)
	for i := range epsf.Data {
		for k, s := range stamps {
			buf[k] = s.Data[i]
		}
		epsf.Data[i] = medianOf(buf)
	}

	f.SetEPSF(epsf)
	f.Set("epsf_n_sources", len(stamps))
	return nil
}

// moments estimates PSF parameters from the image moments of a stamp,
// seeding the least-squares fit.
func moments(g *frame.Grid) frame.PSF {
	floor := g.Min()
	var total, sumX, sumY float64
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.At(x, y) - floor
			total += v
			sumX += v * float64(x)
			sumY += v * float64(y)
		}
	}
	p := frame.PSF{
		Amplitude:  g.Max(),
		Background: floor,
		Beta:       3,
	}
	if total <= 0 {
		p.X = float64(g.Width) / 2
		p.Y = float64(g.Height) / 2
		p.SigmaX, p.SigmaY = 1, 1
		return p
	}
	p.X = sumX / total
	p.Y = sumY / total

	// Second moments along the row and column through the centroid.
	cy := clampIndex(int(p.Y), g.Height)
	var rowSum, rowVar float64
	for x := 0; x < g.Width; x++ {
		v := g.At(x, cy) - floor
		rowSum += v
		d := float64(x) - p.X
		rowVar += v * d * d
	}
	cx := clampIndex(int(p.X), g.Width)
	var colSum, colVar float64
	for y := 0; y < g.Height; y++ {
		v := g.At(cx, y) - floor
		colSum += v
		d := float64(y) - p.Y
		colVar += v * d * d
	}
	p.SigmaX = math.Sqrt(math.Abs(rowVar/rowSum)) / gaussianSigmaToFWHM
	p.SigmaY = math.Sqrt(math.Abs(colVar/colSum)) / gaussianSigmaToFWHM
	if p.SigmaX <= 0 || math.IsNaN(p.SigmaX) {
		p.SigmaX = 1
	}
	if p.SigmaY <= 0 || math.IsNaN(p.SigmaY) {
		p.SigmaY = 1
	}
	return p
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// modelFunc evaluates a PSF model at stamp coordinates.
type modelFunc func(p []float64, x, y float64) float64

// PSFFit fits a parametric model to the frame's effective PSF by
// least squares. The previous frame's solution warm-starts the next fit,
// the cross-frame accumulator of this block; under the parallel extension
// each shard warm-starts independently.
type PSFFit struct {
	block.Base
	model      string
	eval       modelFunc
	nParams    int
	lastParams []float64
}

// Gaussian PSF parameter order, shared by both models: amplitude, x, y,
// sigma_x, sigma_y, theta, background (+ beta for Moffat).
const (
	pAmp = iota
	pX
	pY
	pSigmaX
	pSigmaY
	pTheta
	pBackground
	pBeta
)

// NewGaussian2D creates a rotated elliptical Gaussian PSF fitting block.
func NewGaussian2D() *PSFFit {
	return &PSFFit{
		Base:    block.NewBase("gaussian2d"),
		model:   "gaussian",
		eval:    evalGaussian,
		nParams: 7,
	}
}

// NewMoffat2D creates a rotated elliptical Moffat PSF fitting block.
func NewMoffat2D() *PSFFit {
	return &PSFFit{
		Base:    block.NewBase("moffat2d"),
		model:   "moffat",
		eval:    evalMoffat,
		nParams: 8,
	}
}

// Initialize drops the warm start so re-runs fit from moments again.
func (b *PSFFit) Initialize() error {
	b.lastParams = nil
	return nil
}

// Shard returns independent fitting instances for the parallel extension.
func (b *PSFFit) Shard(n int) []block.Block {
	shards := make([]block.Block, n)
	for i := range shards {
		shards[i] = &PSFFit{Base: b.Base, model: b.model, eval: b.eval, nParams: b.nParams}
	}
	return shards
}

// Merge adopts a shard's final solution as the receiver's warm start.
func (b *PSFFit) Merge(shards []block.Block) error {
	for _, s := range shards {
		if shard := s.(*PSFFit); shard.lastParams != nil {
			b.lastParams = shard.lastParams
		}
	}
	return nil
}

func (b *PSFFit) Apply(f *frame.Frame) error {
	epsf, err := f.EPSF()
	if err != nil {
		return fmt.Errorf("psf fitting needs an effective psf: %w", err)
	}

	p0 := b.lastParams
	if p0 == nil {
		p0 = b.initFromMoments(epsf)
	}

	residual := func(p []float64) float64 {
		var sum float64
		for y := 0; y < epsf.Height; y++ {
			for x := 0; x < epsf.Width; x++ {
				d := b.eval(p, float64(x), float64(y)) - epsf.At(x, y)
				sum += d * d
			}
		}
		return sum
	}
	fitted := nelderMead(residual, p0, 2000, 1e-10)
	b.lastParams = fitted

	psf := frame.PSF{
		Model:      b.model,
		Amplitude:  fitted[pAmp],
		X:          fitted[pX],
		Y:          fitted[pY],
		SigmaX:     math.Abs(fitted[pSigmaX]),
		SigmaY:     math.Abs(fitted[pSigmaY]),
		Theta:      fitted[pTheta],
		Background: fitted[pBackground],
	}
	if b.nParams > pBeta {
		psf.Beta = fitted[pBeta]
	}
	psf.FWHMX = psf.SigmaX * gaussianSigmaToFWHM
	psf.FWHMY = psf.SigmaY * gaussianSigmaToFWHM
	f.SetPSFParams(psf)
	return nil
}

func (b *PSFFit) initFromMoments(epsf *frame.Grid) []float64 {
	m := moments(epsf)
	p0 := make([]float64, b.nParams)
	p0[pAmp] = m.Amplitude
	p0[pX] = m.X
	p0[pY] = m.Y
	p0[pSigmaX] = m.SigmaX
	p0[pSigmaY] = m.SigmaY
	p0[pTheta] = m.Theta
	p0[pBackground] = m.Background
	if b.nParams > pBeta {
		p0[pBeta] = m.Beta
	}
	return p0
}

func evalGaussian(p []float64, x, y float64) float64 {
	dx := x - p[pX]
	dy := y - p[pY]
	sx2 := p[pSigmaX] * p[pSigmaX]
	sy2 := p[pSigmaY] * p[pSigmaY]
	theta := p[pTheta]

	a := math.Pow(math.Cos(theta), 2)/(2*sx2) + math.Pow(math.Sin(theta), 2)/(2*sy2)
	b := -math.Sin(2*theta)/(4*sx2) + math.Sin(2*theta)/(4*sy2)
	c := math.Pow(math.Sin(theta), 2)/(2*sx2) + math.Pow(math.Cos(theta), 2)/(2*sy2)
	return p[pBackground] + p[pAmp]*math.Exp(-(a*dx*dx+2*b*dx*dy+c*dy*dy))
}

func evalMoffat(p []float64, x, y float64) float64 {
	dx0 := x - p[pX]
	dy0 := y - p[pY]
	theta := p[pTheta]
	dx := dx0*math.Cos(theta) + dy0*math.Sin(theta)
	dy := -dx0*math.Sin(theta) + dy0*math.Cos(theta)
	rx := dx / p[pSigmaX]
	ry := dy / p[pSigmaY]
	return p[pBackground] + p[pAmp]/math.Pow(1+rx*rx+ry*ry, p[pBeta])
}
