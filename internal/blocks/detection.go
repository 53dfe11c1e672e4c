package blocks

import (
	"math"
	"sort"

	"github.com/asterlab/skypipe/internal/block"
	"github.com/asterlab/skypipe/internal/frame"
	"github.com/asterlab/skypipe/internal/mempool"
)

// SegmentDetection finds point sources by thresholding at
// median + sigma·std and labeling 8-connected regions above the threshold.
// Each surviving region yields one source at its flux-weighted centroid.
// Sources closer together than the tolerance are deduplicated keeping the
// brighter one, and the result is ordered by decreasing peak value.
type SegmentDetection struct {
	block.Base

	sigma      float64
	minArea    int
	tolerance  float64
	maxSources int
}

// NewSegmentDetection creates a detection block with the default threshold
// of 4 sigma above the median.
func NewSegmentDetection() *SegmentDetection {
	return &SegmentDetection{
		Base:       block.NewBase("detection"),
		sigma:      4,
		minArea:    4,
		tolerance:  8,
		maxSources: 10000,
	}
}

// WithSigma sets the detection threshold in standard deviations above the
// median sky level.
func (d *SegmentDetection) WithSigma(sigma float64) *SegmentDetection {
	d.sigma = sigma
	return d
}

// WithMinArea sets the minimum region size in pixels.
func (d *SegmentDetection) WithMinArea(area int) *SegmentDetection {
	d.minArea = area
	return d
}

// WithTolerance sets the minimum separation between sources in pixels.
func (d *SegmentDetection) WithTolerance(tolerance float64) *SegmentDetection {
	d.tolerance = tolerance
	return d
}

// WithMaxSources caps the number of sources kept per frame.
func (d *SegmentDetection) WithMaxSources(n int) *SegmentDetection {
	d.maxSources = n
	return d
}

// StatelessBlock marks SegmentDetection safe for parallel runs.
func (d *SegmentDetection) StatelessBlock() {}

func (d *SegmentDetection) Apply(f *frame.Frame) error {
	g := f.Pixels
	median := g.Median()
	threshold := median + d.sigma*g.Std()

	visited := mempool.GetBool(len(g.Data))
	defer mempool.PutBool(visited)

	var sources []frame.Source
	var stack []int
	for start, v := range g.Data {
		if visited[start] || v < threshold {
			continue
		}
		// Flood-fill one 8-connected region above the threshold.
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true

		area := 0
		peak := math.Inf(-1)
		var sumW, sumX, sumY float64
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%g.Width, i/g.Width

			area++
			if g.Data[i] > peak {
				peak = g.Data[i]
			}
			w := g.Data[i] - median
			sumW += w
			sumX += w * float64(x)
			sumY += w * float64(y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if !g.InBounds(nx, ny) {
						continue
					}
					j := ny*g.Width + nx
					if !visited[j] && g.Data[j] >= threshold {
						visited[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		if area < d.minArea || sumW <= 0 {
			continue
		}
		sources = append(sources, frame.Source{
			X:    sumX / sumW,
			Y:    sumY / sumW,
			Peak: peak,
		})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Peak > sources[j].Peak })
	sources = dedupeByDistance(sources, d.tolerance)
	if len(sources) > d.maxSources {
		sources = sources[:d.maxSources]
	}
	for i := range sources {
		sources[i].Index = i
	}
	f.SetSources(sources)
	return nil
}

// dedupeByDistance drops sources closer than tolerance to a brighter one.
// Input must be sorted by decreasing peak.
func dedupeByDistance(sources []frame.Source, tolerance float64) []frame.Source {
	if tolerance <= 0 {
		return sources
	}
	kept := sources[:0]
	for _, s := range sources {
		tooClose := false
		for _, k := range kept {
			dx, dy := s.X-k.X, s.Y-k.Y
			if math.Hypot(dx, dy) < tolerance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			kept = append(kept, s)
		}
	}
	return kept
}
