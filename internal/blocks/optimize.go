package blocks

import (
	"math"
	"sort"
)

// nelderMead minimizes fn starting from x0 using the downhill simplex
// method with standard coefficients (reflection 1, expansion 2,
// contraction 0.5, shrink 0.5). It returns the best vertex after maxIter
// iterations or once the simplex spread falls below tol.
func nelderMead(fn func([]float64) float64, x0 []float64, maxIter int, tol float64) []float64 {
	n := len(x0)
	if n == 0 {
		return nil
	}

	// Initial simplex: x0 plus one perturbed vertex per dimension.
	simplex := make([][]float64, n+1)
	values := make([]float64, n+1)
	simplex[0] = append([]float64(nil), x0...)
	for i := 0; i < n; i++ {
		v := append([]float64(nil), x0...)
		step := 0.05 * math.Abs(v[i])
		if step == 0 {
			step = 0.05
		}
		v[i] += step
		simplex[i+1] = v
	}
	for i, v := range simplex {
		values[i] = fn(v)
	}

	order := make([]int, n+1)
	centroid := make([]float64, n)
	trial := make([]float64, n)

	for iter := 0; iter < maxIter; iter++ {
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
		best, worst := order[0], order[n]

		if math.Abs(values[worst]-values[best]) < tol {
			break
		}

		// Centroid of all vertices except the worst.
		for j := range centroid {
			centroid[j] = 0
		}
		for _, i := range order[:n] {
			for j, x := range simplex[i] {
				centroid[j] += x / float64(n)
			}
		}

		reflect := func(coef float64) float64 {
			for j := range trial {
				trial[j] = centroid[j] + coef*(centroid[j]-simplex[worst][j])
			}
			return fn(trial)
		}
		accept := func(value float64) {
			copy(simplex[worst], trial)
			values[worst] = value
		}

		reflected := reflect(1)
		switch {
		case reflected < values[best]:
			accepted := reflected
			keep := append([]float64(nil), trial...)
			if expanded := reflect(2); expanded < reflected {
				accepted = expanded
			} else {
				copy(trial, keep)
			}
			accept(accepted)
		case reflected < values[order[n-1]]:
			accept(reflected)
		default:
			if contracted := reflect(-0.5); contracted < values[worst] {
				accept(contracted)
				break
			}
			// Shrink toward the best vertex.
			for _, i := range order[1:] {
				for j := range simplex[i] {
					simplex[i][j] = simplex[best][j] + 0.5*(simplex[i][j]-simplex[best][j])
				}
				values[i] = fn(simplex[i])
			}
		}
	}

	bestIdx := 0
	for i := range values {
		if values[i] < values[bestIdx] {
			bestIdx = i
		}
	}
	return simplex[bestIdx]
}
