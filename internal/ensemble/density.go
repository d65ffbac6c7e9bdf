package ensemble

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Density is a DBSCAN-style noise detector. It has no inference step: each
// call clusters the batch it is given, so only the binary noise label is
// meaningful and it is relative to that batch.
type Density struct {
	eps        float64
	minSamples int
	workers    int
}

// NewDensity creates a detector with the given neighbourhood radius and core size.
// A point counts itself towards minSamples.
func NewDensity(eps float64, minSamples, workers int) *Density {
	return &Density{eps: eps, minSamples: minSamples, workers: max(workers, 1)}
}

// Noise reports, per row, whether it is neither a core point nor within eps of one.
func (d *Density) Noise(ctx context.Context, x [][]float64) ([]bool, error) {
	n := len(x)
	eps2 := d.eps * d.eps

	core := make([]bool, n)
	err := d.parallel(ctx, n, func(i int) {
		count := 0
		for j := 0; j < n; j++ {
			if within(x[i], x[j], eps2) {
				count++
				if count >= d.minSamples {
					core[i] = true
					return
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	noise := make([]bool, n)
	err = d.parallel(ctx, n, func(i int) {
		if core[i] {
			return
		}
		for j := 0; j < n; j++ {
			if core[j] && within(x[i], x[j], eps2) {
				return
			}
		}
		noise[i] = true
	})
	if err != nil {
		return nil, err
	}
	return noise, nil
}

func (d *Density) parallel(ctx context.Context, n int, fn func(i int)) error {
	chunk := max(n/d.workers, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	return g.Wait()
}

// within reports whether the squared distance is at most eps2, stopping early.
func within(a, b []float64, eps2 float64) bool {
	sum := 0.0
	for k := range a {
		diff := a[k] - b[k]
		sum += diff * diff
		if sum > eps2 {
			return false
		}
	}
	return true
}
