package ensemble

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/opensource-finance/kestrel/internal/stats"
)

const (
	covTrials     = 10
	covRefine     = 3
	covMaxSteps   = 30
	covSearchRows = 1500
)

var errSingular = errors.New("covariance is not positive definite")

// Covariance is a robust elliptic envelope: a minimum covariance determinant
// estimate of location and shape, reweighted, with anomalies lying far out in
// Mahalanobis distance.
type Covariance struct {
	p         int
	location  []float64
	precision []float64 // p*p, row-major
	offset    float64
}

type covParams struct {
	contamination float64
	seed          int64
}

type covCandidate struct {
	subset   []int
	logdet   float64
	location []float64
	shape    *mat.SymDense
}

func fitCovariance(x [][]float64, cp covParams) (*Covariance, error) {
	n, p := len(x), width(x)
	rng := rand.New(rand.NewPCG(uint64(cp.seed), 0x5eed))

	// Search for the best h-subset on a sample of the rows when the batch is large.
	work := x
	if n > covSearchRows {
		work = make([][]float64, covSearchRows)
		for i, j := range rng.Perm(n)[:covSearchRows] {
			work[i] = x[j]
		}
	}
	h := supportSize(len(work), p)

	var cands []covCandidate
	for t := 0; t < covTrials; t++ {
		c, err := concentrate(work, rng.Perm(len(work))[:h], h, 2)
		if err != nil {
			continue
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 {
		return nil, errSingular
	}
	sort.SliceStable(cands, func(a, b int) bool { return cands[a].logdet < cands[b].logdet })

	best := cands[0]
	for _, c := range cands[:min(covRefine, len(cands))] {
		refined, err := concentrate(work, c.subset, h, covMaxSteps)
		if err == nil && refined.logdet < best.logdet {
			best = refined
		}
	}

	location, shape := best.location, best.shape
	if len(work) != n {
		hFull := supportSize(n, p)
		prec, _, err := invert(shape)
		if err != nil {
			return nil, err
		}
		full, err := concentrate(x, nearest(mahalanobis(x, location, prec), hFull), hFull, 2)
		if err == nil {
			location, shape = full.location, full.shape
		}
	}

	// Consistency correction, then reweight on the points inside the 97.5% ellipsoid.
	prec, _, err := invert(shape)
	if err != nil {
		return nil, err
	}
	raw := mahalanobis(x, location, prec)
	chi := distuv.ChiSquared{K: float64(p)}
	correction := stats.Median(raw) / chi.Quantile(0.5)
	if !stats.Finite(correction) || correction <= 0 {
		correction = 1
	}
	cutoff := chi.Quantile(0.975)
	var inliers []int
	for i, d := range raw {
		if d/correction < cutoff {
			inliers = append(inliers, i)
		}
	}
	if len(inliers) > p {
		location, shape = estimate(x, inliers)
	} else {
		shape.ScaleSym(correction, shape)
	}

	prec, _, err = invert(shape)
	if err != nil {
		return nil, err
	}
	c := &Covariance{p: p, location: location, precision: prec}
	c.offset = stats.PercentileOf(c.Distances(x), 100*(1-cp.contamination))
	return c, nil
}

// supportSize is the h-subset size, ceil((n+p+1)/2) capped at n.
func supportSize(n, p int) int {
	return min(n, (n+p+2)/2)
}

// concentrate runs C-steps from a starting subset: fit on the subset, keep the
// h points nearest to that fit, repeat until the subset stops changing.
func concentrate(x [][]float64, subset []int, h, steps int) (covCandidate, error) {
	cur := append([]int(nil), subset...)
	var c covCandidate
	for step := 0; step < steps; step++ {
		location, shape := estimate(x, cur)
		prec, logdet, err := invert(shape)
		if err != nil {
			return covCandidate{}, err
		}
		c = covCandidate{subset: cur, logdet: logdet, location: location, shape: shape}

		next := nearest(mahalanobis(x, location, prec), h)
		if sameSet(cur, next) {
			break
		}
		cur = next
	}
	return c, nil
}

// estimate returns the mean and maximum-likelihood covariance of the given rows.
func estimate(x [][]float64, rows []int) ([]float64, *mat.SymDense) {
	p := width(x)
	m := len(rows)
	data := mat.NewDense(m, p, nil)
	for r, i := range rows {
		data.SetRow(r, x[i])
	}

	location := make([]float64, p)
	for j := 0; j < p; j++ {
		location[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}

	shape := mat.NewSymDense(p, nil)
	if m > 1 {
		stat.CovarianceMatrix(shape, data, nil)
		shape.ScaleSym(float64(m-1)/float64(m), shape)
	}
	return location, shape
}

// invert adds a small ridge, factorizes and returns the precision matrix and log-determinant.
func invert(shape *mat.SymDense) ([]float64, float64, error) {
	p := shape.SymmetricDim()
	reg := mat.NewSymDense(p, nil)
	reg.CopySym(shape)

	trace := 0.0
	for i := 0; i < p; i++ {
		trace += reg.At(i, i)
	}
	ridge := 1e-6*trace/float64(p) + 1e-9
	for i := 0; i < p; i++ {
		reg.SetSym(i, i, reg.At(i, i)+ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(reg); !ok {
		return nil, 0, errSingular
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, 0, err
	}

	prec := make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			prec[i*p+j] = inv.At(i, j)
		}
	}
	return prec, chol.LogDet(), nil
}

// mahalanobis returns squared distances of every row from location.
func mahalanobis(x [][]float64, location, prec []float64) []float64 {
	p := len(location)
	out := make([]float64, len(x))
	diff := make([]float64, p)
	for r, row := range x {
		for j := range diff {
			diff[j] = row[j] - location[j]
		}
		d := 0.0
		for i := 0; i < p; i++ {
			s := 0.0
			for j := 0; j < p; j++ {
				s += prec[i*p+j] * diff[j]
			}
			d += diff[i] * s
		}
		out[r] = math.Max(d, 0)
	}
	return out
}

// nearest returns the indices of the h smallest distances, ascending by index.
func nearest(dist []float64, h int) []int {
	idx := make([]int, len(dist))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })
	out := append([]int(nil), idx[:h]...)
	sort.Ints(out)
	return out
}

func sameSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]int(nil), a...)
	sort.Ints(as)
	for i := range as {
		if as[i] != b[i] {
			return false
		}
	}
	return true
}

// Distances returns squared Mahalanobis distances under the fitted estimate.
func (c *Covariance) Distances(x [][]float64) []float64 {
	return mahalanobis(x, c.location, c.precision)
}

// Predict flags distances beyond the training contamination threshold.
func (c *Covariance) Predict(dist []float64) []bool {
	out := make([]bool, len(dist))
	for i, d := range dist {
		out[i] = d > c.offset
	}
	return out
}
