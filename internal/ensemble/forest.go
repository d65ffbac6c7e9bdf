package ensemble

import (
	"context"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/stats"
)

const eulerGamma = 0.5772156649015329

// IsolationForest scores points by how quickly random axis-aligned splits isolate them.
type IsolationForest struct {
	trees   []itree
	psi     int
	norm    float64
	offset  float64
	workers int
}

type itree struct {
	nodes []inode
}

type inode struct {
	feature     int
	split       float64
	left, right int
	size        int
	leaf        bool
}

// forestParams are the knobs the bundle passes down.
type forestParams struct {
	trees         int
	maxSamples    int
	seed          int64
	contamination float64
	workers       int
}

// fitForest grows the trees in parallel and returns the training scores.
// Tree t draws from its own RNG seeded by (seed, t), so the forest is
// identical for a fixed seed whatever the scheduling.
func fitForest(ctx context.Context, x [][]float64, p forestParams) (*IsolationForest, []float64, error) {
	n := len(x)
	psi := min(p.maxSamples, n)
	f := &IsolationForest{
		trees:   make([]itree, p.trees),
		psi:     psi,
		norm:    avgPathLength(psi),
		workers: max(p.workers, 1),
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for t := range f.trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(uint64(p.seed), uint64(t)))
			idx := make([]int, psi)
			for i := range idx {
				idx[i] = rng.IntN(n)
			}
			tree := itree{}
			tree.grow(rng, x, idx, 0, maxDepth)
			f.trees[t] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	scores, err := f.Scores(ctx, x)
	if err != nil {
		return nil, nil, err
	}
	f.offset = stats.PercentileOf(scores, 100*p.contamination)
	return f, scores, nil
}

func (t *itree) grow(rng *rand.Rand, x [][]float64, idx []int, depth, maxDepth int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, inode{leaf: true, size: len(idx)})
	if depth >= maxDepth || len(idx) <= 1 {
		return id
	}

	for _, feat := range rng.Perm(len(x[0])) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := x[i][feat]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		if split <= lo {
			split = lo + (hi-lo)/2
		}
		var left, right []int
		for _, i := range idx {
			if x[i][feat] < split {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		l := t.grow(rng, x, left, depth+1, maxDepth)
		r := t.grow(rng, x, right, depth+1, maxDepth)
		t.nodes[id] = inode{feature: feat, split: split, left: l, right: r, size: len(idx)}
		return id
	}
	// every feature is constant here
	return id
}

func (t *itree) pathLength(row []float64) float64 {
	id, depth := 0, 0
	for {
		nd := t.nodes[id]
		if nd.leaf {
			return float64(depth) + avgPathLength(nd.size)
		}
		if row[nd.feature] < nd.split {
			id = nd.left
		} else {
			id = nd.right
		}
		depth++
	}
}

// avgPathLength is the expected path length of an unsuccessful search in a
// binary search tree of n points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Scores returns the negated anomaly score of each row; lower is more anomalous.
func (f *IsolationForest) Scores(ctx context.Context, x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	chunk := max(len(x)/f.workers, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for start := 0; start < len(x); start += chunk {
		end := min(start+chunk, len(x))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				sum := 0.0
				for t := range f.trees {
					sum += f.trees[t].pathLength(x[i])
				}
				out[i] = -math.Pow(2, -(sum/float64(len(f.trees)))/f.norm)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Predict flags rows whose score falls below the training contamination threshold.
func (f *IsolationForest) Predict(scores []float64) []bool {
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s < f.offset
	}
	return out
}

// Offset returns the score threshold learned at fit time.
func (f *IsolationForest) Offset() float64 { return f.offset }
