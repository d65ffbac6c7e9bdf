// Package ensemble implements the unsupervised detector ensemble: an isolation
// forest, a density-based noise detector and a robust covariance envelope,
// combined by fixed-weight vote.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Vote weights and the decision threshold.
const (
	ForestWeight     = 0.5
	DensityWeight    = 0.3
	CovarianceWeight = 0.2
	VoteThreshold    = 0.4
)

// State is the lifecycle of a Bundle.
type State int

const (
	Untrained State = iota
	Trained
)

func (s State) String() string {
	if s == Trained {
		return "trained"
	}
	return "untrained"
}

// Bundle owns the fitted scalers and detectors. It is read-only once trained
// and safe for concurrent Score calls.
type Bundle struct {
	cfg   domain.DetectorConfig
	state State

	features []string

	robust   *Scaler
	standard *Scaler

	forest     *IsolationForest
	density    *Density
	covariance *Covariance

	importance []domain.FeatureScore
}

// Vote is one record's ensemble outcome.
type Vote struct {
	domain.Votes
	ForestScore float64
	Distance    float64
	Confidence  float64
	Anomaly     bool
}

// NewBundle creates an untrained bundle. Zero settings take their defaults.
func NewBundle(cfg domain.DetectorConfig) *Bundle {
	def := domain.DefaultDetectorConfig()
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	if cfg.DensityEps <= 0 {
		cfg.DensityEps = def.DensityEps
	}
	if cfg.DensityMinSamples <= 0 {
		cfg.DensityMinSamples = def.DensityMinSamples
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Bundle{cfg: cfg}
}

// State returns the lifecycle state.
func (b *Bundle) State() State { return b.state }

// Features returns the feature names the bundle was trained on.
func (b *Bundle) Features() []string { return slices.Clone(b.features) }

// Importance returns features ranked by correlation with the forest score.
func (b *Bundle) Importance() []domain.FeatureScore { return slices.Clone(b.importance) }

// Combine turns the three binary votes into a confidence in [0,1].
func Combine(v domain.Votes) float64 {
	conf := 0.0
	if v.Forest {
		conf += ForestWeight
	}
	if v.Density {
		conf += DensityWeight
	}
	if v.Covariance {
		conf += CovarianceWeight
	}
	return conf
}

// IsAnomaly applies the vote threshold, inclusive.
func IsAnomaly(confidence float64) bool {
	return confidence >= VoteThreshold
}

// Fit trains every detector on m. A bad matrix shape returns a *FitError
// wrapping ErrDegenerate; a detector that cannot be built returns a *FitError
// naming it.
func (b *Bundle) Fit(ctx context.Context, m *features.Matrix) error {
	if b.state == Trained {
		return ErrTrained
	}
	if err := checkShape(m); err != nil {
		return &FitError{Model: "bundle", Err: err}
	}

	start := time.Now()
	x := m.Dense()
	b.features = m.Names()
	b.robust = FitRobust(x)
	b.standard = FitStandard(x)
	robust := b.robust.Transform(x)

	forest, trainScores, err := fitForest(ctx, robust, forestParams{
		trees:         b.cfg.Trees,
		maxSamples:    b.cfg.MaxSamples,
		seed:          b.cfg.Seed,
		contamination: b.cfg.Contamination,
		workers:       b.cfg.Workers,
	})
	if err != nil {
		return &FitError{Model: "forest", Err: err}
	}

	covariance, err := fitCovariance(robust, covParams{
		contamination: b.cfg.Contamination,
		seed:          b.cfg.Seed,
	})
	if err != nil {
		return &FitError{Model: "covariance", Err: err}
	}

	b.forest = forest
	b.covariance = covariance
	b.density = NewDensity(b.cfg.DensityEps, b.cfg.DensityMinSamples, b.cfg.Workers)
	b.importance = rankImportance(m, trainScores)
	b.state = Trained

	slog.Debug("ensemble trained",
		"rows", m.Rows(),
		"features", len(b.features),
		"trees", len(forest.trees),
		"forest_offset", forest.Offset(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Score votes on every row of m. The density detector clusters m itself.
func (b *Bundle) Score(ctx context.Context, m *features.Matrix) ([]Vote, error) {
	if b.state != Trained {
		return nil, ErrUntrained
	}
	if !slices.Equal(m.Names(), b.features) {
		return nil, fmt.Errorf("%w: trained on %d features, got %d", ErrFeatureMismatch, len(b.features), len(m.Names()))
	}

	x := m.Dense()
	robust := b.robust.Transform(x)

	scores, err := b.forest.Scores(ctx, robust)
	if err != nil {
		return nil, err
	}
	forestFlags := b.forest.Predict(scores)

	noise, err := b.density.Noise(ctx, b.standard.Transform(x))
	if err != nil {
		return nil, err
	}

	dist := b.covariance.Distances(robust)
	covFlags := b.covariance.Predict(dist)

	votes := make([]Vote, len(x))
	for i := range votes {
		v := Vote{
			Votes: domain.Votes{
				Forest:     forestFlags[i],
				Density:    noise[i],
				Covariance: covFlags[i],
			},
			ForestScore: scores[i],
			Distance:    dist[i],
		}
		v.Confidence = Combine(v.Votes)
		v.Anomaly = IsAnomaly(v.Confidence)
		votes[i] = v
	}
	return votes, nil
}

func checkShape(m *features.Matrix) error {
	if m.Rows() < 2 {
		return fmt.Errorf("%w: need at least 2 rows, got %d", ErrDegenerate, m.Rows())
	}
	names := m.Names()
	if len(names) == 0 {
		return fmt.Errorf("%w: no features", ErrDegenerate)
	}
	for _, name := range names {
		col := m.Column(name)
		for _, v := range col[1:] {
			if v != col[0] {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: every feature is constant", ErrDegenerate)
}

// rankImportance ranks features by |Pearson r| against the forest score.
func rankImportance(m *features.Matrix, scores []float64) []domain.FeatureScore {
	out := make([]domain.FeatureScore, 0, len(m.Names()))
	for _, name := range m.Names() {
		r := math.Abs(stat.Correlation(m.Column(name), scores, nil))
		if math.IsNaN(r) {
			r = 0
		}
		out = append(out, domain.FeatureScore{Name: name, Score: r})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out
}
