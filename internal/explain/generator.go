// Package explain derives human-readable reason codes for flagged records.
// Each reason is a CEL predicate over the record's feature row.
package explain

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/stats"
)

const (
	// MaxReasons is how many matching reasons an explanation lists.
	MaxReasons = 5

	// Separator joins reasons.
	Separator = " | "

	// FallbackReason is used for anomalies no reason matches.
	FallbackReason = "Statistical outlier detected"
)

// Reason is one explanation predicate and the phrase it renders.
type Reason struct {
	ID string

	// Expression is a CEL boolean over f (feature name to value) and log_amount_p99.
	Expression string

	// Render produces the phrase; it may include measured values from the row.
	Render func(row map[string]float64) string
}

type compiledReason struct {
	reason  Reason
	program cel.Program
}

// Generator evaluates reasons in priority order.
type Generator struct {
	mu      sync.RWMutex
	env     *cel.Env
	reasons []*compiledReason
}

// Context carries the batch-level statistics reason expressions may reference.
type Context struct {
	LogAmountP99 float64
}

// NewContext computes batch statistics from a feature matrix.
func NewContext(m *features.Matrix) Context {
	col := m.Column(features.LogAmount)
	if len(col) == 0 {
		return Context{LogAmountP99: math.Inf(1)}
	}
	return Context{LogAmountP99: stats.PercentileOf(col, 99)}
}

// NewGenerator creates a generator loaded with the default reasons.
func NewGenerator() (*Generator, error) {
	env, err := cel.NewEnv(
		cel.Variable("f", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("log_amount_p99", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	g := &Generator{env: env}
	for _, r := range DefaultReasons() {
		if err := g.AddReason(r); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddReason compiles a reason and appends it with the lowest priority.
func (g *Generator) AddReason(r Reason) error {
	if r.ID == "" || r.Render == nil {
		return fmt.Errorf("reason requires an id and a renderer")
	}
	ast, issues := g.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("failed to compile reason %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("reason %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}
	program, err := g.env.Program(ast)
	if err != nil {
		return fmt.Errorf("failed to create program for reason %s: %w", r.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reasons = append(g.reasons, &compiledReason{reason: r, program: program})
	return nil
}

// ReasonCount returns the number of loaded reasons.
func (g *Generator) ReasonCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.reasons)
}

// Matches returns the phrases of every reason that holds, in priority order.
func (g *Generator) Matches(row map[string]float64, bc Context) []string {
	g.mu.RLock()
	reasons := g.reasons
	g.mu.RUnlock()

	activation := map[string]any{
		"f":              row,
		"log_amount_p99": bc.LogAmountP99,
	}

	var out []string
	for _, cr := range reasons {
		val, _, err := cr.program.Eval(activation)
		if err != nil {
			slog.Debug("reason evaluation failed", "reason", cr.reason.ID, "error", err)
			continue
		}
		if val == types.True {
			out = append(out, cr.reason.Render(row))
		}
	}
	return out
}

// Explain renders the explanation for one record.
func (g *Generator) Explain(anomaly bool, risk float64, row map[string]float64, bc Context) string {
	if !anomaly {
		return domain.NormalExplanation
	}
	matches := g.Matches(row, bc)
	body := FallbackReason
	if len(matches) > 0 {
		body = strings.Join(matches[:min(MaxReasons, len(matches))], Separator)
	}
	return fmt.Sprintf("[RISK: %.0f/100] %s", risk, body)
}
