package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/daimoniac/vendorcomply/internal/compliance"
	"github.com/daimoniac/vendorcomply/internal/types"
)

// DefaultExpression passes exactly the vendors the evaluator considers compliant
const DefaultExpression = `compliant`

// Gate decides whether an evaluated vendor passes an organization's approval policy
type Gate interface {
	// Evaluate applies the policy expression to a compliance result
	Evaluate(ctx context.Context, vendor *types.Vendor, result *compliance.Result) (*Decision, error)
}

// Config defines a CEL-based approval gate
type Config struct {
	// Expression must evaluate to a boolean. Available variables:
	//   - score: compliance score 0-100
	//   - compliant: true when nothing is missing or expired
	//   - status: "compliant", "warning" or "critical"
	//   - missingCount, expiredCount, expiringCount: issue counts
	//   - missing: names of missing required document types
	//   - riskScore: externally supplied vendor risk score 0-100
	//   - vendorName: vendor display name
	Expression string `yaml:"expression" json:"expression"`

	// FailureMessage replaces the generated reason when the gate fails (optional)
	FailureMessage string `yaml:"failureMessage" json:"failureMessage"`
}

// Decision is the outcome of a gate evaluation
type Decision struct {
	Passed     bool   `json:"passed"`
	Reason     string `json:"reason"`
	Expression string `json:"expression"`
}

// Engine implements Gate with a compiled CEL program
type Engine struct {
	logger  *slog.Logger
	config  Config
	program cel.Program
}

// NewEngine compiles config.Expression, falling back to DefaultExpression
func NewEngine(logger *slog.Logger, config Config) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.Expression == "" {
		config.Expression = DefaultExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("score", cel.IntType),
		cel.Variable("compliant", cel.BoolType),
		cel.Variable("status", cel.StringType),
		cel.Variable("missingCount", cel.IntType),
		cel.Variable("expiredCount", cel.IntType),
		cel.Variable("expiringCount", cel.IntType),
		cel.Variable("missing", cel.ListType(cel.StringType)),
		cel.Variable("riskScore", cel.IntType),
		cel.Variable("vendorName", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(config.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy expression must return a boolean, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Engine{
		logger:  logger,
		config:  config,
		program: program,
	}, nil
}

// Expression returns the compiled expression source
func (e *Engine) Expression() string {
	return e.config.Expression
}

// Evaluate runs the gate against a vendor's compliance result
func (e *Engine) Evaluate(ctx context.Context, vendor *types.Vendor, result *compliance.Result) (*Decision, error) {
	if vendor == nil {
		return nil, fmt.Errorf("vendor is nil")
	}
	if result == nil {
		return nil, fmt.Errorf("compliance result is nil")
	}

	input := map[string]interface{}{
		"score":         result.Score,
		"compliant":     result.IsCompliant,
		"status":        string(result.Status),
		"missingCount":  len(result.Missing),
		"expiredCount":  len(result.Expired),
		"expiringCount": len(result.Expiring),
		"missing":       result.MissingNames(),
		"riskScore":     vendor.RiskScore,
		"vendorName":    vendor.Name,
	}

	out, _, err := e.program.ContextEval(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	passed, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("policy expression did not return a boolean: %v", out.Value())
	}

	decision := &Decision{Passed: passed, Expression: e.config.Expression}

	if passed {
		decision.Reason = fmt.Sprintf("policy passed: score=%d, missing=%d, expired=%d, expiring=%d",
			result.Score, len(result.Missing), len(result.Expired), len(result.Expiring))

		e.logger.Debug("policy evaluation passed",
			"vendor_id", vendor.ID,
			"score", result.Score)
		return decision, nil
	}

	if e.config.FailureMessage != "" {
		decision.Reason = e.config.FailureMessage
	} else {
		decision.Reason = fmt.Sprintf("policy failed: score=%d, missing=%d, expired=%d, expiring=%d",
			result.Score, len(result.Missing), len(result.Expired), len(result.Expiring))
	}

	e.logger.Warn("policy evaluation failed",
		"vendor_id", vendor.ID,
		"vendor", vendor.Name,
		"score", result.Score,
		"status", result.Status,
		"missing", result.MissingNames(),
		"expression", e.config.Expression)

	return decision, nil
}
