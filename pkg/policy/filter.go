package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	// Package is the Rego package every filter module must declare.
	Package = "data.relay.filter"
	// Query is the decision evaluated for each alert.
	Query = Package + ".allow"
)

var errWrongPackage = errors.New("filter module must declare package relay.filter")

// Filter is a compiled Rego alert filter. It is safe for concurrent use.
type Filter struct {
	query rego.PreparedEvalQuery
	mode  Mode
}

// NewFilter parses and prepares module. Compile errors are returned here so
// that they surface while the configuration loads.
func NewFilter(ctx context.Context, module string, mode Mode) (*Filter, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid failure posture %q", mode)
	}

	parsed, err := ast.ParseModuleWithOpts("filter.rego", module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse filter: %w", err)
	}
	if parsed.Package.Path.String() != Package {
		return nil, errWrongPackage
	}

	prepared, err := rego.New(
		rego.Query(Query),
		rego.ParsedModule(parsed),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &Filter{query: prepared, mode: mode}, nil
}

// Mode reports the failure posture of f.
func (f *Filter) Mode() Mode { return f.mode }

// Allow evaluates the filter against attributes. When evaluation fails the
// returned decision follows the filter's failure posture and the error is
// returned alongside it.
func (f *Filter) Allow(ctx context.Context, attributes map[string]string) (bool, error) {
	input := make(map[string]any, len(attributes))
	for k, v := range attributes {
		input[k] = v
	}

	results, err := f.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return f.mode == ModeFailOpen, fmt.Errorf("evaluate filter: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return true, nil
	}

	allow, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return f.mode == ModeFailOpen, fmt.Errorf("evaluate filter: allow is %T, want bool", results[0].Expressions[0].Value)
	}
	return allow, nil
}
