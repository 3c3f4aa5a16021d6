// Package predicate evaluates the CEL condition trees attached to
// WorkflowAction and WorkflowTrigger rows (spec §3 "conditions (predicate
// tree)") against an event envelope or accumulated execution context.
package predicate

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Evaluator compiles and runs CEL boolean expressions over a map of
// named variables. A single Evaluator is safe for concurrent use; each
// Allow call compiles its own program since expressions vary per row
// and caching compiled programs is left to callers that reuse the same
// expression repeatedly (see CompileCache).
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator constructs an Evaluator whose environment declares one
// dynamic variable per name in vars (e.g. "payload", "context").
func NewEvaluator(vars ...string) (*Evaluator, error) {
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("CEL: build environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Allow compiles expr and evaluates it against data, returning the
// boolean result. A non-boolean result or a compile/eval failure is
// reported as an error whose message contains "CEL".
func (e *Evaluator) Allow(expr string, data map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("CEL: compile %q: %w", expr, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("CEL: build program for %q: %w", expr, err)
	}
	vars := make(map[string]any, len(data))
	for k, v := range data {
		vars[k] = v
	}
	out, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL: evaluate %q: %w", expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL: expression %q did not evaluate to bool (got %T)", expr, asGo(out))
	}
	return result, nil
}

func asGo(v ref.Val) any {
	if v == nil {
		return nil
	}
	return v.Value()
}
