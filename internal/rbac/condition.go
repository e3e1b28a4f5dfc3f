package rbac

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// conditionEvaluator compiles and caches CEL programs for grant conditions.
// Most grants carry no condition at all; this only does work for the ones
// that do.
type conditionEvaluator struct {
	mu       sync.Mutex
	programs map[string]cel.Program
	env      *cel.Env
}

func newConditionEvaluator() (*conditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("server_id", cel.StringType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build cel environment: %w", err)
	}
	return &conditionEvaluator{
		programs: make(map[string]cel.Program),
		env:      env,
	}, nil
}

// eval compiles expr on first use (caching the compiled program) and
// evaluates it against vars. A grant with an empty expr always matches
// without invoking CEL at all.
func (c *conditionEvaluator) eval(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	c.mu.Lock()
	prg, ok := c.programs[expr]
	c.mu.Unlock()

	if !ok {
		ast, issues := c.env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return false, fmt.Errorf("compile grant condition %q: %w", expr, issues.Err())
		}
		compiled, err := c.env.Program(ast)
		if err != nil {
			return false, fmt.Errorf("build grant condition program %q: %w", expr, err)
		}
		c.mu.Lock()
		c.programs[expr] = compiled
		c.mu.Unlock()
		prg = compiled
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate grant condition %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("grant condition %q did not evaluate to a bool", expr)
	}
	return b, nil
}
