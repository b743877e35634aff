package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
)

// Limits on policy expressions to keep evaluation bounded.
const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	evalTimeout         = 5 * time.Second
)

// celPolicyEnv declares the variables policy expressions see: the user
// record, the requested action, and the resource under evaluation.
func celPolicyEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.StringType),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// celCache memoizes compiled programs keyed by an xxhash fingerprint of
// the expression, so a policy shared across resource types compiles once.
var celCache = struct {
	mu       sync.RWMutex
	programs map[uint64]cel.Program
}{programs: make(map[uint64]cel.Program)}

// CompileCELPolicy compiles a CEL expression into a PolicyFunc. The
// expression must evaluate to a boolean; evaluation errors deny access.
func CompileCELPolicy(expression string) (PolicyFunc, error) {
	if expression == "" {
		return nil, fmt.Errorf("policy expression is empty")
	}
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("policy expression too long: %d characters (max %d)", len(expression), maxExpressionLength)
	}

	key := xxhash.Sum64String(expression)
	celCache.mu.RLock()
	prg, ok := celCache.programs[key]
	celCache.mu.RUnlock()

	if !ok {
		env, err := celPolicyEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to create policy environment: %w", err)
		}
		ast, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy compilation failed: %w", issues.Err())
		}
		prg, err = env.Program(ast,
			cel.EvalOptions(cel.OptOptimize),
			cel.CostLimit(maxCostBudget),
		)
		if err != nil {
			return nil, fmt.Errorf("policy program creation failed: %w", err)
		}
		celCache.mu.Lock()
		celCache.programs[key] = prg
		celCache.mu.Unlock()
	}

	return func(user User, action string, resource any) bool {
		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		defer cancel()

		activation := map[string]any{
			"user":     map[string]any(user),
			"action":   action,
			"resource": resourceActivation(resource),
		}
		result, _, err := prg.ContextEval(ctx, activation)
		if err != nil {
			return false
		}
		allowed, ok := result.Value().(bool)
		return ok && allowed
	}, nil
}

// resourceActivation renders a resource as the map CEL expressions expect.
func resourceActivation(resource any) map[string]any {
	if m, ok := resource.(map[string]any); ok {
		return m
	}
	return map[string]any{
		"type": ResourceTypeOf(resource),
		"name": fmt.Sprintf("%v", resource),
	}
}
