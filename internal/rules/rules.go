// Package rules evaluates a RecipeStage's optional skip predicate against
// a batch's attributes, using antonmedv/expr the same way the teacher's
// workflow engine evaluates per-step rules.
package rules

import (
	"fmt"

	"github.com/antonmedv/expr"

	"platingsched/internal/types"
)

// ShouldSkip compiles and runs rule against batch's attributes, returning
// true when the stage should be skipped for that batch. An empty rule
// never skips. A rule that fails to compile, fails to run, or does not
// evaluate to a boolean is treated as an error, not a silent skip/no-skip.
func ShouldSkip(rule string, batch *types.Batch) (bool, error) {
	if rule == "" {
		return false, nil
	}
	env := map[string]interface{}{"batch": batch, "attrs": batch.Attrs}
	program, err := expr.Compile(rule, expr.Env(env))
	if err != nil {
		return false, fmt.Errorf("rule compilation failed: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("rule execution failed: %w", err)
	}
	skip, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule result is not a boolean")
	}
	return skip, nil
}
