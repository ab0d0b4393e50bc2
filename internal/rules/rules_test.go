package rules

import (
	"testing"

	"platingsched/internal/types"
)

func TestShouldSkip_EmptyRuleNeverSkips(t *testing.T) {
	skip, err := ShouldSkip("", &types.Batch{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip {
		t.Fatalf("an empty rule should never skip")
	}
}

func TestShouldSkip_EvaluatesAttrs(t *testing.T) {
	batch := &types.Batch{ID: "B1", Attrs: map[string]interface{}{"color": "black"}}
	skip, err := ShouldSkip(`attrs["color"] == "black"`, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !skip {
		t.Fatalf("expected the rule to match and skip")
	}

	skip, err = ShouldSkip(`attrs["color"] == "white"`, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip {
		t.Fatalf("expected the rule not to match")
	}
}

func TestShouldSkip_EvaluatesBatchFields(t *testing.T) {
	batch := &types.Batch{ID: "B1", InputOrder: 3}
	skip, err := ShouldSkip(`batch.InputOrder > 1`, batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !skip {
		t.Fatalf("expected batch.InputOrder > 1 to evaluate true for InputOrder=3")
	}
}

func TestShouldSkip_NonBooleanResultIsError(t *testing.T) {
	batch := &types.Batch{}
	_, err := ShouldSkip(`1 + 1`, batch)
	if err == nil {
		t.Fatalf("expected an error for a non-boolean rule result")
	}
}

func TestShouldSkip_CompileErrorIsError(t *testing.T) {
	batch := &types.Batch{}
	_, err := ShouldSkip(`batch.DoesNotExist.Field`, batch)
	if err == nil {
		t.Fatalf("expected a compile error for a nonexistent field reference")
	}
}
