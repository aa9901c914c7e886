package analyst

import (
	"errors"
	"testing"
)

func TestValidateArguments(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":   map[string]any{"type": "string"},
			"count":  map[string]any{"type": "integer"},
			"ratio":  map[string]any{"type": "number"},
			"flag":   map[string]any{"type": "boolean"},
			"items":  map[string]any{"type": "array"},
			"result": map[string]any{"type": "object", "required": []any{"data"}},
		},
		"required": []any{"name"},
	}

	ok := map[string]any{
		"name": "x", "count": float64(2), "ratio": 0.5, "flag": true,
		"items": []any{"a"}, "result": map[string]any{"data": []any{}}, "extra": 1,
	}
	if err := ValidateArguments(schema, ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []map[string]any{
		{},
		{"name": nil},
		{"name": 3},
		{"name": "x", "count": 1.5},
		{"name": "x", "flag": "yes"},
		{"name": "x", "items": "a"},
		{"name": "x", "result": map[string]any{}},
	}
	for i, args := range bad {
		err := ValidateArguments(schema, args)
		if err == nil {
			t.Fatalf("case %d: expected error for %v", i, args)
		}
		if !errors.Is(err, ErrInvalidArguments) {
			t.Fatalf("case %d: expected ErrInvalidArguments, got %v", i, err)
		}
	}

	if err := ValidateArguments(nil, map[string]any{"anything": 1}); err != nil {
		t.Fatalf("empty schema should accept anything: %v", err)
	}
}
