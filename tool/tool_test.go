package tool

import (
	"context"
	"strings"
	"testing"
)

func retrieveTool() *Tool {
	return &Tool{
		Name:        "retrieve_for_queries",
		Description: "Retrieve context for multiple sub-queries",
		Parameters: []Parameter{
			{Name: "queries", Type: "array", Items: "string", Description: "2-5 sub-queries", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "ok", nil
		},
	}
}

func TestExecuteValidatesRequired(t *testing.T) {
	tl := retrieveTool()

	if _, err := tl.Execute(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing required parameter")
	}

	out, err := tl.Execute(context.Background(), map[string]any{"queries": []any{"a", "b"}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestToJSONSchemaShape(t *testing.T) {
	schema := retrieveTool().ToJSONSchema()
	if schema["type"] != "function" {
		t.Fatalf("expected function wrapper, got %v", schema["type"])
	}
	fn, ok := schema["function"].(map[string]any)
	if !ok {
		t.Fatal("missing function block")
	}
	if fn["name"] != "retrieve_for_queries" {
		t.Fatalf("unexpected name %v", fn["name"])
	}
	params := fn["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	q := props["queries"].(map[string]any)
	if q["type"] != "array" {
		t.Fatalf("queries must be an array, got %v", q["type"])
	}
	items := q["items"].(map[string]any)
	if items["type"] != "string" {
		t.Fatalf("array items must be strings, got %v", items)
	}
	required := params["required"].([]string)
	if len(required) != 1 || required[0] != "queries" {
		t.Fatalf("unexpected required list %v", required)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(retrieveTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(retrieveTool()); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := r.Get("retrieve_for_queries"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := r.Get("missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if len(r.ToJSONSchemas()) != 1 {
		t.Fatal("expected one schema")
	}
}
