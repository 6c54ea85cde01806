package executor

import (
	"context"
	"testing"

	language "github.com/hanpama/restygraph/internal/language"
	schema "github.com/hanpama/restygraph/internal/schema"
)

// mustParseQuery parses a GraphQL query and fails the test on error.
func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	d, err := language.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return d
}

// mustBuildSchema builds sdl, marking the listed "Type.field" names async.
func mustBuildSchema(t *testing.T, sdl string, async ...string) *schema.Schema {
	t.Helper()
	set := make(map[string]bool, len(async))
	for _, a := range async {
		set[a] = true
	}
	sch, err := schema.BuildFromSDL(sdl, schema.WithAsync(func(typ, field string) bool {
		return set[typ+"."+field]
	}))
	if err != nil {
		t.Fatalf("schema error: %v", err)
	}
	return sch
}

func run(t *testing.T, sch *schema.Schema, rt Runtime, query string, vars map[string]any) *ExecutionResult {
	t.Helper()
	return NewExecutor(rt, sch).Execute(context.Background(), Request{
		Document:  mustParseQuery(t, query),
		Variables: vars,
	})
}

func newObjectType(name string, fields ...*schema.Field) *schema.Type {
	t := schema.NewType(name, schema.TypeKindObject, "")
	for _, field := range fields {
		t.AddField(field)
	}
	return t
}

func newScalarType(name string) *schema.Type {
	return schema.NewType(name, schema.TypeKindScalar, "")
}
