package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	executor "github.com/hanpama/restygraph/internal/executor"
	language "github.com/hanpama/restygraph/internal/language"
	schema "github.com/hanpama/restygraph/internal/schema"
	"github.com/stretchr/testify/require"
)

const sdl = `
"A person"
type User { id: ID!, name: String @deprecated(reason: "use id"), tags(first: Int = 10, order: Order = ASC): [String!]! }
enum Order { ASC DESC @deprecated }
input Filter { order: Order = DESC, names: [String] = ["a"] }
type Query { hello: String, user(filter: Filter): User }
`

func execute(t *testing.T, sch *schema.Schema, query string) *executor.ExecutionResult {
	t.Helper()
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	w := Wrap(rt, sch)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return executor.NewExecutor(w.Runtime, w.Schema).Execute(context.Background(), executor.Request{Document: doc})
}

func mustSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	return sch
}

func TestSchemaRoots(t *testing.T) {
	res := execute(t, mustSchema(t), `{ hello __schema { queryType { name kind } mutationType { name } } }`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"hello": "world",
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query", "kind": "OBJECT"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestTypeLookup(t *testing.T) {
	res := execute(t, mustSchema(t), `{
		__type(name: "User") {
			kind name description
			fields { name isDeprecated type { kind name ofType { kind name ofType { kind name ofType { name } } } } }
		}
		missing: __type(name: "Nope") { name }
	}`)
	require.Empty(t, res.Errors)

	strList := map[string]any{"kind": "NON_NULL", "name": nil, "ofType": map[string]any{
		"kind": "LIST", "name": nil, "ofType": map[string]any{
			"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"name": "String"},
		},
	}}
	want := map[string]any{
		"__type": map[string]any{
			"kind":        "OBJECT",
			"name":        "User",
			"description": "A person",
			"fields": []any{
				map[string]any{"name": "id", "isDeprecated": false, "type": map[string]any{
					"kind": "NON_NULL", "name": nil, "ofType": map[string]any{"kind": "SCALAR", "name": "ID", "ofType": nil},
				}},
				map[string]any{"name": "tags", "isDeprecated": false, "type": strList},
			},
		},
		"missing": nil,
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestIncludeDeprecated(t *testing.T) {
	res := execute(t, mustSchema(t), `{
		user: __type(name: "User") { fields(includeDeprecated: true) { name deprecationReason } }
		order: __type(name: "Order") { enumValues { name } all: enumValues(includeDeprecated: true) { name isDeprecated } }
	}`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"user": map[string]any{"fields": []any{
			map[string]any{"name": "id", "deprecationReason": nil},
			map[string]any{"name": "name", "deprecationReason": "use id"},
			map[string]any{"name": "tags", "deprecationReason": nil},
		}},
		"order": map[string]any{
			"enumValues": []any{map[string]any{"name": "ASC"}},
			"all": []any{
				map[string]any{"name": "ASC", "isDeprecated": false},
				map[string]any{"name": "DESC", "isDeprecated": true},
			},
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultValues(t *testing.T) {
	res := execute(t, mustSchema(t), `{
		filter: __type(name: "Filter") { inputFields { name defaultValue } }
		user: __type(name: "User") { fields { name args { name defaultValue } } }
	}`)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]any)
	require.Equal(t, []any{
		map[string]any{"name": "order", "defaultValue": "DESC"},
		map[string]any{"name": "names", "defaultValue": `["a"]`},
	}, data["filter"].(map[string]any)["inputFields"])

	fields := data["user"].(map[string]any)["fields"].([]any)
	require.Equal(t, []any{
		map[string]any{"name": "first", "defaultValue": "10"},
		map[string]any{"name": "order", "defaultValue": "ASC"},
	}, fields[1].(map[string]any)["args"])
}

func TestMetaFieldsHiddenFromQueryType(t *testing.T) {
	res := execute(t, mustSchema(t), `{ __type(name: "Query") { fields { name } } }`)
	require.Empty(t, res.Errors)
	want := map[string]any{"__type": map[string]any{"fields": []any{
		map[string]any{"name": "hello"},
		map[string]any{"name": "user"},
	}}}
	require.Equal(t, want, res.Data)
}

func TestDirectivesAndPrelude(t *testing.T) {
	res := execute(t, mustSchema(t), `{ __schema { directives { name } types { name } } }`)
	require.Empty(t, res.Errors)
	s := res.Data.(map[string]any)["__schema"].(map[string]any)

	var directives, types []string
	for _, d := range s["directives"].([]any) {
		directives = append(directives, d.(map[string]any)["name"].(string))
	}
	for _, ty := range s["types"].([]any) {
		types = append(types, ty.(map[string]any)["name"].(string))
	}
	require.Contains(t, directives, "skip")
	require.Contains(t, directives, "deprecated")
	require.Contains(t, types, "__Schema")
	require.Contains(t, types, "User")
	require.IsIncreasing(t, types)
}

func TestFluentSchemaGetsPreludeTypes(t *testing.T) {
	sch := schema.NewSchema("").SetQueryType("Query")
	sch.AddType(schema.NewType("Query", schema.TypeKindObject, "").
		AddField(schema.NewField("hello", "", schema.NamedType("String"))))

	res := execute(t, sch, `{ __type(name: "__Type") { kind } __schema { queryType { name } } }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{
		"__type":   map[string]any{"kind": "OBJECT"},
		"__schema": map[string]any{"queryType": map[string]any{"name": "Query"}},
	}, res.Data)
	require.Nil(t, sch.GetQueryType().FieldByName("__schema"))
}

func TestTypenameWithoutWrapper(t *testing.T) {
	sch := mustSchema(t)
	doc, err := language.ParseQuery(`{ __typename }`)
	require.NoError(t, err)
	res := executor.NewExecutor(executor.NewMockRuntime(nil), sch).Execute(context.Background(), executor.Request{Document: doc})
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"__typename": "Query"}, res.Data)
}
