package introspection

import (
	"strings"
	"sync"

	schema "github.com/hanpama/restygraph/internal/schema"
)

// preludeTypes holds the __-prefixed meta types and built-in scalars the
// GraphQL prelude declares. Schemas built through the fluent API lack them.
var preludeTypes = sync.OnceValue(func() map[string]*schema.Type {
	sch, err := schema.BuildFromSDL(`type Query { _: Boolean }`)
	if err != nil {
		panic("introspection: prelude: " + err.Error())
	}
	out := make(map[string]*schema.Type)
	for name, t := range sch.Types {
		if name != "Query" {
			out[name] = t
		}
	}
	return out
})

// extend returns a copy of original whose query root also carries the
// __schema and __type meta fields. original is not modified.
func extend(original *schema.Schema) *schema.Schema {
	ext := &schema.Schema{
		QueryType:        original.QueryType,
		MutationType:     original.MutationType,
		SubscriptionType: original.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(original.Types)+8),
		Directives:       original.Directives,
		Description:      original.Description,
	}
	for name, t := range preludeTypes() {
		ext.Types[name] = t
	}
	for name, t := range original.Types {
		ext.Types[name] = t
	}

	q := ext.GetQueryType()
	if q == nil {
		return ext
	}
	root := *q
	root.Fields = make([]*schema.Field, 0, len(q.Fields)+2)
	root.Fields = append(root.Fields, q.Fields...)
	root.Fields = append(root.Fields,
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	ext.Types[root.Name] = &root
	return ext
}

func isMeta(name string) bool { return strings.HasPrefix(name, "__") }
