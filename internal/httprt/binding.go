package httprt

import (
	"net/url"

	datasource "github.com/hanpama/restygraph/internal/datasource"
	filter "github.com/hanpama/restygraph/internal/filter"
)

// Binding maps one schema field to an outbound HTTP call. It is immutable
// once the schema is built.
type Binding struct {
	Datasource datasource.Datasource
	// URI is a path template; {name} placeholders are filled from field
	// arguments first and then from fields of the parent object.
	URI string
	// Query holds fixed query parameters. Arguments are added after them.
	Query   url.Values
	Method  string
	Headers map[string]string
	// SendJSONBody sends the remaining arguments as a JSON object body
	// instead of query parameters.
	SendJSONBody bool
	// Filter post-processes the decoded response body. Optional.
	Filter *filter.Filter
}

// Registry finds the binding of a field.
type Registry interface {
	// Binding returns nil when objectType.field is not bound.
	Binding(objectType, field string) *Binding
}

// Bindings is a Registry keyed by type then field name.
type Bindings map[string]map[string]*Binding

func (b Bindings) Binding(objectType, field string) *Binding {
	return b[objectType][field]
}

// Has reports whether objectType.field is bound. It matches the signature of
// schema.AsyncFunc so bound fields can be marked async.
func (b Bindings) Has(objectType, field string) bool {
	return b.Binding(objectType, field) != nil
}

// Set binds objectType.field, replacing any earlier binding.
func (b Bindings) Set(objectType, field string, binding *Binding) {
	fields := b[objectType]
	if fields == nil {
		fields = make(map[string]*Binding)
		b[objectType] = fields
	}
	fields[field] = binding
}
