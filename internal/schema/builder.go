package schema

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/restygraph/internal/language"
)

// AsyncFunc reports whether a field is resolved through a datasource.
type AsyncFunc func(typeName, fieldName string) bool

type buildOptions struct {
	async AsyncFunc
}

type BuildOption func(*buildOptions)

// WithAsync marks the fields for which fn returns true as async.
func WithAsync(fn AsyncFunc) BuildOption { return func(o *buildOptions) { o.async = fn } }

// Build converts a validated gqlparser schema into an executable Schema.
// The introspection meta fields that gqlparser adds to the query root are
// left out; the introspection package adds its own when enabled.
func Build(src *language.Schema, opts ...BuildOption) *Schema {
	o := &buildOptions{async: func(string, string) bool { return false }}
	for _, f := range opts {
		f(o)
	}

	s := NewSchema(src.Description)
	if src.Query != nil {
		s.SetQueryType(src.Query.Name)
	}
	if src.Mutation != nil {
		s.SetMutationType(src.Mutation.Name)
	}
	if src.Subscription != nil {
		s.SetSubscriptionType(src.Subscription.Name)
	}

	for _, def := range src.Types {
		s.AddType(buildType(src, def, o))
	}
	for _, dir := range src.Directives {
		s.AddDirective(buildDirective(dir))
	}
	return s
}

// BuildFromSDL loads and validates sdl and builds the executable schema.
func BuildFromSDL(sdl string, opts ...BuildOption) (*Schema, error) {
	src, err := language.LoadSchema("schema.graphql", sdl)
	if err != nil {
		return nil, err
	}
	return Build(src, opts...), nil
}

func buildType(src *ast.Schema, def *ast.Definition, o *buildOptions) *Type {
	t := NewType(def.Name, TypeKind(def.Kind), def.Description)
	switch def.Kind {
	case ast.Object, ast.Interface:
		for _, name := range def.Interfaces {
			t.AddInterface(name)
		}
		for _, fd := range def.Fields {
			if strings.HasPrefix(fd.Name, "__") {
				continue
			}
			t.AddField(buildField(def.Name, fd, o))
		}
		if def.Kind == ast.Interface {
			for _, name := range possibleTypeNames(src, def.Name) {
				t.AddPossibleType(name)
			}
		}
	case ast.Union:
		for _, name := range possibleTypeNames(src, def.Name) {
			t.AddPossibleType(name)
		}
	case ast.Enum:
		for _, ev := range def.EnumValues {
			v := NewEnumValue(ev.Name, ev.Description)
			if reason, ok := deprecation(ev.Directives); ok {
				v.Deprecate(reason)
			}
			t.AddEnumValue(v)
		}
	case ast.InputObject:
		for _, fd := range def.Fields {
			t.AddInputField(buildInputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives))
		}
		t.SetOneOf(def.Directives.ForName("oneOf") != nil)
	case ast.Scalar:
		if sb := def.Directives.ForName("specifiedBy"); sb != nil {
			if arg := sb.Arguments.ForName("url"); arg != nil && arg.Value != nil {
				t.SetSpecifiedByURL(arg.Value.Raw)
			}
		}
	}
	return t
}

func buildField(parent string, fd *ast.FieldDefinition, o *buildOptions) *Field {
	f := NewField(fd.Name, fd.Description, buildTypeRef(fd.Type)).
		SetAsync(o.async(parent, fd.Name))
	if reason, ok := deprecation(fd.Directives); ok {
		f.Deprecate(reason)
	}
	for _, arg := range fd.Arguments {
		f.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return f
}

func buildInputValue(name, description string, typ *ast.Type, def *ast.Value, dirs ast.DirectiveList) *InputValue {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			in.SetDefault(v)
		}
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(buildTypeRef(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

func buildDirective(dir *ast.DirectiveDefinition) *Directive {
	d := NewDirective(dir.Name, dir.Description).SetRepeatable(dir.IsRepeatable)
	for _, loc := range dir.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range dir.Arguments {
		d.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return d
}

func possibleTypeNames(src *ast.Schema, abstract string) []string {
	defs := src.PossibleTypes[abstract]
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		if d.Kind != ast.Object {
			continue
		}
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

const defaultDeprecationReason = "No longer supported"

func deprecation(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		return arg.Value.Raw, true
	}
	return defaultDeprecationReason, true
}
