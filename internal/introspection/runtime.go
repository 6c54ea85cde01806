package introspection

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	executor "github.com/hanpama/restygraph/internal/executor"
	schema "github.com/hanpama/restygraph/internal/schema"
)

// IntrospectionWrapper holds both the runtime and extended schema
type IntrospectionWrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap returns a Runtime that answers __schema and __type and everything
// reachable from them, delegating all other fields to base. Execute against
// the returned Schema.
func Wrap(base executor.Runtime, sch *schema.Schema) *IntrospectionWrapper {
	ext := extend(sch)
	return &IntrospectionWrapper{
		Runtime: &runtime{base: base, schema: ext},
		Schema:  ext,
	}
}

type runtime struct {
	base   executor.Runtime
	schema *schema.Schema
}

var _ executor.Runtime = (*runtime)(nil)

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		return r.schemaField(src, field)
	case *schema.Type:
		return r.typeField(src, field, args)
	case *schema.TypeRef:
		return r.wrapperField(src, field)
	case *schema.Field:
		return r.fieldField(src, field, args)
	case *schema.InputValue:
		return r.inputValueField(src, field)
	case *schema.EnumValue:
		return enumValueField(src, field)
	case *schema.Directive:
		return r.directiveField(src, field, args)
	}

	if objectType == r.schema.QueryType {
		switch field {
		case "__schema":
			return r.schema, nil
		case "__type":
			name, _ := args["name"].(string)
			if t, ok := r.schema.Types[name]; ok {
				return t, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typ string, value any) (any, error) {
	if typ == "__TypeKind" || typ == "__DirectiveLocation" {
		return fmt.Sprint(value), nil
	}
	return r.base.SerializeLeafValue(ctx, typ, value)
}

// typeOf resolves a reference to the value served as a __Type: the named
// type itself, or the wrapping reference for lists and non-nulls.
func (r *runtime) typeOf(ref *schema.TypeRef) any {
	if ref == nil {
		return nil
	}
	if ref.Kind == schema.TypeRefKindNamed {
		if t, ok := r.schema.Types[ref.Named]; ok {
			return t
		}
		return nil
	}
	return ref
}

func (r *runtime) namedTypes(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, n := range names {
		if t, ok := r.schema.Types[n]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *runtime) schemaField(s *schema.Schema, field string) (any, error) {
	switch field {
	case "description":
		return optional(s.Description), nil
	case "types":
		types := make([]*schema.Type, 0, len(s.Types))
		for _, t := range s.Types {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
		return types, nil
	case "queryType":
		return r.typeOrNil(s.QueryType), nil
	case "mutationType":
		return r.typeOrNil(s.MutationType), nil
	case "subscriptionType":
		return r.typeOrNil(s.SubscriptionType), nil
	case "directives":
		dirs := make([]*schema.Directive, 0, len(s.Directives))
		for _, d := range s.Directives {
			dirs = append(dirs, d)
		}
		sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
		return dirs, nil
	}
	return nil, unknownField("__Schema", field)
}

func (r *runtime) typeOrNil(name string) any {
	if name == "" {
		return nil
	}
	return r.typeOf(schema.NamedType(name))
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) (any, error) {
	withDeprecated := boolArg(args, "includeDeprecated")
	switch field {
	case "kind":
		return string(t.Kind), nil
	case "name":
		return t.Name, nil
	case "description":
		return optional(t.Description), nil
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil, nil
		}
		return *t.SpecifiedByURL, nil
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil, nil
		}
		return t.OneOf, nil
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, nil
		}
		fields := make([]*schema.Field, 0, len(t.Fields))
		for _, f := range t.Fields {
			if isMeta(f.Name) || (f.IsDeprecated && !withDeprecated) {
				continue
			}
			fields = append(fields, f)
		}
		return fields, nil
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, nil
		}
		return r.namedTypes(t.Interfaces), nil
	case "possibleTypes":
		if !t.IsAbstract() {
			return nil, nil
		}
		return r.namedTypes(t.PossibleTypes), nil
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, nil
		}
		values := make([]*schema.EnumValue, 0, len(t.EnumValues))
		for _, v := range t.EnumValues {
			if v.IsDeprecated && !withDeprecated {
				continue
			}
			values = append(values, v)
		}
		return values, nil
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, nil
		}
		return filterInputValues(t.InputFields, withDeprecated), nil
	case "ofType":
		return nil, nil
	}
	return nil, unknownField("__Type", field)
}

// wrapperField serves a LIST or NON_NULL reference as a __Type.
func (r *runtime) wrapperField(ref *schema.TypeRef, field string) (any, error) {
	switch field {
	case "kind":
		return string(ref.Kind), nil
	case "ofType":
		return r.typeOf(ref.OfType), nil
	case "name", "description", "specifiedByURL", "isOneOf", "fields",
		"interfaces", "possibleTypes", "enumValues", "inputFields":
		return nil, nil
	}
	return nil, unknownField("__Type", field)
}

func (r *runtime) fieldField(f *schema.Field, field string, args map[string]any) (any, error) {
	switch field {
	case "name":
		return f.Name, nil
	case "description":
		return optional(f.Description), nil
	case "args":
		return filterInputValues(f.Arguments, boolArg(args, "includeDeprecated")), nil
	case "type":
		return r.typeOf(f.Type), nil
	case "isDeprecated":
		return f.IsDeprecated, nil
	case "deprecationReason":
		return reason(f.IsDeprecated, f.DeprecationReason), nil
	}
	return nil, unknownField("__Field", field)
}

func (r *runtime) inputValueField(v *schema.InputValue, field string) (any, error) {
	switch field {
	case "name":
		return v.Name, nil
	case "description":
		return optional(v.Description), nil
	case "type":
		return r.typeOf(v.Type), nil
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, nil
		}
		return r.literal(v.Type, v.DefaultValue), nil
	case "isDeprecated":
		return v.IsDeprecated, nil
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), nil
	}
	return nil, unknownField("__InputValue", field)
}

func enumValueField(v *schema.EnumValue, field string) (any, error) {
	switch field {
	case "name":
		return v.Name, nil
	case "description":
		return optional(v.Description), nil
	case "isDeprecated":
		return v.IsDeprecated, nil
	case "deprecationReason":
		return reason(v.IsDeprecated, v.DeprecationReason), nil
	}
	return nil, unknownField("__EnumValue", field)
}

func (r *runtime) directiveField(d *schema.Directive, field string, args map[string]any) (any, error) {
	switch field {
	case "name":
		return d.Name, nil
	case "description":
		return optional(d.Description), nil
	case "locations":
		return d.Locations, nil
	case "args":
		return filterInputValues(d.Arguments, boolArg(args, "includeDeprecated")), nil
	case "isRepeatable":
		return d.IsRepeatable, nil
	}
	return nil, unknownField("__Directive", field)
}

// literal renders a coerced default value back into GraphQL syntax.
func (r *runtime) literal(ref *schema.TypeRef, v any) string {
	if v == nil {
		return "null"
	}
	named := r.schema.Types[ref.GetNamedType()]
	switch val := v.(type) {
	case []any:
		inner := ref
		if inner.Kind == schema.TypeRefKindNonNull {
			inner = inner.OfType
		}
		if inner.Kind == schema.TypeRefKindList {
			inner = inner.OfType
		}
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = r.literal(inner, item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			fieldRef := schema.NamedType("String")
			if named != nil {
				if f := named.InputFieldByName(k); f != nil {
					fieldRef = f.Type
				}
			}
			parts[i] = k + ": " + r.literal(fieldRef, val[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case string:
		if named != nil && named.Kind == schema.TypeKindEnum {
			return val
		}
		return strconv.Quote(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

func filterInputValues(values []*schema.InputValue, withDeprecated bool) []*schema.InputValue {
	out := make([]*schema.InputValue, 0, len(values))
	for _, v := range values {
		if v.IsDeprecated && !withDeprecated {
			continue
		}
		out = append(out, v)
	}
	return out
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func reason(deprecated bool, why string) any {
	if !deprecated {
		return nil
	}
	return why
}

func boolArg(args map[string]any, name string) bool {
	b, _ := args[name].(bool)
	return b
}

func unknownField(typeName, field string) error {
	return fmt.Errorf("introspection: %s has no field %q", typeName, field)
}
