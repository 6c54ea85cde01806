package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	language "github.com/hanpama/restygraph/internal/language"
	schema "github.com/hanpama/restygraph/internal/schema"
)

// coerceVariableValues coerces request variables against the operation's
// variable definitions.
func coerceVariableValues(
	sch *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name := varDef.Variable
		t := varDef.Type
		val, ok := variableValues[name]
		if !ok {
			if varDef.DefaultValue != nil {
				val, err := coerceValue(sch, valueFromAST(varDef.DefaultValue, nil), typeRefFromAST(t))
				if err != nil {
					return nil, fmt.Errorf("variable $%s has an invalid default value: %w", name, err)
				}
				coerced[name] = val
				continue
			}
			if t.NonNull {
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			}
			continue
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of non-null type %s must not be null", name, t.String())
		}
		cv, err := coerceValue(sch, val, typeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s got invalid value: %w", name, err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces the arguments of a field node.
func coerceArgumentValues(
	sch *schema.Schema,
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
) (map[string]any, error) {
	coerced := make(map[string]any, len(fieldDef.Arguments))
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		arg := arguments.ForName(name)

		provided := arg != nil
		var raw any
		if provided {
			if arg.Value.Kind == language.Variable {
				raw, provided = variableValues[arg.Value.Raw]
			} else {
				raw = valueFromAST(arg.Value, variableValues)
			}
		}

		if !provided {
			if argDef.DefaultValue != nil {
				v, err := coerceValue(sch, argDef.DefaultValue, argDef.Type)
				if err != nil {
					return nil, fmt.Errorf("argument %q has an invalid default value: %w", name, err)
				}
				coerced[name] = v
			} else if argDef.Type.IsNonNull() {
				return nil, fmt.Errorf("argument %q of required type %s was not provided", name, argDef.Type)
			}
			continue
		}

		v, err := coerceValue(sch, raw, argDef.Type)
		if err != nil {
			return nil, fmt.Errorf("argument %q has invalid value: %w", name, err)
		}
		coerced[name] = v
	}
	return coerced, nil
}

// valueFromAST converts a literal to a Go value, substituting variables at
// any depth.
func valueFromAST(value *language.Value, variableValues map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return variableValues[value.Raw]
	case language.IntValue:
		if iv, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
			return int(iv)
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.NullValue:
		return nil
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromAST(c.Value, variableValues)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, f := range value.Children {
			if f.Value.Kind == language.Variable {
				if v, ok := variableValues[f.Value.Raw]; ok {
					m[f.Name] = v
				}
				continue
			}
			m[f.Name] = valueFromAST(f.Value, variableValues)
		}
		return m
	default:
		return nil
	}
}

// coerceValue coerces an input value to the given type.
func coerceValue(sch *schema.Schema, value any, targetType *schema.TypeRef) (any, error) {
	if targetType.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("expected non-null value of type %s", targetType)
		}
		return coerceValue(sch, value, targetType.OfType)
	}
	if value == nil {
		return nil, nil
	}
	if targetType.Kind == schema.TypeRefKindList {
		return coerceListValue(sch, value, targetType)
	}

	name := targetType.Named
	t := sch.Types[name]
	if t == nil {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	switch t.Kind {
	case schema.TypeKindScalar:
		return coerceScalar(name, value)
	case schema.TypeKindEnum:
		s, ok := value.(string)
		if !ok || !t.HasEnumValue(s) {
			return nil, fmt.Errorf("value %v is not a member of enum %s", value, name)
		}
		return s, nil
	case schema.TypeKindInputObject:
		return coerceInputObject(sch, t, value)
	default:
		return nil, fmt.Errorf("type %s is not an input type", name)
	}
}

func coerceListValue(sch *schema.Schema, value any, listType *schema.TypeRef) (any, error) {
	inner := listType.OfType
	slice, ok := value.([]any)
	if !ok {
		// A single value is accepted as a list of one.
		item, err := coerceValue(sch, value, inner)
		if err != nil {
			return nil, err
		}
		return []any{item}, nil
	}
	out := make([]any, len(slice))
	for i, item := range slice {
		v, err := coerceValue(sch, item, inner)
		if err != nil {
			return nil, fmt.Errorf("at index %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func coerceInputObject(sch *schema.Schema, t *schema.Type, value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object for input type %s, got %T", t.Name, value)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if t.InputFieldByName(k) == nil {
			return nil, fmt.Errorf("field %q is not defined by input type %s", k, t.Name)
		}
	}

	out := make(map[string]any, len(t.InputFields))
	for _, f := range t.InputFields {
		raw, present := m[f.Name]
		if !present {
			if f.DefaultValue != nil {
				v, err := coerceValue(sch, f.DefaultValue, f.Type)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
				}
				out[f.Name] = v
			} else if f.Type.IsNonNull() {
				return nil, fmt.Errorf("field %s.%s of required type %s was not provided", t.Name, f.Name, f.Type)
			}
			continue
		}
		v, err := coerceValue(sch, raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
		}
		out[f.Name] = v
	}

	if t.OneOf {
		set := 0
		for _, v := range out {
			if v != nil {
				set++
			}
		}
		if len(out) != 1 || set != 1 {
			return nil, fmt.Errorf("exactly one field must be set on oneOf input type %s", t.Name)
		}
	}
	return out, nil
}

func coerceScalar(name string, value any) (any, error) {
	switch name {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("cannot use %v (%T) as String", value, value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot use %v (%T) as Boolean", value, value)
	case "ID":
		return coerceToID(value)
	default:
		// Custom scalars pass through unchanged.
		return value, nil
	}
}

func coerceToInt(value any) (any, error) {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot use %v as Int", value)
		}
		f = n
	default:
		return nil, fmt.Errorf("cannot use %v (%T) as Int", value, value)
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, fmt.Errorf("cannot use %v as Int", value)
	}
	return int(f), nil
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as Float", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return nil, fmt.Errorf("cannot use %v (%T) as ID", value, value)
}
