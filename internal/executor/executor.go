package executor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	language "github.com/hanpama/restygraph/internal/language"
	schema "github.com/hanpama/restygraph/internal/schema"
)

type Path []PathElement

type PathElement any

// Request is one operation to execute against the executor's schema.
// Document is expected to be validated already.
type Request struct {
	Document      *language.QueryDocument
	OperationName string
	Variables     map[string]any
	RootValue     any
}

// executionState holds the state of a single operation.
type executionState struct {
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	context        context.Context

	data     map[string]any
	dataNull bool
	pending  []asyncTask
	errors   []GraphQLError

	// response positions whose type is Non-Null, keyed by pathKey
	nonNull map[string]struct{}
	// positions already set to null; queued work below them is dropped
	tombstones map[string]struct{}
}

// asyncTask is an async field discovered at the current depth.
type asyncTask struct {
	Task         AsyncResolveTask
	ResponsePath Path
	FieldType    *schema.TypeRef
	Fields       []*language.Field
}

// asyncPending marks a response position awaiting its batch.
type asyncPending struct{}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// Schema returns the schema the executor runs against.
func (e *Executor) Schema() *schema.Schema { return e.schema }

func (e *Executor) Execute(ctx context.Context, req Request) *ExecutionResult {
	operation, err := getOperation(req.Document, req.OperationName)
	if err != nil {
		return ErrorResult(GraphQLError{Message: err.Error()})
	}

	coercedVariableValues, err := coerceVariableValues(e.schema, operation, req.Variables)
	if err != nil {
		return ErrorResult(GraphQLError{Message: err.Error(), Locations: locationOf(operation.Position)})
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query, "":
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		return ErrorResult(GraphQLError{Message: "subscriptions are not supported"})
	default:
		return ErrorResult(GraphQLError{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)})
	}
	if rootType == nil {
		return ErrorResult(GraphQLError{Message: fmt.Sprintf("schema does not define a root type for %s operations", operation.Operation)})
	}

	state := &executionState{
		runtime:        e.runtime,
		schema:         e.schema,
		document:       req.Document,
		variableValues: coercedVariableValues,
		context:        ctx,
		data:           make(map[string]any),
		nonNull:        make(map[string]struct{}),
		tombstones:     make(map[string]struct{}),
	}

	grouped := collectFields(state, rootType, operation.SelectionSet).orderedFields()
	if operation.Operation == language.Mutation {
		// Each root mutation field, including its async subtree, completes
		// before the next one starts.
		for i := range grouped {
			if !executeFields(state, rootType, req.RootValue, grouped[i:i+1], Path{}, state.data) {
				state.dataNull = true
				break
			}
			state.flush()
			if state.dataNull {
				break
			}
		}
	} else {
		if !executeFields(state, rootType, req.RootValue, grouped, Path{}, state.data) {
			state.dataNull = true
		}
		state.flush()
	}

	result := &ExecutionResult{Errors: state.errors}
	if !state.dataNull {
		result.Data = state.data
	}
	return result
}

// executeFields executes grouped fields of objectType into out. It returns
// false when a Non-Null field came back null, meaning the object itself
// must become null.
func executeFields(state *executionState, objectType *schema.Type, source any, grouped []collectedField, path Path, out map[string]any) bool {
	for _, cf := range grouped {
		fields := cf.Fields
		fieldPath := appendPath(path, cf.ResponseName)

		if fields[0].Name == "__typename" {
			out[cf.ResponseName] = objectType.Name
			continue
		}

		fieldDef := objectType.FieldByName(fields[0].Name)
		if fieldDef == nil {
			state.addError(fmt.Sprintf("Cannot query field %q on type %q", fields[0].Name, objectType.Name), fieldPath, fields)
			out[cf.ResponseName] = nil
			continue
		}
		if fieldDef.Type.IsNonNull() {
			state.nonNull[pathKey(fieldPath)] = struct{}{}
		}

		value := executeField(state, objectType, fieldDef, source, fields, fieldPath)
		if isNullish(value) {
			if fieldDef.Type.IsNonNull() {
				return false
			}
			out[cf.ResponseName] = nil
			continue
		}
		out[cf.ResponseName] = value
	}
	return true
}

// executeField resolves a sync field immediately or queues an async one.
func executeField(state *executionState, objectType *schema.Type, fieldDef *schema.Field, source any, fields []*language.Field, path Path) any {
	args, err := coerceArgumentValues(state.schema, fieldDef, fields[0].Arguments, state.variableValues)
	if err != nil {
		state.addError(err.Error(), path, fields)
		return nil
	}

	if fieldDef.Async {
		state.pending = append(state.pending, asyncTask{
			Task: AsyncResolveTask{
				ObjectType: objectType.Name,
				Field:      fieldDef.Name,
				Source:     source,
				Args:       args,
			},
			ResponsePath: path,
			FieldType:    fieldDef.Type,
			Fields:       fields,
		})
		return asyncPending{}
	}

	value, err := state.runtime.ResolveSync(state.context, objectType.Name, fieldDef.Name, source, args)
	if err != nil {
		state.addRuntimeError(err, path, fields)
		return nil
	}
	return completeValue(state, fieldDef.Type, fields, value, path)
}

// flush resolves queued async tasks depth by depth until none remain.
func (s *executionState) flush() {
	for len(s.pending) > 0 {
		queued := s.pending
		s.pending = nil

		live := make([]asyncTask, 0, len(queued))
		for _, at := range queued {
			if s.dataNull || s.isTombstoned(at.ResponsePath) {
				continue
			}
			live = append(live, at)
		}
		if len(live) == 0 {
			continue
		}

		tasks := make([]AsyncResolveTask, len(live))
		for i, at := range live {
			tasks[i] = at.Task
		}
		results := s.runtime.BatchResolveAsync(s.context, tasks)
		for i, at := range live {
			res := AsyncResolveResult{Error: errors.New("runtime returned no result for field")}
			if i < len(results) {
				res = results[i]
			}
			s.completeAsyncField(at, res)
		}
	}
}

func (s *executionState) completeAsyncField(at asyncTask, res AsyncResolveResult) {
	path := at.ResponsePath
	if s.dataNull || s.isTombstoned(path) {
		return
	}

	var completed any
	if res.Error != nil {
		s.addRuntimeError(res.Error, path, at.Fields)
	} else {
		completed = completeValue(s, at.FieldType, at.Fields, res.Value, path)
	}

	if isNullish(completed) {
		if at.FieldType.IsNonNull() {
			s.propagateNull(path[:len(path)-1])
			return
		}
		s.setValue(path, nil)
		return
	}
	s.setValue(path, completed)
}

// propagateNull nulls the nearest nullable position at or above p. If every
// position up to the root is Non-Null, the whole data entry becomes null.
func (s *executionState) propagateNull(p Path) {
	for q := p; len(q) > 0; q = q[:len(q)-1] {
		if _, nn := s.nonNull[pathKey(q)]; nn {
			continue
		}
		s.setValue(q, nil)
		s.tombstone(q)
		return
	}
	s.dataNull = true
}

// completeValue completes a raw value against fieldType.
func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if fieldType.IsNonNull() {
		completed := completeValue(state, fieldType.OfType, fields, result, path)
		if isNullish(completed) && isNullish(result) && !state.hasErrorAtPath(path) {
			state.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)), path, fields)
		}
		return completed
	}

	if isNullish(result) {
		return nil
	}

	if fieldType.IsList() {
		return completeListValue(state, fieldType, fields, result, path)
	}
	namedType := fieldType.GetNamedType()
	typeObj := state.schema.Types[namedType]
	if typeObj == nil {
		state.addError(fmt.Sprintf("Unknown type: %s", namedType), path, fields)
		return nil
	}

	switch typeObj.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		serialized, err := state.runtime.SerializeLeafValue(state.context, namedType, result)
		if err != nil {
			state.addRuntimeError(err, path, fields)
			return nil
		}
		return serialized
	case schema.TypeKindObject:
		return completeObjectValue(state, typeObj, fields, result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return completeAbstractValue(state, typeObj, fields, result, path)
	default:
		state.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", typeObj.Kind), path, fields)
		return nil
	}
}

func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	var items []any
	if direct, ok := result.([]any); ok {
		items = direct
	} else {
		rv := reflect.ValueOf(result)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			state.addError(fmt.Sprintf("Expected list value, got %T", result), path, fields)
			return nil
		}
		items = make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
	}

	inner := listType.Unwrap()
	completed := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		if inner.IsNonNull() {
			state.nonNull[pathKey(p)] = struct{}{}
		}
		v := completeValue(state, inner, fields, item, p)
		if isNullish(v) {
			if inner.IsNonNull() {
				state.tombstone(path)
				return nil
			}
			v = nil
		}
		completed[i] = v
	}
	return completed
}

func completeObjectValue(state *executionState, objectType *schema.Type, fields []*language.Field, result any, path Path) any {
	grouped := collectSubfields(state, objectType, fields)
	out := make(map[string]any, len(grouped))
	if !executeFields(state, objectType, result, grouped, path, out) {
		state.tombstone(path)
		return nil
	}
	return out
}

func completeAbstractValue(state *executionState, abstractType *schema.Type, fields []*language.Field, result any, path Path) any {
	typeName, err := state.runtime.ResolveType(state.context, abstractType.Name, result)
	if err != nil {
		state.addRuntimeError(err, path, fields)
		return nil
	}
	objectType := state.schema.Types[typeName]
	if objectType == nil || objectType.Kind != schema.TypeKindObject || !state.schema.IsPossibleType(abstractType.Name, typeName) {
		state.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstractType.Name, typeName), path, fields)
		return nil
	}
	return completeObjectValue(state, objectType, fields, result, path)
}

func pathToString(path Path) string {
	var b strings.Builder
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteString("[" + strconv.Itoa(v) + "]")
		}
	}
	return b.String()
}

func pathKey(path Path) string { return pathToString(path) }

func appendPath(path Path, elem PathElement) Path {
	newPath := make(Path, len(path)+1)
	copy(newPath, path)
	newPath[len(path)] = elem
	return newPath
}

func (s *executionState) tombstone(p Path) {
	if len(p) > 0 {
		s.tombstones[pathKey(p)] = struct{}{}
	}
}

func (s *executionState) isTombstoned(p Path) bool {
	if len(s.tombstones) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.tombstones[pathKey(p[:i])]; ok {
			return true
		}
	}
	return false
}

// getOperation selects the operation to run from the document.
func getOperation(document *language.QueryDocument, operationName string) (*language.OperationDefinition, error) {
	if document == nil || len(document.Operations) == 0 {
		return nil, errors.New("document contains no operations")
	}
	if operationName == "" {
		if len(document.Operations) > 1 {
			return nil, errors.New("must provide operation name if query contains multiple operations")
		}
		return document.Operations[0], nil
	}
	if op := document.Operations.ForName(operationName); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("unknown operation named %q", operationName)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	if t == nil {
		return nil
	}
	var ref *schema.TypeRef
	if t.Elem != nil {
		ref = schema.ListType(typeRefFromAST(t.Elem))
	} else {
		ref = schema.NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = schema.NonNullType(ref)
	}
	return ref
}

func locationOf(pos *language.Position) []Location {
	if pos == nil || pos.Line == 0 {
		return nil
	}
	return []Location{{Line: pos.Line, Column: pos.Column}}
}

func fieldLocations(fields []*language.Field) []Location {
	if len(fields) == 0 {
		return nil
	}
	return locationOf(fields[0].Position)
}

func (s *executionState) addError(message string, path Path, fields []*language.Field) {
	s.errors = append(s.errors, GraphQLError{Message: message, Locations: fieldLocations(fields), Path: path})
}

func (s *executionState) addRuntimeError(err error, path Path, fields []*language.Field) {
	ge := GraphQLError{Message: err.Error(), Locations: fieldLocations(fields), Path: path}
	var ext ExtendedError
	if errors.As(err, &ext) {
		ge.Extensions = ext.Extensions()
	}
	s.errors = append(s.errors, ge)
}

func (s *executionState) hasErrorAtPath(path Path) bool {
	key := pathKey(path)
	for _, err := range s.errors {
		if pathKey(err.Path) == key {
			return true
		}
	}
	return false
}

// setValue writes value at path in the response tree. Positions whose
// parent is missing or already null are skipped.
func (s *executionState) setValue(path Path, value any) {
	if len(path) == 0 {
		return
	}
	var current any = s.data
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return
			}
			current = m[e]
		case int:
			list, ok := current.([]any)
			if !ok || e >= len(list) {
				return
			}
			current = list[e]
		}
	}
	switch e := path[len(path)-1].(type) {
	case string:
		if m, ok := current.(map[string]any); ok {
			m[e] = value
		}
	case int:
		if list, ok := current.([]any); ok && e < len(list) {
			list[e] = value
		}
	}
}

// isNullish returns true for nil interfaces and typed nils (map, slice, ptr, interface)
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
