// Package httprt implements executor.Runtime over HTTP datasources.
package httprt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"

	datasource "github.com/hanpama/restygraph/internal/datasource"
	executor "github.com/hanpama/restygraph/internal/executor"
	loop "github.com/hanpama/restygraph/internal/loop"
	schema "github.com/hanpama/restygraph/internal/schema"
)

const maxErrorBody = 512

// Runtime resolves bound fields with one datasource request each and reads
// every other field off the decoded parent object.
//   - Sources are JSON values as encoding/json decodes them.
//   - BatchResolveAsync issues the requests of a depth concurrently and keeps
//     results in task order. Inside a loop routine it suspends around the
//     requests only.
//   - Datasources must be safe for concurrent use.
type Runtime struct {
	schema *schema.Schema
	reg    Registry
}

var _ executor.Runtime = (*Runtime)(nil)

func NewRuntime(sch *schema.Schema, reg Registry) *Runtime {
	return &Runtime{schema: sch, reg: reg}
}

// ResolveSync reads field from a JSON object source. It never does I/O.
func (r *Runtime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return src[field], nil
	default:
		return nil, fmt.Errorf("%s.%s: expected an object, got %T", objectType, field, source)
	}
}

// BatchResolveAsync builds every request of the depth, suspends once while
// they are in flight, and decodes the responses after resuming. Only the
// datasource calls run off the loop.
func (r *Runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	calls := make([]*call, 0, len(tasks))
	for i, task := range tasks {
		c, err := r.prepare(task)
		if err != nil {
			results[i].Error = err
			continue
		}
		c.index = i
		calls = append(calls, c)
	}
	if len(calls) == 0 {
		return results
	}

	_, _ = loop.Suspend(ctx, func(ctx context.Context) (struct{}, error) {
		fetch(ctx, calls)
		return struct{}{}, nil
	})

	for _, c := range calls {
		v, err := r.decode(ctx, c)
		results[c.index] = executor.AsyncResolveResult{Value: v, Error: err}
	}
	return results
}

// call is one outbound request and, once fetched, its outcome.
type call struct {
	index   int
	binding *Binding
	req     *datasource.Request

	resp *datasource.Response
	err  error
}

func (r *Runtime) prepare(task executor.AsyncResolveTask) (*call, error) {
	b := r.reg.Binding(task.ObjectType, task.Field)
	if b == nil {
		return nil, fmt.Errorf("%s.%s has no resolver", task.ObjectType, task.Field)
	}
	req, err := buildRequest(b, task.Source, task.Args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", task.ObjectType, task.Field, err)
	}
	return &call{binding: b, req: req}, nil
}

// fetch issues calls concurrently. It touches nothing but the calls.
func fetch(ctx context.Context, calls []*call) {
	if len(calls) == 1 {
		calls[0].resp, calls[0].err = calls[0].binding.Datasource.Do(ctx, calls[0].req)
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for _, c := range calls {
		go func() {
			defer wg.Done()
			c.resp, c.err = c.binding.Datasource.Do(ctx, c.req)
		}()
	}
	wg.Wait()
}

func (r *Runtime) decode(ctx context.Context, c *call) (any, error) {
	if c.err != nil {
		return nil, c.err
	}
	b, resp := c.binding, c.resp
	if resp.Status < 200 || resp.Status > 299 {
		body := resp.Body
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Datasource: b.Datasource.Name(), Status: resp.Status, Body: string(body)}
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		return nil, fmt.Errorf("datasource %q: response is not JSON: %w", b.Datasource.Name(), err)
	}
	if b.Filter != nil {
		return b.Filter.Run(ctx, v)
	}
	return v, nil
}

func buildRequest(b *Binding, source any, args map[string]any) (*datasource.Request, error) {
	path, used, err := expand(b.URI, args, source)
	if err != nil {
		return nil, err
	}
	rest := make(map[string]any, len(args))
	for k, v := range args {
		if !used[k] {
			rest[k] = v
		}
	}
	req := &datasource.Request{Method: b.Method, Path: path, Header: b.Headers}
	if b.SendJSONBody {
		req.Body, err = json.Marshal(rest)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		req.Query = b.Query
		return req, nil
	}
	req.Query, err = queryValues(rest)
	if err != nil {
		return nil, err
	}
	for k, vs := range b.Query {
		req.Query[k] = append(append([]string(nil), vs...), req.Query[k]...)
	}
	return req, nil
}

// ResolveType reads __typename off the value. Abstract types with a single
// possible type need no discriminator.
func (r *Runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok {
			return name, nil
		}
	}
	if t := r.schema.Types[abstractType]; t != nil && len(t.PossibleTypes) == 1 {
		return t.PossibleTypes[0], nil
	}
	return "", fmt.Errorf("cannot resolve the concrete type of %s: value has no __typename", abstractType)
}

func (r *Runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch typeName {
	case "Int":
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return nil, fmt.Errorf("Int cannot represent value %v", value)
		}
		return int(n), nil
	case "Float":
		n, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("Float cannot represent value %v", value)
		}
		return n, nil
	case "String":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, float64, int, int64:
			return formatScalar(v), nil
		}
		return nil, fmt.Errorf("String cannot represent value %v", value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent value %v", value)
	case "ID":
		switch v := value.(type) {
		case string:
			return v, nil
		case float64, int, int64:
			if n, _ := toFloat(v); n == math.Trunc(n) {
				return formatScalar(v), nil
			}
		}
		return nil, fmt.Errorf("ID cannot represent value %v", value)
	}

	t := r.schema.Types[typeName]
	if t != nil && t.Kind == schema.TypeKindEnum {
		s, ok := value.(string)
		if !ok || !t.HasEnumValue(s) {
			return nil, fmt.Errorf("enum %s cannot represent value %v", typeName, value)
		}
		return s, nil
	}
	// Custom scalars pass through as decoded JSON.
	return value, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}
