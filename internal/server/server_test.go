package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bridge "github.com/hanpama/restygraph/internal/bridge"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	otel "github.com/hanpama/restygraph/internal/otel"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	host := ffi.NewMemHost()
	b, err := bridge.Start([]byte(`{"log": {"level": "fatal"}}`), host, host.Queue())
	require.NoError(t, err)
	t.Cleanup(func() {
		host.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, b.Wait(ctx))
	})
	return New(host, opts...)
}

func upstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /hello", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"greeting":"hello `+r.URL.Query().Get("name")+`"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func schemaBody(host string) string {
	return `{
		"schema": "type Query { hello(name: String): String }",
		"resolvers": {"Query": {"hello": {"datasource": "api", "uri": "/hello", "jq": ".greeting"}}},
		"datasources": {"api": {"@type": "http", "host": "` + host + `"}}
	}`
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createSchema(t *testing.T, h http.Handler, host string) int64 {
	t.Helper()
	w := do(t, h, "POST", "/schemas", "application/json", schemaBody(host))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out struct{ Schema int64 }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out.Schema
}

func TestSchemaLifecycle(t *testing.T) {
	srv := upstream(t)
	h := newTestHandler(t)
	id := createSchema(t, h, srv.URL)
	require.Equal(t, int64(1), id)

	w := do(t, h, "POST", "/schemas/1/graphql", "application/json", `{"query":"{ hello(name: \"ann\") }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":{"hello":"hello ann"}}`, w.Body.String())

	w = do(t, h, "GET", "/schemas/1/graphql?query="+`%7B%20hello(name%3A%20%22bo%22)%20%7D`, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":{"hello":"hello bo"}}`, w.Body.String())

	w = do(t, h, "DELETE", "/schemas/1", "", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, "POST", "/schemas/1/graphql", "application/json", `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"data":null,"errors":[{"message":"schema not found: 1"}]}`, w.Body.String())
}

func TestCreateSchemaFromYAML(t *testing.T) {
	srv := upstream(t)
	h := newTestHandler(t)

	body := `
schema: "type Query { hello(name: String): String }"
resolvers:
  Query:
    hello: {datasource: api, uri: /hello, jq: .greeting}
datasources:
  api: {"@type": http, host: "` + srv.URL + `"}
`
	w := do(t, h, "POST", "/schemas", "application/yaml", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, "POST", "/schemas/1/graphql", "", `{"query":"query($n: String) { hello(name: $n) }","variables":{"n":"cy"}}`)
	require.JSONEq(t, `{"data":{"hello":"hello cy"}}`, w.Body.String())
}

func TestCreateSchemaErrors(t *testing.T) {
	h := newTestHandler(t)

	w := do(t, h, "POST", "/schemas", "application/json", `{"schema": "type Query {"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "compile schema")

	w = do(t, h, "POST", "/schemas", "application/json", `{"schema": `)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/schemas", "text/plain", `type Query { a: String }`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unsupported Content-Type")
}

func TestBatchedQueries(t *testing.T) {
	srv := upstream(t)
	h := newTestHandler(t)
	createSchema(t, h, srv.URL)

	w := do(t, h, "POST", "/schemas/1/graphql", "application/json",
		`[{"query":"{ a: hello(name: \"x\") }"},{"query":"{ b: hello(name: \"y\") }"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"data":{"a":"hello x"}},{"data":{"b":"hello y"}}]`, w.Body.String())

	w = do(t, h, "POST", "/schemas/1/graphql", "application/json", `[]`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidSchemaID(t *testing.T) {
	h := newTestHandler(t)

	w := do(t, h, "DELETE", "/schemas/abc", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, "DELETE", "/schemas/77", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "schema not found: 77")
}

func TestRawTasks(t *testing.T) {
	h := newTestHandler(t)

	w := do(t, h, "POST", "/tasks", "application/json", `{"cmd": 42}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "error", w.Header().Get("X-Task-Status"))
	require.True(t, strings.HasPrefix(w.Body.String(), "unknown command: 42\n\n"))

	w = do(t, h, "POST", "/tasks", "application/json", `{"cmd": 1, "data": {"schema": "type Query { a: String }"}}`)
	require.Equal(t, "ok", w.Header().Get("X-Task-Status"))
	require.JSONEq(t, `{"schema":1}`, w.Body.String())
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("*"))

	req := httptest.NewRequest("POST", "/tasks", bytes.NewBufferString(`{"cmd": 3}`))
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	pre := httptest.NewRequest("OPTIONS", "/schemas/1/graphql", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(10))

	w := do(t, h, "POST", "/schemas/1/graphql", "application/json", `{"query":"1234567890"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

// stalled never answers.
type stalled struct{}

func (stalled) SubmitWithID(string, []byte) (<-chan ffi.Response, error) {
	return make(chan ffi.Response), nil
}

func TestTimeout(t *testing.T) {
	h := New(stalled{}, WithTimeout(20*time.Millisecond))

	w := do(t, h, "DELETE", "/schemas/1", "", "")
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	require.Contains(t, w.Body.String(), "task did not complete")
}

func TestHTTPEventsCarryRoute(t *testing.T) {
	h := newTestHandler(t)

	var got events.HTTPFinish
	unsubscribe := eventbus.Subscribe(func(_ context.Context, e events.HTTPFinish) { got = e })
	defer unsubscribe()

	do(t, h, "DELETE", "/schemas/5", "", "")
	require.Equal(t, "/schemas/{id}", got.Route)
	require.Equal(t, http.StatusNotFound, got.Status)
}

func TestCommandSpansHangOffTheHTTPSpan(t *testing.T) {
	srv := upstream(t)
	h := newTestHandler(t)
	createSchema(t, h, srv.URL)

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	unsubscribe := otel.Subscribe(tp.Tracer("test"))
	defer unsubscribe()

	w := do(t, h, "POST", "/schemas/1/graphql", "application/json",
		`[{"query":"{ a: hello(name: \"x\") }"},{"query":"{ b: hello(name: \"y\") }"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	var httpSpan sdktrace.ReadOnlySpan
	var commands []sdktrace.ReadOnlySpan
	for _, s := range rec.Started() {
		switch s.Name() {
		case "http.request":
			httpSpan = s
		case "bridge.command":
			commands = append(commands, s)
		}
	}
	require.NotNil(t, httpSpan)
	require.Len(t, commands, 2)
	for _, c := range commands {
		require.Equal(t, httpSpan.SpanContext().SpanID(), c.Parent().SpanID())
	}
}
