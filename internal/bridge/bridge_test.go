package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	reqid "github.com/hanpama/restygraph/internal/reqid"
	"github.com/stretchr/testify/require"
)

func decodeResult(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(payload, &out))
	return out
}

func TestLifecycle_CreateQueryClose(t *testing.T) {
	srv := library(t)
	h := startBridge(t)

	id := h.create(srv.URL)
	require.Equal(t, int64(1), id)

	resp := h.send(queryEnvelope(id, `{ books { id title author { name } } }`))
	require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
	want := map[string]any{"data": map[string]any{"books": []any{
		map[string]any{"id": "1", "title": "Dune", "author": map[string]any{"name": "author fh"}},
		map[string]any{"id": "2", "title": "Emma", "author": map[string]any{"name": "author ja"}},
	}}}
	if diff := cmp.Diff(want, decodeResult(t, resp.Payload)); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	resp = h.send(closeEnvelope(id))
	require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
	require.Empty(t, resp.Payload)

	resp = h.send(queryEnvelope(id, `{ books { id } }`))
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Contains(t, string(resp.Payload), "schema not found: 1")

	require.Zero(t, h.host.Violations())
	require.Zero(t, h.host.Outstanding())
}

func TestCreate_IDsStrictlyIncrease(t *testing.T) {
	srv := library(t)
	h := startBridge(t)

	var last int64
	for i := 0; i < 4; i++ {
		id := h.create(srv.URL)
		require.Greater(t, id, last)
		last = id
		if i == 1 {
			require.Equal(t, ffi.StatusOK, h.send(closeEnvelope(id)).Status)
		}
	}
	require.Equal(t, int64(4), last)
}

func TestCreate_FailureConsumesNoID(t *testing.T) {
	srv := library(t)
	h := startBridge(t)

	env := createEnvelope(srv.URL)
	env["data"].(map[string]any)["datasources"] = map[string]any{
		"library": map[string]any{"@type": "grpc", "host": srv.URL},
	}
	resp := h.send(env)
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Contains(t, string(resp.Payload), "datasource: unsupported kind")

	env = createEnvelope(srv.URL)
	env["data"].(map[string]any)["schema"] = "type Query {"
	resp = h.send(env)
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Contains(t, string(resp.Payload), "compile schema")

	require.Equal(t, int64(1), h.create(srv.URL))
}

func TestUnknownSchemaID(t *testing.T) {
	h := startBridge(t)

	for _, env := range []map[string]any{
		queryEnvelope(9999, `{ books { id } }`),
		closeEnvelope(9999),
	} {
		resp := h.send(env)
		require.Equal(t, ffi.StatusError, resp.Status)
		require.Contains(t, string(resp.Payload), "schema not found: 9999")
	}
}

func TestUnknownCommand(t *testing.T) {
	h := startBridge(t)

	resp := h.send(map[string]any{"cmd": 99})
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Contains(t, string(resp.Payload), "unknown command: 99")
}

func TestBadRequestsDoNotStopThePoller(t *testing.T) {
	srv := library(t)
	h := startBridge(t)

	cases := []struct {
		raw  []byte
		diag string
	}{
		{[]byte(`{"cmd": 2, "schema": `), "decode envelope"},
		{[]byte(`{"cmd": 2, "data": "{ books { id } }"}`), "query: missing schema id"},
		{[]byte(`{"cmd": 3}`), "close_schema: missing schema id"},
		{[]byte(`{"cmd": 1}`), "missing schema configuration"},
		{[]byte(`{"cmd": 2, "schema": 1, "data": 5}`), "query payload must be a string or an object"},
	}
	for _, tc := range cases {
		resp := h.send(tc.raw)
		require.Equal(t, ffi.StatusError, resp.Status, string(tc.raw))
		require.Contains(t, string(resp.Payload), tc.diag)
	}

	ch, err := h.host.Submit(nil)
	require.NoError(t, err)
	resp := h.await(ch)
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Contains(t, string(resp.Payload), ffi.ErrNoRequest.Error())

	require.Equal(t, int64(1), h.create(srv.URL))
}

func TestErrorPayloadIsFullDiagnostic(t *testing.T) {
	h := startBridge(t)

	resp := h.send(map[string]any{"cmd": 99})
	msg, stack, ok := bytes.Cut(resp.Payload, []byte("\n\n"))
	require.True(t, ok)
	require.Equal(t, "unknown command: 99", string(msg))
	require.Contains(t, string(stack), "goroutine")
}

func TestQuery_ObjectPayloadWithVariables(t *testing.T) {
	srv := library(t)
	h := startBridge(t)
	id := h.create(srv.URL)

	resp := h.send(queryEnvelope(id, map[string]any{
		"query":         `query A { failing } query B($id: ID!) { book(id: $id) { id title } }`,
		"operationName": "B",
		"variables":     map[string]any{"id": "42"},
	}))
	require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
	require.Equal(t, map[string]any{"data": map[string]any{"book": map[string]any{"id": "42", "title": "Dune"}}},
		decodeResult(t, resp.Payload))
}

func TestQuery_ResolverErrorsStayInsideTheResult(t *testing.T) {
	srv := library(t)
	h := startBridge(t)
	id := h.create(srv.URL)

	resp := h.send(queryEnvelope(id, `{ failing book(id: 1) { title } }`))
	require.Equal(t, ffi.StatusOK, resp.Status)
	got := decodeResult(t, resp.Payload)
	require.Equal(t, map[string]any{"failing": nil, "book": map[string]any{"title": "Dune"}}, got["data"])
	errs := got["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	require.Equal(t, []any{"failing"}, first["path"])
	require.Equal(t, float64(500), first["extensions"].(map[string]any)["status"])

	resp = h.send(queryEnvelope(id, `{ nope }`))
	require.Equal(t, ffi.StatusOK, resp.Status)
	require.Contains(t, string(resp.Payload), `Cannot query field \"nope\" on type \"Query\"`)
}

func TestConcurrentQueriesAnsweredOnce(t *testing.T) {
	srv := library(t)
	h := startBridge(t)
	id := h.create(srv.URL)

	const n = 20
	chans := make([]<-chan ffi.Response, n)
	for i := range chans {
		chans[i] = h.submit(queryEnvelope(id, `{ books { title author { name } } }`))
	}
	for _, ch := range chans {
		resp := h.await(ch)
		require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
		require.NotContains(t, string(resp.Payload), `"errors"`)
	}
	require.Equal(t, ffi.StatusOK, h.send(queryEnvelope(id, `{ books { id } }`)).Status)
	require.Zero(t, h.host.Violations())
}

func raise(peak *atomic.Int32, n int32) {
	for {
		p := peak.Load()
		if n <= p || peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func TestConcurrentQueries_OnlyRequestsOverlap(t *testing.T) {
	const n = 4
	var inflight, requestPeak, arrivals atomic.Int32
	all := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /books", func(w http.ResponseWriter, r *http.Request) {
		raise(&requestPeak, inflight.Add(1))
		defer inflight.Add(-1)
		if arrivals.Add(1) == n {
			close(all)
		}
		select {
		case <-all:
		case <-time.After(2 * time.Second):
		}
		_, _ = io.WriteString(w, `{"items":[{"id":1,"title":"Dune"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := startBridge(t)
	id := h.create(srv.URL)

	var active, peak atomic.Int32
	unsubscribe := eventbus.Subscribe(func(_ context.Context, e events.GraphQLStart) {
		raise(&peak, active.Add(1))
		time.Sleep(50 * time.Millisecond)
		active.Add(-1)
	})
	defer unsubscribe()

	chans := make([]<-chan ffi.Response, n)
	for i := range chans {
		chans[i] = h.submit(queryEnvelope(id, `{ books { title } }`))
	}
	for _, ch := range chans {
		resp := h.await(ch)
		require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
		require.JSONEq(t, `{"data":{"books":[{"title":"Dune"}]}}`, string(resp.Payload))
	}
	require.Equal(t, int32(1), peak.Load())
	require.Equal(t, int32(n), requestPeak.Load())
}

func TestHostRequestIDBecomesParent(t *testing.T) {
	h := startBridge(t)

	var parent, id string
	unsubscribe := eventbus.Subscribe(func(ctx context.Context, e events.CommandStart) {
		parent, _ = reqid.ParentFromContext(ctx)
		id, _ = reqid.FromContext(ctx)
	})
	defer unsubscribe()

	ch, err := h.host.SubmitWithID("http-7", []byte(`{"cmd": 3, "schema": 1}`))
	require.NoError(t, err)
	require.Equal(t, ffi.StatusError, h.await(ch).Status)
	require.Equal(t, "http-7", parent)
	require.NotEmpty(t, id)
	require.NotEqual(t, "http-7", id)
}

func TestTransferFailureBecomesErrorStatus(t *testing.T) {
	srv := library(t)
	h := startBridge(t)
	id := h.create(srv.URL)

	h.host.FailTransfers(true)
	resp := h.send(queryEnvelope(id, `{ books { id } }`))
	require.Equal(t, ffi.StatusError, resp.Status)
	require.Empty(t, resp.Payload)

	h.host.FailTransfers(false)
	require.Equal(t, ffi.StatusOK, h.send(queryEnvelope(id, `{ books { id } }`)).Status)
	require.Zero(t, h.host.Violations())
}

func TestShutdown_DrainThenStop(t *testing.T) {
	srv := library(t)
	h := startBridge(t)
	first := h.create(srv.URL)
	second := h.create(srv.URL)

	var mu sync.Mutex
	var closed []int64
	eventbus.Subscribe(func(_ context.Context, e events.SchemaClosed) {
		mu.Lock()
		closed = append(closed, e.SchemaID)
		mu.Unlock()
	})

	chans := make([]<-chan ffi.Response, 0, 10)
	for i := 0; i < 10; i++ {
		chans = append(chans, h.submit(queryEnvelope(first, `{ books { author { name } } }`)))
	}
	h.stop()

	for _, ch := range chans {
		resp := h.await(ch)
		require.Equal(t, ffi.StatusOK, resp.Status, string(resp.Payload))
	}
	<-h.b.Done()

	mu.Lock()
	require.ElementsMatch(t, []int64{first, second}, closed)
	mu.Unlock()

	_, err := h.host.Submit([]byte(`{"cmd": 99}`))
	require.ErrorIs(t, err, ffi.ErrHostClosed)
	require.Zero(t, h.host.Violations())
}
