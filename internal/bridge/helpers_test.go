package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/stretchr/testify/require"
)

const quietConfig = `{"log": {"level": "fatal"}}`

type harness struct {
	t    *testing.T
	host *ffi.MemHost
	b    *Bridge
	once sync.Once
}

func startBridge(t *testing.T) *harness {
	t.Helper()
	host := ffi.NewMemHost()
	b, err := Start([]byte(quietConfig), host, host.Queue())
	require.NoError(t, err)
	h := &harness{t: t, host: host, b: b}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.host.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(h.t, h.b.Wait(ctx))
	})
}

func (h *harness) submit(env any) <-chan ffi.Response {
	h.t.Helper()
	var raw []byte
	switch v := env.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(h.t, err)
	}
	ch, err := h.host.Submit(raw)
	require.NoError(h.t, err)
	return ch
}

func (h *harness) await(ch <-chan ffi.Response) ffi.Response {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		h.t.Fatal("no response within 5s")
		return ffi.Response{}
	}
}

func (h *harness) send(env any) ffi.Response {
	h.t.Helper()
	return h.await(h.submit(env))
}

func (h *harness) create(host string) int64 {
	h.t.Helper()
	resp := h.send(createEnvelope(host))
	require.Equal(h.t, ffi.StatusOK, resp.Status, string(resp.Payload))
	var out struct{ Schema int64 }
	require.NoError(h.t, json.Unmarshal(resp.Payload, &out))
	return out.Schema
}

func createEnvelope(host string) map[string]any {
	return map[string]any{
		"cmd": 1,
		"data": map[string]any{
			"schema": `
				type Query { book(id: ID!): Book, books: [Book], failing: String }
				type Book { id: ID!, title: String, author: Author }
				type Author { name: String }
			`,
			"resolvers": map[string]any{
				"Query": map[string]any{
					"book":    map[string]any{"datasource": "library", "uri": "/books/{id}"},
					"books":   map[string]any{"datasource": "library", "uri": "/books", "jq": ".items"},
					"failing": map[string]any{"datasource": "library", "uri": "/fail"},
				},
				"Book": map[string]any{
					"author": map[string]any{"datasource": "library", "uri": "/authors/{authorId}", "method": "get"},
				},
			},
			"datasources": map[string]any{
				"library": map[string]any{"@type": "http", "host": host},
			},
		},
	}
}

func queryEnvelope(id int64, data any) map[string]any {
	return map[string]any{"cmd": 2, "schema": id, "data": data}
}

func closeEnvelope(id int64) map[string]any {
	return map[string]any{"cmd": 3, "schema": id}
}

func library(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /books", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items":[{"id":1,"title":"Dune","authorId":"fh"},{"id":2,"title":"Emma","authorId":"ja"}]}`)
	})
	mux.HandleFunc("GET /books/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"`+r.PathValue("id")+`","title":"Dune","authorId":"fh"}`)
	})
	mux.HandleFunc("GET /authors/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"name":"author `+r.PathValue("id")+`"}`)
	})
	mux.HandleFunc("GET /fail", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
