// Package server is an HTTP front end for the bridge. Every request becomes
// one or more tasks submitted to an in-process host, so the bridge runs the
// same code paths it runs under the foreign runtime.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	bridge "github.com/hanpama/restygraph/internal/bridge"
	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/hanpama/restygraph/internal/logging"
	registry "github.com/hanpama/restygraph/internal/registry"
	reqid "github.com/hanpama/restygraph/internal/reqid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Submitter enqueues a raw task request tagged with a request id and
// delivers its response. ffi.MemHost implements it.
type Submitter interface {
	SubmitWithID(rid string, req []byte) (<-chan ffi.Response, error)
}

// Handler routes HTTP requests to bridge tasks.
type Handler struct {
	host   Submitter
	opt    Options
	router chi.Router
}

type Options struct {
	// Timeout bounds how long a request waits for its task. 0 means no limit.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler submitting tasks to host.
func New(host Submitter, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second}
	for _, f := range opts {
		f(&op)
	}
	h := &Handler{host: host, opt: op}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.observe)
	r.Use(h.cors)
	r.Post("/schemas", h.createSchema)
	r.Delete("/schemas/{id}", h.closeSchema)
	r.Get("/schemas/{id}/graphql", h.graphql)
	r.Post("/schemas/{id}/graphql", h.graphql)
	r.Post("/tasks", h.task)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse("not found"), h.opt.Pretty)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse("method not allowed"), h.opt.Pretty)
	})
	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// observe tags the request with an id and publishes HTTPStart and HTTPFinish.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, rid := reqid.NewContext(r.Context())
		r = r.WithContext(ctx)
		start := time.Now()
		eventbus.Publish(ctx, events.HTTPStart{Request: r})

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rc := chi.RouteContext(ctx); rc != nil {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Route: route, Status: status, Duration: time.Since(start)})
		logging.Logger().Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", rid))
	})
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------ Routes ------------------

func (h *Handler) createSchema(w http.ResponseWriter, r *http.Request) {
	body, herr := readBody(r, h.opt.MaxBodyBytes)
	if herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	data, err := schemaConfigJSON(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()), h.opt.Pretty)
		return
	}
	resp, herr := h.run(r.Context(), bridge.Envelope{Cmd: bridge.CodeCreateSchema, Data: data})
	if herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	writeRaw(w, http.StatusCreated, resp.Payload, h.opt.Pretty)
}

func (h *Handler) closeSchema(w http.ResponseWriter, r *http.Request) {
	id, ok := h.schemaID(w, r)
	if !ok {
		return
	}
	if _, herr := h.run(r.Context(), bridge.Envelope{Cmd: bridge.CodeCloseSchema, Schema: &id}); herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) graphql(w http.ResponseWriter, r *http.Request) {
	id, ok := h.schemaID(w, r)
	if !ok {
		return
	}
	req, batch, herr := parseRequest(r, h.opt.MaxBodyBytes)
	if herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	if batch == nil {
		out, herr := h.query(r.Context(), id, req)
		if herr != nil {
			writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
			return
		}
		writeRaw(w, http.StatusOK, out, h.opt.Pretty)
		return
	}

	// Batched requests run concurrently; results keep request order.
	chans := make([]<-chan result, len(batch))
	for i := range batch {
		ch := make(chan result, 1)
		chans[i] = ch
		go func(req registry.QueryRequest) {
			out, herr := h.query(r.Context(), id, req)
			ch <- result{out, herr}
		}(batch[i])
	}
	results := make([]json.RawMessage, len(batch))
	for i, ch := range chans {
		res := <-ch
		if res.err != nil {
			results[i], _ = json.Marshal(errorResponse(res.err.message))
			continue
		}
		results[i] = res.payload
	}
	writeJSON(w, http.StatusOK, results, h.opt.Pretty)
}

type result struct {
	payload json.RawMessage
	err     *httpError
}

func (h *Handler) query(ctx context.Context, id int64, req registry.QueryRequest) (json.RawMessage, *httpError) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &httpError{http.StatusBadRequest, err.Error()}
	}
	resp, herr := h.run(ctx, bridge.Envelope{Cmd: bridge.CodeQuery, Schema: &id, Data: data})
	if herr != nil {
		return nil, herr
	}
	return resp.Payload, nil
}

// task passes a raw envelope through. The task status is reported in the
// X-Task-Status header and the payload is returned as is.
func (h *Handler) task(w http.ResponseWriter, r *http.Request) {
	body, herr := readBody(r, h.opt.MaxBodyBytes)
	if herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	resp, herr := h.await(r.Context(), body)
	if herr != nil {
		writeJSON(w, herr.status, errorResponse(herr.message), h.opt.Pretty)
		return
	}
	w.Header().Set("X-Task-Status", resp.Status.String())
	if resp.Status == ffi.StatusOK {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Payload)
}

func (h *Handler) schemaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid schema id"), h.opt.Pretty)
		return 0, false
	}
	return id, true
}

// ------------------ Task plumbing ------------------

type httpError struct {
	status  int
	message string
}

const errBodyTooLargeMessage = "body too large"

// run submits env and maps an error status to an httpError carrying the
// first line of the diagnostic.
func (h *Handler) run(ctx context.Context, env bridge.Envelope) (ffi.Response, *httpError) {
	raw, err := json.Marshal(env)
	if err != nil {
		return ffi.Response{}, &httpError{http.StatusBadRequest, err.Error()}
	}
	resp, herr := h.await(ctx, raw)
	if herr != nil {
		return resp, herr
	}
	if resp.Status != ffi.StatusOK {
		msg, _, _ := strings.Cut(string(resp.Payload), "\n")
		status := http.StatusUnprocessableEntity
		if strings.HasPrefix(msg, registry.ErrSchemaNotFound.Error()) {
			status = http.StatusNotFound
		}
		return resp, &httpError{status, msg}
	}
	return resp, nil
}

func (h *Handler) await(ctx context.Context, raw []byte) (ffi.Response, *httpError) {
	if h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	rid, _ := reqid.FromContext(ctx)
	ch, err := h.host.SubmitWithID(rid, raw)
	if err != nil {
		return ffi.Response{}, &httpError{http.StatusServiceUnavailable, err.Error()}
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return ffi.Response{}, &httpError{http.StatusGatewayTimeout, "task did not complete: " + ctx.Err().Error()}
	}
}

// ------------------ Request parsing ------------------

func readBody(r *http.Request, maxBody int64) ([]byte, *httpError) {
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	defer r.Body.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &httpError{http.StatusBadRequest, "failed to read body"}
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return nil, &httpError{http.StatusRequestEntityTooLarge, errBodyTooLargeMessage}
	}
	return body, nil
}

// schemaConfigJSON returns the schema configuration in body as JSON. YAML
// bodies are accepted with a yaml content type.
func schemaConfigJSON(contentType string, body []byte) (json.RawMessage, error) {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "", "application/json":
		if !json.Valid(body) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return body, nil
	case "application/yaml", "application/x-yaml", "text/yaml":
		var cfg registry.Config
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		return json.Marshal(cfg)
	}
	return nil, fmt.Errorf("unsupported Content-Type %q", mt)
}

func parseRequest(r *http.Request, maxBody int64) (registry.QueryRequest, []registry.QueryRequest, *httpError) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "missing 'query'"}
		}
		var vars map[string]any
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "invalid 'variables' JSON"}
			}
		}
		op := r.URL.Query().Get("operationName")
		return registry.QueryRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "" && mt != "application/json" {
		return registry.QueryRequest{}, nil, &httpError{http.StatusUnsupportedMediaType, "unsupported Content-Type"}
	}
	body, herr := readBody(r, maxBody)
	if herr != nil {
		return registry.QueryRequest{}, nil, herr
	}
	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		var arr []registry.QueryRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "invalid JSON"}
		}
		if len(arr) == 0 {
			return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "empty batch"}
		}
		return registry.QueryRequest{}, arr, nil
	}
	var req registry.QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "invalid JSON"}
	}
	if req.Query == "" {
		return registry.QueryRequest{}, nil, &httpError{http.StatusBadRequest, "missing 'query'"}
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type specError struct {
	Message string `json:"message"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

func errorResponse(msg string) specResult {
	return specResult{Errors: []specError{{Message: msg}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

// writeRaw writes an already encoded JSON payload.
func writeRaw(w http.ResponseWriter, status int, payload []byte, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if pretty {
		var buf bytes.Buffer
		if json.Indent(&buf, payload, "", "  ") == nil {
			payload = buf.Bytes()
		}
	}
	_, _ = w.Write(payload)
	_, _ = io.WriteString(w, "\n")
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
