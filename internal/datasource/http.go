package datasource

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	eventbus "github.com/hanpama/restygraph/internal/eventbus"
	events "github.com/hanpama/restygraph/internal/events"
)

var seq atomic.Uint64

// HTTP is the "http" datasource: a base URL and an owned http.Client.
type HTTP struct {
	name   string
	base   *url.URL
	client *http.Client
	owned  *http.Transport
	closed atomic.Bool
}

var _ Datasource = (*HTTP)(nil)

func NewHTTP(name string, base *url.URL, opts ...Option) *HTTP {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	h := &HTTP{name: name, base: base}
	rt := o.Transport
	if rt == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if !o.Verify {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opted out per datasource
		}
		h.owned = tr
		rt = tr
	}
	h.client = &http.Client{Transport: rt, Timeout: o.Timeout}
	return h
}

func (h *HTTP) Name() string { return h.name }

// URL joins the escaped path and query onto the base URL. Escapes already
// in path, such as %2F inside a segment, reach the upstream unchanged.
func (h *HTTP) URL(path string, query url.Values) (string, error) {
	u := *h.base
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.TrimLeft(path, "/")
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("datasource %q: path %q: %w", h.name, path, err)
	}
	u.Path, u.RawPath = unescaped, raw
	if len(query) > 0 {
		if u.RawQuery != "" {
			u.RawQuery += "&" + query.Encode()
		} else {
			u.RawQuery = query.Encode()
		}
	}
	return u.String(), nil
}

func (h *HTTP) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := h.URL(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: %w", h.name, err)
	}
	for k, v := range req.Header {
		hreq.Header.Set(k, v)
	}
	if req.Body != nil && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", "application/json")
	}
	if hreq.Header.Get("Accept") == "" {
		hreq.Header.Set("Accept", "application/json")
	}

	id := seq.Add(1)
	start := time.Now()
	eventbus.Publish(ctx, events.DatasourceStart{Seq: id, Datasource: h.name, Method: method, URL: target})
	defer func() {
		fin := events.DatasourceFinish{Seq: id, Datasource: h.name, Method: method, URL: target, Err: err, Duration: time.Since(start)}
		if resp != nil {
			fin.Status = resp.Status
		}
		eventbus.Publish(ctx, fin)
	}()

	hresp, err := h.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: %w", h.name, err)
	}
	defer hresp.Body.Close()
	data, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: read body: %w", h.name, err)
	}
	return &Response{Status: hresp.StatusCode, Header: hresp.Header, Body: data}, nil
}

// Close drops idle connections of the owned transport. It is safe to call
// more than once.
func (h *HTTP) Close(ctx context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	if h.owned != nil {
		h.owned.CloseIdleConnections()
	}
	return nil
}

// InsecureSkipVerify reports whether TLS verification is off for the owned
// transport.
func (h *HTTP) InsecureSkipVerify() bool {
	return h.owned != nil && h.owned.TLSClientConfig != nil && h.owned.TLSClientConfig.InsecureSkipVerify
}
