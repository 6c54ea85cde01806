// Package datasource provides the outbound clients resolvers call. Each
// client is owned by one schema record and closed with it.
package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Kind names accepted in the "@type" field of a datasource configuration.
const KindHTTP = "http"

// Config is the per-datasource part of a schema configuration.
type Config struct {
	Type   string `json:"@type" yaml:"@type"`
	Host   string `json:"host" yaml:"host"`
	Verify *bool  `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// Request is one outbound call. Path is in escaped form and is joined onto
// the datasource host as is.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header map[string]string
	Body   []byte
}

// Response is a fully read upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Datasource issues requests against one upstream. Implementations must be
// safe for concurrent use.
type Datasource interface {
	Name() string
	Do(ctx context.Context, req *Request) (*Response, error)
	// Close releases the client. Later calls to Do fail with ErrClosed.
	Close(ctx context.Context) error
}

// Open builds the client described by cfg. opts are applied after the
// settings taken from cfg.
func Open(name string, cfg Config, opts ...Option) (Datasource, error) {
	switch cfg.Type {
	case KindHTTP:
	default:
		return nil, fmt.Errorf("%w %q for datasource %q", ErrUnsupportedKind, cfg.Type, name)
	}
	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("datasource %q: host: %w", name, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("datasource %q: host %q must be an absolute http(s) URL", name, cfg.Host)
	}
	if cfg.Verify != nil {
		opts = append([]Option{WithVerify(*cfg.Verify)}, opts...)
	}
	return NewHTTP(name, base, opts...), nil
}
