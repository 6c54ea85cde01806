package datasource

import (
	"net/http"
	"time"
)

// Options configures an HTTP datasource.
//
// Defaults:
// - Verify:    true (TLS certificates are checked)
// - Timeout:   none
// - Transport: a clone of http.DefaultTransport owned by the datasource
//
// A caller supplied Transport is used as is and Verify is not applied to it.
type Options struct {
	Verify    bool
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Option mutates Options
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{Verify: true}
}

func WithVerify(v bool) Option                  { return func(o *Options) { o.Verify = v } }
func WithTimeout(d time.Duration) Option        { return func(o *Options) { o.Timeout = d } }
func WithTransport(rt http.RoundTripper) Option { return func(o *Options) { o.Transport = rt } }
