package datasource

import "errors"

var (
	// ErrUnsupportedKind is returned by Open for an "@type" other than "http".
	ErrUnsupportedKind = errors.New("datasource: unsupported kind")
	// ErrClosed is returned by Do after Close.
	ErrClosed = errors.New("datasource: closed")
)
