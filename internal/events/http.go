package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the dev server receives a request.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the handler completes. Route is the matched
// chi pattern, e.g. "/schemas/{id}/graphql".
type HTTPFinish struct {
	Request  *http.Request
	Route    string
	Status   int
	Duration time.Duration
}
