package events

import "time"

// DatasourceStart is emitted before an outbound datasource request.
// Seq pairs it with the matching DatasourceFinish; requests of one task run
// concurrently and share its context.
type DatasourceStart struct {
	Seq        uint64
	Datasource string
	Method     string
	URL        string
}

// DatasourceFinish is emitted after the response body was read or the
// request failed. Status is 0 when no response arrived.
type DatasourceFinish struct {
	Seq        uint64
	Datasource string
	Method     string
	URL        string
	Status     int
	Err        error
	Duration   time.Duration
}
