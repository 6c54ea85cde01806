package events

import "time"

// GraphQLStart is emitted when a schema record starts running a query,
// before validation.
type GraphQLStart struct {
	SchemaID      int64
	Query         string
	OperationName string
	OperationType string
}

// GraphQLFinish carries the outcome of the query. Errors holds validation
// and field errors alike.
type GraphQLFinish struct {
	SchemaID      int64
	Query         string
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
