package events

import "time"

// CommandStart is emitted when the dispatcher picks up a task.
// Command is empty when the envelope could not be decoded.
type CommandStart struct {
	Command  string
	SchemaID int64
}

// CommandFinish is emitted once the task has been answered.
type CommandFinish struct {
	Command  string
	SchemaID int64
	OK       bool
	Err      error
	Duration time.Duration
}

// SchemaCreated is emitted after a schema record is inserted into the registry.
type SchemaCreated struct {
	SchemaID    int64
	Datasources int
}

// SchemaClosed is emitted after every datasource of a removed record closed.
type SchemaClosed struct {
	SchemaID int64
	Err      error
}
