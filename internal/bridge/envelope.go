package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	registry "github.com/hanpama/restygraph/internal/registry"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingSchemaID = errors.New("missing schema id")
)

// Code is the numeric command selector of an envelope.
type Code int

const (
	CodeCreateSchema Code = 1
	CodeQuery        Code = 2
	CodeCloseSchema  Code = 3
)

func (c Code) String() string {
	switch c {
	case CodeCreateSchema:
		return "create_schema"
	case CodeQuery:
		return "query"
	case CodeCloseSchema:
		return "close_schema"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Envelope is the wire form of a task request.
type Envelope struct {
	Cmd    Code            `json:"cmd"`
	Schema *int64          `json:"schema,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Command is one of CreateSchema, Query or CloseSchema.
type Command interface {
	Code() Code
}

type CreateSchema struct {
	Config registry.Config
}

type Query struct {
	SchemaID int64
	Request  registry.QueryRequest
}

type CloseSchema struct {
	SchemaID int64
}

func (CreateSchema) Code() Code { return CodeCreateSchema }
func (Query) Code() Code        { return CodeQuery }
func (CloseSchema) Code() Code  { return CodeCloseSchema }

// schemaID returns the schema id a command targets, or 0.
func schemaID(cmd Command) int64 {
	switch c := cmd.(type) {
	case Query:
		return c.SchemaID
	case CloseSchema:
		return c.SchemaID
	}
	return 0
}

// Decode parses raw request bytes into a Command.
func Decode(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Cmd {
	case CodeCreateSchema:
		if isAbsent(env.Data) {
			return nil, fmt.Errorf("%s: missing schema configuration", env.Cmd)
		}
		var cfg registry.Config
		if err := json.Unmarshal(env.Data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: decode configuration: %w", env.Cmd, err)
		}
		return CreateSchema{Config: cfg}, nil

	case CodeQuery:
		if env.Schema == nil {
			return nil, fmt.Errorf("%s: %w", env.Cmd, ErrMissingSchemaID)
		}
		req, err := decodeQuery(env.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env.Cmd, err)
		}
		return Query{SchemaID: *env.Schema, Request: req}, nil

	case CodeCloseSchema:
		if env.Schema == nil {
			return nil, fmt.Errorf("%s: %w", env.Cmd, ErrMissingSchemaID)
		}
		return CloseSchema{SchemaID: *env.Schema}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCommand, int(env.Cmd))
}

// decodeQuery accepts a bare document string or a
// {query, variables, operationName} object.
func decodeQuery(data json.RawMessage) (registry.QueryRequest, error) {
	var req registry.QueryRequest
	trimmed := bytes.TrimSpace(data)
	if isAbsent(trimmed) {
		return req, errors.New("missing query document")
	}
	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &req.Query); err != nil {
			return req, fmt.Errorf("decode query: %w", err)
		}
	case '{':
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return req, fmt.Errorf("decode query: %w", err)
		}
	default:
		return req, errors.New("query payload must be a string or an object")
	}
	if req.Query == "" {
		return req, errors.New("missing query document")
	}
	return req, nil
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
