package registry

import (
	datasource "github.com/hanpama/restygraph/internal/datasource"
)

// Config is the CreateSchema payload.
type Config struct {
	Schema      string                               `json:"schema" yaml:"schema"`
	Resolvers   map[string]map[string]ResolverConfig `json:"resolvers,omitempty" yaml:"resolvers,omitempty"`
	Datasources map[string]datasource.Config         `json:"datasources,omitempty" yaml:"datasources,omitempty"`
}

// ResolverConfig binds one field to a datasource request.
type ResolverConfig struct {
	Datasource   string            `json:"datasource" yaml:"datasource"`
	URI          string            `json:"uri" yaml:"uri"`
	Method       string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SendJSONBody bool              `json:"send_json_body,omitempty" yaml:"send_json_body,omitempty"`
	JQ           string            `json:"jq,omitempty" yaml:"jq,omitempty"`
}

// QueryRequest is the Query payload.
type QueryRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}
