package executor

// Location points at a field in the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExtendedError is implemented by runtime errors that carry GraphQL error
// extensions. They are copied onto the located error.
type ExtendedError interface {
	error
	Extensions() map[string]any
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// ErrorResult wraps request-level errors that prevent execution.
func ErrorResult(errs ...GraphQLError) *ExecutionResult {
	return &ExecutionResult{Errors: errs}
}
