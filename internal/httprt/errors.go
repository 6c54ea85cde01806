package httprt

import "fmt"

// StatusError is a non-2xx upstream response. The executor reports it as a
// GraphQL error with the status code in its extensions.
type StatusError struct {
	Datasource string
	Status     int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("datasource %q responded with status %d", e.Datasource, e.Status)
}

func (e *StatusError) Extensions() map[string]any {
	return map[string]any{"status": e.Status, "datasource": e.Datasource}
}
