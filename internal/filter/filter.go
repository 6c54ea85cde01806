// Package filter applies jq programs to datasource responses.
package filter

import (
	"context"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter is a compiled jq program. It is safe for concurrent use.
type Filter struct {
	src  string
	code *gojq.Code
}

// Compile parses and compiles expr. The input is bound to `.`.
func Compile(expr string) (*Filter, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("jq %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("jq %q: %w", expr, err)
	}
	return &Filter{src: expr, code: code}, nil
}

func (f *Filter) String() string { return f.src }

// Run feeds v to the program and returns its first output. A program that
// produces no output yields nil. v must be made of the types encoding/json
// decodes into.
func (f *Filter) Run(ctx context.Context, v any) (any, error) {
	iter := f.code.RunWithContext(ctx, v)
	out, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := out.(error); ok {
		if herr, ok := err.(*gojq.HaltError); ok && herr.Value() == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("jq %q: %w", f.src, err)
	}
	return out, nil
}
