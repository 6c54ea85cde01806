// Package reqid correlates the events of one task or HTTP request.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

type (
	key       struct{}
	parentKey struct{}
)

// NewContext returns a copy of parent carrying a fresh random id, and the id.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// WithID returns a copy of parent carrying id.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the id from ctx.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}

// WithParent returns a copy of ctx that records parentID as the id of the
// request that caused the one carried by ctx.
func WithParent(ctx context.Context, parentID string) context.Context {
	return context.WithValue(ctx, parentKey{}, parentID)
}

// ParentFromContext extracts the id recorded by WithParent.
func ParentFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(parentKey{}).(string)
	return id, ok
}
