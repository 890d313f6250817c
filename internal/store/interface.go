package store

import (
	"context"

	"botwatch/internal/store/model"
)

// Query filters journal reads. Zero values mean "any" / default limit.
type Query struct {
	Kind   string
	Target string
	Limit  int
}

// Journal persists the outcome of every control action.
type Journal interface {
	Append(ctx context.Context, rec *model.ActionRecord) error
	Recent(ctx context.Context, q Query) ([]model.ActionRecord, error)
	Prune(ctx context.Context, keep int) (int64, error)
	Close() error
}
