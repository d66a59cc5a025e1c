package dao

import (
	"context"
)

// Service is a keyed record store. Save overwrites; Load returns ErrNotFound
// for a missing key.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
