package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a thin generic gorm store shared by table-backed packages.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	FindOne(ctx context.Context, query *T) (*T, error)
	Find(ctx context.Context, query *T) ([]*T, error)
	Create(ctx context.Context, resource *T) error
	Upsert(ctx context.Context, resource *T, conflictColumns ...string) error
	Count(ctx context.Context, query *T) (int64, error)
}
