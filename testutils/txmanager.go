package testutils

import "context"

// PassthroughTransactionManager runs the function directly. Used with in-memory repositories.
type PassthroughTransactionManager struct{}

func (PassthroughTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
