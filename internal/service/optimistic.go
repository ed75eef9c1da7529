package service

import (
	"context"
	"errors"
	"fmt"

	"recoverflow/internal/repository"
)

// retryOnConflict runs fn until it returns something other than
// repository.ErrConcurrencyConflict. fn is expected to reload, mutate and
// save. After maxRetries extra rounds it gives up with
// ErrConflictRetriesExhausted.
func retryOnConflict(ctx context.Context, maxRetries int, onConflict func(), fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if !errors.Is(err, repository.ErrConcurrencyConflict) {
			return err
		}
		if attempt >= maxRetries {
			return fmt.Errorf("%w after %d attempts: %w", ErrConflictRetriesExhausted, attempt+1, err)
		}
		if onConflict != nil {
			onConflict()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
