package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
)

// Logger is the minimal structured logging contract services depend on.
type Logger func(ctx context.Context, event string, fields map[string]any)

func nopLogger(context.Context, string, map[string]any) {}

// mapRepositoryError translates categorised persistence failures into the
// service-level sentinels callers match on. Uncategorised errors pass through.
func mapRepositoryError(err error, notFound, conflict error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		}
	}
	return err
}

// runInTx executes fn inside the unit of work when one is available and falls
// back to direct execution otherwise.
func runInTx(ctx context.Context, uow repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if uow == nil {
		return fn(ctx)
	}
	return uow.RunInTx(ctx, fn)
}

func valuePtr[T any](v T) *T {
	return &v
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}
