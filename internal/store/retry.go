package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nupips/team-engine/internal/metrics"
	"github.com/nupips/team-engine/internal/model"
)

// RetryStore wraps a NodeStore with bounded retries at batch-fetch
// granularity. Both contract methods are idempotent reads, so replaying a
// failed call is always safe. ErrNotFound and context cancellation are
// never retried; exhausted attempts surface as ErrUnavailable.
type RetryStore struct {
	inner    NodeStore
	attempts int
	backoff  time.Duration
}

// NewRetryStore creates a retrying wrapper. attempts is the total number
// of tries (minimum 1); backoff doubles after each failure.
func NewRetryStore(inner NodeStore, attempts int, backoff time.Duration) *RetryStore {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryStore{inner: inner, attempts: attempts, backoff: backoff}
}

func (s *RetryStore) GetNode(ctx context.Context, id string) (*model.UserNode, error) {
	var u *model.UserNode
	err := s.do(ctx, "get_node", func() error {
		var err error
		u, err = s.inner.GetNode(ctx, id)
		return err
	})
	return u, err
}

func (s *RetryStore) GetChildren(ctx context.Context, parentIDs []string) ([]model.UserNode, error) {
	var nodes []model.UserNode
	err := s.do(ctx, "get_children", func() error {
		var err error
		nodes, err = s.inner.GetChildren(ctx, parentIDs)
		return err
	})
	return nodes, err
}

func (s *RetryStore) do(ctx context.Context, op string, fn func() error) error {
	delay := s.backoff
	var lastErr error

	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrNotFound) || ctx.Err() != nil {
			return lastErr
		}

		if attempt < s.attempts {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			slog.Warn("node store fetch failed, retrying",
				"op", op,
				"attempt", attempt,
				"err", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, op, s.attempts, lastErr)
}
