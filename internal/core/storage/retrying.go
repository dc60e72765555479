package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	recalcerr "github.com/aevon-lab/recalc/internal/core/errors"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// RetryPolicy bounds retries of record store operations.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	n := p
	if n.MaxAttempts <= 0 {
		n.MaxAttempts = defaultMaxAttempts
	}
	if n.InitialInterval <= 0 {
		n.InitialInterval = defaultInitialInterval
	}
	if n.MaxInterval <= 0 {
		n.MaxInterval = defaultMaxInterval
	}
	return n
}

// RetryingStore decorates a RecordStore with bounded exponential backoff.
// ErrNotFound and context errors are never retried. Errors that survive every
// attempt are wrapped with recalcerr.ErrStore.
type RetryingStore struct {
	inner  RecordStore
	policy RetryPolicy
}

// NewRetryingStore wraps inner with the given retry policy.
func NewRetryingStore(inner RecordStore, policy RetryPolicy) *RetryingStore {
	return &RetryingStore{inner: inner, policy: policy.normalized()}
}

func (s *RetryingStore) FindOne(ctx context.Context, filter Filter) (v1.Record, error) {
	var rec v1.Record
	err := s.retry(ctx, "find_one", func() error {
		var err error
		rec, err = s.inner.FindOne(ctx, filter)
		return err
	})
	return rec, err
}

func (s *RetryingStore) Find(ctx context.Context, filter Filter) ([]v1.Record, error) {
	var recs []v1.Record
	err := s.retry(ctx, "find", func() error {
		var err error
		recs, err = s.inner.Find(ctx, filter)
		return err
	})
	return recs, err
}

func (s *RetryingStore) FindByIDs(ctx context.Context, ids []string) ([]v1.Record, error) {
	var recs []v1.Record
	err := s.retry(ctx, "find_by_ids", func() error {
		var err error
		recs, err = s.inner.FindByIDs(ctx, ids)
		return err
	})
	return recs, err
}

func (s *RetryingStore) UpdateFields(ctx context.Context, id string, fields map[string]interface{}, origin v1.Origin) error {
	return s.retry(ctx, "update_fields", func() error {
		return s.inner.UpdateFields(ctx, id, fields, origin)
	})
}

func (s *RetryingStore) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.policy.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("[Store] Operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", recalcerr.ErrStore, op, err)
}
