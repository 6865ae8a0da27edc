package store

import (
	"context"
	"errors"
	"testing"
)

type retryStore struct {
	failures int
	calls    int
	err      error
}

func (s *retryStore) View(ctx context.Context, fn func(r Reader) error) error { return nil }

func (s *retryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *retryStore) Close() {}

func TestUpdateWithRetryRetriesConflicts(t *testing.T) {
	s := &retryStore{failures: 2, err: ErrConflict}
	if err := UpdateWithRetry(context.Background(), s, func(tx Tx) error { return nil }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if s.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", s.calls)
	}
}

func TestUpdateWithRetryStopsOnOtherErrors(t *testing.T) {
	s := &retryStore{failures: 5, err: ErrCounterOpen}
	err := UpdateWithRetry(context.Background(), s, func(tx Tx) error { return nil })
	if !errors.Is(err, ErrCounterOpen) {
		t.Fatalf("expected counter open, got %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", s.calls)
	}
}

func TestUpdateWithRetryGivesUp(t *testing.T) {
	s := &retryStore{failures: 10, err: ErrConflict}
	err := UpdateWithRetry(context.Background(), s, func(tx Tx) error { return nil })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if s.calls != maxUpdateTries {
		t.Fatalf("expected %d attempts, got %d", maxUpdateTries, s.calls)
	}
}
