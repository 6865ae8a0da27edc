package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"qms/internal/store"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"serialization", &pgconn.PgError{Code: "40001"}, store.ErrConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, store.ErrConflict},
		{"email", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, store.ErrUserExists},
		{"prefix", &pgconn.PgError{Code: "23505", ConstraintName: "service_categories_queue_id_prefix_key"}, store.ErrDuplicatePrefix},
		{"request id race", &pgconn.PgError{Code: "23505", ConstraintName: "ticket_action_requests_pkey"}, store.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, store.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapError(tc.in); !errors.Is(got, tc.want) {
				t.Fatalf("mapError = %v, want %v", got, tc.want)
			}
		})
	}
	if mapError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestNotFound(t *testing.T) {
	if got := notFound(pgx.ErrNoRows, store.ErrQueueNotFound); !errors.Is(got, store.ErrQueueNotFound) {
		t.Fatalf("expected queue not found, got %v", got)
	}
	if got := notFound(nil, store.ErrQueueNotFound); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestQueryArgs(t *testing.T) {
	if limitArg(0) != nil || limitArg(-1) != nil {
		t.Fatalf("non-positive limit must mean no limit")
	}
	if limitArg(5) != 5 {
		t.Fatalf("expected limit 5")
	}
	if statusesArg(nil) != nil || statusesArg([]string{}) != nil {
		t.Fatalf("empty statuses must mean any status")
	}
}
