package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"qms/internal/models"
	"qms/internal/store"
)

// AppendEvent writes the outbox row and, for ticket events, chains the next
// ticket history link. Timestamps are cut to the column precision before
// hashing so the chain verifies after a round trip.
func (c *conn) AppendEvent(ctx context.Context, event models.OutboxEvent) error {
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	if _, err := c.exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(outboxLockKey)); err != nil {
		return err
	}
	_, err := c.exec(ctx, `
		INSERT INTO outbox_events (event_id, organization_id, queue_id, ticket_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::json, $7)
	`, event.EventID, event.OrganizationID, event.QueueID, event.TicketID, event.Type, string(event.Payload), event.CreatedAt)
	if err != nil || event.TicketID == "" {
		return err
	}

	var prev *store.TicketEvent
	var last store.TicketEvent
	err = c.q.QueryRow(ctx, `
		SELECT ticket_seq, hash FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, event.TicketID).Scan(&last.TicketSeq, &last.Hash)
	switch {
	case err == nil:
		prev = &last
	case !errors.Is(err, pgx.ErrNoRows):
		return mapError(err)
	}

	next := store.NextTicketEvent(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt)
	_, err = c.exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4::json, $5, $6, $7)
	`, next.TicketID, next.TicketSeq, next.Type, string(next.Payload), next.CreatedAt, next.PrevHash, next.Hash)
	return err
}

func (c *conn) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]models.OutboxEvent, error) {
	rows, err := c.q.Query(ctx, `
		SELECT seq, event_id, organization_id, queue_id, ticket_id, type, payload::text, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`, afterSeq, limitArg(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OutboxEvent, error) {
		var event models.OutboxEvent
		var payload string
		err := row.Scan(&event.Seq, &event.EventID, &event.OrganizationID, &event.QueueID, &event.TicketID,
			&event.Type, &payload, &event.CreatedAt)
		event.Payload = []byte(payload)
		return event, err
	})
}

func (c *conn) LatestOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := c.q.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox_events`).Scan(&seq)
	return seq, mapError(err)
}

func (c *conn) GetOutboxOffset(ctx context.Context, consumer string) (int64, error) {
	var seq int64
	err := c.q.QueryRow(ctx, `SELECT last_seq FROM outbox_offsets WHERE consumer = $1`, consumer).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return seq, mapError(err)
}

func (c *conn) SaveOutboxOffset(ctx context.Context, consumer string, seq int64) error {
	_, err := c.exec(ctx, `
		INSERT INTO outbox_offsets (consumer, last_seq, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (consumer) DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = now()
	`, consumer, seq)
	return err
}

func (c *conn) DeleteOutboxBefore(ctx context.Context, before time.Time, maxSeq int64) (int64, error) {
	return c.exec(ctx, `DELETE FROM outbox_events WHERE created_at < $1 AND seq <= $2`, before, maxSeq)
}
