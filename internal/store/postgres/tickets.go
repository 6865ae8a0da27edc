package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"qms/internal/models"
	"qms/internal/store"
)

const ticketColumns = `ticket_id, queue_id, organization_id, category_id, category_name, category_color, number, full_code,
	is_priority, status, counter_id, counter_name, attendant_id, attendant_name, recall_count, wait_time_seconds,
	service_time_seconds, feedback_rating, feedback_comment, feedback_at, request_id, created_at, called_at,
	served_at, finished_at`

// callOrder is the order call-next takes waiting tickets in.
const callOrder = `is_priority DESC, created_at, ticket_id`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.TicketID, &t.QueueID, &t.OrganizationID, &t.CategoryID, &t.CategoryName, &t.CategoryColor,
		&t.Number, &t.FullCode, &t.IsPriority, &t.Status, &t.CounterID, &t.CounterName, &t.AttendantID,
		&t.AttendantName, &t.RecallCount, &t.WaitTimeSeconds, &t.ServiceTimeSeconds, &t.FeedbackRating,
		&t.FeedbackComment, &t.FeedbackAt, &t.RequestID, &t.CreatedAt, &t.CalledAt, &t.ServedAt, &t.FinishedAt)
	return t, err
}

func (c *conn) tickets(ctx context.Context, sql string, args ...any) ([]models.Ticket, error) {
	rows, err := c.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Ticket, error) {
		return scanTicket(row)
	})
}

func (c *conn) GetTicket(ctx context.Context, queueID, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(c.q.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE queue_id = $1 AND ticket_id = $2
	`+c.forUpdate(), queueID, ticketID))
	return ticket, notFound(err, store.ErrTicketNotFound)
}

func (c *conn) ListTickets(ctx context.Context, query store.TicketQuery) ([]models.Ticket, error) {
	order := callOrder
	if query.CalledFirst {
		order = `called_at DESC NULLS LAST, ticket_id`
	}
	return c.tickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE queue_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY `+order+`
		LIMIT $3
	`, query.QueueID, statusesArg(query.Statuses), limitArg(query.Limit))
}

func (c *conn) GetWaitingStats(ctx context.Context, queueID string) (store.WaitingStats, error) {
	var stats store.WaitingStats
	err := c.q.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_priority), MIN(created_at)
		FROM tickets
		WHERE queue_id = $1 AND status = 'waiting'
	`, queueID).Scan(&stats.Waiting, &stats.Priority, &stats.OldestCreated)
	return stats, mapError(err)
}

// CountAhead counts waiting tickets that call-next would take before ticket.
func (c *conn) CountAhead(ctx context.Context, ticket models.Ticket) (int, error) {
	if ticket.Status != models.StatusWaiting {
		return 0, nil
	}
	var ahead int
	err := c.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE queue_id = $1 AND status = 'waiting' AND ticket_id <> $2
		  AND (
			(is_priority AND NOT $3::boolean)
			OR (is_priority = $3::boolean AND (created_at, ticket_id) < ($4::timestamptz, $2::text))
		  )
	`, ticket.QueueID, ticket.TicketID, ticket.IsPriority, ticket.CreatedAt).Scan(&ahead)
	return ahead, mapError(err)
}

func (c *conn) ListStaleCalling(ctx context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error) {
	return c.tickets(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE status = 'calling' AND called_at < $1
		ORDER BY called_at
		LIMIT $2
	`, calledBefore, limitArg(limit))
}

func (c *conn) FindActionRequest(ctx context.Context, action, requestID string) (string, bool, error) {
	var ticketID string
	err := c.q.QueryRow(ctx, `
		SELECT ticket_id FROM ticket_action_requests WHERE action = $1 AND request_id = $2
	`, action, requestID).Scan(&ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, mapError(err)
	}
	return ticketID, true, nil
}

func (c *conn) InsertActionRequest(ctx context.Context, action, requestID, ticketID string) error {
	_, err := c.exec(ctx, `
		INSERT INTO ticket_action_requests (action, request_id, ticket_id) VALUES ($1, $2, $3)
	`, action, requestID, ticketID)
	return err
}

func (c *conn) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := c.exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
	`, ticketArgs(ticket)...)
	return err
}

func ticketArgs(t models.Ticket) []any {
	return []any{
		t.TicketID, t.QueueID, t.OrganizationID, t.CategoryID, t.CategoryName, t.CategoryColor, t.Number, t.FullCode,
		t.IsPriority, t.Status, t.CounterID, t.CounterName, t.AttendantID, t.AttendantName, t.RecallCount,
		t.WaitTimeSeconds, t.ServiceTimeSeconds, t.FeedbackRating, t.FeedbackComment, t.FeedbackAt, t.RequestID,
		t.CreatedAt, t.CalledAt, t.ServedAt, t.FinishedAt,
	}
}

// ClaimNextTicket takes the head of the waiting line. SKIP LOCKED lets two
// counters calling at once each get a different ticket.
func (c *conn) ClaimNextTicket(ctx context.Context, queueID string, claim store.TicketClaim) (models.Ticket, error) {
	ticket, err := scanTicket(c.q.QueryRow(ctx, `
		WITH next AS (
			SELECT ticket_id FROM tickets
			WHERE queue_id = $1 AND status = 'waiting'
			ORDER BY `+callOrder+`
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tickets t
		SET status = 'calling', counter_id = $2, counter_name = $3, attendant_id = $4, attendant_name = $5,
			called_at = $6::timestamptz,
			wait_time_seconds = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($6::timestamptz - t.created_at))))::int
		FROM next
		WHERE t.ticket_id = next.ticket_id AND t.status = 'waiting'
		RETURNING t.ticket_id, t.queue_id, t.organization_id, t.category_id, t.category_name, t.category_color,
			t.number, t.full_code, t.is_priority, t.status, t.counter_id, t.counter_name, t.attendant_id,
			t.attendant_name, t.recall_count, t.wait_time_seconds, t.service_time_seconds, t.feedback_rating,
			t.feedback_comment, t.feedback_at, t.request_id, t.created_at, t.called_at, t.served_at, t.finished_at
	`, queueID, claim.CounterID, claim.CounterName, claim.AttendantID, claim.AttendantName, claim.CalledAt))
	return ticket, notFound(err, store.ErrNoTicket)
}

func (c *conn) UpdateTicket(ctx context.Context, ticket models.Ticket, fromStatus string) error {
	args := append(ticketArgs(ticket), fromStatus)
	n, err := c.exec(ctx, `
		UPDATE tickets SET
			organization_id = $3, category_id = $4, category_name = $5, category_color = $6, number = $7, full_code = $8, is_priority = $9, status = $10,
			counter_id = $11, counter_name = $12, attendant_id = $13, attendant_name = $14, recall_count = $15,
			wait_time_seconds = $16, service_time_seconds = $17, feedback_rating = $18, feedback_comment = $19,
			feedback_at = $20, request_id = $21, created_at = $22, called_at = $23, served_at = $24, finished_at = $25
		WHERE ticket_id = $1 AND queue_id = $2 AND status = $26
	`, args...)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = c.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket_id = $1 AND queue_id = $2)
	`, ticket.TicketID, ticket.QueueID).Scan(&exists)
	if err != nil {
		return mapError(err)
	}
	if !exists {
		return store.ErrTicketNotFound
	}
	return store.ErrConflict
}

func (c *conn) ListTicketEvents(ctx context.Context, ticketID string) ([]store.TicketEvent, error) {
	rows, err := c.q.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload::text, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq
	`, ticketID)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.TicketEvent, error) {
		var event store.TicketEvent
		var payload string
		err := row.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash)
		event.Payload = []byte(payload)
		event.CreatedAt = event.CreatedAt.UTC()
		return event, err
	})
}
