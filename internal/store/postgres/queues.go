package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"qms/internal/models"
	"qms/internal/store"
)

const queueColumns = `queue_id, organization_id, name, settings, totem, created_at, updated_at`

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	err := row.Scan(&queue.QueueID, &queue.OrganizationID, &queue.Name, &queue.Settings, &queue.Totem, &queue.CreatedAt, &queue.UpdatedAt)
	return queue, err
}

func (c *conn) queues(ctx context.Context, sql string, args ...any) ([]models.Queue, error) {
	rows, err := c.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Queue, error) {
		return scanQueue(row)
	})
}

func (c *conn) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	queue, err := scanQueue(c.q.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID))
	return queue, notFound(err, store.ErrQueueNotFound)
}

func (c *conn) ListQueues(ctx context.Context, organizationID string) ([]models.Queue, error) {
	return c.queues(ctx, `SELECT `+queueColumns+` FROM queues WHERE organization_id = $1 ORDER BY name, queue_id`, organizationID)
}

func (c *conn) ListSLAQueues(ctx context.Context) ([]models.Queue, error) {
	return c.queues(ctx, `
		SELECT `+queueColumns+` FROM queues
		WHERE (settings ->> 'sla_enabled')::boolean
		ORDER BY name, queue_id
	`)
}

func (c *conn) CreateQueue(ctx context.Context, queue models.Queue) error {
	_, err := c.exec(ctx, `
		INSERT INTO queues (queue_id, organization_id, name, settings, totem, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, queue.QueueID, queue.OrganizationID, queue.Name, queue.Settings, queue.Totem, queue.CreatedAt, queue.UpdatedAt)
	return err
}

func (c *conn) UpdateQueue(ctx context.Context, queue models.Queue) error {
	n, err := c.exec(ctx, `
		UPDATE queues SET name = $2, settings = $3, totem = $4, updated_at = $5
		WHERE queue_id = $1
	`, queue.QueueID, queue.Name, queue.Settings, queue.Totem, queue.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrQueueNotFound
	}
	return nil
}

const categoryColumns = `category_id, queue_id, name, color, prefix, estimated_wait_minutes, active, created_at`

func scanCategory(row pgx.Row) (models.ServiceCategory, error) {
	var category models.ServiceCategory
	err := row.Scan(&category.CategoryID, &category.QueueID, &category.Name, &category.Color, &category.Prefix,
		&category.EstimatedWaitMinutes, &category.Active, &category.CreatedAt)
	return category, err
}

func (c *conn) GetCategory(ctx context.Context, queueID, categoryID string) (models.ServiceCategory, error) {
	category, err := scanCategory(c.q.QueryRow(ctx, `
		SELECT `+categoryColumns+` FROM service_categories WHERE queue_id = $1 AND category_id = $2
	`, queueID, categoryID))
	return category, notFound(err, store.ErrCategoryNotFound)
}

func (c *conn) ListCategories(ctx context.Context, queueID string) ([]models.ServiceCategory, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+categoryColumns+` FROM service_categories WHERE queue_id = $1 ORDER BY prefix
	`, queueID)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ServiceCategory, error) {
		return scanCategory(row)
	})
}

func (c *conn) CreateCategory(ctx context.Context, category models.ServiceCategory) error {
	_, err := c.exec(ctx, `
		INSERT INTO service_categories (category_id, queue_id, name, color, prefix, estimated_wait_minutes, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, category.CategoryID, category.QueueID, category.Name, category.Color, category.Prefix,
		category.EstimatedWaitMinutes, category.Active, category.CreatedAt)
	return err
}

func (c *conn) UpdateCategory(ctx context.Context, category models.ServiceCategory) error {
	n, err := c.exec(ctx, `
		UPDATE service_categories
		SET name = $3, color = $4, prefix = $5, estimated_wait_minutes = $6, active = $7
		WHERE queue_id = $1 AND category_id = $2
	`, category.QueueID, category.CategoryID, category.Name, category.Color, category.Prefix,
		category.EstimatedWaitMinutes, category.Active)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrCategoryNotFound
	}
	return nil
}

// NextTicketNumber bumps the per-category daily sequence. The upsert holds
// the row lock until commit, so concurrent emits get distinct numbers.
func (c *conn) NextTicketNumber(ctx context.Context, categoryID, date string) (int, error) {
	var number int
	err := c.q.QueryRow(ctx, `
		INSERT INTO ticket_sequences (category_id, day, last_number) VALUES ($1, $2, 1)
		ON CONFLICT (category_id, day) DO UPDATE SET last_number = ticket_sequences.last_number + 1
		RETURNING last_number
	`, categoryID, date).Scan(&number)
	return number, mapError(err)
}

const counterColumns = `counter_id, queue_id, name, number, status, assigned_user_id, assigned_user_name,
	attendant_id, attendant_name, current_ticket_id, current_ticket_code, tickets_served_today, pause_after_current`

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	err := row.Scan(&counter.CounterID, &counter.QueueID, &counter.Name, &counter.Number, &counter.Status,
		&counter.AssignedUserID, &counter.AssignedUserName, &counter.AttendantID, &counter.AttendantName,
		&counter.CurrentTicketID, &counter.CurrentTicketCode, &counter.TicketsServedToday, &counter.PauseAfterCurrent)
	return counter, err
}

func (c *conn) GetCounter(ctx context.Context, queueID, counterID string) (models.Counter, error) {
	counter, err := scanCounter(c.q.QueryRow(ctx, `
		SELECT `+counterColumns+` FROM counters WHERE queue_id = $1 AND counter_id = $2
	`+c.forUpdate(), queueID, counterID))
	return counter, notFound(err, store.ErrCounterNotFound)
}

func (c *conn) ListCounters(ctx context.Context, queueID string) ([]models.Counter, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+counterColumns+` FROM counters WHERE queue_id = $1 ORDER BY number, counter_id
	`, queueID)
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Counter, error) {
		return scanCounter(row)
	})
}

func (c *conn) CreateCounter(ctx context.Context, counter models.Counter) error {
	_, err := c.exec(ctx, `
		INSERT INTO counters (`+counterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, counterArgs(counter)...)
	return err
}

func (c *conn) UpdateCounter(ctx context.Context, counter models.Counter) error {
	n, err := c.exec(ctx, `
		UPDATE counters SET name = $3, number = $4, status = $5, assigned_user_id = $6, assigned_user_name = $7,
			attendant_id = $8, attendant_name = $9, current_ticket_id = $10, current_ticket_code = $11,
			tickets_served_today = $12, pause_after_current = $13
		WHERE counter_id = $1 AND queue_id = $2
	`, counterArgs(counter)...)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func counterArgs(counter models.Counter) []any {
	return []any{
		counter.CounterID, counter.QueueID, counter.Name, counter.Number, counter.Status,
		counter.AssignedUserID, counter.AssignedUserName, counter.AttendantID, counter.AttendantName,
		counter.CurrentTicketID, counter.CurrentTicketCode, counter.TicketsServedToday, counter.PauseAfterCurrent,
	}
}

func (c *conn) DeleteCounter(ctx context.Context, queueID, counterID string) error {
	n, err := c.exec(ctx, `DELETE FROM counters WHERE queue_id = $1 AND counter_id = $2`, queueID, counterID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrCounterNotFound
	}
	return nil
}

func (c *conn) ResetServedToday(ctx context.Context) (int64, error) {
	return c.exec(ctx, `UPDATE counters SET tickets_served_today = 0 WHERE tickets_served_today <> 0`)
}
