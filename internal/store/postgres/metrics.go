package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"qms/internal/models"
	"qms/internal/store"
)

const dailyColumns = `queue_id, day, emitted, served, no_show, total_wait_seconds, wait_count,
	total_service_seconds, service_count, rating_sum, rating_count`

func scanDaily(row pgx.Row) (models.DailyQueueMetrics, error) {
	var m models.DailyQueueMetrics
	err := row.Scan(&m.QueueID, &m.Date, &m.Emitted, &m.Served, &m.NoShow, &m.TotalWaitSeconds, &m.WaitCount,
		&m.TotalServiceSeconds, &m.ServiceCount, &m.RatingSum, &m.RatingCount)
	return m, err
}

func (c *conn) GetDailyMetrics(ctx context.Context, queueID, date string) (models.DailyQueueMetrics, error) {
	m, err := scanDaily(c.q.QueryRow(ctx, `
		SELECT `+dailyColumns+` FROM daily_queue_metrics WHERE queue_id = $1 AND day = $2
	`, queueID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.DailyQueueMetrics{QueueID: queueID, Date: date, Attendants: []models.AttendantMetrics{}}, nil
		}
		return models.DailyQueueMetrics{}, mapError(err)
	}
	attendants, err := c.attendantMetrics(ctx, queueID, date, date)
	if err != nil {
		return models.DailyQueueMetrics{}, err
	}
	m.Attendants = attendants[date]
	if m.Attendants == nil {
		m.Attendants = []models.AttendantMetrics{}
	}
	return m, nil
}

func (c *conn) ListDailyMetrics(ctx context.Context, queueID, fromDate, toDate string) ([]models.DailyQueueMetrics, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+dailyColumns+` FROM daily_queue_metrics
		WHERE queue_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, queueID, fromDate, toDate)
	if err != nil {
		return nil, mapError(err)
	}
	days, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DailyQueueMetrics, error) {
		return scanDaily(row)
	})
	if err != nil {
		return nil, mapError(err)
	}
	attendants, err := c.attendantMetrics(ctx, queueID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	for i := range days {
		days[i].Attendants = attendants[days[i].Date]
		if days[i].Attendants == nil {
			days[i].Attendants = []models.AttendantMetrics{}
		}
	}
	return days, nil
}

// attendantMetrics loads the attendant breakdown keyed by day.
func (c *conn) attendantMetrics(ctx context.Context, queueID, fromDate, toDate string) (map[string][]models.AttendantMetrics, error) {
	rows, err := c.q.Query(ctx, `
		SELECT day, attendant_id, attendant_name, served, no_show, total_service_seconds, service_count
		FROM daily_attendant_metrics
		WHERE queue_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, attendant_id
	`, queueID, fromDate, toDate)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string][]models.AttendantMetrics)
	for rows.Next() {
		var day string
		var a models.AttendantMetrics
		if err := rows.Scan(&day, &a.AttendantID, &a.AttendantName, &a.Served, &a.NoShow, &a.TotalServiceSeconds, &a.ServiceCount); err != nil {
			return nil, err
		}
		out[day] = append(out[day], a)
	}
	return out, mapError(rows.Err())
}

func (c *conn) AddDailyMetrics(ctx context.Context, delta store.MetricsDelta) error {
	_, err := c.exec(ctx, `
		INSERT INTO daily_queue_metrics (`+dailyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (queue_id, day) DO UPDATE SET
			emitted = daily_queue_metrics.emitted + EXCLUDED.emitted,
			served = daily_queue_metrics.served + EXCLUDED.served,
			no_show = daily_queue_metrics.no_show + EXCLUDED.no_show,
			total_wait_seconds = daily_queue_metrics.total_wait_seconds + EXCLUDED.total_wait_seconds,
			wait_count = daily_queue_metrics.wait_count + EXCLUDED.wait_count,
			total_service_seconds = daily_queue_metrics.total_service_seconds + EXCLUDED.total_service_seconds,
			service_count = daily_queue_metrics.service_count + EXCLUDED.service_count,
			rating_sum = daily_queue_metrics.rating_sum + EXCLUDED.rating_sum,
			rating_count = daily_queue_metrics.rating_count + EXCLUDED.rating_count
	`, delta.QueueID, delta.Date, delta.Emitted, delta.Served, delta.NoShow, delta.WaitSeconds, delta.WaitCount,
		delta.ServiceSeconds, delta.ServiceCount, delta.RatingSum, delta.RatingCount)
	if err != nil || delta.AttendantID == "" {
		return err
	}
	_, err = c.exec(ctx, `
		INSERT INTO daily_attendant_metrics
			(queue_id, day, attendant_id, attendant_name, served, no_show, total_service_seconds, service_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (queue_id, day, attendant_id) DO UPDATE SET
			attendant_name = COALESCE(NULLIF(EXCLUDED.attendant_name, ''), daily_attendant_metrics.attendant_name),
			served = daily_attendant_metrics.served + EXCLUDED.served,
			no_show = daily_attendant_metrics.no_show + EXCLUDED.no_show,
			total_service_seconds = daily_attendant_metrics.total_service_seconds + EXCLUDED.total_service_seconds,
			service_count = daily_attendant_metrics.service_count + EXCLUDED.service_count
	`, delta.QueueID, delta.Date, delta.AttendantID, delta.AttendantName, delta.Served, delta.NoShow,
		delta.ServiceSeconds, delta.ServiceCount)
	return err
}

const alertColumns = `alert_id, queue_id, type, value, threshold, created_at`

func scanAlert(row pgx.Row) (models.SLAAlert, error) {
	var alert models.SLAAlert
	err := row.Scan(&alert.AlertID, &alert.QueueID, &alert.Type, &alert.Value, &alert.Threshold, &alert.CreatedAt)
	return alert, err
}

// LatestAlert takes a transaction-scoped advisory lock on (queue, type)
// inside Update so a concurrent evaluation waits until this one commits.
func (c *conn) LatestAlert(ctx context.Context, queueID, alertType string) (models.SLAAlert, bool, error) {
	if c.locking {
		if _, err := c.exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "sla_alert:"+queueID+":"+alertType); err != nil {
			return models.SLAAlert{}, false, err
		}
	}
	alert, err := scanAlert(c.q.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM sla_alerts
		WHERE queue_id = $1 AND type = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, queueID, alertType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.SLAAlert{}, false, nil
		}
		return models.SLAAlert{}, false, mapError(err)
	}
	return alert, true, nil
}

func (c *conn) ListAlerts(ctx context.Context, queueID string, limit int) ([]models.SLAAlert, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+alertColumns+` FROM sla_alerts
		WHERE queue_id = $1
		ORDER BY created_at DESC, alert_id
		LIMIT $2
	`, queueID, limitArg(limit))
	if err != nil {
		return nil, mapError(err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SLAAlert, error) {
		return scanAlert(row)
	})
}

func (c *conn) InsertAlert(ctx context.Context, alert models.SLAAlert) error {
	_, err := c.exec(ctx, `
		INSERT INTO sla_alerts (`+alertColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
	`, alert.AlertID, alert.QueueID, alert.Type, alert.Value, alert.Threshold, alert.CreatedAt)
	return err
}
