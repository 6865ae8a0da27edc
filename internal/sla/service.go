// Package sla raises alerts when a queue breaks its service-level limits.
package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/outbox"
	"qms/internal/store"
)

const DefaultDedupWindow = 5 * time.Minute

type Service struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
	log    logrus.FieldLogger
}

func New(s store.Store, window time.Duration, now func() time.Time, log logrus.FieldLogger) *Service {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: s, window: window, now: now, log: log}
}

// Breaches lists the limits the queue currently exceeds.
func Breaches(settings models.QueueSettings, stats store.WaitingStats, now time.Time) []models.SLAAlert {
	if !settings.SLAEnabled {
		return nil
	}
	var out []models.SLAAlert
	if settings.SLAMaxWaitMinutes > 0 && stats.OldestCreated != nil {
		waited := int(now.Sub(*stats.OldestCreated).Minutes())
		if now.Sub(*stats.OldestCreated) > time.Duration(settings.SLAMaxWaitMinutes)*time.Minute {
			out = append(out, models.SLAAlert{Type: models.AlertMaxWait, Value: waited, Threshold: settings.SLAMaxWaitMinutes})
		}
	}
	if settings.SLAMaxQueueSize > 0 && stats.Waiting > settings.SLAMaxQueueSize {
		out = append(out, models.SLAAlert{Type: models.AlertQueueSize, Value: stats.Waiting, Threshold: settings.SLAMaxQueueSize})
	}
	return out
}

// Evaluate records an alert for every breached limit that has not been
// alerted within the de-dup window.
func (s *Service) Evaluate(ctx context.Context, queueID string) ([]models.SLAAlert, error) {
	var raised []models.SLAAlert
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		raised = nil
		queue, err := tx.GetQueue(ctx, queueID)
		if err != nil {
			return err
		}
		if !queue.Settings.SLAEnabled {
			return nil
		}
		stats, err := tx.GetWaitingStats(ctx, queueID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, alert := range Breaches(queue.Settings, stats, now) {
			last, found, err := tx.LatestAlert(ctx, queueID, alert.Type)
			if err != nil {
				return err
			}
			if found && now.Sub(last.CreatedAt) < s.window {
				continue
			}
			alert.AlertID = uuid.NewString()
			alert.QueueID = queueID
			alert.CreatedAt = now
			if err := tx.InsertAlert(ctx, alert); err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			if err := outbox.Append(ctx, tx, queue.OrganizationID, queueID, "", models.EventSLAAlert, alert, now); err != nil {
				return err
			}
			raised = append(raised, alert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, alert := range raised {
		s.log.WithFields(logrus.Fields{
			"queue_id":  queueID,
			"type":      alert.Type,
			"value":     alert.Value,
			"threshold": alert.Threshold,
		}).Warn("sla breached")
	}
	return raised, nil
}

// Scan evaluates every queue with SLA monitoring on.
func (s *Service) Scan(ctx context.Context) (int, error) {
	var queues []models.Queue
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		queues, err = r.ListSLAQueues(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, queue := range queues {
		raised, err := s.Evaluate(ctx, queue.QueueID)
		if err != nil {
			s.log.WithError(err).WithField("queue_id", queue.QueueID).Error("sla evaluation failed")
			continue
		}
		total += len(raised)
	}
	return total, nil
}

func (s *Service) ListAlerts(ctx context.Context, session models.Session, queueID string, limit int) ([]models.SLAAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.SLAAlert
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.ListAlerts(ctx, queueID, limit)
		return err
	})
	return out, err
}
