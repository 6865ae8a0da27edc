// Package counter manages the service counters of a queue.
package counter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/outbox"
	"qms/internal/store"
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func New(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

type CreateInput struct {
	QueueID string
	Name    string
	Number  int
}

func (s *Service) CreateCounter(ctx context.Context, session models.Session, in CreateInput) (models.Counter, error) {
	name := strings.TrimSpace(in.Name)
	if in.QueueID == "" || name == "" || in.Number < 0 {
		return models.Counter{}, store.ErrInvalidInput
	}
	counter := models.Counter{
		CounterID: uuid.NewString(),
		QueueID:   in.QueueID,
		Name:      name,
		Number:    in.Number,
		Status:    models.CounterClosed,
	}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		queue, err := access.Queue(ctx, tx, session, in.QueueID, models.RoleAdmin)
		if err != nil {
			return err
		}
		if err := tx.CreateCounter(ctx, counter); err != nil {
			return fmt.Errorf("create counter: %w", err)
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventCounterUpdated, counter, s.now())
	})
	if err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

// DeleteCounter removes a counter that is not open and holds no ticket.
func (s *Service) DeleteCounter(ctx context.Context, session models.Session, queueID, counterID string) error {
	return s.store.Update(ctx, func(tx store.Tx) error {
		queue, err := access.Queue(ctx, tx, session, queueID, models.RoleAdmin)
		if err != nil {
			return err
		}
		counter, err := tx.GetCounter(ctx, queueID, counterID)
		if err != nil {
			return err
		}
		if counter.Status == models.CounterOpen {
			return store.ErrCounterOpen
		}
		if counter.CurrentTicketID != "" {
			return store.ErrCounterBusy
		}
		if err := tx.DeleteCounter(ctx, queueID, counterID); err != nil {
			return err
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventCounterDeleted, counter, s.now())
	})
}

// AssignCounterToUser reserves the counter for one attendant; only that user
// may then call tickets at it.
func (s *Service) AssignCounterToUser(ctx context.Context, session models.Session, queueID, counterID, userID string) (models.Counter, error) {
	if userID == "" {
		return models.Counter{}, store.ErrInvalidInput
	}
	return s.mutate(ctx, session, queueID, counterID, models.RoleAdmin, func(tx store.Tx, queue models.Queue, counter *models.Counter) error {
		member, err := tx.GetMember(ctx, queue.OrganizationID, userID)
		if err != nil {
			return err
		}
		counter.AssignedUserID = member.UserID
		counter.AssignedUserName = member.DisplayName
		return nil
	})
}

func (s *Service) UnassignCounter(ctx context.Context, session models.Session, queueID, counterID string) (models.Counter, error) {
	return s.mutate(ctx, session, queueID, counterID, models.RoleAdmin, func(tx store.Tx, queue models.Queue, counter *models.Counter) error {
		counter.AssignedUserID = ""
		counter.AssignedUserName = ""
		return nil
	})
}

// UpdateStatus opens, pauses or closes the counter. Opening binds the caller
// as attendant and drops any scheduled pause.
func (s *Service) UpdateStatus(ctx context.Context, session models.Session, queueID, counterID, status string) (models.Counter, error) {
	if !models.ValidCounterStatus(status) {
		return models.Counter{}, store.ErrInvalidInput
	}
	return s.mutate(ctx, session, queueID, counterID, models.RoleAttendant, func(tx store.Tx, queue models.Queue, counter *models.Counter) error {
		if counter.AssignedUserID != "" && counter.AssignedUserID != session.UserID {
			member, err := tx.GetMember(ctx, queue.OrganizationID, session.UserID)
			if err != nil {
				return err
			}
			if !models.RoleAtLeast(member.Role, models.RoleAdmin) {
				return store.ErrCounterAssigned
			}
		}
		counter.Status = status
		switch status {
		case models.CounterOpen:
			counter.PauseAfterCurrent = false
			counter.AttendantID = session.UserID
			counter.AttendantName = session.UserName
		case models.CounterClosed:
			counter.PauseAfterCurrent = false
			counter.AttendantID = ""
			counter.AttendantName = ""
		}
		return nil
	})
}

// SchedulePauseAfterCurrent pauses the counter once its current ticket is
// finished, or right away when it has none.
func (s *Service) SchedulePauseAfterCurrent(ctx context.Context, session models.Session, queueID, counterID string) (models.Counter, error) {
	return s.mutate(ctx, session, queueID, counterID, models.RoleAttendant, func(tx store.Tx, queue models.Queue, counter *models.Counter) error {
		if counter.Status != models.CounterOpen {
			return store.ErrCounterUnavailable
		}
		if counter.CurrentTicketID == "" {
			counter.Status = models.CounterPaused
			counter.PauseAfterCurrent = false
			return nil
		}
		counter.PauseAfterCurrent = true
		return nil
	})
}

func (s *Service) CancelScheduledPause(ctx context.Context, session models.Session, queueID, counterID string) (models.Counter, error) {
	return s.mutate(ctx, session, queueID, counterID, models.RoleAttendant, func(tx store.Tx, queue models.Queue, counter *models.Counter) error {
		counter.PauseAfterCurrent = false
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, session models.Session, queueID, counterID, minRole string, apply func(tx store.Tx, queue models.Queue, counter *models.Counter) error) (models.Counter, error) {
	var counter models.Counter
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		queue, err := access.Queue(ctx, tx, session, queueID, minRole)
		if err != nil {
			return err
		}
		counter, err = tx.GetCounter(ctx, queueID, counterID)
		if err != nil {
			return err
		}
		if err := apply(tx, queue, &counter); err != nil {
			return err
		}
		if err := tx.UpdateCounter(ctx, counter); err != nil {
			return fmt.Errorf("update counter: %w", err)
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventCounterUpdated, counter, s.now())
	})
	if err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Service) ListCounters(ctx context.Context, session models.Session, queueID string) ([]models.Counter, error) {
	var out []models.Counter
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.ListCounters(ctx, queueID)
		return err
	})
	return out, err
}

func (s *Service) GetCounter(ctx context.Context, session models.Session, queueID, counterID string) (models.Counter, error) {
	var out models.Counter
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.GetCounter(ctx, queueID, counterID)
		return err
	})
	return out, err
}

// ResetDailyCounters zeroes every counter's served tally for a new day.
func (s *Service) ResetDailyCounters(ctx context.Context) (int64, error) {
	var changed int64
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		changed, err = tx.ResetServedToday(ctx)
		return err
	})
	return changed, err
}
