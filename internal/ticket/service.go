// Package ticket implements the ticket lifecycle: emission at the totem,
// calling at a counter, recall, service and finish.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/outbox"
	"qms/internal/stats"
	"qms/internal/store"
)

const codePad = 3

// Watcher is told about queues whose waiting set grew.
type Watcher interface {
	Evaluate(ctx context.Context, queueID string) ([]models.SLAAlert, error)
}

type Config struct {
	Location *time.Location
	Now      func() time.Time
	Watcher  Watcher
	Logger   logrus.FieldLogger
}

type Service struct {
	store   store.Store
	loc     *time.Location
	now     func() time.Time
	watcher Watcher
	log     logrus.FieldLogger
}

func New(s store.Store, cfg Config) *Service {
	svc := &Service{store: s, loc: cfg.Location, now: cfg.Now, watcher: cfg.Watcher, log: cfg.Logger}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	return svc
}

type EmitInput struct {
	QueueID    string
	CategoryID string
	IsPriority bool
	RequestID  string
}

type CallNextInput struct {
	QueueID   string
	CounterID string
	RequestID string
}

type ActionInput struct {
	QueueID   string
	CounterID string
	TicketID  string
}

type FinishInput struct {
	QueueID   string
	CounterID string
	TicketID  string
	Status    string
}

type FeedbackInput struct {
	QueueID  string
	TicketID string
	Rating   int
	Comment  string
}

// FormatCode renders the display code of a ticket, e.g. "A-007".
func FormatCode(prefix string, number int) string {
	return fmt.Sprintf("%s-%0*d", prefix, codePad, number)
}

// EmitTicket issues a new waiting ticket. The bool is false when requestID
// replays an earlier emission.
func (s *Service) EmitTicket(ctx context.Context, in EmitInput) (models.Ticket, bool, error) {
	if in.QueueID == "" || in.CategoryID == "" {
		return models.Ticket{}, false, store.ErrInvalidInput
	}

	var ticket models.Ticket
	var created bool
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		created = false
		requestKey := store.RequestKey(in.RequestID, in.QueueID)
		if in.RequestID != "" {
			ticketID, found, err := tx.FindActionRequest(ctx, store.ActionEmit, requestKey)
			if err != nil {
				return err
			}
			if found {
				ticket, err = tx.GetTicket(ctx, in.QueueID, ticketID)
				return err
			}
		}

		queue, err := tx.GetQueue(ctx, in.QueueID)
		if err != nil {
			return err
		}
		if in.IsPriority && !queue.Totem.AllowPriority {
			return store.ErrPriorityNotAllowed
		}
		category, err := tx.GetCategory(ctx, in.QueueID, in.CategoryID)
		if err != nil {
			return err
		}
		if !category.Active {
			return store.ErrCategoryNotFound
		}

		now := s.now().UTC()
		day := stats.Day(now, s.loc)
		number, err := tx.NextTicketNumber(ctx, category.CategoryID, day)
		if err != nil {
			return fmt.Errorf("next ticket number: %w", err)
		}
		ticket = models.Ticket{
			TicketID:       uuid.NewString(),
			QueueID:        queue.QueueID,
			OrganizationID: queue.OrganizationID,
			CategoryID:     category.CategoryID,
			CategoryName:   category.Name,
			CategoryColor:  category.Color,
			Number:         number,
			FullCode:       FormatCode(category.Prefix, number),
			IsPriority:     in.IsPriority,
			Status:         models.StatusWaiting,
			RequestID:      in.RequestID,
			CreatedAt:      now,
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		if in.RequestID != "" {
			if err := tx.InsertActionRequest(ctx, store.ActionEmit, requestKey, ticket.TicketID); err != nil {
				return err
			}
		}
		if err := tx.AddDailyMetrics(ctx, stats.EmitDelta(queue.QueueID, day)); err != nil {
			return fmt.Errorf("record emission: %w", err)
		}
		created = true
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, ticket.TicketID, models.EventTicketCreated, ticket, now)
	})
	if err != nil {
		return models.Ticket{}, false, err
	}

	if created && s.watcher != nil {
		if _, err := s.watcher.Evaluate(ctx, in.QueueID); err != nil {
			s.log.WithError(err).WithField("queue_id", in.QueueID).Warn("sla evaluation failed")
		}
	}
	return ticket, created, nil
}

// CallNextTicket hands the next waiting ticket to the counter. The bool is
// false when nothing is waiting, which is not an error.
func (s *Service) CallNextTicket(ctx context.Context, session models.Session, in CallNextInput) (models.Ticket, bool, error) {
	if in.QueueID == "" || in.CounterID == "" {
		return models.Ticket{}, false, store.ErrInvalidInput
	}

	var ticket models.Ticket
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		queue, err := access.Queue(ctx, tx, session, in.QueueID, models.RoleAttendant)
		if err != nil {
			return err
		}
		requestKey := store.RequestKey(in.RequestID, in.QueueID, in.CounterID)
		if in.RequestID != "" {
			ticketID, found, err := tx.FindActionRequest(ctx, store.ActionCallNext, requestKey)
			if err != nil {
				return err
			}
			if found {
				ticket, err = tx.GetTicket(ctx, in.QueueID, ticketID)
				return err
			}
		}

		counter, err := tx.GetCounter(ctx, in.QueueID, in.CounterID)
		if err != nil {
			return err
		}
		if counter.AssignedUserID != "" && counter.AssignedUserID != session.UserID {
			return store.ErrCounterAssigned
		}
		if counter.Status != models.CounterOpen {
			return store.ErrCounterUnavailable
		}
		if counter.CurrentTicketID != "" {
			return store.ErrCounterBusy
		}

		now := s.now().UTC()
		ticket, err = tx.ClaimNextTicket(ctx, in.QueueID, store.TicketClaim{
			CounterID:     counter.CounterID,
			CounterName:   counter.Name,
			AttendantID:   session.UserID,
			AttendantName: session.UserName,
			CalledAt:      now,
		})
		if err != nil {
			return err
		}

		counter.CurrentTicketID = ticket.TicketID
		counter.CurrentTicketCode = ticket.FullCode
		counter.AttendantID = session.UserID
		counter.AttendantName = session.UserName
		if err := tx.UpdateCounter(ctx, counter); err != nil {
			return fmt.Errorf("update counter: %w", err)
		}
		if in.RequestID != "" {
			if err := tx.InsertActionRequest(ctx, store.ActionCallNext, requestKey, ticket.TicketID); err != nil {
				return err
			}
		}
		if err := outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventCounterUpdated, counter, now); err != nil {
			return err
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, ticket.TicketID, models.EventTicketCalled, ticket, now)
	})
	if errors.Is(err, store.ErrNoTicket) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// RecallTicket announces a calling ticket again.
func (s *Service) RecallTicket(ctx context.Context, session models.Session, in ActionInput) (models.Ticket, error) {
	return s.transition(ctx, session, in, store.ActionRecall, func(ticket *models.Ticket, now time.Time) string {
		ticket.RecallCount++
		return models.EventTicketRecalled
	})
}

// StartService marks the customer of a calling ticket as being served.
func (s *Service) StartService(ctx context.Context, session models.Session, in ActionInput) (models.Ticket, error) {
	return s.transition(ctx, session, in, store.ActionStart, func(ticket *models.Ticket, now time.Time) string {
		ticket.Status = models.StatusServing
		ticket.ServedAt = &now
		return models.EventTicketServing
	})
}

func (s *Service) transition(ctx context.Context, session models.Session, in ActionInput, action string, apply func(ticket *models.Ticket, now time.Time) string) (models.Ticket, error) {
	if in.QueueID == "" || in.TicketID == "" {
		return models.Ticket{}, store.ErrInvalidInput
	}
	var ticket models.Ticket
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		queue, err := access.Queue(ctx, tx, session, in.QueueID, models.RoleAttendant)
		if err != nil {
			return err
		}
		ticket, err = tx.GetTicket(ctx, in.QueueID, in.TicketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition(action, ticket.Status) {
			return store.ErrInvalidState
		}
		if in.CounterID != "" && ticket.CounterID != in.CounterID {
			return store.ErrCounterMismatch
		}
		from := ticket.Status
		now := s.now().UTC()
		eventType := apply(&ticket, now)
		if store.Regresses(from, ticket.Status) {
			return store.ErrInvalidState
		}
		if err := tx.UpdateTicket(ctx, ticket, from); err != nil {
			return err
		}
		return outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, ticket.TicketID, eventType, ticket, now)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// FinishTicket closes a called or served ticket as finished or no_show. A
// repeat call for a ticket already in that status changes nothing and reports
// false.
func (s *Service) FinishTicket(ctx context.Context, session models.Session, in FinishInput) (models.Ticket, bool, error) {
	if in.QueueID == "" || in.TicketID == "" {
		return models.Ticket{}, false, store.ErrInvalidInput
	}
	if _, ok := store.FinishAction(in.Status); !ok {
		return models.Ticket{}, false, store.ErrInvalidInput
	}

	var ticket models.Ticket
	var changed bool
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		if _, err := access.Queue(ctx, tx, session, in.QueueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		ticket, changed, err = s.finish(ctx, tx, in)
		return err
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, changed, nil
}

func (s *Service) finish(ctx context.Context, tx store.Tx, in FinishInput) (models.Ticket, bool, error) {
	queue, err := tx.GetQueue(ctx, in.QueueID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	ticket, err := tx.GetTicket(ctx, in.QueueID, in.TicketID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if ticket.Status == in.Status {
		return ticket, false, nil
	}
	action, _ := store.FinishAction(in.Status)
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, false, store.ErrInvalidState
	}
	if in.CounterID != "" && ticket.CounterID != in.CounterID {
		return models.Ticket{}, false, store.ErrCounterMismatch
	}

	now := s.now().UTC()
	from := ticket.Status
	ticket.Status = in.Status
	ticket.FinishedAt = &now
	if in.Status == models.StatusFinished {
		start := ticket.ServedAt
		if start == nil {
			start = ticket.CalledAt
		}
		if start != nil {
			seconds := int(now.Sub(*start).Seconds())
			if seconds < 0 {
				seconds = 0
			}
			ticket.ServiceTimeSeconds = &seconds
		}
	}
	if store.Regresses(from, ticket.Status) {
		return models.Ticket{}, false, store.ErrInvalidState
	}
	if err := tx.UpdateTicket(ctx, ticket, from); err != nil {
		return models.Ticket{}, false, err
	}

	counter, err := tx.GetCounter(ctx, in.QueueID, ticket.CounterID)
	switch {
	case errors.Is(err, store.ErrCounterNotFound):
	case err != nil:
		return models.Ticket{}, false, err
	default:
		if counter.CurrentTicketID == ticket.TicketID {
			counter.CurrentTicketID = ""
			counter.CurrentTicketCode = ""
			if counter.PauseAfterCurrent {
				counter.Status = models.CounterPaused
				counter.PauseAfterCurrent = false
			}
		}
		if in.Status == models.StatusFinished {
			counter.TicketsServedToday++
		}
		if err := tx.UpdateCounter(ctx, counter); err != nil {
			return models.Ticket{}, false, fmt.Errorf("update counter: %w", err)
		}
		if err := outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, "", models.EventCounterUpdated, counter, now); err != nil {
			return models.Ticket{}, false, err
		}
	}

	if err := tx.AddDailyMetrics(ctx, stats.FinishDelta(ticket, stats.Day(now, s.loc))); err != nil {
		return models.Ticket{}, false, fmt.Errorf("record finish: %w", err)
	}
	eventType := models.EventTicketFinished
	if in.Status == models.StatusNoShow {
		eventType = models.EventTicketNoShow
	}
	if err := outbox.Append(ctx, tx, queue.OrganizationID, queue.QueueID, ticket.TicketID, eventType, ticket, now); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// SaveFeedback stores the customer's rating of a finished ticket. It can be
// given once.
func (s *Service) SaveFeedback(ctx context.Context, in FeedbackInput) (models.Ticket, error) {
	if in.QueueID == "" || in.TicketID == "" {
		return models.Ticket{}, store.ErrInvalidInput
	}
	if in.Rating < 1 || in.Rating > 5 {
		return models.Ticket{}, store.ErrInvalidRating
	}
	comment := strings.TrimSpace(in.Comment)

	var ticket models.Ticket
	err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
		var err error
		ticket, err = tx.GetTicket(ctx, in.QueueID, in.TicketID)
		if err != nil {
			return err
		}
		if ticket.FeedbackRating != nil {
			return store.ErrFeedbackExists
		}
		if !store.ValidTransition(store.ActionFeedback, ticket.Status) {
			return store.ErrInvalidState
		}
		now := s.now().UTC()
		rating := in.Rating
		ticket.FeedbackRating = &rating
		ticket.FeedbackComment = comment
		ticket.FeedbackAt = &now
		if err := tx.UpdateTicket(ctx, ticket, models.StatusFinished); err != nil {
			return err
		}
		day := stats.Day(now, s.loc)
		if ticket.FinishedAt != nil {
			day = stats.Day(*ticket.FinishedAt, s.loc)
		}
		if err := tx.AddDailyMetrics(ctx, stats.FeedbackDelta(ticket.QueueID, day, rating)); err != nil {
			return fmt.Errorf("record rating: %w", err)
		}
		return outbox.Append(ctx, tx, ticket.OrganizationID, ticket.QueueID, ticket.TicketID, models.EventFeedbackCreated, ticket, now)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// TrackTicket reports a ticket with its place in line for the public
// tracking page.
func (s *Service) TrackTicket(ctx context.Context, queueID, ticketID string) (models.TicketTracking, error) {
	var out models.TicketTracking
	err := s.store.View(ctx, func(r store.Reader) error {
		ticket, err := r.GetTicket(ctx, queueID, ticketID)
		if err != nil {
			return err
		}
		ahead, err := r.CountAhead(ctx, ticket)
		if err != nil {
			return err
		}
		out = models.TicketTracking{Ticket: ticket, Ahead: ahead}
		if ticket.Status != models.StatusWaiting {
			return nil
		}
		category, err := r.GetCategory(ctx, queueID, ticket.CategoryID)
		if err != nil && !errors.Is(err, store.ErrCategoryNotFound) {
			return err
		}
		out.EstimatedWaitMinutes = ahead * category.EstimatedWaitMinutes
		return nil
	})
	return out, err
}

func (s *Service) ListTickets(ctx context.Context, session models.Session, queueID string, statuses []string, limit int) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.ListTickets(ctx, store.TicketQuery{QueueID: queueID, Statuses: statuses, Limit: limit})
		return err
	})
	return out, err
}

// History returns the verified change log of a ticket.
func (s *Service) History(ctx context.Context, session models.Session, queueID, ticketID string) ([]store.TicketEvent, error) {
	var out []store.TicketEvent
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		if _, err := r.GetTicket(ctx, queueID, ticketID); err != nil {
			return err
		}
		var err error
		out, err = r.ListTicketEvents(ctx, ticketID)
		if err != nil {
			return err
		}
		return store.VerifyTicketEvents(out)
	})
	return out, err
}

// AutoNoShow closes tickets left in calling for longer than grace.
func (s *Service) AutoNoShow(ctx context.Context, grace time.Duration, batchSize int) (int, error) {
	if grace <= 0 {
		return 0, nil
	}
	var stale []models.Ticket
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		stale, err = r.ListStaleCalling(ctx, s.now().UTC().Add(-grace), batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, candidate := range stale {
		in := FinishInput{QueueID: candidate.QueueID, TicketID: candidate.TicketID, Status: models.StatusNoShow}
		var changed bool
		err := store.UpdateWithRetry(ctx, s.store, func(tx store.Tx) error {
			changed = false
			current, err := tx.GetTicket(ctx, in.QueueID, in.TicketID)
			if err != nil {
				return err
			}
			if current.Status != models.StatusCalling {
				return nil
			}
			_, changed, err = s.finish(ctx, tx, in)
			return err
		})
		if err != nil {
			return closed, err
		}
		if changed {
			closed++
		}
	}
	return closed, nil
}
