// Package stats serves the per-day queue metrics kept up to date by the
// ticket lifecycle.
package stats

import (
	"context"
	"sort"
	"time"

	"qms/internal/access"
	"qms/internal/models"
	"qms/internal/store"
)

const weekDays = 7

type Service struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

func New(s store.Store, loc *time.Location, now func() time.Time) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, loc: loc, now: now}
}

// Daily returns the metrics of one day; an empty day reads as zeros.
func (s *Service) Daily(ctx context.Context, session models.Session, queueID, day string) (models.DailyQueueMetrics, error) {
	if day == "" {
		day = Day(s.now(), s.loc)
	}
	if _, err := time.Parse(dateLayout, day); err != nil {
		return models.DailyQueueMetrics{}, store.ErrInvalidInput
	}
	var out models.DailyQueueMetrics
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		out, err = r.GetDailyMetrics(ctx, queueID, day)
		return err
	})
	if err != nil {
		return models.DailyQueueMetrics{}, err
	}
	out.ComputeAverages()
	return out, nil
}

// Week sums the seven daily documents ending on endDay.
func (s *Service) Week(ctx context.Context, session models.Session, queueID, endDay string) (models.WeekSummary, error) {
	end := s.now().In(s.loc)
	if endDay != "" {
		parsed, err := time.ParseInLocation(dateLayout, endDay, s.loc)
		if err != nil {
			return models.WeekSummary{}, store.ErrInvalidInput
		}
		end = parsed
	}
	from := Day(end.AddDate(0, 0, -(weekDays - 1)), s.loc)
	to := Day(end, s.loc)

	var days []models.DailyQueueMetrics
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		var err error
		days, err = r.ListDailyMetrics(ctx, queueID, from, to)
		return err
	})
	if err != nil {
		return models.WeekSummary{}, err
	}
	return Summarize(queueID, from, to, days), nil
}

// Summarize adds up daily documents. Averages are rebuilt from the summed
// totals, never from the daily averages. Attendant rows are folded across
// days by attendant id.
func Summarize(queueID, from, to string, days []models.DailyQueueMetrics) models.WeekSummary {
	summary := models.WeekSummary{QueueID: queueID, From: from, To: to, Days: make([]models.DailyQueueMetrics, 0, len(days))}
	var total models.DailyQueueMetrics
	attendants := make(map[string]*models.AttendantMetrics)
	for _, day := range days {
		day.ComputeAverages()
		summary.Days = append(summary.Days, day)
		for _, a := range day.Attendants {
			sum, ok := attendants[a.AttendantID]
			if !ok {
				sum = &models.AttendantMetrics{AttendantID: a.AttendantID}
				attendants[a.AttendantID] = sum
			}
			if a.AttendantName != "" {
				sum.AttendantName = a.AttendantName
			}
			sum.Served += a.Served
			sum.NoShow += a.NoShow
			sum.TotalServiceSeconds += a.TotalServiceSeconds
			sum.ServiceCount += a.ServiceCount
		}
		total.Emitted += day.Emitted
		total.Served += day.Served
		total.NoShow += day.NoShow
		total.TotalWaitSeconds += day.TotalWaitSeconds
		total.WaitCount += day.WaitCount
		total.TotalServiceSeconds += day.TotalServiceSeconds
		total.ServiceCount += day.ServiceCount
		total.RatingSum += day.RatingSum
		total.RatingCount += day.RatingCount
	}
	sort.Slice(summary.Days, func(i, j int) bool { return summary.Days[i].Date < summary.Days[j].Date })
	total.Attendants = make([]models.AttendantMetrics, 0, len(attendants))
	for _, a := range attendants {
		total.Attendants = append(total.Attendants, *a)
	}
	sort.Slice(total.Attendants, func(i, j int) bool { return total.Attendants[i].AttendantID < total.Attendants[j].AttendantID })
	total.ComputeAverages()
	summary.Emitted = total.Emitted
	summary.Served = total.Served
	summary.NoShow = total.NoShow
	summary.AvgWaitSeconds = total.AvgWaitSeconds
	summary.AvgServiceSeconds = total.AvgServiceSeconds
	summary.AvgRating = total.AvgRating
	summary.Attendants = total.Attendants
	return summary
}

// Live counts what is happening in the queue right now.
func (s *Service) Live(ctx context.Context, session models.Session, queueID string) (models.LiveStats, error) {
	out := models.LiveStats{QueueID: queueID}
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := access.Queue(ctx, r, session, queueID, models.RoleAttendant); err != nil {
			return err
		}
		waiting, err := r.GetWaitingStats(ctx, queueID)
		if err != nil {
			return err
		}
		out.Waiting = waiting.Waiting
		out.Priority = waiting.Priority
		if waiting.OldestCreated != nil {
			out.OldestWaitS = int(s.now().Sub(*waiting.OldestCreated).Seconds())
		}
		active, err := r.ListTickets(ctx, store.TicketQuery{QueueID: queueID, Statuses: []string{models.StatusCalling, models.StatusServing}})
		if err != nil {
			return err
		}
		for _, ticket := range active {
			if ticket.Status == models.StatusCalling {
				out.Calling++
			} else {
				out.Serving++
			}
		}
		counters, err := r.ListCounters(ctx, queueID)
		if err != nil {
			return err
		}
		for _, counter := range counters {
			if counter.Status == models.CounterOpen {
				out.OpenCounters++
			}
		}
		return nil
	})
	return out, err
}
