package stats

import (
	"time"

	"qms/internal/models"
	"qms/internal/store"
)

const dateLayout = "2006-01-02"

// Day returns the metrics date key of t in loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dateLayout)
}

func EmitDelta(queueID, day string) store.MetricsDelta {
	return store.MetricsDelta{QueueID: queueID, Date: day, Emitted: 1}
}

// FinishDelta is recorded once when a ticket reaches a terminal status.
func FinishDelta(ticket models.Ticket, day string) store.MetricsDelta {
	delta := store.MetricsDelta{
		QueueID:       ticket.QueueID,
		Date:          day,
		AttendantID:   ticket.AttendantID,
		AttendantName: ticket.AttendantName,
	}
	if ticket.WaitTimeSeconds != nil {
		delta.WaitSeconds = int64(*ticket.WaitTimeSeconds)
		delta.WaitCount = 1
	}
	switch ticket.Status {
	case models.StatusFinished:
		delta.Served = 1
		if ticket.ServiceTimeSeconds != nil {
			delta.ServiceSeconds = int64(*ticket.ServiceTimeSeconds)
			delta.ServiceCount = 1
		}
	case models.StatusNoShow:
		delta.NoShow = 1
	}
	return delta
}

func FeedbackDelta(queueID, day string, rating int) store.MetricsDelta {
	return store.MetricsDelta{QueueID: queueID, Date: day, RatingSum: rating, RatingCount: 1}
}
