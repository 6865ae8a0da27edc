package models

import "time"

type Ticket struct {
	TicketID           string     `json:"ticket_id"`
	QueueID            string     `json:"queue_id"`
	OrganizationID     string     `json:"organization_id,omitempty"`
	CategoryID         string     `json:"category_id"`
	CategoryName       string     `json:"category_name"`
	CategoryColor      string     `json:"category_color,omitempty"`
	Number             int        `json:"number"`
	FullCode           string     `json:"full_code"`
	IsPriority         bool       `json:"is_priority"`
	Status             string     `json:"status"`
	CounterID          string     `json:"counter_id,omitempty"`
	CounterName        string     `json:"counter_name,omitempty"`
	AttendantID        string     `json:"attendant_id,omitempty"`
	AttendantName      string     `json:"attendant_name,omitempty"`
	RecallCount        int        `json:"recall_count"`
	WaitTimeSeconds    *int       `json:"wait_time_seconds,omitempty"`
	ServiceTimeSeconds *int       `json:"service_time_seconds,omitempty"`
	FeedbackRating     *int       `json:"feedback_rating,omitempty"`
	FeedbackComment    string     `json:"feedback_comment,omitempty"`
	FeedbackAt         *time.Time `json:"feedback_at,omitempty"`
	RequestID          string     `json:"request_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	CalledAt           *time.Time `json:"called_at,omitempty"`
	ServedAt           *time.Time `json:"served_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

const (
	StatusWaiting  = "waiting"
	StatusCalling  = "calling"
	StatusServing  = "serving"
	StatusFinished = "finished"
	StatusNoShow   = "no_show"
)

// Terminal reports whether no further transition can leave status.
func Terminal(status string) bool {
	return status == StatusFinished || status == StatusNoShow
}

// Active reports whether the ticket is bound to a counter.
func (t Ticket) Active() bool {
	return t.Status == StatusCalling || t.Status == StatusServing
}

type TicketTracking struct {
	Ticket               Ticket `json:"ticket"`
	Ahead                int    `json:"ahead"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}
