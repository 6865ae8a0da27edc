package models

import (
	"encoding/json"
	"time"
)

const (
	EventTicketCreated   = "ticket.created"
	EventTicketCalled    = "ticket.called"
	EventTicketRecalled  = "ticket.recalled"
	EventTicketServing   = "ticket.serving"
	EventTicketFinished  = "ticket.finished"
	EventTicketNoShow    = "ticket.no_show"
	EventCounterUpdated  = "counter.updated"
	EventCounterDeleted  = "counter.deleted"
	EventQueueUpdated    = "queue.updated"
	EventSLAAlert        = "sla.alert"
	EventFeedbackCreated = "ticket.feedback"
)

type OutboxEvent struct {
	Seq            int64           `json:"seq"`
	EventID        string          `json:"event_id"`
	OrganizationID string          `json:"organization_id"`
	QueueID        string          `json:"queue_id"`
	TicketID       string          `json:"ticket_id,omitempty"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedAt      time.Time       `json:"created_at"`
}
