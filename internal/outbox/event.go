package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qms/internal/models"
)

// NewEvent builds an outbox row for a change to a queue document.
func NewEvent(organizationID, queueID, ticketID, eventType string, payload any, now time.Time) (models.OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return models.OutboxEvent{
		EventID:        uuid.NewString(),
		OrganizationID: organizationID,
		QueueID:        queueID,
		TicketID:       ticketID,
		Type:           eventType,
		Payload:        raw,
		CreatedAt:      now.UTC(),
	}, nil
}

type appender interface {
	AppendEvent(ctx context.Context, event models.OutboxEvent) error
}

// Append writes the event in the caller's transaction so the change and its
// notification commit together.
func Append(ctx context.Context, tx appender, organizationID, queueID, ticketID, eventType string, payload any, now time.Time) error {
	event, err := NewEvent(organizationID, queueID, ticketID, eventType, payload, now)
	if err != nil {
		return err
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
