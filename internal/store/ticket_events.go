package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/internal/models"
)

var ErrBrokenChain = errors.New("ticket event chain broken")

// TicketEvent is one link of a ticket's hash-chained history. Payload holds the
// ticket snapshot after the change.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// NextTicketEvent links a new event after prev (nil for the first event).
func NextTicketEvent(prev *TicketEvent, ticketID, eventType string, payload json.RawMessage, createdAt time.Time) TicketEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	return TicketEvent{
		TicketID:  ticketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticketID, eventType, payload, createdAt, seq),
	}
}

func VerifyTicketEvents(events []TicketEvent) error {
	prevHash := ""
	for i, event := range events {
		if event.TicketSeq != i+1 || event.PrevHash != prevHash {
			return fmt.Errorf("%w at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		want := ComputeTicketEventHash(prevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if want != event.Hash {
			return fmt.Errorf("%w at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		prevHash = event.Hash
	}
	return nil
}

// RehydrateTicket rebuilds the latest ticket state from its history.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var snapshot models.Ticket
		if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
			return models.Ticket{}, err
		}
		if snapshot.TicketID == "" {
			continue
		}
		ticket = snapshot
	}
	return ticket, nil
}
