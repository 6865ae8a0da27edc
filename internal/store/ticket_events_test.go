package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"qms/internal/models"
)

func TestTicketEventChain(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	waiting, _ := json.Marshal(models.Ticket{TicketID: "t1", Status: models.StatusWaiting, FullCode: "A-001"})
	calling, _ := json.Marshal(models.Ticket{TicketID: "t1", Status: models.StatusCalling, FullCode: "A-001", RecallCount: 0})

	first := NextTicketEvent(nil, "t1", models.EventTicketCreated, waiting, now)
	second := NextTicketEvent(&first, "t1", models.EventTicketCalled, calling, now.Add(time.Minute))
	if first.TicketSeq != 1 || second.TicketSeq != 2 {
		t.Fatalf("unexpected seqs %d %d", first.TicketSeq, second.TicketSeq)
	}
	if second.PrevHash != first.Hash {
		t.Fatalf("chain not linked")
	}

	events := []TicketEvent{first, second}
	if err := VerifyTicketEvents(events); err != nil {
		t.Fatalf("verify: %v", err)
	}

	ticket, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if ticket.Status != models.StatusCalling {
		t.Fatalf("expected calling, got %s", ticket.Status)
	}

	events[0].Payload = json.RawMessage(`{"ticket_id":"t1","status":"finished"}`)
	if err := VerifyTicketEvents(events); !errors.Is(err, ErrBrokenChain) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}
