package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"qms/internal/models"
	"qms/internal/store"
	"qms/internal/store/memory"
)

type recordingSink struct {
	seen []int64
	fail map[int64]int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(_ context.Context, event models.OutboxEvent) error {
	if s.fail[event.Seq] > 0 {
		s.fail[event.Seq]--
		return errors.New("sink unavailable")
	}
	s.seen = append(s.seen, event.Seq)
	return nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func appendEvents(t *testing.T, st store.Store, createdAt time.Time, n int) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		for i := 0; i < n; i++ {
			if err := Append(ctx, tx, "org1", "q1", "", models.EventQueueUpdated, map[string]int{"n": i}, createdAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRelayPersistsOffset(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	appendEvents(t, st, time.Now(), 3)

	sink := &recordingSink{}
	relay := NewRelay(st, RelayConfig{Consumer: "publish", BatchSize: 2, Logger: quietLogger()}, sink)
	if n, err := relay.Poll(ctx); err != nil || n != 2 {
		t.Fatalf("first poll: n=%d err=%v", n, err)
	}
	if n, err := relay.Poll(ctx); err != nil || n != 1 {
		t.Fatalf("second poll: n=%d err=%v", n, err)
	}
	if len(sink.seen) != 3 || sink.seen[2] != 3 {
		t.Fatalf("seen = %v", sink.seen)
	}

	restarted := NewRelay(st, RelayConfig{Consumer: "publish", Logger: quietLogger()}, sink)
	if n, err := restarted.Poll(ctx); err != nil || n != 0 {
		t.Fatalf("restarted relay must resume at the saved offset: n=%d err=%v", n, err)
	}
	if restarted.Offset() != 3 {
		t.Fatalf("offset = %d", restarted.Offset())
	}
}

func TestRelayRetriesFailedEvent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	appendEvents(t, st, time.Now(), 3)

	sink := &recordingSink{fail: map[int64]int{2: 1}}
	relay := NewRelay(st, RelayConfig{Consumer: "publish", Logger: quietLogger()}, sink)
	n, err := relay.Poll(ctx)
	if err == nil || n != 1 {
		t.Fatalf("expected a partial batch, n=%d err=%v", n, err)
	}
	if relay.Offset() != 1 {
		t.Fatalf("offset = %d, want 1", relay.Offset())
	}
	if n, err := relay.Poll(ctx); err != nil || n != 2 {
		t.Fatalf("retry: n=%d err=%v", n, err)
	}
	want := []int64{1, 2, 3}
	for i, seq := range want {
		if sink.seen[i] != seq {
			t.Fatalf("seen = %v, want %v", sink.seen, want)
		}
	}
}

func TestTailRelaySkipsBacklog(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	appendEvents(t, st, time.Now(), 2)

	sink := &recordingSink{}
	relay := NewRelay(st, RelayConfig{Logger: quietLogger()}, sink)
	if n, err := relay.Poll(ctx); err != nil || n != 0 {
		t.Fatalf("tail relay delivered the backlog: n=%d err=%v", n, err)
	}
	appendEvents(t, st, time.Now(), 1)
	if n, err := relay.Poll(ctx); err != nil || n != 1 || sink.seen[0] != 3 {
		t.Fatalf("tail relay: n=%d err=%v seen=%v", n, err, sink.seen)
	}
}

func TestCleanupKeepsUndeliveredEvents(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	appendEvents(t, st, now.Add(-48*time.Hour), 4)

	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.SaveOutboxOffset(ctx, "publish", 2)
	})
	if err != nil {
		t.Fatalf("save offset: %v", err)
	}

	removed, err := Cleanup(ctx, st, 24*time.Hour, now, "publish")
	if err != nil || removed != 2 {
		t.Fatalf("cleanup: removed=%d err=%v", removed, err)
	}
	var left []models.OutboxEvent
	err = st.View(ctx, func(r store.Reader) error {
		var err error
		left, err = r.ListOutboxEvents(ctx, 0, 0)
		return err
	})
	if err != nil || len(left) != 2 || left[0].Seq != 3 {
		t.Fatalf("remaining events: %v %v", left, err)
	}

	removed, err = Cleanup(ctx, st, 72*time.Hour, now)
	if err != nil || removed != 0 {
		t.Fatalf("recent events must stay: removed=%d err=%v", removed, err)
	}
}

func TestNewEventEncodesPayload(t *testing.T) {
	event, err := NewEvent("org1", "q1", "t1", models.EventTicketCreated, map[string]string{"full_code": "A-001"}, time.Now())
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if event.EventID == "" || string(event.Payload) != `{"full_code":"A-001"}` || event.TicketID != "t1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if _, err := NewEvent("org1", "q1", "", models.EventQueueUpdated, make(chan int), time.Now()); err == nil {
		t.Fatalf("expected an encoding error")
	}
}
