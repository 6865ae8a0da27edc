package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"qms/internal/models"
	"qms/internal/outbox"
	"qms/internal/store"
	"qms/internal/store/memory"
)

var start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type countingGauge struct{ n int64 }

func (g *countingGauge) Inc() { atomic.AddInt64(&g.n, 1) }
func (g *countingGauge) Dec() { atomic.AddInt64(&g.n, -1) }

func setup(t *testing.T) (*memory.Store, *Service, *countingGauge) {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	settings := models.DefaultQueueSettings()
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.CreateQueue(ctx, models.Queue{QueueID: "q1", OrganizationID: "org1", Name: "Main", Settings: settings})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	gauge := &countingGauge{}
	svc := New(st, Config{RecentLimit: 2, Now: func() time.Time { return start }, Logger: log, Subscribers: gauge})
	return st, svc, gauge
}

func insert(t *testing.T, st *memory.Store, tickets ...models.Ticket) {
	t.Helper()
	ctx := context.Background()
	err := st.Update(ctx, func(tx store.Tx) error {
		for _, ticket := range tickets {
			if err := tx.InsertTicket(ctx, ticket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func receive(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case update, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return update
	case <-time.After(time.Second):
		t.Fatalf("no update")
	}
	return Update{}
}

func event(t *testing.T, eventType string, ticket models.Ticket) models.OutboxEvent {
	t.Helper()
	e, err := outbox.NewEvent("org1", "q1", ticket.TicketID, eventType, ticket, start)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return e
}

func TestSubscribeSendsSnapshotThenUpdates(t *testing.T) {
	st, svc, gauge := setup(t)
	ctx := context.Background()

	sub, err := svc.Subscribe(ctx, "q1", ViewWaiting)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first := receive(t, sub)
	if first.View != ViewWaiting || first.Tickets == nil || len(first.Tickets) != 0 {
		t.Fatalf("unexpected snapshot: %+v", first)
	}
	if atomic.LoadInt64(&gauge.n) != 1 {
		t.Fatalf("gauge = %d", gauge.n)
	}

	waiting := models.Ticket{TicketID: "t1", QueueID: "q1", FullCode: "A-001", Status: models.StatusWaiting, CreatedAt: start}
	insert(t, st, waiting)
	if err := svc.Notify(ctx, event(t, models.EventTicketCreated, waiting)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	update := receive(t, sub)
	if len(update.Tickets) != 1 || update.Tickets[0].FullCode != "A-001" {
		t.Fatalf("unexpected update: %+v", update)
	}

	if err := svc.Notify(ctx, event(t, models.EventCounterUpdated, models.Ticket{})); err != nil {
		t.Fatalf("notify: %v", err)
	}
	select {
	case extra := <-sub.Updates():
		t.Fatalf("counter change must not touch the waiting view: %+v", extra)
	default:
	}

	sub.Close()
	sub.Close()
	if _, ok := <-sub.Updates(); ok {
		t.Fatalf("updates channel must be closed")
	}
	if atomic.LoadInt64(&gauge.n) != 0 {
		t.Fatalf("gauge = %d after close", gauge.n)
	}
}

func TestSubscribeEndsWithContext(t *testing.T) {
	_, svc, gauge := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := svc.Subscribe(ctx, "q1", ViewCounters)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if update := receive(t, sub); update.Counters == nil {
		t.Fatalf("counters view must carry an empty list")
	}
	cancel()
	deadline := time.After(time.Second)
	for atomic.LoadInt64(&gauge.n) != 0 {
		select {
		case <-deadline:
			t.Fatalf("subscription outlived its context")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSubscribeRejectsUnknownQueueOrView(t *testing.T) {
	_, svc, _ := setup(t)
	ctx := context.Background()
	if _, err := svc.Subscribe(ctx, "missing", ViewWaiting); !errors.Is(err, store.ErrQueueNotFound) {
		t.Fatalf("expected queue not found, got %v", err)
	}
	if _, err := svc.Subscribe(ctx, "q1", View("board")); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid view, got %v", err)
	}
}

func TestCalledViewOrderAndCue(t *testing.T) {
	st, svc, _ := setup(t)
	ctx := context.Background()

	at := func(d time.Duration) *time.Time {
		v := start.Add(d)
		return &v
	}
	insert(t, st,
		models.Ticket{TicketID: "t-b", QueueID: "q1", FullCode: "A-002", Status: models.StatusCalling, CalledAt: at(time.Minute)},
		models.Ticket{TicketID: "t-a", QueueID: "q1", FullCode: "A-001", Status: models.StatusServing, CalledAt: at(time.Minute)},
		models.Ticket{TicketID: "t-c", QueueID: "q1", FullCode: "A-003", Status: models.StatusCalling, CalledAt: at(2 * time.Minute), CounterName: "Desk 1"},
		models.Ticket{TicketID: "t-w", QueueID: "q1", FullCode: "A-004", Status: models.StatusWaiting},
	)

	sub, err := svc.Subscribe(ctx, "q1", ViewCalled)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	snapshot := receive(t, sub)
	if len(snapshot.Tickets) != 2 || snapshot.Tickets[0].TicketID != "t-c" || snapshot.Tickets[1].TicketID != "t-a" {
		t.Fatalf("unexpected called order: %+v", snapshot.Tickets)
	}

	called := models.Ticket{TicketID: "t-c", QueueID: "q1", FullCode: "A-003", CounterName: "Desk 1", Status: models.StatusCalling}
	if err := svc.Notify(ctx, event(t, models.EventTicketCalled, called)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	update := receive(t, sub)
	if update.Cue == nil || update.Cue.Announcement != "Ticket A-003, please proceed to Desk 1" {
		t.Fatalf("unexpected cue: %+v", update.Cue)
	}
}

func TestCalledViewExcludesClosedTickets(t *testing.T) {
	st, svc, _ := setup(t)
	ctx := context.Background()

	at := func(d time.Duration) *time.Time {
		v := start.Add(d)
		return &v
	}
	insert(t, st,
		models.Ticket{TicketID: "t-f", QueueID: "q1", FullCode: "A-001", Status: models.StatusFinished, CalledAt: at(3 * time.Minute)},
		models.Ticket{TicketID: "t-n", QueueID: "q1", FullCode: "A-002", Status: models.StatusNoShow, CalledAt: at(2 * time.Minute)},
		models.Ticket{TicketID: "t-s", QueueID: "q1", FullCode: "A-003", Status: models.StatusServing, CalledAt: at(time.Minute)},
	)

	sub, err := svc.Subscribe(ctx, "q1", ViewCalled)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	snapshot := receive(t, sub)
	if len(snapshot.Tickets) != 1 || snapshot.Tickets[0].TicketID != "t-s" {
		t.Fatalf("expected only the serving ticket, got %+v", snapshot.Tickets)
	}

	finished := models.Ticket{TicketID: "t-s", QueueID: "q1", FullCode: "A-003", Status: models.StatusFinished, CalledAt: at(time.Minute)}
	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateTicket(ctx, finished, models.StatusServing)
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := svc.Notify(ctx, event(t, models.EventTicketFinished, finished)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	update := receive(t, sub)
	if len(update.Tickets) != 0 {
		t.Fatalf("finished ticket must leave the called view, got %+v", update.Tickets)
	}
}

// afterViewStore runs hook once, right after the first read completes.
type afterViewStore struct {
	*memory.Store
	fired atomic.Bool
	hook  func()
}

func (s *afterViewStore) View(ctx context.Context, fn func(store.Reader) error) error {
	err := s.Store.View(ctx, fn)
	if s.fired.CompareAndSwap(false, true) {
		s.hook()
	}
	return err
}

func TestSubscribeKeepsChangeMadeDuringSnapshot(t *testing.T) {
	st, base, _ := setup(t)
	ctx := context.Background()

	wrapped := &afterViewStore{Store: st}
	svc := New(wrapped, Config{RecentLimit: 2, Now: base.now, Logger: base.log})
	wrapped.hook = func() {
		waiting := models.Ticket{TicketID: "t1", QueueID: "q1", FullCode: "A-001", Status: models.StatusWaiting, CreatedAt: start}
		insert(t, st, waiting)
		if err := svc.Notify(ctx, event(t, models.EventTicketCreated, waiting)); err != nil {
			t.Errorf("notify: %v", err)
		}
	}

	sub, err := svc.Subscribe(ctx, "q1", ViewWaiting)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	update := receive(t, sub)
	if len(update.Tickets) != 1 || update.Tickets[0].TicketID != "t1" {
		t.Fatalf("expected the ticket created during the snapshot, got %+v", update.Tickets)
	}
	select {
	case stale := <-sub.Updates():
		t.Fatalf("stale snapshot delivered after newer update: %+v", stale)
	default:
	}
}

func TestClientMultiplexesViews(t *testing.T) {
	st, svc, gauge := setup(t)
	client := svc.NewClient(context.Background())

	for _, raw := range []string{
		`{"action":"subscribe","queue_id":"q1","view":"waiting"}`,
		`{"action":"subscribe","queue_id":"q1","view":"counters"}`,
		`{"action":"subscribe","queue_id":"q1","view":"waiting"}`,
	} {
		msg, ok := ParseSubscribe([]byte(raw))
		if !ok {
			t.Fatalf("parse %s", raw)
		}
		if err := client.Handle(msg); err != nil {
			t.Fatalf("handle %s: %v", raw, err)
		}
	}
	if atomic.LoadInt64(&gauge.n) != 2 {
		t.Fatalf("duplicate subscribe must be ignored, gauge = %d", gauge.n)
	}

	views := map[View]bool{}
	for i := 0; i < 2; i++ {
		var update Update
		if err := json.Unmarshal(<-client.Send, &update); err != nil {
			t.Fatalf("decode: %v", err)
		}
		views[update.View] = true
	}
	if !views[ViewWaiting] || !views[ViewCounters] {
		t.Fatalf("views = %v", views)
	}

	if err := client.Handle(SubscribeMessage{Action: "unsubscribe", QueueID: "q1", View: "counters"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if atomic.LoadInt64(&gauge.n) != 1 {
		t.Fatalf("gauge = %d after unsubscribe", gauge.n)
	}

	waiting := models.Ticket{TicketID: "t1", QueueID: "q1", Status: models.StatusWaiting, CreatedAt: start}
	insert(t, st, waiting)
	if err := svc.Notify(context.Background(), event(t, models.EventTicketCreated, waiting)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	var update Update
	if err := json.Unmarshal(<-client.Send, &update); err != nil || len(update.Tickets) != 1 {
		t.Fatalf("update: %+v %v", update, err)
	}

	if err := client.Handle(SubscribeMessage{Action: "subscribe", QueueID: "q1", View: "nope"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid view, got %v", err)
	}
	client.Close()
	if _, ok := <-client.Send; ok {
		t.Fatalf("send channel must be closed")
	}
	if atomic.LoadInt64(&gauge.n) != 0 {
		t.Fatalf("gauge = %d after client close", gauge.n)
	}
}

func TestParseSubscribe(t *testing.T) {
	for _, raw := range []string{`nope`, `{"action":"publish"}`} {
		if _, ok := ParseSubscribe([]byte(raw)); ok {
			t.Fatalf("%s must not parse", raw)
		}
	}
}
