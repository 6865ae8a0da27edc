package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"qms/internal/database"
	"qms/internal/models"
	"qms/internal/sla"
	"qms/internal/store"
)

func TestClaimNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, category := seedQueue(t, ctx, st)

	base := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)
	insertTicket(t, ctx, st, queue, category, 1, false, base)
	insertTicket(t, ctx, st, queue, category, 2, false, base.Add(time.Second))

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for _, counterID := range []string{uuid.NewString(), uuid.NewString()} {
		wg.Add(1)
		go func(counterID string) {
			defer wg.Done()
			var claimed models.Ticket
			err := st.Update(ctx, func(tx store.Tx) error {
				var err error
				claimed, err = tx.ClaimNextTicket(ctx, queue.QueueID, store.TicketClaim{
					CounterID: counterID,
					CalledAt:  time.Now().UTC(),
				})
				return err
			})
			results <- callResult{ticketID: claimed.TicketID, err: err}
		}(counterID)
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("claim next error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct tickets, got %s", ids[0])
	}

	err := st.Update(ctx, func(tx store.Tx) error {
		_, err := tx.ClaimNextTicket(ctx, queue.QueueID, store.TicketClaim{CounterID: "c", CalledAt: time.Now()})
		return err
	})
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket on empty queue, got %v", err)
	}
}

func TestClaimOrderPriorityFirst(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, category := seedQueue(t, ctx, st)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	regular := insertTicket(t, ctx, st, queue, category, 1, false, base)
	priority := insertTicket(t, ctx, st, queue, category, 2, true, base.Add(time.Minute))

	var ahead int
	err := st.View(ctx, func(r store.Reader) error {
		var err error
		ahead, err = r.CountAhead(ctx, regular)
		return err
	})
	if err != nil {
		t.Fatalf("count ahead: %v", err)
	}
	if ahead != 1 {
		t.Fatalf("expected 1 ticket ahead of the regular one, got %d", ahead)
	}

	var claimed models.Ticket
	err = st.Update(ctx, func(tx store.Tx) error {
		var err error
		claimed, err = tx.ClaimNextTicket(ctx, queue.QueueID, store.TicketClaim{CounterID: "c1", CalledAt: base.Add(2 * time.Minute)})
		return err
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.TicketID != priority.TicketID {
		t.Fatalf("expected priority ticket first, got %s", claimed.FullCode)
	}
	if claimed.WaitTimeSeconds == nil || *claimed.WaitTimeSeconds != 60 {
		t.Fatalf("expected wait of 60s, got %v", claimed.WaitTimeSeconds)
	}
}

func TestUpdateTicketConflict(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, category := seedQueue(t, ctx, st)
	ticket := insertTicket(t, ctx, st, queue, category, 1, false, time.Now().UTC())

	ticket.Status = models.StatusNoShow
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateTicket(ctx, ticket, models.StatusCalling)
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	missing := ticket
	missing.TicketID = uuid.NewString()
	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateTicket(ctx, missing, models.StatusWaiting)
	})
	if !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDuplicatePrefix(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	_, category := seedQueue(t, ctx, st)

	dup := category
	dup.CategoryID = uuid.NewString()
	err := st.Update(ctx, func(tx store.Tx) error {
		return tx.CreateCategory(ctx, dup)
	})
	if !errors.Is(err, store.ErrDuplicatePrefix) {
		t.Fatalf("expected duplicate prefix, got %v", err)
	}
}

func TestTicketNumbersPerDay(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	_, category := seedQueue(t, ctx, st)

	var got []int
	for _, day := range []string{"2024-05-01", "2024-05-01", "2024-05-02"} {
		err := st.Update(ctx, func(tx store.Tx) error {
			n, err := tx.NextTicketNumber(ctx, category.CategoryID, day)
			got = append(got, n)
			return err
		})
		if err != nil {
			t.Fatalf("next number: %v", err)
		}
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("unexpected sequence %v", got)
	}
}

func TestDailyMetricsAccumulate(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, _ := seedQueue(t, ctx, st)

	deltas := []store.MetricsDelta{
		{QueueID: queue.QueueID, Date: "2024-05-01", Emitted: 1},
		{QueueID: queue.QueueID, Date: "2024-05-01", Served: 1, WaitSeconds: 30, WaitCount: 1, ServiceSeconds: 90, ServiceCount: 1, AttendantID: "u1", AttendantName: "Ana"},
		{QueueID: queue.QueueID, Date: "2024-05-01", RatingSum: 4, RatingCount: 1},
	}
	for _, delta := range deltas {
		if err := st.Update(ctx, func(tx store.Tx) error { return tx.AddDailyMetrics(ctx, delta) }); err != nil {
			t.Fatalf("add metrics: %v", err)
		}
	}

	var m models.DailyQueueMetrics
	err := st.View(ctx, func(r store.Reader) error {
		var err error
		m, err = r.GetDailyMetrics(ctx, queue.QueueID, "2024-05-01")
		return err
	})
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if m.Emitted != 1 || m.Served != 1 || m.TotalWaitSeconds != 30 || m.RatingSum != 4 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if len(m.Attendants) != 1 || m.Attendants[0].AttendantName != "Ana" || m.Attendants[0].TotalServiceSeconds != 90 {
		t.Fatalf("unexpected attendant metrics %+v", m.Attendants)
	}
}

func TestAppendEventChainsHistory(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, category := seedQueue(t, ctx, st)
	ticket := insertTicket(t, ctx, st, queue, category, 1, false, time.Now().UTC())

	for _, eventType := range []string{models.EventTicketCreated, models.EventTicketCalled} {
		payload, _ := json.Marshal(ticket)
		event := models.OutboxEvent{
			EventID:        uuid.NewString(),
			OrganizationID: queue.OrganizationID,
			QueueID:        queue.QueueID,
			TicketID:       ticket.TicketID,
			Type:           eventType,
			Payload:        payload,
			CreatedAt:      time.Now(),
		}
		if err := st.Update(ctx, func(tx store.Tx) error { return tx.AppendEvent(ctx, event) }); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	var events []store.TicketEvent
	var outbox []models.OutboxEvent
	err := st.View(ctx, func(r store.Reader) error {
		var err error
		if events, err = r.ListTicketEvents(ctx, ticket.TicketID); err != nil {
			return err
		}
		outbox, err = r.ListOutboxEvents(ctx, 0, 10)
		return err
	})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 || len(outbox) != 2 {
		t.Fatalf("expected 2 events, got %d history and %d outbox", len(events), len(outbox))
	}
	if err := store.VerifyTicketEvents(events); err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if outbox[0].Seq >= outbox[1].Seq {
		t.Fatalf("expected increasing seq, got %d then %d", outbox[0].Seq, outbox[1].Seq)
	}
}

func TestEvaluateConcurrentRaisesOneAlert(t *testing.T) {
	ctx := context.Background()
	st := setupTestStore(t, ctx)
	queue, category := seedQueue(t, ctx, st)

	queue.Settings.SLAEnabled = true
	queue.Settings.SLAMaxQueueSize = 1
	if err := st.Update(ctx, func(tx store.Tx) error {
		return tx.UpdateQueue(ctx, queue)
	}); err != nil {
		t.Fatalf("update queue: %v", err)
	}
	base := time.Now().UTC().Add(-time.Minute)
	insertTicket(t, ctx, st, queue, category, 1, false, base)
	insertTicket(t, ctx, st, queue, category, 2, false, base.Add(time.Second))

	svc := sla.New(st, time.Hour, nil, nil)
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Evaluate(ctx, queue.QueueID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}

	var alerts []models.SLAAlert
	err := st.View(ctx, func(r store.Reader) error {
		var err error
		alerts, err = r.ListAlerts(ctx, queue.QueueID, 0)
		return err
	})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != models.AlertQueueSize {
		t.Fatalf("expected a single queue size alert, got %+v", alerts)
	}
}

type callResult struct {
	ticketID string
	err      error
}

func seedQueue(t *testing.T, ctx context.Context, st *Store) (models.Queue, models.ServiceCategory) {
	t.Helper()
	now := time.Now().UTC()
	org := models.Organization{OrganizationID: uuid.NewString(), Name: "Clinic", CreatedAt: now}
	queue := models.Queue{
		QueueID:        uuid.NewString(),
		OrganizationID: org.OrganizationID,
		Name:           "Front desk",
		Settings:       models.DefaultQueueSettings(),
		Totem:          models.TotemSettings{Title: "Front desk", AllowPriority: true},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	category := models.ServiceCategory{
		CategoryID: uuid.NewString(),
		QueueID:    queue.QueueID,
		Name:       "General",
		Prefix:     "A",
		Active:     true,
		CreatedAt:  now,
	}
	err := st.Update(ctx, func(tx store.Tx) error {
		if err := tx.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := tx.CreateQueue(ctx, queue); err != nil {
			return err
		}
		return tx.CreateCategory(ctx, category)
	})
	if err != nil {
		t.Fatalf("seed queue: %v", err)
	}
	return queue, category
}

func insertTicket(t *testing.T, ctx context.Context, st *Store, queue models.Queue, category models.ServiceCategory, number int, priority bool, createdAt time.Time) models.Ticket {
	t.Helper()
	ticket := models.Ticket{
		TicketID:       uuid.NewString(),
		QueueID:        queue.QueueID,
		OrganizationID: queue.OrganizationID,
		CategoryID:     category.CategoryID,
		CategoryName:   category.Name,
		Number:         number,
		FullCode:       fmt.Sprintf("%s-%03d", category.Prefix, number),
		IsPriority:     priority,
		Status:         models.StatusWaiting,
		CreatedAt:      createdAt,
	}
	if err := st.Update(ctx, func(tx store.Tx) error { return tx.InsertTicket(ctx, ticket) }); err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	return ticket
}

func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	})
	return NewStore(pool)
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := database.UpSQL()
	if err != nil {
		return err
	}
	for _, content := range files {
		if _, err := pool.Exec(ctx, content); err != nil {
			return err
		}
	}
	return nil
}
