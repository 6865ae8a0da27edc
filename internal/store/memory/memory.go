package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"qms/internal/models"
	"qms/internal/store"
)

// Store is an in-memory implementation of store.Store. Update works on a copy
// of the data set and swaps it in on success, so a failing unit leaves no
// partial writes. It is intended for tests and local development.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

var _ store.Store = (*Store)(nil)

type dailyDoc struct {
	metrics    models.DailyQueueMetrics
	attendants map[string]models.AttendantMetrics
}

type dataset struct {
	users        map[string]models.User
	usersByEmail map[string]string
	identities   map[string]string
	sessions     map[string]models.Session
	orgs         map[string]models.Organization
	members      map[string]models.Member
	queues       map[string]models.Queue
	categories   map[string]models.ServiceCategory
	sequences    map[string]int
	counters     map[string]models.Counter
	tickets      map[string]models.Ticket
	ticketOrder  map[string]int64
	nextOrder    int64
	actions      map[string]string
	metrics      map[string]dailyDoc
	alerts       []models.SLAAlert
	outbox       []models.OutboxEvent
	outboxSeq    int64
	offsets      map[string]int64
	events       map[string][]store.TicketEvent
}

func New() *Store {
	return &Store{data: &dataset{
		users:        make(map[string]models.User),
		usersByEmail: make(map[string]string),
		identities:   make(map[string]string),
		sessions:     make(map[string]models.Session),
		orgs:         make(map[string]models.Organization),
		members:      make(map[string]models.Member),
		queues:       make(map[string]models.Queue),
		categories:   make(map[string]models.ServiceCategory),
		sequences:    make(map[string]int),
		counters:     make(map[string]models.Counter),
		tickets:      make(map[string]models.Ticket),
		ticketOrder:  make(map[string]int64),
		actions:      make(map[string]string),
		metrics:      make(map[string]dailyDoc),
		offsets:      make(map[string]int64),
		events:       make(map[string][]store.TicketEvent),
	}}
}

func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{d: s.data})
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&txn{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Close() {}

func (d *dataset) clone() *dataset {
	out := &dataset{
		users:        maps.Clone(d.users),
		usersByEmail: maps.Clone(d.usersByEmail),
		identities:   maps.Clone(d.identities),
		sessions:     maps.Clone(d.sessions),
		orgs:         maps.Clone(d.orgs),
		members:      maps.Clone(d.members),
		queues:       maps.Clone(d.queues),
		categories:   maps.Clone(d.categories),
		sequences:    maps.Clone(d.sequences),
		counters:     maps.Clone(d.counters),
		tickets:      maps.Clone(d.tickets),
		ticketOrder:  maps.Clone(d.ticketOrder),
		nextOrder:    d.nextOrder,
		actions:      maps.Clone(d.actions),
		metrics:      make(map[string]dailyDoc, len(d.metrics)),
		alerts:       slices.Clone(d.alerts),
		outbox:       slices.Clone(d.outbox),
		outboxSeq:    d.outboxSeq,
		offsets:      maps.Clone(d.offsets),
		events:       maps.Clone(d.events),
	}
	for key, doc := range d.metrics {
		out.metrics[key] = dailyDoc{metrics: doc.metrics, attendants: maps.Clone(doc.attendants)}
	}
	return out
}

func key(parts ...string) string {
	return strings.Join(parts, "|")
}
