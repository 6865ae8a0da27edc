// Package realtime pushes live views of a queue to subscribers. Every view
// is re-read from the store when a change to it is announced, so a
// subscriber always receives a full snapshot.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"qms/internal/models"
	"qms/internal/queue"
	"qms/internal/store"
)

type View string

const (
	ViewWaiting  View = "waiting"
	ViewCounters View = "counters"
	ViewCalled   View = "called"
)

const DefaultRecentLimit = 5

func ParseView(raw string) (View, bool) {
	switch View(raw) {
	case ViewWaiting, ViewCounters, ViewCalled:
		return View(raw), true
	}
	return "", false
}

type Update struct {
	QueueID  string           `json:"queue_id"`
	View     View             `json:"view"`
	Tickets  []models.Ticket  `json:"tickets"`
	Counters []models.Counter `json:"counters"`
	Cue      *Cue             `json:"cue,omitempty"`
	At       time.Time        `json:"at"`
}

// Cue asks call screens to announce a ticket.
type Cue struct {
	TicketID     string `json:"ticket_id"`
	FullCode     string `json:"full_code"`
	CounterName  string `json:"counter_name"`
	RecallCount  int    `json:"recall_count"`
	Announcement string `json:"announcement"`
}

// Gauge tracks the number of open subscriptions.
type Gauge interface {
	Inc()
	Dec()
}

type Config struct {
	RecentLimit int
	Now         func() time.Time
	Logger      logrus.FieldLogger
	Subscribers Gauge
}

type subKey struct {
	queueID string
	view    View
}

type Service struct {
	store  store.Store
	recent int
	now    func() time.Time
	log    logrus.FieldLogger
	gauge  Gauge

	// loads orders view reads. An update is only delivered when it was read
	// after the last one its subscriber received.
	loads atomic.Uint64

	mu   sync.RWMutex
	subs map[subKey]map[string]*Subscription
}

func New(s store.Store, cfg Config) *Service {
	svc := &Service{
		store:  s,
		recent: cfg.RecentLimit,
		now:    cfg.Now,
		log:    cfg.Logger,
		gauge:  cfg.Subscribers,
		subs:   make(map[subKey]map[string]*Subscription),
	}
	if svc.recent <= 0 {
		svc.recent = DefaultRecentLimit
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	return svc
}

// Subscription is one push stream. Updates holds at most the latest
// undelivered snapshot; older ones are replaced.
type Subscription struct {
	id      string
	key     subKey
	updates chan Update
	svc     *Service
	stop    func() bool

	mu      sync.Mutex
	closed  bool
	lastSeq uint64
}

func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Close unsubscribes and closes the Updates channel. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.updates)
	s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
	s.svc.remove(s)
}

func (s *Subscription) deliver(update Update, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || seq <= s.lastSeq {
		return
	}
	s.lastSeq = seq
	select {
	case s.updates <- update:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- update:
	default:
	}
}

// Subscribe opens a view of the queue. The first update is the current
// snapshot. The subscription ends when ctx is done or Close is called.
// It is registered before the snapshot is read so no change is missed.
func (s *Service) Subscribe(ctx context.Context, queueID string, view View) (*Subscription, error) {
	if _, ok := ParseView(string(view)); !ok {
		return nil, fmt.Errorf("%w: unknown view %q", store.ErrInvalidInput, view)
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		key:     subKey{queueID: queueID, view: view},
		updates: make(chan Update, 1),
		svc:     s,
	}
	s.mu.Lock()
	set, ok := s.subs[sub.key]
	if !ok {
		set = make(map[string]*Subscription)
		s.subs[sub.key] = set
	}
	set[sub.id] = sub
	s.mu.Unlock()
	if s.gauge != nil {
		s.gauge.Inc()
	}

	snapshot, seq, err := s.load(ctx, queueID, view)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.deliver(snapshot, seq)
	sub.stop = context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

func (s *Service) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[sub.key]
	if !ok {
		return
	}
	if _, ok := set[sub.id]; !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(s.subs, sub.key)
	}
	if s.gauge != nil {
		s.gauge.Dec()
	}
}

func (s *Service) subscribers(key subKey) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.subs[key]
	out := make([]*Subscription, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// Notify refreshes every view the event touches. It is the realtime sink of
// the outbox relay.
func (s *Service) Notify(ctx context.Context, event models.OutboxEvent) error {
	for _, view := range affectedViews(event.Type) {
		key := subKey{queueID: event.QueueID, view: view}
		subs := s.subscribers(key)
		if len(subs) == 0 {
			continue
		}
		update, seq, err := s.load(ctx, event.QueueID, view)
		if err != nil {
			return fmt.Errorf("load %s view: %w", view, err)
		}
		if view == ViewCalled && (event.Type == models.EventTicketCalled || event.Type == models.EventTicketRecalled) {
			update.Cue = s.cue(ctx, event)
		}
		for _, sub := range subs {
			sub.deliver(update, seq)
		}
	}
	return nil
}

func (s *Service) Name() string {
	return "realtime"
}

func affectedViews(eventType string) []View {
	switch eventType {
	case models.EventTicketCreated:
		return []View{ViewWaiting}
	case models.EventTicketCalled:
		return []View{ViewWaiting, ViewCalled}
	case models.EventTicketRecalled, models.EventTicketServing, models.EventTicketFinished, models.EventTicketNoShow:
		return []View{ViewCalled}
	case models.EventCounterUpdated, models.EventCounterDeleted:
		return []View{ViewCounters}
	}
	return nil
}

func (s *Service) cue(ctx context.Context, event models.OutboxEvent) *Cue {
	var ticket models.Ticket
	if err := json.Unmarshal(event.Payload, &ticket); err != nil {
		s.log.WithError(err).WithField("event_id", event.EventID).Warn("decode called ticket")
		return nil
	}
	cue := &Cue{
		TicketID:    ticket.TicketID,
		FullCode:    ticket.FullCode,
		CounterName: ticket.CounterName,
		RecallCount: ticket.RecallCount,
	}
	err := s.store.View(ctx, func(r store.Reader) error {
		q, err := r.GetQueue(ctx, event.QueueID)
		if err != nil {
			return err
		}
		if q.Settings.VoiceEnabled {
			cue.Announcement = queue.RenderCall(q.Settings, ticket.FullCode, ticket.CounterName)
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("queue_id", event.QueueID).Warn("render call announcement")
	}
	return cue
}

func (s *Service) load(ctx context.Context, queueID string, view View) (Update, uint64, error) {
	seq := s.loads.Add(1)
	update := Update{QueueID: queueID, View: view, At: s.now().UTC()}
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := r.GetQueue(ctx, queueID); err != nil {
			return err
		}
		var err error
		switch view {
		case ViewWaiting:
			update.Tickets, err = r.ListTickets(ctx, store.TicketQuery{
				QueueID:  queueID,
				Statuses: []string{models.StatusWaiting},
			})
		case ViewCalled:
			update.Tickets, err = r.ListTickets(ctx, store.TicketQuery{
				QueueID:     queueID,
				Statuses:    []string{models.StatusCalling, models.StatusServing},
				CalledFirst: true,
				Limit:       s.recent,
			})
		case ViewCounters:
			update.Counters, err = r.ListCounters(ctx, queueID)
		}
		return err
	})
	if err != nil {
		return Update{}, 0, err
	}
	if update.Tickets == nil && view != ViewCounters {
		update.Tickets = []models.Ticket{}
	}
	if update.Counters == nil && view == ViewCounters {
		update.Counters = []models.Counter{}
	}
	return update, seq, nil
}
