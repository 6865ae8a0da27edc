package store

import (
	"context"
	"time"

	"qms/internal/models"
)

// Store runs reads and atomic read-modify-write units against the document data.
// Update commits every write made through tx or none of them.
type Store interface {
	View(ctx context.Context, fn func(r Reader) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

type TicketQuery struct {
	QueueID  string
	Statuses []string
	// CalledFirst orders by called_at DESC, ticket_id ASC instead of call order.
	CalledFirst bool
	Limit       int
}

// TicketClaim stamps the ticket taken by ClaimNextTicket.
type TicketClaim struct {
	CounterID     string
	CounterName   string
	AttendantID   string
	AttendantName string
	CalledAt      time.Time
}

type WaitingStats struct {
	Waiting       int
	Priority      int
	OldestCreated *time.Time
}

// MetricsDelta is added to the (QueueID, Date) daily document. The attendant
// breakdown is touched when AttendantID is set.
type MetricsDelta struct {
	QueueID        string
	Date           string
	Emitted        int
	Served         int
	NoShow         int
	WaitSeconds    int64
	WaitCount      int
	ServiceSeconds int64
	ServiceCount   int
	RatingSum      int
	RatingCount    int
	AttendantID    string
	AttendantName  string
}

type Reader interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByIdentity(ctx context.Context, provider, subject string) (models.User, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)

	GetOrganization(ctx context.Context, organizationID string) (models.Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]models.Organization, error)
	GetMember(ctx context.Context, organizationID, userID string) (models.Member, error)
	ListMembers(ctx context.Context, organizationID string) ([]models.Member, error)

	GetQueue(ctx context.Context, queueID string) (models.Queue, error)
	ListQueues(ctx context.Context, organizationID string) ([]models.Queue, error)
	ListSLAQueues(ctx context.Context) ([]models.Queue, error)
	GetCategory(ctx context.Context, queueID, categoryID string) (models.ServiceCategory, error)
	ListCategories(ctx context.Context, queueID string) ([]models.ServiceCategory, error)

	GetCounter(ctx context.Context, queueID, counterID string) (models.Counter, error)
	ListCounters(ctx context.Context, queueID string) ([]models.Counter, error)

	GetTicket(ctx context.Context, queueID, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, query TicketQuery) ([]models.Ticket, error)
	GetWaitingStats(ctx context.Context, queueID string) (WaitingStats, error)
	CountAhead(ctx context.Context, ticket models.Ticket) (int, error)
	ListStaleCalling(ctx context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error)
	FindActionRequest(ctx context.Context, action, requestID string) (string, bool, error)
	ListTicketEvents(ctx context.Context, ticketID string) ([]TicketEvent, error)

	GetDailyMetrics(ctx context.Context, queueID, date string) (models.DailyQueueMetrics, error)
	ListDailyMetrics(ctx context.Context, queueID, fromDate, toDate string) ([]models.DailyQueueMetrics, error)

	// LatestAlert serializes callers per (queue, type) when used inside
	// Update, so a read followed by InsertAlert cannot race another writer.
	LatestAlert(ctx context.Context, queueID, alertType string) (models.SLAAlert, bool, error)
	ListAlerts(ctx context.Context, queueID string, limit int) ([]models.SLAAlert, error)

	ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]models.OutboxEvent, error)
	LatestOutboxSeq(ctx context.Context) (int64, error)
	GetOutboxOffset(ctx context.Context, consumer string) (int64, error)
}

type Tx interface {
	Reader

	CreateUser(ctx context.Context, user models.User) error
	LinkIdentity(ctx context.Context, provider, subject, userID string) error
	CreateSession(ctx context.Context, session models.Session) error
	DeleteSession(ctx context.Context, sessionID string) error

	CreateOrganization(ctx context.Context, org models.Organization) error
	UpsertMember(ctx context.Context, member models.Member) error
	DeleteMember(ctx context.Context, organizationID, userID string) error

	CreateQueue(ctx context.Context, queue models.Queue) error
	UpdateQueue(ctx context.Context, queue models.Queue) error
	CreateCategory(ctx context.Context, category models.ServiceCategory) error
	UpdateCategory(ctx context.Context, category models.ServiceCategory) error
	NextTicketNumber(ctx context.Context, categoryID, date string) (int, error)

	CreateCounter(ctx context.Context, counter models.Counter) error
	UpdateCounter(ctx context.Context, counter models.Counter) error
	DeleteCounter(ctx context.Context, queueID, counterID string) error
	ResetServedToday(ctx context.Context) (int64, error)

	InsertTicket(ctx context.Context, ticket models.Ticket) error
	// ClaimNextTicket moves the next waiting ticket of the queue to calling.
	// It returns ErrNoTicket when nothing is waiting.
	ClaimNextTicket(ctx context.Context, queueID string, claim TicketClaim) (models.Ticket, error)
	// UpdateTicket writes ticket only if the stored status still equals
	// fromStatus, otherwise it returns ErrConflict.
	UpdateTicket(ctx context.Context, ticket models.Ticket, fromStatus string) error
	InsertActionRequest(ctx context.Context, action, requestID, ticketID string) error

	AddDailyMetrics(ctx context.Context, delta MetricsDelta) error
	InsertAlert(ctx context.Context, alert models.SLAAlert) error

	// AppendEvent writes an outbox row and, for ticket events, the next link of
	// the ticket history.
	AppendEvent(ctx context.Context, event models.OutboxEvent) error
	SaveOutboxOffset(ctx context.Context, consumer string, seq int64) error
	// DeleteOutboxBefore drops events older than before whose seq is at most
	// maxSeq.
	DeleteOutboxBefore(ctx context.Context, before time.Time, maxSeq int64) (int64, error)
}
