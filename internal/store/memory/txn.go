package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"qms/internal/models"
	"qms/internal/store"
)

type txn struct {
	d *dataset
}

var _ store.Tx = (*txn)(nil)

func (t *txn) GetUser(_ context.Context, userID string) (models.User, error) {
	user, ok := t.d.users[userID]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (t *txn) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	userID, ok := t.d.usersByEmail[strings.ToLower(email)]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return t.GetUser(ctx, userID)
}

func (t *txn) GetUserByIdentity(ctx context.Context, provider, subject string) (models.User, error) {
	userID, ok := t.d.identities[key(provider, subject)]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return t.GetUser(ctx, userID)
}

func (t *txn) GetSession(_ context.Context, sessionID string) (models.Session, error) {
	session, ok := t.d.sessions[sessionID]
	if !ok {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (t *txn) GetOrganization(_ context.Context, organizationID string) (models.Organization, error) {
	org, ok := t.d.orgs[organizationID]
	if !ok {
		return models.Organization{}, store.ErrOrganizationNotFound
	}
	return org, nil
}

func (t *txn) ListOrganizationsForUser(_ context.Context, userID string) ([]models.Organization, error) {
	var out []models.Organization
	for _, member := range t.d.members {
		if member.UserID != userID {
			continue
		}
		org, ok := t.d.orgs[member.OrganizationID]
		if !ok {
			continue
		}
		org.Role = member.Role
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].OrganizationID < out[j].OrganizationID
	})
	return out, nil
}

func (t *txn) GetMember(_ context.Context, organizationID, userID string) (models.Member, error) {
	member, ok := t.d.members[key(organizationID, userID)]
	if !ok {
		return models.Member{}, store.ErrMemberNotFound
	}
	if user, ok := t.d.users[userID]; ok {
		member.Email = user.Email
		member.DisplayName = user.DisplayName
	}
	return member, nil
}

func (t *txn) ListMembers(_ context.Context, organizationID string) ([]models.Member, error) {
	var out []models.Member
	for _, member := range t.d.members {
		if member.OrganizationID != organizationID {
			continue
		}
		if user, ok := t.d.users[member.UserID]; ok {
			member.Email = user.Email
			member.DisplayName = user.DisplayName
		}
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (t *txn) GetQueue(_ context.Context, queueID string) (models.Queue, error) {
	queue, ok := t.d.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, nil
}

func (t *txn) ListQueues(_ context.Context, organizationID string) ([]models.Queue, error) {
	var out []models.Queue
	for _, queue := range t.d.queues {
		if queue.OrganizationID == organizationID {
			out = append(out, queue)
		}
	}
	sortQueues(out)
	return out, nil
}

func (t *txn) ListSLAQueues(_ context.Context) ([]models.Queue, error) {
	var out []models.Queue
	for _, queue := range t.d.queues {
		if queue.Settings.SLAEnabled {
			out = append(out, queue)
		}
	}
	sortQueues(out)
	return out, nil
}

func sortQueues(queues []models.Queue) {
	sort.Slice(queues, func(i, j int) bool {
		if queues[i].Name != queues[j].Name {
			return queues[i].Name < queues[j].Name
		}
		return queues[i].QueueID < queues[j].QueueID
	})
}

func (t *txn) GetCategory(_ context.Context, queueID, categoryID string) (models.ServiceCategory, error) {
	category, ok := t.d.categories[categoryID]
	if !ok || category.QueueID != queueID {
		return models.ServiceCategory{}, store.ErrCategoryNotFound
	}
	return category, nil
}

func (t *txn) ListCategories(_ context.Context, queueID string) ([]models.ServiceCategory, error) {
	var out []models.ServiceCategory
	for _, category := range t.d.categories {
		if category.QueueID == queueID {
			out = append(out, category)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out, nil
}

func (t *txn) GetCounter(_ context.Context, queueID, counterID string) (models.Counter, error) {
	counter, ok := t.d.counters[counterID]
	if !ok || counter.QueueID != queueID {
		return models.Counter{}, store.ErrCounterNotFound
	}
	return counter, nil
}

func (t *txn) ListCounters(_ context.Context, queueID string) ([]models.Counter, error) {
	var out []models.Counter
	for _, counter := range t.d.counters {
		if counter.QueueID == queueID {
			out = append(out, counter)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].CounterID < out[j].CounterID
	})
	return out, nil
}

func (t *txn) GetTicket(_ context.Context, queueID, ticketID string) (models.Ticket, error) {
	ticket, ok := t.d.tickets[ticketID]
	if !ok || ticket.QueueID != queueID {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (t *txn) ListTickets(_ context.Context, query store.TicketQuery) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, ticket := range t.d.tickets {
		if ticket.QueueID != query.QueueID {
			continue
		}
		if len(query.Statuses) > 0 && !slices.Contains(query.Statuses, ticket.Status) {
			continue
		}
		out = append(out, ticket)
	}
	if query.CalledFirst {
		sort.Slice(out, func(i, j int) bool { return calledOrderLess(out[i], out[j]) })
	} else {
		sort.Slice(out, func(i, j int) bool { return t.callOrderLess(out[i], out[j]) })
	}
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (t *txn) GetWaitingStats(_ context.Context, queueID string) (store.WaitingStats, error) {
	var stats store.WaitingStats
	for _, ticket := range t.d.tickets {
		if ticket.QueueID != queueID || ticket.Status != models.StatusWaiting {
			continue
		}
		stats.Waiting++
		if ticket.IsPriority {
			stats.Priority++
		}
		if stats.OldestCreated == nil || ticket.CreatedAt.Before(*stats.OldestCreated) {
			created := ticket.CreatedAt
			stats.OldestCreated = &created
		}
	}
	return stats, nil
}

func (t *txn) CountAhead(_ context.Context, ticket models.Ticket) (int, error) {
	if ticket.Status != models.StatusWaiting {
		return 0, nil
	}
	ahead := 0
	for _, other := range t.d.tickets {
		if other.QueueID != ticket.QueueID || other.Status != models.StatusWaiting || other.TicketID == ticket.TicketID {
			continue
		}
		if t.callOrderLess(other, ticket) {
			ahead++
		}
	}
	return ahead, nil
}

func (t *txn) ListStaleCalling(_ context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error) {
	var out []models.Ticket
	for _, ticket := range t.d.tickets {
		if ticket.Status == models.StatusCalling && ticket.CalledAt != nil && ticket.CalledAt.Before(calledBefore) {
			out = append(out, ticket)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CalledAt.Before(*out[j].CalledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) FindActionRequest(_ context.Context, action, requestID string) (string, bool, error) {
	ticketID, ok := t.d.actions[key(action, requestID)]
	return ticketID, ok, nil
}

func (t *txn) ListTicketEvents(_ context.Context, ticketID string) ([]store.TicketEvent, error) {
	return slices.Clone(t.d.events[ticketID]), nil
}

func (t *txn) GetDailyMetrics(_ context.Context, queueID, date string) (models.DailyQueueMetrics, error) {
	doc, ok := t.d.metrics[key(queueID, date)]
	if !ok {
		return models.DailyQueueMetrics{QueueID: queueID, Date: date, Attendants: []models.AttendantMetrics{}}, nil
	}
	return doc.export(), nil
}

func (t *txn) ListDailyMetrics(_ context.Context, queueID, fromDate, toDate string) ([]models.DailyQueueMetrics, error) {
	var out []models.DailyQueueMetrics
	for _, doc := range t.d.metrics {
		m := doc.metrics
		if m.QueueID != queueID || m.Date < fromDate || m.Date > toDate {
			continue
		}
		out = append(out, doc.export())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (doc dailyDoc) export() models.DailyQueueMetrics {
	m := doc.metrics
	m.Attendants = make([]models.AttendantMetrics, 0, len(doc.attendants))
	for _, attendant := range doc.attendants {
		m.Attendants = append(m.Attendants, attendant)
	}
	sort.Slice(m.Attendants, func(i, j int) bool { return m.Attendants[i].AttendantID < m.Attendants[j].AttendantID })
	return m
}

func (t *txn) LatestAlert(_ context.Context, queueID, alertType string) (models.SLAAlert, bool, error) {
	var latest models.SLAAlert
	found := false
	for _, alert := range t.d.alerts {
		if alert.QueueID != queueID || alert.Type != alertType {
			continue
		}
		if !found || alert.CreatedAt.After(latest.CreatedAt) {
			latest = alert
			found = true
		}
	}
	return latest, found, nil
}

func (t *txn) ListAlerts(_ context.Context, queueID string, limit int) ([]models.SLAAlert, error) {
	var out []models.SLAAlert
	for _, alert := range t.d.alerts {
		if alert.QueueID == queueID {
			out = append(out, alert)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *txn) ListOutboxEvents(_ context.Context, afterSeq int64, limit int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	for _, event := range t.d.outbox {
		if event.Seq <= afterSeq {
			continue
		}
		out = append(out, event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *txn) LatestOutboxSeq(_ context.Context) (int64, error) {
	return t.d.outboxSeq, nil
}

func (t *txn) GetOutboxOffset(_ context.Context, consumer string) (int64, error) {
	return t.d.offsets[consumer], nil
}

func (t *txn) CreateUser(_ context.Context, user models.User) error {
	email := strings.ToLower(user.Email)
	if _, exists := t.d.usersByEmail[email]; exists {
		return store.ErrUserExists
	}
	t.d.users[user.UserID] = user
	t.d.usersByEmail[email] = user.UserID
	return nil
}

func (t *txn) LinkIdentity(_ context.Context, provider, subject, userID string) error {
	t.d.identities[key(provider, subject)] = userID
	return nil
}

func (t *txn) CreateSession(_ context.Context, session models.Session) error {
	t.d.sessions[session.SessionID] = session
	return nil
}

func (t *txn) DeleteSession(_ context.Context, sessionID string) error {
	delete(t.d.sessions, sessionID)
	return nil
}

func (t *txn) CreateOrganization(_ context.Context, org models.Organization) error {
	org.Role = ""
	t.d.orgs[org.OrganizationID] = org
	return nil
}

func (t *txn) UpsertMember(_ context.Context, member models.Member) error {
	k := key(member.OrganizationID, member.UserID)
	if existing, ok := t.d.members[k]; ok {
		member.CreatedAt = existing.CreatedAt
	}
	member.Email = ""
	member.DisplayName = ""
	t.d.members[k] = member
	return nil
}

func (t *txn) DeleteMember(_ context.Context, organizationID, userID string) error {
	k := key(organizationID, userID)
	if _, ok := t.d.members[k]; !ok {
		return store.ErrMemberNotFound
	}
	delete(t.d.members, k)
	return nil
}

func (t *txn) CreateQueue(_ context.Context, queue models.Queue) error {
	t.d.queues[queue.QueueID] = queue
	return nil
}

func (t *txn) UpdateQueue(_ context.Context, queue models.Queue) error {
	if _, ok := t.d.queues[queue.QueueID]; !ok {
		return store.ErrQueueNotFound
	}
	t.d.queues[queue.QueueID] = queue
	return nil
}

func (t *txn) CreateCategory(_ context.Context, category models.ServiceCategory) error {
	if t.prefixTaken(category) {
		return store.ErrDuplicatePrefix
	}
	t.d.categories[category.CategoryID] = category
	return nil
}

func (t *txn) UpdateCategory(_ context.Context, category models.ServiceCategory) error {
	existing, ok := t.d.categories[category.CategoryID]
	if !ok || existing.QueueID != category.QueueID {
		return store.ErrCategoryNotFound
	}
	if t.prefixTaken(category) {
		return store.ErrDuplicatePrefix
	}
	t.d.categories[category.CategoryID] = category
	return nil
}

func (t *txn) prefixTaken(category models.ServiceCategory) bool {
	for _, other := range t.d.categories {
		if other.QueueID == category.QueueID && other.CategoryID != category.CategoryID && other.Prefix == category.Prefix {
			return true
		}
	}
	return false
}

func (t *txn) NextTicketNumber(_ context.Context, categoryID, date string) (int, error) {
	k := key(categoryID, date)
	t.d.sequences[k]++
	return t.d.sequences[k], nil
}

func (t *txn) CreateCounter(_ context.Context, counter models.Counter) error {
	t.d.counters[counter.CounterID] = counter
	return nil
}

func (t *txn) UpdateCounter(_ context.Context, counter models.Counter) error {
	existing, ok := t.d.counters[counter.CounterID]
	if !ok || existing.QueueID != counter.QueueID {
		return store.ErrCounterNotFound
	}
	t.d.counters[counter.CounterID] = counter
	return nil
}

func (t *txn) DeleteCounter(_ context.Context, queueID, counterID string) error {
	existing, ok := t.d.counters[counterID]
	if !ok || existing.QueueID != queueID {
		return store.ErrCounterNotFound
	}
	delete(t.d.counters, counterID)
	return nil
}

func (t *txn) ResetServedToday(_ context.Context) (int64, error) {
	var changed int64
	for id, counter := range t.d.counters {
		if counter.TicketsServedToday == 0 {
			continue
		}
		counter.TicketsServedToday = 0
		t.d.counters[id] = counter
		changed++
	}
	return changed, nil
}

func (t *txn) InsertTicket(_ context.Context, ticket models.Ticket) error {
	t.d.nextOrder++
	t.d.tickets[ticket.TicketID] = ticket
	t.d.ticketOrder[ticket.TicketID] = t.d.nextOrder
	return nil
}

func (t *txn) ClaimNextTicket(_ context.Context, queueID string, claim store.TicketClaim) (models.Ticket, error) {
	var next *models.Ticket
	for _, ticket := range t.d.tickets {
		if ticket.QueueID != queueID || ticket.Status != models.StatusWaiting {
			continue
		}
		if next == nil || t.callOrderLess(ticket, *next) {
			candidate := ticket
			next = &candidate
		}
	}
	if next == nil {
		return models.Ticket{}, store.ErrNoTicket
	}
	claimed := *next
	calledAt := claim.CalledAt
	wait := int(calledAt.Sub(claimed.CreatedAt).Seconds())
	if wait < 0 {
		wait = 0
	}
	claimed.Status = models.StatusCalling
	claimed.CounterID = claim.CounterID
	claimed.CounterName = claim.CounterName
	claimed.AttendantID = claim.AttendantID
	claimed.AttendantName = claim.AttendantName
	claimed.CalledAt = &calledAt
	claimed.WaitTimeSeconds = &wait
	t.d.tickets[claimed.TicketID] = claimed
	return claimed, nil
}

func (t *txn) UpdateTicket(_ context.Context, ticket models.Ticket, fromStatus string) error {
	existing, ok := t.d.tickets[ticket.TicketID]
	if !ok || existing.QueueID != ticket.QueueID {
		return store.ErrTicketNotFound
	}
	if existing.Status != fromStatus {
		return store.ErrConflict
	}
	t.d.tickets[ticket.TicketID] = ticket
	return nil
}

func (t *txn) InsertActionRequest(_ context.Context, action, requestID, ticketID string) error {
	t.d.actions[key(action, requestID)] = ticketID
	return nil
}

func (t *txn) AddDailyMetrics(_ context.Context, delta store.MetricsDelta) error {
	k := key(delta.QueueID, delta.Date)
	doc, ok := t.d.metrics[k]
	if !ok {
		doc = dailyDoc{
			metrics:    models.DailyQueueMetrics{QueueID: delta.QueueID, Date: delta.Date},
			attendants: make(map[string]models.AttendantMetrics),
		}
	}
	m := &doc.metrics
	m.Emitted += delta.Emitted
	m.Served += delta.Served
	m.NoShow += delta.NoShow
	m.TotalWaitSeconds += delta.WaitSeconds
	m.WaitCount += delta.WaitCount
	m.TotalServiceSeconds += delta.ServiceSeconds
	m.ServiceCount += delta.ServiceCount
	m.RatingSum += delta.RatingSum
	m.RatingCount += delta.RatingCount
	if delta.AttendantID != "" {
		attendant := doc.attendants[delta.AttendantID]
		attendant.AttendantID = delta.AttendantID
		if delta.AttendantName != "" {
			attendant.AttendantName = delta.AttendantName
		}
		attendant.Served += delta.Served
		attendant.NoShow += delta.NoShow
		attendant.TotalServiceSeconds += delta.ServiceSeconds
		attendant.ServiceCount += delta.ServiceCount
		doc.attendants[delta.AttendantID] = attendant
	}
	t.d.metrics[k] = doc
	return nil
}

func (t *txn) InsertAlert(_ context.Context, alert models.SLAAlert) error {
	t.d.alerts = append(t.d.alerts, alert)
	return nil
}

func (t *txn) AppendEvent(_ context.Context, event models.OutboxEvent) error {
	t.d.outboxSeq++
	event.Seq = t.d.outboxSeq
	t.d.outbox = append(t.d.outbox, event)
	if event.TicketID == "" {
		return nil
	}
	history := t.d.events[event.TicketID]
	var prev *store.TicketEvent
	if len(history) > 0 {
		prev = &history[len(history)-1]
	}
	next := store.NextTicketEvent(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt)
	t.d.events[event.TicketID] = append(slices.Clip(history), next)
	return nil
}

func (t *txn) SaveOutboxOffset(_ context.Context, consumer string, seq int64) error {
	t.d.offsets[consumer] = seq
	return nil
}

func (t *txn) DeleteOutboxBefore(_ context.Context, before time.Time, maxSeq int64) (int64, error) {
	kept := t.d.outbox[:0:0]
	var removed int64
	for _, event := range t.d.outbox {
		if event.CreatedAt.Before(before) && event.Seq <= maxSeq {
			removed++
			continue
		}
		kept = append(kept, event)
	}
	t.d.outbox = kept
	return removed, nil
}

// callOrderLess orders waiting tickets the way call-next picks them:
// priority first, then oldest, then insertion order.
func (t *txn) callOrderLess(a, b models.Ticket) bool {
	if a.IsPriority != b.IsPriority {
		return a.IsPriority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	oa, ob := t.d.ticketOrder[a.TicketID], t.d.ticketOrder[b.TicketID]
	if oa != ob {
		return oa < ob
	}
	return a.TicketID < b.TicketID
}

func calledOrderLess(a, b models.Ticket) bool {
	at, bt := calledTime(a), calledTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.TicketID < b.TicketID
}

func calledTime(ticket models.Ticket) time.Time {
	if ticket.CalledAt == nil {
		return time.Time{}
	}
	return *ticket.CalledAt
}
