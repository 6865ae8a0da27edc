// Package httpapi exposes the queue services over JSON HTTP and SockJS.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"qms/internal/auth"
	"qms/internal/counter"
	"qms/internal/org"
	"qms/internal/queue"
	"qms/internal/realtime"
	"qms/internal/sla"
	"qms/internal/stats"
	"qms/internal/store"
	"qms/internal/telemetry"
	"qms/internal/ticket"
)

// Services are the operations the API serves.
type Services struct {
	Auth     *auth.Service
	Orgs     *org.Service
	Queues   *queue.Service
	Counters *counter.Service
	Tickets  *ticket.Service
	Stats    *stats.Service
	SLA      *sla.Service
	Realtime *realtime.Service
}

type Handler struct {
	svc Services
	log logrus.FieldLogger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(svc Services, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.Handle("/realtime/", h.realtimeHandler())

	mux.HandleFunc("POST /api/auth/login", h.handleLogin)
	mux.HandleFunc("POST /api/auth/sso", h.handleSSOLogin)
	mux.Handle("GET /api/auth/me", h.private(h.handleMe))
	mux.Handle("POST /api/auth/logout", h.private(h.handleLogout))

	mux.Handle("POST /api/organizations", h.private(h.handleCreateOrganization))
	mux.Handle("GET /api/organizations", h.private(h.handleListOrganizations))
	mux.Handle("GET /api/organizations/{orgID}/members", h.private(h.handleListMembers))
	mux.Handle("POST /api/organizations/{orgID}/members", h.private(h.handleAddMember))
	mux.Handle("DELETE /api/organizations/{orgID}/members/{userID}", h.private(h.handleRemoveMember))
	mux.Handle("GET /api/organizations/{orgID}/queues", h.private(h.handleListQueues))
	mux.Handle("POST /api/organizations/{orgID}/queues", h.private(h.handleCreateQueue))

	mux.Handle("GET /api/queues/{queueID}", h.private(h.handleGetQueue))
	mux.Handle("PATCH /api/queues/{queueID}", h.private(h.handleRenameQueue))
	mux.Handle("PATCH /api/queues/{queueID}/settings", h.private(h.handleUpdateSettings))
	mux.Handle("PATCH /api/queues/{queueID}/totem", h.private(h.handleUpdateTotem))
	mux.HandleFunc("GET /api/queues/{queueID}/totem", h.handleTotem)
	mux.HandleFunc("GET /api/queues/{queueID}/categories", h.handleListCategories)
	mux.Handle("POST /api/queues/{queueID}/categories", h.private(h.handleCreateCategory))
	mux.Handle("PATCH /api/queues/{queueID}/categories/{categoryID}", h.private(h.handleUpdateCategory))

	mux.Handle("GET /api/queues/{queueID}/counters", h.private(h.handleListCounters))
	mux.Handle("POST /api/queues/{queueID}/counters", h.private(h.handleCreateCounter))
	mux.Handle("GET /api/queues/{queueID}/counters/{counterID}", h.private(h.handleGetCounter))
	mux.Handle("DELETE /api/queues/{queueID}/counters/{counterID}", h.private(h.handleDeleteCounter))
	mux.Handle("PUT /api/queues/{queueID}/counters/{counterID}/assignment", h.private(h.handleAssignCounter))
	mux.Handle("DELETE /api/queues/{queueID}/counters/{counterID}/assignment", h.private(h.handleUnassignCounter))
	mux.Handle("PUT /api/queues/{queueID}/counters/{counterID}/status", h.private(h.handleCounterStatus))
	mux.Handle("POST /api/queues/{queueID}/counters/{counterID}/pause", h.private(h.handleSchedulePause))
	mux.Handle("DELETE /api/queues/{queueID}/counters/{counterID}/pause", h.private(h.handleCancelPause))
	mux.Handle("POST /api/queues/{queueID}/counters/{counterID}/call-next", h.private(h.handleCallNext))

	mux.HandleFunc("POST /api/queues/{queueID}/tickets", h.handleEmitTicket)
	mux.Handle("GET /api/queues/{queueID}/tickets", h.private(h.handleListTickets))
	mux.HandleFunc("GET /api/queues/{queueID}/tickets/{ticketID}/track", h.handleTrackTicket)
	mux.HandleFunc("POST /api/queues/{queueID}/tickets/{ticketID}/feedback", h.handleFeedback)
	mux.Handle("POST /api/queues/{queueID}/tickets/{ticketID}/recall", h.private(h.handleRecall))
	mux.Handle("POST /api/queues/{queueID}/tickets/{ticketID}/start", h.private(h.handleStartService))
	mux.Handle("POST /api/queues/{queueID}/tickets/{ticketID}/finish", h.private(h.handleFinish))
	mux.Handle("GET /api/queues/{queueID}/tickets/{ticketID}/history", h.private(h.handleHistory))

	mux.Handle("GET /api/queues/{queueID}/stats/daily", h.private(h.handleDailyStats))
	mux.Handle("GET /api/queues/{queueID}/stats/week", h.private(h.handleWeekStats))
	mux.Handle("GET /api/queues/{queueID}/stats/live", h.private(h.handleLiveStats))
	mux.Handle("GET /api/queues/{queueID}/alerts", h.private(h.handleListAlerts))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeRequest reads a JSON body into target. An empty body leaves target
// untouched.
func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, false
	}
	return value, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrInvalidRating):
		return http.StatusBadRequest, "invalid_rating", "rating must be between 1 and 5"
	case errors.Is(err, store.ErrPriorityNotAllowed):
		return http.StatusBadRequest, "priority_not_allowed", "priority tickets are not allowed for this queue"
	case errors.Is(err, store.ErrUnauthorized), errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	case errors.Is(err, store.ErrCounterAssigned):
		return http.StatusForbidden, "counter_assigned", "counter assigned to another user"
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrCategoryNotFound):
		return http.StatusNotFound, "category_not_found", "category not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrOrganizationNotFound):
		return http.StatusNotFound, "organization_not_found", "organization not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrMemberNotFound):
		return http.StatusNotFound, "member_not_found", "member not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, store.ErrDuplicatePrefix):
		return http.StatusConflict, "duplicate_prefix", "category prefix already used in this queue"
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict, "user_exists", "user already exists"
	case errors.Is(err, store.ErrCounterOpen):
		return http.StatusConflict, "counter_open", "close the counter first"
	case errors.Is(err, store.ErrCounterBusy):
		return http.StatusConflict, "counter_busy", "counter already has a ticket"
	case errors.Is(err, store.ErrCounterUnavailable):
		return http.StatusConflict, "counter_unavailable", "counter is not open"
	case errors.Is(err, store.ErrCounterMismatch):
		return http.StatusConflict, "counter_mismatch", "ticket assigned to different counter"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrFeedbackExists):
		return http.StatusConflict, "feedback_exists", "feedback already recorded"
	case errors.Is(err, store.ErrLastOwner):
		return http.StatusConflict, "last_owner", "organization needs an owner"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "concurrent update, retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
