package httpapi

import (
	"context"
	"net/http"
	"strings"

	"qms/internal/models"
	"qms/internal/ticket"
)

type actionFunc func(context.Context, models.Session, ticket.ActionInput) (models.Ticket, error)

type emitTicketRequest struct {
	CategoryID string `json:"category_id"`
	IsPriority bool   `json:"is_priority"`
	RequestID  string `json:"request_id"`
}

type ticketActionRequest struct {
	CounterID string `json:"counter_id"`
}

type finishTicketRequest struct {
	CounterID string `json:"counter_id"`
	Status    string `json:"status"`
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *Handler) handleEmitTicket(w http.ResponseWriter, r *http.Request) {
	var req emitTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.CategoryID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "category_id is required")
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFromRequest(r)
	}
	t, created, err := h.svc.Tickets.EmitTicket(r.Context(), ticket.EmitInput{
		QueueID:    r.PathValue("queueID"),
		CategoryID: req.CategoryID,
		IsPriority: req.IsPriority,
		RequestID:  req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, t)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	var statuses []string
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		if status = strings.TrimSpace(status); status != "" {
			statuses = append(statuses, status)
		}
	}
	tickets, err := h.svc.Tickets.ListTickets(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), statuses, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleTrackTicket(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.svc.Tickets.TrackTicket(r.Context(), r.PathValue("queueID"), r.PathValue("ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tracking)
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	t, err := h.svc.Tickets.SaveFeedback(r.Context(), ticket.FeedbackInput{
		QueueID:  r.PathValue("queueID"),
		TicketID: r.PathValue("ticketID"),
		Rating:   req.Rating,
		Comment:  req.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	h.ticketAction(w, r, h.svc.Tickets.RecallTicket)
}

func (h *Handler) handleStartService(w http.ResponseWriter, r *http.Request) {
	h.ticketAction(w, r, h.svc.Tickets.StartService)
}

func (h *Handler) ticketAction(w http.ResponseWriter, r *http.Request, action actionFunc) {
	var req ticketActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	t, err := action(r.Context(), sessionFromContext(r.Context()), ticket.ActionInput{
		QueueID:   r.PathValue("queueID"),
		CounterID: req.CounterID,
		TicketID:  r.PathValue("ticketID"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req finishTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	t, _, err := h.svc.Tickets.FinishTicket(r.Context(), sessionFromContext(r.Context()), ticket.FinishInput{
		QueueID:   r.PathValue("queueID"),
		CounterID: req.CounterID,
		TicketID:  r.PathValue("ticketID"),
		Status:    req.Status,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.Tickets.History(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("ticketID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
