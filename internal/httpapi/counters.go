package httpapi

import (
	"net/http"

	"qms/internal/counter"
	"qms/internal/models"
	"qms/internal/ticket"
)

type createCounterRequest struct {
	Name   string `json:"name"`
	Number int    `json:"number"`
}

type assignCounterRequest struct {
	UserID string `json:"user_id"`
}

type counterStatusRequest struct {
	Status string `json:"status"`
}

type callNextRequest struct {
	RequestID string `json:"request_id"`
}

type callNextResponse struct {
	Ticket *models.Ticket `json:"ticket"`
}

func (h *Handler) handleListCounters(w http.ResponseWriter, r *http.Request) {
	counters, err := h.svc.Counters.ListCounters(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) handleCreateCounter(w http.ResponseWriter, r *http.Request) {
	var req createCounterRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	c, err := h.svc.Counters.CreateCounter(r.Context(), sessionFromContext(r.Context()), counter.CreateInput{
		QueueID: r.PathValue("queueID"),
		Name:    req.Name,
		Number:  req.Number,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Counters.GetCounter(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDeleteCounter(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Counters.DeleteCounter(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAssignCounter(w http.ResponseWriter, r *http.Request) {
	var req assignCounterRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	c, err := h.svc.Counters.AssignCounterToUser(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"), req.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleUnassignCounter(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Counters.UnassignCounter(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleCounterStatus(w http.ResponseWriter, r *http.Request) {
	var req counterStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	c, err := h.svc.Counters.UpdateStatus(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleSchedulePause(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Counters.SchedulePauseAfterCurrent(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleCancelPause(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Counters.CancelScheduledPause(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("counterID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleCallNext answers {"ticket": null} when nobody is waiting.
func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestIDFromRequest(r)
	}
	t, found, err := h.svc.Tickets.CallNextTicket(r.Context(), sessionFromContext(r.Context()), ticket.CallNextInput{
		QueueID:   r.PathValue("queueID"),
		CounterID: r.PathValue("counterID"),
		RequestID: req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, callNextResponse{})
		return
	}
	writeJSON(w, http.StatusOK, callNextResponse{Ticket: &t})
}
