package httpapi

import "net/http"

// handleDailyStats reads ?date=YYYY-MM-DD, defaulting to today in the
// service location.
func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.svc.Stats.Daily(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.URL.Query().Get("date"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (h *Handler) handleWeekStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Stats.Week(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.URL.Query().Get("end"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLiveStats(w http.ResponseWriter, r *http.Request) {
	live, err := h.svc.Stats.Live(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, live)
}

func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50)
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	alerts, err := h.svc.SLA.ListAlerts(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}
