package httpapi

import (
	"net/http"

	"qms/internal/models"
	"qms/internal/queue"
)

type createQueueRequest struct {
	Name     string                `json:"name"`
	Settings *models.QueueSettings `json:"settings"`
	Totem    *models.TotemSettings `json:"totem"`
}

type renameQueueRequest struct {
	Name string `json:"name"`
}

type settingsRequest struct {
	SLAEnabled        *bool   `json:"sla_enabled"`
	SLAMaxWaitMinutes *int    `json:"sla_max_wait_minutes"`
	SLAMaxQueueSize   *int    `json:"sla_max_queue_size"`
	VoiceEnabled      *bool   `json:"voice_enabled"`
	CallTemplate      *string `json:"call_template"`
}

type totemRequest struct {
	Title             *string `json:"title"`
	Message           *string `json:"message"`
	ShowEstimatedWait *bool   `json:"show_estimated_wait"`
	AllowPriority     *bool   `json:"allow_priority"`
}

type categoryRequest struct {
	Name                 string `json:"name"`
	Color                string `json:"color"`
	Prefix               string `json:"prefix"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	Active               *bool  `json:"active"`
}

func (c categoryRequest) input() queue.CategoryInput {
	return queue.CategoryInput{
		Name:                 c.Name,
		Color:                c.Color,
		Prefix:               c.Prefix,
		EstimatedWaitMinutes: c.EstimatedWaitMinutes,
		Active:               c.Active,
	}
}

type totemResponse struct {
	QueueID    string                   `json:"queue_id"`
	Name       string                   `json:"name"`
	Totem      models.TotemSettings     `json:"totem"`
	Categories []models.ServiceCategory `json:"categories"`
}

func (h *Handler) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := h.svc.Queues.ListQueues(r.Context(), sessionFromContext(r.Context()), r.PathValue("orgID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	q, err := h.svc.Queues.CreateQueue(r.Context(), sessionFromContext(r.Context()), queue.CreateInput{
		OrganizationID: r.PathValue("orgID"),
		Name:           req.Name,
		Settings:       req.Settings,
		Totem:          req.Totem,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.Queues.GetQueue(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleRenameQueue(w http.ResponseWriter, r *http.Request) {
	var req renameQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	q, err := h.svc.Queues.Rename(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	q, err := h.svc.Queues.UpdateSettings(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), queue.SettingsPatch{
		SLAEnabled:        req.SLAEnabled,
		SLAMaxWaitMinutes: req.SLAMaxWaitMinutes,
		SLAMaxQueueSize:   req.SLAMaxQueueSize,
		VoiceEnabled:      req.VoiceEnabled,
		CallTemplate:      req.CallTemplate,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) handleUpdateTotem(w http.ResponseWriter, r *http.Request) {
	var req totemRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	q, err := h.svc.Queues.UpdateTotem(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), queue.TotemPatch{
		Title:             req.Title,
		Message:           req.Message,
		ShowEstimatedWait: req.ShowEstimatedWait,
		AllowPriority:     req.AllowPriority,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleTotem serves the public kiosk view: totem settings plus the
// active categories a visitor can pick.
func (h *Handler) handleTotem(w http.ResponseWriter, r *http.Request) {
	queueID := r.PathValue("queueID")
	q, err := h.svc.Queues.Totem(r.Context(), queueID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	categories, err := h.svc.Queues.ListCategories(r.Context(), queueID, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totemResponse{
		QueueID:    q.QueueID,
		Name:       q.Name,
		Totem:      q.Totem,
		Categories: categories,
	})
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	categories, err := h.svc.Queues.ListCategories(r.Context(), r.PathValue("queueID"), activeOnly)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	category, err := h.svc.Queues.CreateCategory(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

func (h *Handler) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	category, err := h.svc.Queues.UpdateCategory(r.Context(), sessionFromContext(r.Context()), r.PathValue("queueID"), r.PathValue("categoryID"), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}
