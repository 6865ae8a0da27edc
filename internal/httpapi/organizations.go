package httpapi

import (
	"net/http"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	org, err := h.svc.Orgs.CreateOrganization(r.Context(), sessionFromContext(r.Context()), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (h *Handler) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.svc.Orgs.ListMyOrganizations(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.Orgs.ListMembers(r.Context(), sessionFromContext(r.Context()), r.PathValue("orgID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Email == "" || req.Role == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "email and role are required")
		return
	}
	member, err := h.svc.Orgs.AddMember(r.Context(), sessionFromContext(r.Context()), r.PathValue("orgID"), req.Email, req.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Orgs.RemoveMember(r.Context(), sessionFromContext(r.Context()), r.PathValue("orgID"), r.PathValue("userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
