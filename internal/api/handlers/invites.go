package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/api/dto"
	"github.com/hugh/org-console/internal/api/middleware"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/invites"
)

type InviteHandler struct {
	inviteService *invites.Service
}

func NewInviteHandler(inviteService *invites.Service) *InviteHandler {
	return &InviteHandler{inviteService: inviteService}
}

func inviteToDTO(inv *models.Invite) dto.InviteDTO {
	d := dto.InviteDTO{
		ID:        inv.ID.String(),
		Email:     inv.Email,
		Role:      inv.Role,
		Status:    inv.Status,
		Bootstrap: inv.Bootstrap,
		ExpiresAt: inv.ExpiresAt.Format(time.RFC3339),
		CreatedAt: inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.AcceptedAt != nil {
		d.AcceptedAt = inv.AcceptedAt.Format(time.RFC3339)
	}
	return d
}

// List returns the organization's invites, pending first.
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	list, err := h.inviteService.ListForOrg(r.Context(), orgID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to list invites")
		return
	}

	out := make([]dto.InviteDTO, 0, len(list))
	for i := range list {
		out = append(out, inviteToDTO(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Send creates and emails a new invite.
func (h *InviteHandler) Send(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	var req dto.SendInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	invite, err := h.inviteService.Send(r.Context(), orgID, req.Email, middleware.GetUserID(r.Context()), req.Role)
	if err != nil {
		writeServiceError(w, err, "Failed to send invite")
		return
	}
	writeJSON(w, http.StatusCreated, inviteToDTO(invite))
}

// Resend refreshes a pending invite's token and expiry and emails it again.
func (h *InviteHandler) Resend(w http.ResponseWriter, r *http.Request) {
	inviteID, err := uuid.Parse(chi.URLParam(r, "inviteID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid invite id"})
		return
	}

	invite, err := h.inviteService.Resend(r.Context(), inviteID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to resend invite")
		return
	}
	writeJSON(w, http.StatusOK, inviteToDTO(invite))
}

// Cancel revokes a pending invite, or clears an already-expired one.
func (h *InviteHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	inviteID, err := uuid.Parse(chi.URLParam(r, "inviteID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid invite id"})
		return
	}

	if err := h.inviteService.Cancel(r.Context(), inviteID, middleware.GetUserID(r.Context())); err != nil {
		writeServiceError(w, err, "Failed to cancel invite")
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Invite cancelled"})
}

// Accept lets a logged-in user accept an invite addressed to their email.
func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req dto.AcceptInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	invite, err := h.inviteService.AcceptForExistingUser(r.Context(), req.Token, req.Email)
	if err != nil {
		writeServiceError(w, err, "Failed to accept invite")
		return
	}
	writeJSON(w, http.StatusOK, inviteToDTO(invite))
}

// Validate is the public lookup behind the invite landing page. It reports
// whether the (token, email) pair resolves to a live invite without requiring
// authentication, and never distinguishes missing from expired.
func (h *InviteHandler) Validate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	email := r.URL.Query().Get("email")
	if token == "" || email == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "token and email are required"})
		return
	}

	invite, err := h.inviteService.FindValid(r.Context(), token, email)
	if err != nil {
		writeJSON(w, http.StatusOK, dto.ValidateInviteResponse{Valid: false})
		return
	}

	resp := dto.ValidateInviteResponse{Valid: true, Email: invite.Email}
	if invite.Organization != nil {
		resp.Organization = invite.Organization.Name
	}
	writeJSON(w, http.StatusOK, resp)
}
