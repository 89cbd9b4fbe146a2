package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/api/dto"
	"github.com/hugh/org-console/internal/api/middleware"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/members"
	"github.com/hugh/org-console/internal/orgs"
	"gorm.io/gorm"
)

type OrgHandler struct {
	db            *gorm.DB
	orgService    *orgs.Service
	memberService *members.Service
	inviteService *invites.Service
	checker       *access.Checker
	recorder      *audit.Recorder
}

func NewOrgHandler(db *gorm.DB, orgService *orgs.Service, memberService *members.Service, inviteService *invites.Service, checker *access.Checker, recorder *audit.Recorder) *OrgHandler {
	return &OrgHandler{
		db:            db,
		orgService:    orgService,
		memberService: memberService,
		inviteService: inviteService,
		checker:       checker,
		recorder:      recorder,
	}
}

// orgParam extracts and validates the organization id path parameter.
func orgParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

func orgToDTO(org *models.Organization) dto.OrgDTO {
	d := dto.OrgDTO{
		ID:         org.ID.String(),
		Name:       org.Name,
		Status:     org.Status,
		MaxMembers: org.MaxMembers,
		CreatedAt:  org.CreatedAt.Format(time.RFC3339),
	}
	if org.OwnerID != nil {
		d.OwnerID = org.OwnerID.String()
	}
	return d
}

func (h *OrgHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	orgList, err := h.orgService.ListForUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "Failed to list organizations")
		return
	}

	out := make([]dto.OrgDTO, 0, len(orgList))
	for i := range orgList {
		out = append(out, orgToDTO(&orgList[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	org, err := h.orgService.Create(r.Context(), middleware.GetUserID(r.Context()), req.Name)
	if err != nil {
		writeServiceError(w, err, "Failed to create organization")
		return
	}

	writeJSON(w, http.StatusCreated, orgToDTO(org))
}

func (h *OrgHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	org, err := h.orgService.Get(r.Context(), middleware.GetUserID(r.Context()), orgID)
	if err != nil {
		writeServiceError(w, err, "Failed to load organization")
		return
	}

	writeJSON(w, http.StatusOK, orgToDTO(org))
}

func (h *OrgHandler) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	created, err := h.memberService.DeleteOrganization(r.Context(), orgID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to delete organization")
		return
	}

	replacements := make([]dto.ReplacementOrgDTO, 0, len(created))
	for _, c := range created {
		replacements = append(replacements, dto.ReplacementOrgDTO{
			UserID:         c.UserID.String(),
			Email:          c.Email,
			OrganizationID: c.OrganizationID.String(),
			Name:           c.Name,
		})
	}
	writeJSON(w, http.StatusOK, dto.DeleteOrgResponse{
		Message:         "Organization deleted",
		ReplacementOrgs: replacements,
	})
}

func (h *OrgHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orgService.Suspend, "Organization suspended", "Failed to suspend organization")
}

func (h *OrgHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orgService.Reactivate, "Organization reactivated", "Failed to reactivate organization")
}

func (h *OrgHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orgService.Archive, "Organization archived", "Failed to archive organization")
}

func (h *OrgHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, orgID uuid.UUID) error, okMsg, failMsg string) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	if err := op(r.Context(), middleware.GetUserID(r.Context()), orgID); err != nil {
		writeServiceError(w, err, failMsg)
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: okMsg})
}

func (h *OrgHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	var req dto.TransferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	err := h.memberService.TransferOwnership(r.Context(), orgID, req.Email, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to transfer ownership")
		return
	}

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Ownership transferred"})
}

// Bootstrap is the platform-admin path: a new ownerless organization seeded
// with bootstrap invites.
func (h *OrgHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req dto.BootstrapOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	org, err := h.inviteService.CreateBootstrapOrg(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.Emails)
	if err != nil {
		writeServiceError(w, err, "Failed to create organization")
		return
	}

	writeJSON(w, http.StatusCreated, orgToDTO(org))
}

// Audit lists the organization's audit trail, admins only.
func (h *OrgHandler) Audit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	if _, err := h.checker.Check(r.Context(), middleware.GetUserID(r.Context()), orgID, models.RoleAdmin); err != nil {
		writeServiceError(w, err, "Failed to load audit log")
		return
	}

	params := dto.PaginationParams{}
	params.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	params.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	params.Normalize()
	entries, total, err := h.recorder.List(r.Context(), h.db, orgID, params.PerPage, params.Offset())
	if err != nil {
		writeServiceError(w, err, "Failed to load audit log")
		return
	}

	out := make([]dto.AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.AuditEntryDTO{
			ID:        e.ID.String(),
			UserID:    e.UserID.String(),
			Action:    e.Action,
			Details:   e.Details,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       out,
		Total:      total,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: int((total + int64(params.PerPage) - 1) / int64(params.PerPage)),
	})
}
