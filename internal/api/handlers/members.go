package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/api/dto"
	"github.com/hugh/org-console/internal/api/middleware"
	"github.com/hugh/org-console/internal/members"
)

type MemberHandler struct {
	memberService *members.Service
}

func NewMemberHandler(memberService *members.Service) *MemberHandler {
	return &MemberHandler{memberService: memberService}
}

func (h *MemberHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}

	memberships, err := h.memberService.List(r.Context(), orgID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to list members")
		return
	}

	out := make([]dto.MemberDTO, 0, len(memberships))
	for _, m := range memberships {
		d := dto.MemberDTO{
			UserID:   m.UserID.String(),
			Role:     m.Role,
			JoinedAt: m.CreatedAt.Format(time.RFC3339),
		}
		if m.User != nil {
			d.Email = m.User.Email
			d.Name = m.User.Name
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MemberHandler) Remove(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid organization id"})
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid user id"})
		return
	}

	created, err := h.memberService.Remove(r.Context(), orgID, userID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, "Failed to remove member")
		return
	}

	resp := dto.SuccessResponse{Message: "Member removed"}
	if created != nil {
		resp.Message = "Member removed; a personal organization was created for them"
	}
	writeJSON(w, http.StatusOK, resp)
}
