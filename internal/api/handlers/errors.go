package handlers

import (
	"errors"
	"net/http"

	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/api/dto"
	"github.com/hugh/org-console/internal/auth"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/members"
	"github.com/hugh/org-console/internal/orgs"
)

// writeServiceError maps service sentinel errors to HTTP responses. The
// sentinel text is the user-facing message; anything unrecognized becomes the
// generic fallback so infrastructure details never leak.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := 0

	switch {
	case errors.Is(err, access.ErrAuthRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, access.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, orgs.ErrOrgNotFound),
		errors.Is(err, invites.ErrOrgNotFound),
		errors.Is(err, invites.ErrInviteNotFound),
		errors.Is(err, invites.ErrUserNotFound),
		errors.Is(err, members.ErrUserNotFound),
		errors.Is(err, members.ErrMemberNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, invites.ErrAlreadyMember),
		errors.Is(err, invites.ErrPendingInviteExists),
		errors.Is(err, invites.ErrInviteAccepted):
		status = http.StatusConflict
	case errors.Is(err, invites.ErrInvalidEmail),
		errors.Is(err, invites.ErrInvalidRole),
		errors.Is(err, invites.ErrInviteNotPending),
		errors.Is(err, invites.ErrMemberLimit),
		errors.Is(err, orgs.ErrOrgNotActive),
		errors.Is(err, orgs.ErrOrgNotSuspended),
		errors.Is(err, orgs.ErrOrgArchived),
		errors.Is(err, orgs.ErrAlreadyArchived),
		errors.Is(err, orgs.ErrProtectedOrg),
		errors.Is(err, members.ErrSelfRemoval),
		errors.Is(err, members.ErrCannotRemoveOwner),
		errors.Is(err, members.ErrLastOrganization):
		status = http.StatusBadRequest
	}

	if status == 0 {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: fallback})
		return
	}
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}
