package invites

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/api/validation"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/mailer"
	"gorm.io/gorm"
)

var (
	ErrInviteNotFound      = errors.New("invite not found")
	ErrInviteNotPending    = errors.New("invite is no longer pending")
	ErrInviteAccepted      = errors.New("invite has already been accepted")
	ErrAlreadyMember       = errors.New("already a member of this organization")
	ErrPendingInviteExists = errors.New("a pending invite for this email already exists")
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrInvalidRole         = errors.New("invalid invite role")
	ErrMemberLimit         = errors.New("organization member limit reached")
	ErrUserNotFound        = errors.New("user with this email not found")
	ErrOrgNotFound         = errors.New("organization not found")
)

type Service struct {
	db         *gorm.DB
	checker    *access.Checker
	recorder   *audit.Recorder
	mailer     mailer.Mailer
	links      *mailer.LinkBuilder
	logger     *slog.Logger
	adminOrgID uuid.UUID
}

func NewService(db *gorm.DB, checker *access.Checker, recorder *audit.Recorder, m mailer.Mailer, links *mailer.LinkBuilder, logger *slog.Logger, adminOrgID uuid.UUID) *Service {
	return &Service{
		db:         db,
		checker:    checker,
		recorder:   recorder,
		mailer:     m,
		links:      links,
		logger:     logger,
		adminOrgID: adminOrgID,
	}
}

// generateToken mints an opaque invite token with 256 bits of entropy.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Send creates a pending invite and mails the link. The row insert and the
// mail send share one transaction: a provider failure rolls the invite back so
// no orphaned pending row survives.
func (s *Service) Send(ctx context.Context, orgID uuid.UUID, email string, actorID uuid.UUID, role string) (*models.Invite, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleAdmin); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleMember && role != models.RoleAdmin {
		return nil, ErrInvalidRole
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}

	// Already a member of this organization?
	var memberCount int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Joins("JOIN users ON users.id = memberships.user_id").
		Where("memberships.organization_id = ? AND users.email = ?", orgID, email).
		Count(&memberCount).Error
	if err != nil {
		return nil, err
	}
	if memberCount > 0 {
		return nil, ErrAlreadyMember
	}

	// At most one pending invite per (email, organization).
	var pendingCount int64
	err = s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("organization_id = ? AND email = ? AND status = ?", orgID, email, models.InviteStatusPending).
		Count(&pendingCount).Error
	if err != nil {
		return nil, err
	}
	if pendingCount > 0 {
		return nil, ErrPendingInviteExists
	}

	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	if err := s.checkHeadroom(ctx, &org); err != nil {
		return nil, err
	}

	var invite *models.Invite
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.createAndSend(ctx, tx, &org, email, actorID, role, false)
		if err != nil {
			return err
		}
		invite = created
		return s.recorder.Record(tx, orgID, actorID, "invite.sent", map[string]any{
			"email": email,
			"role":  role,
		})
	})
	if err != nil {
		return nil, err
	}

	return invite, nil
}

// checkHeadroom rejects invites that could not be honored: current members
// plus already-pending invites must leave room under MaxMembers.
func (s *Service) checkHeadroom(ctx context.Context, org *models.Organization) error {
	if org.MaxMembers <= 0 {
		return nil
	}

	var members int64
	if err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("organization_id = ?", org.ID).
		Count(&members).Error; err != nil {
		return err
	}

	var pending int64
	if err := s.db.WithContext(ctx).Model(&models.Invite{}).
		Where("organization_id = ? AND status = ?", org.ID, models.InviteStatusPending).
		Count(&pending).Error; err != nil {
		return err
	}

	if members+pending >= int64(org.MaxMembers) {
		return ErrMemberLimit
	}
	return nil
}

// createAndSend inserts the invite row and dispatches the mail inside the
// caller's transaction. Recipients with an account get the accept-flow link,
// everyone else gets the signup-with-invite link.
func (s *Service) createAndSend(ctx context.Context, tx *gorm.DB, org *models.Organization, email string, actorID uuid.UUID, role string, bootstrap bool) (*models.Invite, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	invite := models.Invite{
		Token:          token,
		Email:          email,
		OrganizationID: org.ID,
		InvitedByID:    actorID,
		Role:           role,
		Status:         models.InviteStatusPending,
		Bootstrap:      bootstrap,
		ExpiresAt:      time.Now().Add(models.InviteTTL),
	}
	if err := tx.Create(&invite).Error; err != nil {
		return nil, err
	}

	if err := s.sendInviteMail(ctx, org.Name, &invite); err != nil {
		return nil, err
	}

	return &invite, nil
}

func (s *Service) sendInviteMail(ctx context.Context, orgName string, invite *models.Invite) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ?", invite.Email).
		Count(&existing).Error; err != nil {
		return err
	}

	link := s.links.SignupLink(invite.Token)
	if existing > 0 {
		link = s.links.AcceptLink(invite.Token, invite.Email)
	}

	subject := fmt.Sprintf("You've been invited to join %s", orgName)
	html := fmt.Sprintf(
		"<p>You've been invited to join <strong>%s</strong>.</p><p><a href=%q>Accept the invitation</a></p><p>This invitation expires in 30 days.</p>",
		orgName, link,
	)
	return s.mailer.Send(ctx, invite.Email, subject, html)
}

// FindValid looks up a pending invite by (token, email) and enforces expiry
// lazily: a time-expired invite is persisted as expired on this read and
// reported as not found. Repeated calls are idempotent.
func (s *Service) FindValid(ctx context.Context, token, email string) (*models.Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var invite models.Invite
	err := s.db.WithContext(ctx).
		Preload("Organization").
		Where("token = ? AND email = ? AND status = ?", token, email, models.InviteStatusPending).
		First(&invite).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	if invite.Expired(time.Now()) {
		if err := s.db.WithContext(ctx).Model(&invite).
			Update("status", models.InviteStatusExpired).Error; err != nil {
			return nil, err
		}
		return nil, ErrInviteNotFound
	}

	return &invite, nil
}

// Accept marks the invite accepted and adds the user as a member, in one
// transaction. Accepting never elevates to owner except for the bootstrap
// case: the first accept on an admin-created organization that still has no
// owner.
func (s *Service) Accept(ctx context.Context, inviteID, userID uuid.UUID) (*models.Invite, error) {
	var invite models.Invite
	if err := s.db.WithContext(ctx).First(&invite, "id = ?", inviteID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return s.accept(ctx, &invite, &user)
}

// AcceptForExistingUser resolves the invite by token and the user by the
// invited email, then accepts.
func (s *Service) AcceptForExistingUser(ctx context.Context, token, email string) (*models.Invite, error) {
	invite, err := s.FindValid(ctx, token, email)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = s.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return s.accept(ctx, invite, &user)
}

func (s *Service) accept(ctx context.Context, invite *models.Invite, user *models.User) (*models.Invite, error) {
	if invite.Status != models.InviteStatusPending {
		return nil, ErrInviteNotPending
	}
	if invite.Expired(time.Now()) {
		if err := s.db.WithContext(ctx).Model(invite).
			Update("status", models.InviteStatusExpired).Error; err != nil {
			return nil, err
		}
		return nil, ErrInviteNotPending
	}

	var memberCount int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("organization_id = ? AND user_id = ?", invite.OrganizationID, user.ID).
		Count(&memberCount).Error
	if err != nil {
		return nil, err
	}
	if memberCount > 0 {
		return nil, ErrAlreadyMember
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.First(&org, "id = ?", invite.OrganizationID).Error; err != nil {
			return err
		}

		role := invite.Role
		if role == "" {
			role = models.RoleMember
		}

		// Bootstrap exception: the first accept on an ownerless
		// admin-created organization takes ownership.
		takesOwnership := invite.Bootstrap && org.OwnerID == nil
		if takesOwnership {
			role = models.RoleOwner
			updates := map[string]any{"owner_id": user.ID}
			if org.Status == models.OrgStatusPendingVerification {
				updates["status"] = models.OrgStatusActive
			}
			if err := tx.Model(&org).Updates(updates).Error; err != nil {
				return err
			}
		}

		now := time.Now()
		err := tx.Model(invite).Updates(map[string]any{
			"status":      models.InviteStatusAccepted,
			"accepted_at": now,
		}).Error
		if err != nil {
			return err
		}
		invite.Status = models.InviteStatusAccepted
		invite.AcceptedAt = &now

		membership := models.Membership{
			UserID:         user.ID,
			OrganizationID: invite.OrganizationID,
			Role:           role,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		return s.recorder.Record(tx, invite.OrganizationID, user.ID, "invite.accepted", map[string]any{
			"email": invite.Email,
			"role":  role,
		})
	})
	if err != nil {
		return nil, err
	}

	return invite, nil
}

// Resend mints a new token and a fresh 30-day expiry on a pending invite and
// re-sends the mail. CreatedAt is reset so listings show it as recent. Status
// is untouched.
func (s *Service) Resend(ctx context.Context, inviteID, actorID uuid.UUID) (*models.Invite, error) {
	var invite models.Invite
	err := s.db.WithContext(ctx).Preload("Organization").First(&invite, "id = ?", inviteID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, err
	}

	if _, err := s.checker.Check(ctx, actorID, invite.OrganizationID, models.RoleAdmin); err != nil {
		return nil, err
	}
	if invite.Status != models.InviteStatusPending {
		return nil, ErrInviteNotPending
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		err := tx.Model(&invite).Updates(map[string]any{
			"token":      token,
			"expires_at": now.Add(models.InviteTTL),
			"created_at": now,
		}).Error
		if err != nil {
			return err
		}
		invite.Token = token
		invite.ExpiresAt = now.Add(models.InviteTTL)
		invite.CreatedAt = now

		orgName := ""
		if invite.Organization != nil {
			orgName = invite.Organization.Name
		}
		if err := s.sendInviteMail(ctx, orgName, &invite); err != nil {
			return err
		}

		return s.recorder.Record(tx, invite.OrganizationID, actorID, "invite.resent", map[string]any{
			"email": invite.Email,
		})
	})
	if err != nil {
		return nil, err
	}

	return &invite, nil
}

// Cancel expires a pending invite. Cancelling an invite that already sits in
// the expired state hard-deletes the row instead; accepted invites cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, inviteID, actorID uuid.UUID) error {
	var invite models.Invite
	err := s.db.WithContext(ctx).First(&invite, "id = ?", inviteID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteNotFound
		}
		return err
	}

	if _, err := s.checker.Check(ctx, actorID, invite.OrganizationID, models.RoleAdmin); err != nil {
		return err
	}
	if invite.Status == models.InviteStatusAccepted {
		return ErrInviteAccepted
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if invite.Status == models.InviteStatusExpired {
			if err := tx.Unscoped().Delete(&invite).Error; err != nil {
				return err
			}
			return s.recorder.Record(tx, invite.OrganizationID, actorID, "invite.deleted", map[string]any{
				"email": invite.Email,
			})
		}

		if err := tx.Model(&invite).Update("status", models.InviteStatusExpired).Error; err != nil {
			return err
		}
		return s.recorder.Record(tx, invite.OrganizationID, actorID, "invite.cancelled", map[string]any{
			"email":           invite.Email,
			"previous_status": models.InviteStatusPending,
		})
	})
}

// ListForOrg returns all invites of an organization, newest first.
func (s *Service) ListForOrg(ctx context.Context, orgID, actorID uuid.UUID) ([]models.Invite, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleAdmin); err != nil {
		return nil, err
	}

	var inviteList []models.Invite
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Find(&inviteList).Error
	return inviteList, err
}

// CreateBootstrapOrg is the platform-admin path: a new organization with no
// owner, seeded with bootstrap invites. The first invitee to accept becomes
// the owner.
func (s *Service) CreateBootstrapOrg(ctx context.Context, actorID uuid.UUID, name string, emails []string) (*models.Organization, error) {
	if _, err := s.checker.Check(ctx, actorID, s.adminOrgID, models.RoleAdmin); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	cleaned := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.ToLower(strings.TrimSpace(email))
		if email == "" || seen[email] {
			continue
		}
		if !validation.IsValidEmail(email) {
			return nil, ErrInvalidEmail
		}
		seen[email] = true
		cleaned = append(cleaned, email)
	}

	org := models.Organization{
		Name:       name,
		Status:     models.OrgStatusPendingVerification,
		MaxMembers: 5,
	}
	if len(cleaned) > org.MaxMembers {
		org.MaxMembers = len(cleaned)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		for _, email := range cleaned {
			if _, err := s.createAndSend(ctx, tx, &org, email, actorID, models.RoleMember, true); err != nil {
				return err
			}
		}
		return s.recorder.Record(tx, org.ID, actorID, "organization.bootstrap_created", map[string]any{
			"name":    name,
			"invites": len(cleaned),
		})
	})
	if err != nil {
		return nil, err
	}

	return &org, nil
}

// Sweep bulk-expires every time-expired pending invite. Shared by the service
// and the worker tick.
func Sweep(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Model(&models.Invite{}).
		Where("status = ? AND expires_at < ?", models.InviteStatusPending, time.Now()).
		Update("status", models.InviteStatusExpired)
	return res.RowsAffected, res.Error
}
