package members

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/orgs"
	"github.com/hugh/org-console/internal/tasks"
	"gorm.io/gorm"
)

var (
	ErrSelfRemoval       = errors.New("cannot remove yourself from an organization")
	ErrCannotRemoveOwner = errors.New("cannot remove the owner: transfer ownership first")
	ErrMemberNotFound    = errors.New("member not found in this organization")
	ErrLastOrganization  = errors.New("cannot delete your only organization")
	ErrUserNotFound      = errors.New("user with this email not found")
)

// Service owns the membership lifecycle. Its one hard invariant: no user ever
// ends up with zero memberships. Any operation that would strip a user's last
// membership creates a fresh personal organization for them in the same
// transaction.
type Service struct {
	db         *gorm.DB
	checker    *access.Checker
	recorder   *audit.Recorder
	queue      *asynq.Client
	logger     *slog.Logger
	adminOrgID uuid.UUID
}

func NewService(db *gorm.DB, checker *access.Checker, recorder *audit.Recorder, queue *asynq.Client, logger *slog.Logger, adminOrgID uuid.UUID) *Service {
	return &Service{
		db:         db,
		checker:    checker,
		recorder:   recorder,
		queue:      queue,
		logger:     logger,
		adminOrgID: adminOrgID,
	}
}

// List returns the organization's members with their roles, highest role
// first.
func (s *Service) List(ctx context.Context, orgID, actorID uuid.UUID) ([]models.Membership, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleMember); err != nil {
		return nil, err
	}

	var memberships []models.Membership
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("organization_id = ?", orgID).
		Find(&memberships).Error
	if err != nil {
		return nil, err
	}

	sort.SliceStable(memberships, func(i, j int) bool {
		return access.Level(memberships[i].Role) > access.Level(memberships[j].Role)
	})
	return memberships, nil
}

// Remove deletes a member from an organization. Owners cannot be removed and
// admins cannot remove themselves through this path. If this was the member's
// only organization a personal one is created for them in the same
// transaction.
func (s *Service) Remove(ctx context.Context, orgID, userID, actorID uuid.UUID) (*models.Organization, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleAdmin); err != nil {
		return nil, err
	}
	if actorID == userID {
		return nil, ErrSelfRemoval
	}

	var membership models.Membership
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, userID).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	if membership.Role == models.RoleOwner {
		return nil, ErrCannotRemoveOwner
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	var created *models.Organization
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var total int64
		if err := tx.Model(&models.Membership{}).
			Where("user_id = ?", userID).
			Count(&total).Error; err != nil {
			return err
		}

		if err := tx.Where("organization_id = ? AND user_id = ?", orgID, userID).
			Delete(&models.Membership{}).Error; err != nil {
			return err
		}

		details := map[string]any{"email": user.Email}
		if total == 1 {
			org, err := orgs.CreatePersonalOrg(tx, &user)
			if err != nil {
				return err
			}
			created = org
			details["replacement_org_id"] = org.ID.String()
		}

		return s.recorder.Record(tx, orgID, actorID, "member.removed", details)
	})
	if err != nil {
		return nil, err
	}

	s.notify(user.Email, "You've been removed from an organization",
		"<p>An administrator removed you from an organization. You still have access to your other organizations.</p>")

	return created, nil
}

// ReplacementOrg describes a personal organization created so a member of a
// deleted organization is not left with zero memberships.
type ReplacementOrg struct {
	UserID         uuid.UUID `json:"user_id"`
	Email          string    `json:"email"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
}

// DeleteOrganization removes an organization and all its memberships. Members
// for whom this was the only organization get a personal replacement first,
// inside the same transaction. The caller must own the organization and must
// belong to at least one other.
func (s *Service) DeleteOrganization(ctx context.Context, orgID, actorID uuid.UUID) ([]ReplacementOrg, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleOwner); err != nil {
		return nil, err
	}
	if orgID == s.adminOrgID {
		return nil, orgs.ErrProtectedOrg
	}

	var actorTotal int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("user_id = ?", actorID).
		Count(&actorTotal).Error
	if err != nil {
		return nil, err
	}
	if actorTotal <= 1 {
		return nil, ErrLastOrganization
	}

	var createdOrgs []ReplacementOrg
	var affected []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var memberships []models.Membership
		if err := tx.Preload("User").
			Where("organization_id = ?", orgID).
			Find(&memberships).Error; err != nil {
			return err
		}

		if err := s.recorder.Record(tx, orgID, actorID, "organization.deleted", map[string]any{
			"members": len(memberships),
		}); err != nil {
			return err
		}

		for i := range memberships {
			m := &memberships[i]
			if m.UserID == actorID || m.User == nil {
				continue
			}
			affected = append(affected, m.User.Email)

			var total int64
			if err := tx.Model(&models.Membership{}).
				Where("user_id = ?", m.UserID).
				Count(&total).Error; err != nil {
				return err
			}
			if total != 1 {
				continue
			}

			org, err := orgs.CreatePersonalOrg(tx, m.User)
			if err != nil {
				return err
			}
			createdOrgs = append(createdOrgs, ReplacementOrg{
				UserID:         m.UserID,
				Email:          m.User.Email,
				OrganizationID: org.ID,
				Name:           org.Name,
			})
		}

		if err := tx.Where("organization_id = ?", orgID).
			Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("organization_id = ?", orgID).
			Delete(&models.Invite{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Organization{}, "id = ?", orgID).Error
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization deleted",
		"org_id", orgID,
		"actor_id", actorID,
		"replacement_orgs", len(createdOrgs),
	)

	for _, email := range affected {
		s.notify(email, "An organization you belonged to was deleted",
			"<p>An organization you were a member of has been deleted by its owner.</p>")
	}

	return createdOrgs, nil
}

// TransferOwnership hands the organization to the user behind newOwnerEmail.
// A non-member becomes an owner-member, an existing member is promoted. The
// previous owner stays on as admin.
func (s *Service) TransferOwnership(ctx context.Context, orgID uuid.UUID, newOwnerEmail string, actorID uuid.UUID) error {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleAdmin); err != nil {
		return err
	}
	if orgID == s.adminOrgID {
		return orgs.ErrProtectedOrg
	}

	newOwnerEmail = strings.ToLower(strings.TrimSpace(newOwnerEmail))
	var newOwner models.User
	err := s.db.WithContext(ctx).Where("email = ?", newOwnerEmail).First(&newOwner).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	var previousEmail string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return orgs.ErrOrgNotFound
			}
			return err
		}

		// Demote the previous owner to admin, unless they are the new
		// owner.
		var previous models.Membership
		err := tx.Preload("User").
			Where("organization_id = ? AND role = ?", orgID, models.RoleOwner).
			First(&previous).Error
		switch {
		case err == nil:
			if previous.User != nil {
				previousEmail = previous.User.Email
			}
			if previous.UserID != newOwner.ID {
				if err := tx.Model(&models.Membership{}).
					Where("organization_id = ? AND user_id = ?", orgID, previous.UserID).
					Update("role", models.RoleAdmin).Error; err != nil {
					return err
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Bootstrap orgs may have no owner yet.
		default:
			return err
		}

		var existing int64
		if err := tx.Model(&models.Membership{}).
			Where("organization_id = ? AND user_id = ?", orgID, newOwner.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			if err := tx.Model(&models.Membership{}).
				Where("organization_id = ? AND user_id = ?", orgID, newOwner.ID).
				Update("role", models.RoleOwner).Error; err != nil {
				return err
			}
		} else {
			membership := models.Membership{
				UserID:         newOwner.ID,
				OrganizationID: orgID,
				Role:           models.RoleOwner,
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&org).Update("owner_id", newOwner.ID).Error; err != nil {
			return err
		}

		return s.recorder.Record(tx, orgID, actorID, "organization.ownership_transferred", map[string]any{
			"previous_owner": previousEmail,
			"new_owner":      newOwner.Email,
		})
	})
	if err != nil {
		return err
	}

	s.notify(newOwner.Email, "You are now an organization owner",
		"<p>Ownership of an organization has been transferred to you.</p>")
	if previousEmail != "" && previousEmail != newOwner.Email {
		s.notify(previousEmail, "Organization ownership transferred",
			fmt.Sprintf("<p>Ownership of your organization was transferred to %s. You remain an admin.</p>", newOwner.Email))
	}

	return nil
}

func (s *Service) notify(to, subject, html string) {
	if s.queue == nil {
		return
	}
	task, err := tasks.NewMailDeliveryTask(tasks.MailDeliveryPayload{
		To:      to,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return
	}
	if _, err := s.queue.Enqueue(task, asynq.Queue("low")); err != nil {
		s.logger.Warn("failed to enqueue notification mail", "to", to, "error", err)
	}
}
