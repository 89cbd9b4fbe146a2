package orgs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/audit"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/tasks"
	"gorm.io/gorm"
)

var (
	ErrOrgNotFound     = errors.New("organization not found")
	ErrOrgNotActive    = errors.New("organization is not active")
	ErrOrgNotSuspended = errors.New("organization is not suspended")
	ErrOrgArchived     = errors.New("archived organizations cannot be reactivated")
	ErrAlreadyArchived = errors.New("organization is already archived")
	ErrProtectedOrg    = errors.New("the system organization cannot be modified")
)

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

// PersonalOrgName derives the default organization name for a user: the
// display name, falling back to the local part of the email address.
func PersonalOrgName(user *models.User) string {
	name := strings.TrimSpace(user.Name)
	if name == "" {
		name = user.Email
		if at := strings.Index(name, "@"); at > 0 {
			name = name[:at]
		}
	}
	return fmt.Sprintf("%s's Organization", name)
}

// CreatePersonalOrg creates a fresh organization owned by the user, inside the
// caller's transaction. Used at signup and whenever a removal would otherwise
// leave the user with no organization.
func CreatePersonalOrg(tx *gorm.DB, user *models.User) (*models.Organization, error) {
	org := models.Organization{
		Name:    PersonalOrgName(user),
		Status:  models.OrgStatusActive,
		OwnerID: &user.ID,
	}
	if err := tx.Create(&org).Error; err != nil {
		return nil, err
	}

	membership := models.Membership{
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           models.RoleOwner,
	}
	if err := tx.Create(&membership).Error; err != nil {
		return nil, err
	}

	return &org, nil
}

// Create makes a new organization owned by the acting user.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, name string) (*models.Organization, error) {
	if actorID == uuid.Nil {
		return nil, access.ErrAuthRequired
	}

	org := models.Organization{
		Name:    name,
		Status:  models.OrgStatusActive,
		OwnerID: &actorID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		membership := models.Membership{
			UserID:         actorID,
			OrganizationID: org.ID,
			Role:           models.RoleOwner,
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}
		return s.recorder.Record(tx, org.ID, actorID, "organization.created", map[string]any{
			"name": name,
		})
	})
	if err != nil {
		return nil, err
	}

	return &org, nil
}

// Get returns an organization the acting user belongs to.
func (s *Service) Get(ctx context.Context, actorID, orgID uuid.UUID) (*models.Organization, error) {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleMember); err != nil {
		return nil, err
	}

	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrgNotFound
		}
		return nil, err
	}
	return &org, nil
}

// ListForUser returns the organizations the user is a member of.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Organization, error) {
	if userID == uuid.Nil {
		return nil, access.ErrAuthRequired
	}

	var orgList []models.Organization
	err := s.db.WithContext(ctx).
		Joins("JOIN memberships ON memberships.organization_id = organizations.id").
		Where("memberships.user_id = ?", userID).
		Order("organizations.created_at").
		Find(&orgList).Error
	return orgList, err
}

// Suspend moves an active organization to suspended.
func (s *Service) Suspend(ctx context.Context, actorID, orgID uuid.UUID) error {
	return s.transition(ctx, actorID, orgID, models.OrgStatusSuspended, "organization.suspended",
		func(org *models.Organization) error {
			if org.ID == s.adminOrgID {
				return ErrProtectedOrg
			}
			if org.Status != models.OrgStatusActive {
				return ErrOrgNotActive
			}
			return nil
		})
}

// Reactivate moves a suspended organization back to active. Archived
// organizations are terminal and stay archived.
func (s *Service) Reactivate(ctx context.Context, actorID, orgID uuid.UUID) error {
	return s.transition(ctx, actorID, orgID, models.OrgStatusActive, "organization.reactivated",
		func(org *models.Organization) error {
			if org.Status == models.OrgStatusArchived {
				return ErrOrgArchived
			}
			if org.Status != models.OrgStatusSuspended {
				return ErrOrgNotSuspended
			}
			return nil
		})
}

// Archive moves any non-archived organization to archived.
func (s *Service) Archive(ctx context.Context, actorID, orgID uuid.UUID) error {
	return s.transition(ctx, actorID, orgID, models.OrgStatusArchived, "organization.archived",
		func(org *models.Organization) error {
			if org.ID == s.adminOrgID {
				return ErrProtectedOrg
			}
			if org.Status == models.OrgStatusArchived {
				return ErrAlreadyArchived
			}
			return nil
		})
}

func (s *Service) transition(ctx context.Context, actorID, orgID uuid.UUID, newStatus, action string, guard func(*models.Organization) error) error {
	if _, err := s.checker.Check(ctx, actorID, orgID, models.RoleAdmin); err != nil {
		return err
	}

	var actor models.User
	if err := s.db.WithContext(ctx).First(&actor, "id = ?", actorID).Error; err != nil {
		return err
	}

	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		if err := tx.First(&org, "id = ?", orgID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrgNotFound
			}
			return err
		}

		if err := guard(&org); err != nil {
			return err
		}

		previous = org.Status
		if err := tx.Model(&org).Update("status", newStatus).Error; err != nil {
			return err
		}

		return s.recorder.Record(tx, orgID, actorID, action, map[string]any{
			"previous_status": previous,
			"new_status":      newStatus,
			"admin_email":     actor.Email,
		})
	})
	if err != nil {
		return err
	}

	s.notifyOwner(ctx, orgID, action, previous, newStatus)
	return nil
}

// notifyOwner enqueues a status-change notification for the organization
// owner. Delivery is best-effort: a queue failure is logged, never surfaced.
func (s *Service) notifyOwner(ctx context.Context, orgID uuid.UUID, action, previous, current string) {
	if s.queue == nil {
		return
	}

	var owner models.User
	err := s.db.WithContext(ctx).
		Joins("JOIN organizations ON organizations.owner_id = users.id").
		Where("organizations.id = ?", orgID).
		First(&owner).Error
	if err != nil {
		return
	}

	task, err := tasks.NewMailDeliveryTask(tasks.MailDeliveryPayload{
		To:      owner.Email,
		Subject: "Your organization status changed",
		HTML:    fmt.Sprintf("<p>Your organization status changed from %s to %s.</p>", previous, current),
	})
	if err != nil {
		return
	}
	if _, err := s.queue.Enqueue(task, asynq.Queue("low")); err != nil {
		s.logger.Warn("failed to enqueue notification mail", "action", action, "error", err)
	}
}
