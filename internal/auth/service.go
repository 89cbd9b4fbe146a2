package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/access"
	"github.com/hugh/org-console/internal/database/models"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/orgs"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrArchivedUser       = errors.New("account is archived")
	ErrInvalidInvite      = errors.New("invite is invalid or has expired")
)

type Service struct {
	db         *gorm.DB
	jwt        *JWTService
	invites    *invites.Service
	checker    *access.Checker
	adminOrgID uuid.UUID
}

func NewService(db *gorm.DB, jwt *JWTService, inviteService *invites.Service, checker *access.Checker, adminOrgID uuid.UUID) *Service {
	return &Service{
		db:         db,
		jwt:        jwt,
		invites:    inviteService,
		checker:    checker,
		adminOrgID: adminOrgID,
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	Name        string
	InviteToken string // Optional: signup-with-invite link
}

type LoginInput struct {
	Email    string
	Password string
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register creates the user together with their personal organization and
// owner membership. When the signup came through an invite link the invite is
// accepted as well, so the user lands in the inviting organization too.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var existing models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, ErrUserExists
	}

	var invite *models.Invite
	if input.InviteToken != "" {
		found, err := s.invites.FindValid(ctx, input.InviteToken, email)
		if err != nil {
			if errors.Is(err, invites.ErrInviteNotFound) {
				return nil, ErrInvalidInvite
			}
			return nil, err
		}
		invite = found
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         input.Name,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		_, err := orgs.CreatePersonalOrg(tx, &user)
		return err
	})
	if err != nil {
		return nil, err
	}

	if invite != nil {
		if _, err := s.invites.Accept(ctx, invite.ID, user.ID); err != nil {
			return nil, ErrInvalidInvite
		}
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: &user}, nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.Archived {
		return nil, ErrArchivedUser
	}

	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: &user}, nil
}

func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ArchiveUser soft-archives an account: it disappears from listings and can
// no longer log in, but memberships and data stay intact for a later restore.
// Platform-admin only.
func (s *Service) ArchiveUser(ctx context.Context, targetID, actorID uuid.UUID) error {
	return s.setArchived(ctx, targetID, actorID, true)
}

// RestoreUser reverses ArchiveUser. Platform-admin only.
func (s *Service) RestoreUser(ctx context.Context, targetID, actorID uuid.UUID) error {
	return s.setArchived(ctx, targetID, actorID, false)
}

func (s *Service) setArchived(ctx context.Context, targetID, actorID uuid.UUID, archived bool) error {
	if _, err := s.checker.Check(ctx, actorID, s.adminOrgID, models.RoleAdmin); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", targetID).
		Update("archived", archived)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
