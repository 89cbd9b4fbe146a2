package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/database/models"
	"gorm.io/gorm"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrAccessDenied = errors.New("access denied: insufficient privileges")
)

// Role levels form a total order: member < admin < owner. Unknown roles rank
// below member so a corrupted row never grants access.
var roleLevels = map[string]int{
	models.RoleMember: 1,
	models.RoleAdmin:  2,
	models.RoleOwner:  3,
}

func Level(role string) int {
	return roleLevels[role]
}

// AtLeast reports whether role ranks at or above min.
func AtLeast(role, min string) bool {
	return Level(role) >= Level(min)
}

// Checker resolves a user's membership in an organization and compares it
// against a required minimum role. It is read-only and is called at the top of
// every mutating lifecycle operation.
type Checker struct {
	db *gorm.DB
}

func NewChecker(db *gorm.DB) *Checker {
	return &Checker{db: db}
}

// Check returns the acting user's membership when it meets the minimum role,
// ErrAuthRequired when there is no acting user, and ErrAccessDenied otherwise.
func (c *Checker) Check(ctx context.Context, userID, orgID uuid.UUID, minRole string) (*models.Membership, error) {
	if userID == uuid.Nil {
		return nil, ErrAuthRequired
	}

	var m models.Membership
	err := c.db.WithContext(ctx).
		Where("user_id = ? AND organization_id = ?", userID, orgID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccessDenied
		}
		return nil, err
	}

	if !AtLeast(m.Role, minRole) {
		return nil, ErrAccessDenied
	}

	return &m, nil
}
