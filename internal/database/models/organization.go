package models

import "github.com/google/uuid"

// Organization status values. Archived is terminal: an archived organization
// can never return to active.
const (
	OrgStatusActive              = "active"
	OrgStatusSuspended           = "suspended"
	OrgStatusArchived            = "archived"
	OrgStatusPendingVerification = "pending_verification"
)

type Organization struct {
	Base
	Name       string     `gorm:"not null" json:"name"`
	Status     string     `gorm:"not null;default:'active';index" json:"status"`
	MaxMembers int        `gorm:"default:5" json:"max_members"`
	OwnerID    *uuid.UUID `gorm:"type:uuid" json:"owner_id,omitempty"`

	// Relationships
	Memberships []Membership `gorm:"foreignKey:OrganizationID" json:"-"`
	Invites     []Invite     `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}
