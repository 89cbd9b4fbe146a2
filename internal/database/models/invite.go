package models

import (
	"time"

	"github.com/google/uuid"
)

// Invite status values. Status only moves forward: pending -> accepted or
// pending -> expired. Resend re-opens a pending invite with a fresh token and
// expiry but never changes status.
const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusExpired  = "expired"
)

// InviteTTL is how long an invite stays valid after creation or resend.
const InviteTTL = 30 * 24 * time.Hour

type Invite struct {
	Base
	Token          string     `gorm:"uniqueIndex;not null" json:"-"`
	Email          string     `gorm:"not null;index" json:"email"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index" json:"organization_id"`
	InvitedByID    uuid.UUID  `gorm:"type:uuid" json:"invited_by"`
	Role           string     `gorm:"not null;default:'member'" json:"role"`
	Status         string     `gorm:"not null;default:'pending';index" json:"status"`
	Bootstrap      bool       `gorm:"default:false" json:"bootstrap"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`

	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	InvitedBy    *User         `gorm:"foreignKey:InvitedByID" json:"-"`
}

func (Invite) TableName() string {
	return "invites"
}

// Expired reports whether the invite's deadline has passed, regardless of the
// persisted status.
func (i *Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
