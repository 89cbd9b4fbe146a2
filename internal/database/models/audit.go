package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLogEntry is append-only: rows are never updated or deleted.
type AuditLogEntry struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index" json:"organization_id"`
	UserID         uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Action         string    `gorm:"not null;index" json:"action"`
	Details        string    `gorm:"type:text" json:"details"`
	CreatedAt      time.Time `json:"created_at"`
}

func (AuditLogEntry) TableName() string {
	return "audit_log"
}

func (e *AuditLogEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
