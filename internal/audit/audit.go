package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/org-console/internal/database/models"
	"gorm.io/gorm"
)

// Recorder appends entries to the audit log. Record takes the caller's
// transaction handle so an aborted operation leaves no trail.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

func (r *Recorder) Record(tx *gorm.DB, orgID, actorID uuid.UUID, action string, details map[string]any) error {
	payload := ""
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return err
		}
		payload = string(data)
	}

	entry := models.AuditLogEntry{
		OrganizationID: orgID,
		UserID:         actorID,
		Action:         action,
		Details:        payload,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return err
	}

	r.logger.Info("audit", "action", action, "org_id", orgID, "actor_id", actorID)
	return nil
}

// List returns the newest entries for an organization, newest first.
func (r *Recorder) List(ctx context.Context, db *gorm.DB, orgID uuid.UUID, limit, offset int) ([]models.AuditLogEntry, int64, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int64
	if err := db.WithContext(ctx).Model(&models.AuditLogEntry{}).
		Where("organization_id = ?", orgID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.AuditLogEntry
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, total, err
}
