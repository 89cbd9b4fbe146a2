package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/org-console/internal/invites"
	"github.com/hugh/org-console/internal/mailer"
	"gorm.io/gorm"
)

type Handler struct {
	db     *gorm.DB
	logger *slog.Logger
	mailer mailer.Mailer
}

func NewHandler(db *gorm.DB, logger *slog.Logger, m mailer.Mailer) *Handler {
	return &Handler{db: db, logger: logger, mailer: m}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMailDelivery, h.HandleMailDelivery)
	mux.HandleFunc(TypeInviteSweep, h.HandleInviteSweep)
}

func (h *Handler) HandleMailDelivery(ctx context.Context, t *asynq.Task) error {
	var payload MailDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := h.mailer.Send(ctx, payload.To, payload.Subject, payload.HTML); err != nil {
		h.logger.Error("notification mail failed", "to", payload.To, "error", err)
		return err
	}

	h.logger.Info("notification mail delivered", "to", payload.To, "subject", payload.Subject)
	return nil
}

// HandleInviteSweep bulk-applies the same lazy-expiry rule FindValid applies
// on read, so reports stop showing long-dead invites as pending. It is
// idempotent: invites already expired are untouched.
func (h *Handler) HandleInviteSweep(ctx context.Context, t *asynq.Task) error {
	expired, err := invites.Sweep(ctx, h.db)
	if err != nil {
		h.logger.Error("invite sweep failed", "error", err)
		return err
	}

	if expired > 0 {
		h.logger.Info("invite sweep completed", "expired", expired)
	}
	return nil
}
