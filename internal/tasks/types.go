package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeMailDelivery = "mail:deliver"
	TypeInviteSweep  = "invite:sweep"
)

// MailDeliveryPayload carries a queued notification mail. Invite mails are
// never queued: they are sent synchronously so a delivery failure can abort
// the operation that produced them.
type MailDeliveryPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func NewMailDeliveryTask(payload MailDeliveryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeMailDelivery, data), nil
}

// InviteSweepPayload is empty - the sweep covers all organizations
type InviteSweepPayload struct{}

func NewInviteSweepTask() *asynq.Task {
	return asynq.NewTask(TypeInviteSweep, nil)
}
