package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/obo/pkg/constants"
)

// AuditEvent is an immutable record of a security-relevant action.
type AuditEvent struct {
	ID        string                   `json:"id" gorm:"primaryKey"`
	Type      constants.AuditEventType `json:"type" gorm:"index"`
	Principal string                   `json:"principal,omitempty" gorm:"index"`
	Actor     string                   `json:"actor,omitempty"`
	Target    string                   `json:"target,omitempty"`
	SlipID    string                   `json:"slip_id,omitempty" gorm:"index"`
	Detail    string                   `json:"detail,omitempty"`
	CreatedAt time.Time                `json:"created_at" gorm:"index"`
}

// NewAuditEvent creates an audit event stamped with the current time.
func NewAuditEvent(eventType constants.AuditEventType, slip *Slip, detail string) AuditEvent {
	ev := AuditEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if slip != nil {
		ev.Principal = slip.Principal
		ev.Actor = slip.Actor
		ev.Target = slip.Target
		ev.SlipID = slip.ID
	}
	return ev
}
