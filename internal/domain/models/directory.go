package models

import (
	"time"

	"github.com/turtacn/obo/pkg/constants"
)

// Principal is the authority owner on whose behalf access is requested.
// Immutable once created; created lazily on first request.
type Principal struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// Actor is the requesting agent or service. The type tag is metadata only and
// carries no authorization weight.
type Actor struct {
	ID        string              `json:"id"`
	Type      constants.ActorType `json:"type"`
	CreatedAt time.Time           `json:"created_at"`
}

// Capabilities are the provisioning methods a target supports.
type Capabilities struct {
	OAuth   bool `json:"oauth" yaml:"oauth"`
	Genesis bool `json:"genesis" yaml:"genesis"`
	BYOC    bool `json:"byoc" yaml:"byoc"`
	Rogue   bool `json:"rogue" yaml:"rogue"`
}

// Target is a service definition. Read-mostly reference data.
type Target struct {
	Name     string       `json:"name"`
	Supports Capabilities `json:"supports"`
	Tags     []string     `json:"tags,omitempty"`
}
