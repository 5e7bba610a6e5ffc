package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Connection is an authenticated realtime transport session
type Connection struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"user_id"`
	TokenID        string    `json:"token_id,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// NewConnectionID returns a time-ordered connection id. KSUIDs are unique across
// server processes, which the Redis fan-out relies on when excluding the sender
// on other nodes.
func NewConnectionID() string {
	return ksuid.New().String()
}
