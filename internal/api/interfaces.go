package api

import (
	"context"

	"docsync/internal/auth"
	"docsync/internal/models"
)

// The handlers only see these; main wires in the concrete collaboration and db types.

// TokenVerifier is satisfied by collaboration.Registry, which applies the same
// blocklist check as the realtime handshake
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (auth.Identity, error)
}

// AccessChecker is satisfied by collaboration.Gate
type AccessChecker interface {
	Check(ctx context.Context, userID, documentID int64, allowed models.PermissionSet) bool
}

// PresenceCounter reports live room sizes
type PresenceCounter interface {
	Count(documentID int64) int
}

// Evictor removes a user's live connections from a document room
type Evictor interface {
	RevokeAccess(ctx context.Context, documentID, userID int64) int
}

// HealthChecker is anything the health endpoint can ping
type HealthChecker interface {
	Ping(ctx context.Context) error
}
