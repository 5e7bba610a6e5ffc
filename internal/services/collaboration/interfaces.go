package collaboration

import (
	"context"

	"docsync/internal/auth"
	"docsync/internal/models"
)

// The collaboration package consumes these; the repository and auth packages implement them.

// DocumentStore is what the dispatcher needs from document persistence
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	SetDocumentContent(ctx context.Context, id int64, content models.Content) error
}

// PermissionStore exposes the collaborator table
type PermissionStore interface {
	GetPermission(ctx context.Context, documentID, userID int64) (models.PermissionLevel, error)
}

// TokenVerifier validates bearer tokens from the credential provider
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// RevocationChecker reports blocklisted token ids
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Peer is one connection a room can deliver frames to.
// Enqueue must not block; it returns false when the frame could not be queued.
type Peer interface {
	ID() string
	Enqueue(frame []byte) bool
}

// Rooms is the room membership boundary used by the dispatcher. RoomManager serves a
// single process; RedisRooms fans broadcasts out across processes.
type Rooms interface {
	Join(documentID int64, peer Peer)
	Leave(documentID int64, connID string)
	LeaveAll(connID string)
	Broadcast(ctx context.Context, documentID int64, event string, payload any, excludeConnID string)
	SendTo(ctx context.Context, peer Peer, event string, payload any) error
	Members(documentID int64) []Peer
	Count(documentID int64) int
}
