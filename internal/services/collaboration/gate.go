package collaboration

import (
	"context"
	"errors"
	"log/slog"

	"docsync/internal/models"
	"docsync/internal/repository"
)

// Gate answers "may this user do X on this document" from the collaborator table.
// The document's owner_id column is never consulted.
type Gate struct {
	store  PermissionStore
	logger *slog.Logger
}

func NewGate(store PermissionStore, logger *slog.Logger) *Gate {
	return &Gate{
		store:  store,
		logger: logger.With(slog.String("component", "permission_gate")),
	}
}

// Check reports whether the user's collaborator level is in allowed.
// A missing row or a failed lookup denies.
func (g *Gate) Check(ctx context.Context, userID, documentID int64, allowed models.PermissionSet) bool {
	level, err := g.store.GetPermission(ctx, documentID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrCollaboratorNotFound) {
			g.logger.Error("permission lookup failed",
				slog.Int64("userID", userID),
				slog.Int64("documentID", documentID),
				slog.Any("error", err),
			)
		}
		return false
	}
	return allowed.Allows(level)
}
