package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docsync/internal/auth"
	"docsync/internal/models"
)

// ErrAuthFailure is returned for any handshake that must be refused
var ErrAuthFailure = errors.New("authentication failed")

// Registry maps live connection ids to the user that authenticated them.
// State is process-local and lives as long as the Registry instance.
type Registry struct {
	verifier    TokenVerifier
	revocations RevocationChecker

	conns map[string]*models.Connection
	mu    sync.RWMutex

	logger *slog.Logger
}

// NewRegistry builds a registry. revocations may be nil to skip blocklist checks.
func NewRegistry(verifier TokenVerifier, revocations RevocationChecker, logger *slog.Logger) *Registry {
	return &Registry{
		verifier:    verifier,
		revocations: revocations,
		conns:       make(map[string]*models.Connection),
		logger:      logger.With(slog.String("component", "connection_registry")),
	}
}

// VerifyToken checks the token signature and expiry and that its id is not blocklisted.
// Every error wraps ErrAuthFailure.
func (r *Registry) VerifyToken(ctx context.Context, token string) (auth.Identity, error) {
	identity, err := r.verifier.Verify(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}

	if r.revocations != nil && identity.TokenID != "" {
		revoked, err := r.revocations.IsRevoked(ctx, identity.TokenID)
		if err != nil {
			r.logger.Error("token blocklist lookup failed", slog.String("jti", identity.TokenID), slog.Any("error", err))
			return auth.Identity{}, fmt.Errorf("%w: %v", ErrAuthFailure, err)
		}
		if revoked {
			return auth.Identity{}, fmt.Errorf("%w: token has been revoked", ErrAuthFailure)
		}
	}
	return identity, nil
}

// Authenticate verifies the token and records connID -> user on success.
// Nothing is recorded when it fails.
func (r *Registry) Authenticate(ctx context.Context, connID, token string) (int64, error) {
	identity, err := r.VerifyToken(ctx, token)
	if err != nil {
		r.logger.Debug("token rejected", slog.String("connID", connID), slog.Any("error", err))
		return 0, err
	}

	r.mu.Lock()
	r.conns[connID] = &models.Connection{
		ID:             connID,
		UserID:         identity.UserID,
		TokenID:        identity.TokenID,
		ConnectedAt:    time.Now(),
		TokenExpiresAt: identity.ExpiresAt,
	}
	r.mu.Unlock()

	r.logger.Debug("connection authenticated", slog.String("connID", connID), slog.Int64("userID", identity.UserID))
	return identity.UserID, nil
}

// Lookup returns the user that owns connID
func (r *Registry) Lookup(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return 0, false
	}
	return conn.UserID, true
}

// Connection returns a copy of the connection record
func (r *Registry) Connection(connID string) (models.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return models.Connection{}, false
	}
	return *conn, true
}

// Forget drops connID; unknown ids are ignored
func (r *Registry) Forget(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	delete(r.conns, connID)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("connection forgotten", slog.String("connID", connID), slog.Int64("userID", conn.UserID))
	}
}

// Count returns the number of authenticated connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
