package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"docsync/internal/auth"
	"docsync/internal/middleware"
	"docsync/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
)

var errBadDocumentID = errors.New("invalid document id")

// Handler serves the small HTTP surface around the realtime endpoint
type Handler struct {
	verifier TokenVerifier
	access   AccessChecker
	presence PresenceCounter
	evictor  Evictor
	checks   map[string]HealthChecker

	logger *slog.Logger
}

func NewHandler(
	verifier TokenVerifier,
	access AccessChecker,
	presence PresenceCounter,
	evictor Evictor,
	checks map[string]HealthChecker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		verifier: verifier,
		access:   access,
		presence: presence,
		evictor:  evictor,
		checks:   checks,
		logger:   logger.With(slog.String("component", "api")),
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health pings every dependency; any failure reports 503
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

type presenceResponse struct {
	DocumentID  int64 `json:"document_id"`
	Connections int   `json:"connections"`
}

// DocumentPresence returns how many live connections are in the document's room
func (h *Handler) DocumentPresence(w http.ResponseWriter, r *http.Request) {
	documentID, userID, ok := h.authorize(w, r, models.ReadAccess)
	if !ok {
		return
	}

	count := h.presence.Count(documentID)
	middleware.AddSpanEvent(r.Context(), "presence",
		attribute.Int64("document.id", documentID),
		attribute.Int64("user.id", userID),
		attribute.Int("connections", count),
	)
	writeJSON(w, http.StatusOK, presenceResponse{DocumentID: documentID, Connections: count})
}

type evictionRequest struct {
	UserID int64 `json:"user_id"`
}

type evictionResponse struct {
	DocumentID int64 `json:"document_id"`
	UserID     int64 `json:"user_id"`
	Evicted    int   `json:"evicted"`
}

// EvictUser is called by collaborator management after a user's access to a document
// is removed. Only the document's owners may evict.
func (h *Handler) EvictUser(w http.ResponseWriter, r *http.Request) {
	documentID, callerID, ok := h.authorize(w, r, models.NewPermissionSet(models.PermissionOwner))
	if !ok {
		return
	}

	var req evictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	evicted := h.evictor.RevokeAccess(r.Context(), documentID, req.UserID)
	h.logger.Info("eviction requested",
		slog.Int64("documentID", documentID),
		slog.Int64("userID", req.UserID),
		slog.Int64("requestedBy", callerID),
		slog.Int("evicted", evicted),
		slog.String("requestID", middleware.RequestID(r.Context())),
	)
	writeJSON(w, http.StatusOK, evictionResponse{DocumentID: documentID, UserID: req.UserID, Evicted: evicted})
}

// authorize verifies the bearer token and the caller's level on the {id} document.
// It writes the error response itself when it returns false.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, allowed models.PermissionSet) (documentID, userID int64, ok bool) {
	identity, err := h.verifier.VerifyToken(r.Context(), auth.ExtractBearer(r.Header.Get("Authorization")))
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return 0, 0, false
	}

	documentID, err = documentIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing document_id")
		return 0, 0, false
	}

	if !h.access.Check(r.Context(), identity.UserID, documentID, allowed) {
		writeError(w, http.StatusForbidden, "Access denied")
		return 0, 0, false
	}
	return documentID, identity.UserID, true
}

func documentIDFromPath(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadDocumentID
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorMessage{Message: message})
}
