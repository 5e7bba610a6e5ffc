package collaboration

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"docsync/internal/auth"
	"docsync/internal/middleware"
	"docsync/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// WebSocketHandler upgrades authenticated HTTP requests into collaboration sessions
type WebSocketHandler struct {
	dispatcher *Dispatcher
	upgrader   websocket.Upgrader
	cfg        SessionConfig

	// sessions outlive the upgrade request, so they run on their own context
	baseCtx context.Context
	cancel  context.CancelFunc

	// closing, sessions and wg.Add are guarded by mu so Shutdown sees every tracked session
	sessions map[string]*Session
	closing  bool
	mu       sync.Mutex
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewWebSocketHandler builds the handler. An empty allowedOrigins accepts any origin.
func NewWebSocketHandler(dispatcher *Dispatcher, cfg SessionConfig, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &WebSocketHandler{
		dispatcher: dispatcher,
		cfg:        cfg,
		baseCtx:    ctx,
		cancel:     cancel,
		sessions:   make(map[string]*Session),
		logger:     logger.With(slog.String("component", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.ToLower(strings.TrimRight(origin, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients send no Origin
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// TokenFromRequest reads the access token from the "token" query parameter, falling
// back to an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return auth.ExtractBearer(r.Header.Get("Authorization"))
}

// ServeHTTP authenticates the handshake before upgrading. Refused handshakes get a 401
// and never become sessions.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := models.NewConnectionID()

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect", attribute.String("conn.id", connID))
	defer span.End()

	if h.shuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	userID, err := h.dispatcher.Connect(ctx, connID, TokenFromRequest(r))
	if err != nil {
		middleware.AddSpanError(ctx, err)
		status := http.StatusUnauthorized
		if !errors.Is(err, ErrAuthFailure) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "unauthenticated", status)
		return
	}
	span.SetAttributes(attribute.Int64("user.id", userID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote an HTTP error
		h.logger.Warn("websocket upgrade failed", slog.String("connID", connID), slog.Any("error", err))
		middleware.AddSpanError(ctx, err)
		h.dispatcher.Disconnect(connID)
		return
	}

	session := NewSession(connID, userID, conn, h.cfg, h.logger)
	if !h.track(session) {
		// Shutdown started while this handshake was in flight
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteWait))
		conn.Close()
		h.dispatcher.Disconnect(connID)
		return
	}

	go func() {
		defer h.wg.Done()
		session.WritePump()
	}()
	go func() {
		defer h.wg.Done()
		defer h.untrack(session)
		session.ReadPump(h.baseCtx, h.dispatcher)
	}()

	h.logger.Info("websocket connection established", slog.String("connID", connID), slog.Int64("userID", userID))
}

func (h *WebSocketHandler) shuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// track registers the session and reserves its two pumps on wg. It refuses once
// Shutdown has begun.
func (h *WebSocketHandler) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s.ID()] = s
	h.wg.Add(2)
	return true
}

func (h *WebSocketHandler) untrack(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
}

// ActiveSessions returns the number of open sessions on this process
func (h *WebSocketHandler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every session and waits for their pumps to exit or ctx to expire
func (h *WebSocketHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.cancel()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	h.logger.Info("closing websocket sessions", slog.Int("sessions", len(open)))
	for _, s := range open {
		s.Close()
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
