package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strconv"

	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/repository"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
)

// Messages sent in "error" events. Permission denials never reveal whether the document exists.
const (
	msgUnauthenticated  = "unauthenticated"
	msgMissingDocument  = "Missing document_id"
	msgAccessDenied     = "Access denied"
	msgDocumentNotFound = "Document not found"
	msgSaveFailed       = "Failed to save document"
	msgLoadFailed       = "Failed to load document"
	msgInvalidMessage   = "Invalid message"
	msgUnknownEvent     = "Unknown event"
	msgAccessRevoked    = "Access revoked"
)

// event is the per-message state handed from guards to handlers
type event struct {
	ctx        context.Context
	peer       Peer
	name       string
	data       json.RawMessage
	userID     int64
	documentID int64
}

type handlerFunc func(ev *event)

// guard checks a precondition and either calls next or answers the sender with an error
type guard func(next handlerFunc) handlerFunc

// Dispatcher runs the per-connection protocol: handshake, join/leave, content changes
// and disconnect. Events of a single connection are handled in the order they are read.
type Dispatcher struct {
	registry *Registry
	rooms    Rooms
	gate     *Gate
	docs     DocumentStore

	handlers map[string]handlerFunc
	relay    evictionRelay
	logger   *slog.Logger
}

// evictionRelay is implemented by Rooms that span processes
type evictionRelay interface {
	OnEviction(fn EvictionFunc)
	RelayEviction(ctx context.Context, documentID, userID int64) error
}

func NewDispatcher(registry *Registry, rooms Rooms, gate *Gate, docs DocumentStore, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		rooms:    rooms,
		gate:     gate,
		docs:     docs,
		logger:   logger.With(slog.String("component", "dispatcher")),
	}

	d.handlers = map[string]handlerFunc{
		models.EventJoinDocument: chain(d.handleJoin,
			d.requireUser,
			d.requireDocument,
			d.requirePermission(models.ReadAccess),
		),
		models.EventLeaveDocument: chain(d.handleLeave,
			d.requireUser,
		),
		models.EventDocumentChange: chain(d.handleChange,
			d.requireUser,
			d.requireDocument,
			d.requirePermission(models.WriteAccess),
		),
	}

	if relay, ok := rooms.(evictionRelay); ok {
		d.relay = relay
		relay.OnEviction(d.evictLocal)
	}

	return d
}

// chain wraps h so the first guard runs first
func chain(h handlerFunc, guards ...guard) handlerFunc {
	for i := len(guards) - 1; i >= 0; i-- {
		h = guards[i](h)
	}
	return h
}

// Connect authenticates a handshake. On error the caller must refuse the transport.
func (d *Dispatcher) Connect(ctx context.Context, connID, token string) (int64, error) {
	return d.registry.Authenticate(ctx, connID, token)
}

// Disconnect drops the connection from every room and from the registry
func (d *Dispatcher) Disconnect(connID string) {
	d.rooms.LeaveAll(connID)
	d.registry.Forget(connID)
}

// HandleMessage decodes one inbound frame and runs its handler. Panics are contained
// to the offending message.
func (d *Dispatcher) HandleMessage(ctx context.Context, peer Peer, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic while handling message",
				slog.String("connID", peer.ID()),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		d.logger.Warn("failed to decode client message", slog.String("connID", peer.ID()), slog.Any("error", err))
		d.emitError(ctx, peer, msgInvalidMessage)
		return
	}

	handler, ok := d.handlers[env.Event]
	if !ok {
		d.logger.Warn("unknown event", slog.String("event", env.Event), slog.String("connID", peer.ID()))
		d.emitError(ctx, peer, msgUnknownEvent)
		return
	}

	spanCtx, span := middleware.StartSpan(ctx, "Realtime."+env.Event,
		attribute.String("conn.id", peer.ID()),
		attribute.Int("message.size", len(raw)),
	)
	defer span.End()

	handler(&event{ctx: spanCtx, peer: peer, name: env.Event, data: env.Data})
}

// RevokeAccess evicts the user's connections from a document room and tells them why.
// Collaborator management calls it after downgrading or removing a collaborator, since
// membership is otherwise only checked at join time. With multi-process rooms the
// eviction is relayed to the other processes; the count covers this process only.
func (d *Dispatcher) RevokeAccess(ctx context.Context, documentID, userID int64) int {
	evicted := d.evictLocal(ctx, documentID, userID)
	if d.relay != nil {
		if err := d.relay.RelayEviction(ctx, documentID, userID); err != nil {
			d.logger.Error("failed to relay eviction",
				slog.Int64("documentID", documentID),
				slog.Int64("userID", userID),
				slog.Any("error", err),
			)
		}
	}
	return evicted
}

func (d *Dispatcher) evictLocal(ctx context.Context, documentID, userID int64) int {
	evicted := 0
	for _, peer := range d.rooms.Members(documentID) {
		owner, ok := d.registry.Lookup(peer.ID())
		if !ok || owner != userID {
			continue
		}
		d.rooms.Leave(documentID, peer.ID())
		d.emitError(ctx, peer, msgAccessRevoked)
		evicted++
	}
	if evicted > 0 {
		d.logger.Info("evicted connections after access change",
			slog.Int64("documentID", documentID),
			slog.Int64("userID", userID),
			slog.Int("connections", evicted),
		)
	}
	return evicted
}

// Guards

func (d *Dispatcher) requireUser(next handlerFunc) handlerFunc {
	return func(ev *event) {
		userID, ok := d.registry.Lookup(ev.peer.ID())
		if !ok {
			d.emitError(ev.ctx, ev.peer, msgUnauthenticated)
			return
		}
		ev.userID = userID
		middleware.AddSpanEvent(ev.ctx, "authenticated", attribute.Int64("user.id", userID))
		next(ev)
	}
}

func (d *Dispatcher) requireDocument(next handlerFunc) handlerFunc {
	return func(ev *event) {
		documentID := documentIDFrom(ev.data)
		if documentID <= 0 {
			d.emitError(ev.ctx, ev.peer, msgMissingDocument)
			return
		}
		ev.documentID = documentID
		next(ev)
	}
}

func (d *Dispatcher) requirePermission(allowed models.PermissionSet) guard {
	return func(next handlerFunc) handlerFunc {
		return func(ev *event) {
			if !d.gate.Check(ev.ctx, ev.userID, ev.documentID, allowed) {
				d.logger.Info("access denied",
					slog.String("event", ev.name),
					slog.Int64("userID", ev.userID),
					slog.Int64("documentID", ev.documentID),
				)
				d.emitError(ev.ctx, ev.peer, msgAccessDenied)
				return
			}
			next(ev)
		}
	}
}

// Handlers

// handleJoin admits the connection, then loads the snapshot. Joining before loading means
// a change committed in between reaches the joiner either in the snapshot or as a broadcast.
func (d *Dispatcher) handleJoin(ev *event) {
	d.rooms.Join(ev.documentID, ev.peer)

	doc, err := d.docs.GetDocument(ev.ctx, ev.documentID)
	if err != nil {
		d.rooms.Leave(ev.documentID, ev.peer.ID())
		d.failLoad(ev, err)
		return
	}

	if err := d.rooms.SendTo(ev.ctx, ev.peer, models.EventLoadDocumentContent, models.LoadDocumentContent{
		Title:   doc.Title,
		Content: doc.Content,
	}); err != nil {
		middleware.AddSpanError(ev.ctx, err)
	}

	d.rooms.Broadcast(ev.ctx, ev.documentID, models.EventUserJoined, models.UserJoined{UserID: ev.userID}, ev.peer.ID())

	d.logger.Info("user joined document",
		slog.String("connID", ev.peer.ID()),
		slog.Int64("userID", ev.userID),
		slog.Int64("documentID", ev.documentID),
	)
}

// handleLeave never errors and notifies nobody
func (d *Dispatcher) handleLeave(ev *event) {
	if documentID := documentIDFrom(ev.data); documentID != 0 {
		d.rooms.Leave(documentID, ev.peer.ID())
	}
}

// handleChange replaces the stored content with exactly what the client sent and relays
// it to the rest of the room. Concurrent changes race; the last commit wins.
func (d *Dispatcher) handleChange(ev *event) {
	content := models.Content(gjson.GetBytes(ev.data, "content").Raw)

	if _, err := d.docs.GetDocument(ev.ctx, ev.documentID); err != nil {
		d.failLoad(ev, err)
		return
	}

	if err := d.docs.SetDocumentContent(ev.ctx, ev.documentID, content); err != nil {
		middleware.AddSpanError(ev.ctx, err)
		if errors.Is(err, repository.ErrDocumentNotFound) {
			d.emitError(ev.ctx, ev.peer, msgDocumentNotFound)
			return
		}
		d.logger.Error("failed to persist document content",
			slog.Int64("documentID", ev.documentID),
			slog.Any("error", err),
		)
		d.emitError(ev.ctx, ev.peer, msgSaveFailed)
		return
	}

	d.rooms.Broadcast(ev.ctx, ev.documentID, models.EventDocumentUpdated, models.DocumentUpdated{
		DocumentID: ev.documentID,
		Content:    content,
		ByUserID:   ev.userID,
	}, ev.peer.ID())
}

func (d *Dispatcher) failLoad(ev *event, err error) {
	middleware.AddSpanError(ev.ctx, err)
	if errors.Is(err, repository.ErrDocumentNotFound) {
		d.emitError(ev.ctx, ev.peer, msgDocumentNotFound)
		return
	}
	d.logger.Error("failed to load document",
		slog.Int64("documentID", ev.documentID),
		slog.Any("error", err),
	)
	d.emitError(ev.ctx, ev.peer, msgLoadFailed)
}

func (d *Dispatcher) emitError(ctx context.Context, peer Peer, message string) {
	if err := d.rooms.SendTo(ctx, peer, models.EventError, models.ErrorMessage{Message: message}); err != nil {
		d.logger.Warn("failed to deliver error event", slog.String("connID", peer.ID()), slog.Any("error", fmt.Errorf("%s: %w", message, err)))
	}
}

// maxExactFloatInt is the largest integer a float64 holds exactly
const maxExactFloatInt = 1 << 53

// documentIDFrom reads document_id as an integral JSON number or a decimal integer
// string. Anything else, including fractional numbers, yields 0.
func documentIDFrom(data json.RawMessage) int64 {
	if len(data) == 0 {
		return 0
	}

	res := gjson.GetBytes(data, "document_id")
	switch res.Type {
	case gjson.Number:
		if id, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
			return id
		}
		// 7.0 or 7e0
		if res.Num == math.Trunc(res.Num) && math.Abs(res.Num) <= maxExactFloatInt {
			return int64(res.Num)
		}
	case gjson.String:
		if id, err := strconv.ParseInt(res.Str, 10, 64); err == nil {
			return id
		}
	}
	return 0
}
