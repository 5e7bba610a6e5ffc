package collaboration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"docsync/internal/models"
)

// room is the member set of one document. deliverMu serialises deliveries so every
// member observes the room's frames in the same order.
type room struct {
	members   map[string]Peer
	deliverMu sync.Mutex
}

// RoomManager tracks which connections are subscribed to which documents in this process
type RoomManager struct {
	rooms       map[int64]*room               // documentID -> members
	memberships map[string]map[int64]struct{} // connID -> documentIDs, for LeaveAll
	mu          sync.RWMutex

	logger *slog.Logger
}

func NewRoomManager(logger *slog.Logger) *RoomManager {
	return &RoomManager{
		rooms:       make(map[int64]*room),
		memberships: make(map[string]map[int64]struct{}),
		logger:      logger.With(slog.String("component", "room_manager")),
	}
}

var _ Rooms = (*RoomManager)(nil)

// Join adds peer to the document's room, creating the room on first use. Joining twice is a no-op.
func (m *RoomManager) Join(documentID int64, peer Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[documentID]
	if !ok {
		r = &room{members: make(map[string]Peer)}
		m.rooms[documentID] = r
	}
	r.members[peer.ID()] = peer

	if m.memberships[peer.ID()] == nil {
		m.memberships[peer.ID()] = make(map[int64]struct{})
	}
	m.memberships[peer.ID()][documentID] = struct{}{}

	m.logger.Debug("joined room",
		slog.String("connID", peer.ID()),
		slog.Int64("documentID", documentID),
		slog.Int("members", len(r.members)),
	)
}

// Leave removes connID from the room; absent members are ignored
func (m *RoomManager) Leave(documentID int64, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaveLocked(documentID, connID)
}

// LeaveAll removes connID from every room it is in
func (m *RoomManager) LeaveAll(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for documentID := range m.memberships[connID] {
		m.leaveLocked(documentID, connID)
	}
	delete(m.memberships, connID)
}

func (m *RoomManager) leaveLocked(documentID int64, connID string) {
	if r, ok := m.rooms[documentID]; ok {
		delete(r.members, connID)
		if len(r.members) == 0 {
			delete(m.rooms, documentID)
		}
	}
	if docs, ok := m.memberships[connID]; ok {
		delete(docs, documentID)
		if len(docs) == 0 {
			delete(m.memberships, connID)
		}
	}
}

// Broadcast delivers the event to every member except excludeConnID
func (m *RoomManager) Broadcast(ctx context.Context, documentID int64, event string, payload any, excludeConnID string) {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		m.logger.Error("failed to encode broadcast", slog.String("event", event), slog.Any("error", err))
		return
	}
	m.DeliverFrame(documentID, frame, excludeConnID)
}

// DeliverFrame enqueues an already encoded frame to local members. A recipient whose
// queue is full or closed is skipped and logged; the rest still receive the frame.
func (m *RoomManager) DeliverFrame(documentID int64, frame []byte, excludeConnID string) int {
	m.mu.RLock()
	r, ok := m.rooms[documentID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	m.mu.RLock()
	recipients := make([]Peer, 0, len(r.members))
	for connID, peer := range r.members {
		if connID != excludeConnID {
			recipients = append(recipients, peer)
		}
	}
	m.mu.RUnlock()

	delivered := 0
	for _, peer := range recipients {
		if peer.Enqueue(frame) {
			delivered++
			continue
		}
		m.logger.Warn("dropped frame for slow or closed connection",
			slog.String("connID", peer.ID()),
			slog.Int64("documentID", documentID),
		)
	}
	return delivered
}

// SendTo delivers one event to a single connection
func (m *RoomManager) SendTo(ctx context.Context, peer Peer, event string, payload any) error {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if !peer.Enqueue(frame) {
		m.logger.Warn("dropped frame for slow or closed connection", slog.String("connID", peer.ID()), slog.String("event", event))
		return fmt.Errorf("send %s to %s: queue unavailable", event, peer.ID())
	}
	return nil
}

// Members returns the peers currently joined to the document
func (m *RoomManager) Members(documentID int64) []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[documentID]
	if !ok {
		return nil
	}
	peers := make([]Peer, 0, len(r.members))
	for _, peer := range r.members {
		peers = append(peers, peer)
	}
	return peers
}

// Count returns the room size for the document
func (m *RoomManager) Count(documentID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[documentID]; ok {
		return len(r.members)
	}
	return 0
}

// RoomsOf returns the documents connID is joined to
func (m *RoomManager) RoomsOf(connID string) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]int64, 0, len(m.memberships[connID]))
	for documentID := range m.memberships[connID] {
		docs = append(docs, documentID)
	}
	return docs
}
