package collaboration

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SessionConfig tunes one websocket session
type SessionConfig struct {
	SendBuffer int           // outbound frames queued before drops
	ReadLimit  int64         // max inbound frame size in bytes
	PongWait   time.Duration // read deadline, refreshed by pongs
	WriteWait  time.Duration
}

// PingPeriod must stay below PongWait so the peer has time to answer
func (c SessionConfig) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		SendBuffer: 256,
		ReadLimit:  1 << 20,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

// Session is one live websocket connection. Frames are queued on send and written by
// WritePump; ReadPump feeds inbound frames to the dispatcher one at a time.
type Session struct {
	id     string
	userID int64
	conn   *websocket.Conn
	cfg    SessionConfig

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	logger *slog.Logger
}

func NewSession(id string, userID int64, conn *websocket.Conn, cfg SessionConfig, logger *slog.Logger) *Session {
	return &Session{
		id:     id,
		userID: userID,
		conn:   conn,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("connID", id), slog.Int64("userID", userID)),
	}
}

var _ Peer = (*Session)(nil)

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() int64 { return s.userID }

// Enqueue queues a frame without blocking. It fails once the session is closed or
// when the outbound buffer is full.
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close stops both pumps; safe to call more than once
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// ReadPump reads frames until the connection fails, then disconnects the session
func (s *Session) ReadPump(ctx context.Context, d *Dispatcher) {
	defer func() {
		d.Disconnect(s.id)
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(s.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", slog.Any("error", err))
			}
			return
		}
		d.HandleMessage(ctx, s, message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings
// Learning: gorilla allows one concurrent writer per connection, so frames and pings
// are only ever written from this goroutine
func (s *Session) WritePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return

		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("websocket write failed", slog.Any("error", err))
				s.Close()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		}
	}
}
