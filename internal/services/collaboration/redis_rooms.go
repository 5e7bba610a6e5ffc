package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"docsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
)

const roomChannelPrefix = "docsync:room:"

const (
	relayBroadcast = "broadcast"
	relayEvict     = "evict"
)

// relayMessage is what one process publishes for the others. Kind is empty or
// "broadcast" for a frame to deliver, "evict" for a user to remove from the room.
type relayMessage struct {
	Origin     string          `json:"origin"`
	Kind       string          `json:"kind,omitempty"`
	DocumentID int64           `json:"document_id"`
	Exclude    string          `json:"exclude,omitempty"`
	Frame      json.RawMessage `json:"frame,omitempty"`
	UserID     int64           `json:"user_id,omitempty"`
}

// EvictionFunc removes a user's local connections from a document room
type EvictionFunc func(ctx context.Context, documentID, userID int64) int

// RedisRooms keeps membership local like RoomManager but relays every broadcast through
// Redis pub/sub, so members connected to other processes receive it too. Join, Leave,
// Members and Count stay process-local.
type RedisRooms struct {
	*RoomManager

	client     *redis.Client
	ownsClient bool
	pubsub     *redis.PubSub
	nodeID     string

	evictMu sync.RWMutex
	onEvict EvictionFunc

	wg     sync.WaitGroup
	logger *slog.Logger
}

var _ Rooms = (*RedisRooms)(nil)

// NewRedisRooms connects to redisURL and starts relaying
func NewRedisRooms(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisRooms, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	r, err := NewRedisRoomsWithClient(ctx, client, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	r.ownsClient = true
	return r, nil
}

// NewRedisRoomsWithClient relays over an existing client; Close leaves the client open
func NewRedisRoomsWithClient(ctx context.Context, client *redis.Client, logger *slog.Logger) (*RedisRooms, error) {
	r := &RedisRooms{
		RoomManager: NewRoomManager(logger),
		client:      client,
		nodeID:      ksuid.New().String(),
		logger:      logger.With(slog.String("component", "redis_rooms")),
	}

	r.pubsub = client.PSubscribe(ctx, roomChannelPrefix+"*")
	// wait for the subscription so broadcasts published right after are not missed
	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		return nil, fmt.Errorf("subscribe to room channels: %w", err)
	}

	r.wg.Add(1)
	go r.listen(r.pubsub.Channel())

	r.logger.Info("relaying room broadcasts through redis", slog.String("nodeID", r.nodeID))
	return r, nil
}

// Broadcast delivers to local members, then publishes for the other processes
func (r *RedisRooms) Broadcast(ctx context.Context, documentID int64, event string, payload any, excludeConnID string) {
	frame, err := models.EncodeEnvelope(event, payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast", slog.String("event", event), slog.Any("error", err))
		return
	}

	r.DeliverFrame(documentID, frame, excludeConnID)

	msg, err := json.Marshal(relayMessage{
		Origin:     r.nodeID,
		Kind:       relayBroadcast,
		DocumentID: documentID,
		Exclude:    excludeConnID,
		Frame:      frame,
	})
	if err != nil {
		r.logger.Error("failed to encode relay message", slog.Any("error", err))
		return
	}

	if err := r.client.Publish(ctx, roomChannel(documentID), msg).Err(); err != nil {
		r.logger.Warn("failed to relay broadcast",
			slog.Int64("documentID", documentID),
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}

// OnEviction sets the function run when another process evicts a user
func (r *RedisRooms) OnEviction(fn EvictionFunc) {
	r.evictMu.Lock()
	r.onEvict = fn
	r.evictMu.Unlock()
}

// RelayEviction asks every other process to evict the user from the document room.
// It shares the room channel with broadcasts, so frames published after it are
// delivered to remote nodes only once the eviction has been applied there.
func (r *RedisRooms) RelayEviction(ctx context.Context, documentID, userID int64) error {
	msg, err := json.Marshal(relayMessage{
		Origin:     r.nodeID,
		Kind:       relayEvict,
		DocumentID: documentID,
		UserID:     userID,
	})
	if err != nil {
		return fmt.Errorf("encode eviction: %w", err)
	}
	if err := r.client.Publish(ctx, roomChannel(documentID), msg).Err(); err != nil {
		return fmt.Errorf("relay eviction: %w", err)
	}
	return nil
}

func (r *RedisRooms) listen(ch <-chan *redis.Message) {
	defer r.wg.Done()

	for msg := range ch {
		var relay relayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &relay); err != nil {
			r.logger.Warn("dropping malformed relay message", slog.String("channel", msg.Channel), slog.Any("error", err))
			continue
		}
		if relay.Origin == r.nodeID {
			continue
		}

		switch relay.Kind {
		case "", relayBroadcast:
			r.DeliverFrame(relay.DocumentID, relay.Frame, relay.Exclude)
		case relayEvict:
			r.evictMu.RLock()
			fn := r.onEvict
			r.evictMu.RUnlock()
			if fn == nil {
				continue
			}
			if n := fn(context.Background(), relay.DocumentID, relay.UserID); n > 0 {
				r.logger.Info("applied relayed eviction",
					slog.Int64("documentID", relay.DocumentID),
					slog.Int64("userID", relay.UserID),
					slog.Int("connections", n),
				)
			}
		default:
			r.logger.Warn("dropping relay message of unknown kind", slog.String("kind", relay.Kind))
		}
	}
}

// NodeID identifies this process on the relay channels
func (r *RedisRooms) NodeID() string { return r.nodeID }

// Ping checks if Redis is reachable
func (r *RedisRooms) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close stops relaying and waits for the listener to exit
func (r *RedisRooms) Close() error {
	err := r.pubsub.Close()
	r.wg.Wait()
	if r.ownsClient {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func roomChannel(documentID int64) string {
	return roomChannelPrefix + strconv.FormatInt(documentID, 10)
}
