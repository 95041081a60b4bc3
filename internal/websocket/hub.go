package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"legal-qa-be/internal/pkg/logger"
	"legal-qa-be/pkg/dispatch"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "progress_events"

// Hub fans stage snapshots out to the clients watching a session. A
// session may be watched from several tabs at once; each gets every
// snapshot.
type Hub struct {
	// Watchers map: SessionID -> list of clients (multi-tab)
	clients map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Redis connection for cross-instance relay
	rdb *redis.Client

	// instanceID marks this hub's own Redis publications so the
	// subscriber can skip them; local watchers already got the snapshot
	// directly.
	instanceID string

	logger logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[uuid.UUID][]*Client),
		rdb:        rdb,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run() {
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.SessionID] = append(h.clients[client.SessionID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Watcher registered", map[string]interface{}{"session_id": client.SessionID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.SessionID]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[client.SessionID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.SessionID]) == 0 {
					delete(h.clients, client.SessionID)
					h.logger.Info("Hub", "Session has no more watchers", map[string]interface{}{"session_id": client.SessionID})
				}
			}
			h.mu.Unlock()
		}
	}
}

// RelayProgress consumes stage snapshots from the in-process bus and fans
// them out. Runs until the subscription is closed.
func (h *Hub) RelayProgress(ctx context.Context, subscriber message.Subscriber) error {
	messages, err := subscriber.Subscribe(ctx, dispatch.ProgressTopic)
	if err != nil {
		return err
	}

	for msg := range messages {
		var snap dispatch.ProgressSnapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			h.logger.Warn("Hub", "Malformed progress snapshot dropped", map[string]interface{}{"error": err.Error()})
			msg.Ack()
			continue
		}
		h.Send(snap.SessionID, snap)
		msg.Ack()
	}
	return nil
}

// Send delivers one snapshot to every watcher of the session, locally and
// through Redis for watchers connected to other instances.
func (h *Hub) Send(sessionID uuid.UUID, snap dispatch.ProgressSnapshot) {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "stage_update",
		"data": snap.Snapshot,
	})

	h.sendLocal(sessionID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"origin":            h.instanceID,
			"target_session_id": sessionID.String(),
			"message":           json.RawMessage(data),
		})
		h.rdb.Publish(context.Background(), redisChannel, payload)
	}
}

func (h *Hub) sendLocal(sessionID uuid.UUID, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[sessionID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Watcher buffer full, dropping snapshot", map[string]interface{}{"session_id": sessionID})
		}
	}
}

func (h *Hub) subscribeToRedis() {
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		h.handleRedisPayload([]byte(msg.Payload))
	}
}

func (h *Hub) handleRedisPayload(raw []byte) {
	var payload struct {
		Origin          string          `json:"origin"`
		TargetSessionID string          `json:"target_session_id"`
		Message         json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Printf("Redis msg parse error: %v", err)
		return
	}

	// Our own publication; watchers on this instance got it already.
	if payload.Origin == h.instanceID {
		return
	}

	sid, err := uuid.Parse(payload.TargetSessionID)
	if err != nil {
		return
	}
	h.sendLocal(sid, payload.Message)
}
