// Package realtime pushes live check-ins to door staff and organizers over websockets.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Feed events sent to clients besides the ones published by the ticket service.
const (
	EventSubscribed = "subscribed"
	EventWatchers   = "watchers"
)

// WatchersChangeHandler is called when the number of feed clients for an event changes.
type WatchersChangeHandler func(eventID uuid.UUID, count int)

// Hub maintains event_id -> set of connections and broadcasts check-ins.
// With Redis configured, messages go through pub/sub so every instance delivers them.
type Hub struct {
	// eventID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per event
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	onChange WatchersChangeHandler
}

// RedisPublisher publishes to Redis for cross-instance broadcast.
type RedisPublisher interface {
	PublishEventMessage(eventID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to an event's channel and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new websocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetWatchersChangeHandler sets the callback for feed client count changes.
func (h *Hub) SetWatchersChangeHandler(fn WatchersChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// Register adds a client to an event room. The first client of an event starts the
// Redis subscription, which is opened without holding the hub lock.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.rooms[c.EventID] == nil
	if first {
		h.rooms[c.EventID] = make(map[string]*Client)
	}
	h.rooms[c.EventID][c.ID] = c
	count := len(h.rooms[c.EventID])
	onChange := h.onChange
	h.mu.Unlock()

	if first && h.redisSub != nil {
		h.subscribe(c.EventID)
	}
	if onChange != nil {
		onChange(c.EventID, count)
	}
	h.logger.Debug("client joined check-in feed", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// subscribe opens the event's Redis subscription and keeps it only if the room still
// has clients and no other subscription was stored meanwhile.
func (h *Hub) subscribe(eventID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeEvent(eventID, func(event string, payload []byte) {
		h.Broadcast(eventID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("check-in feed subscribe failed, serving local messages only",
			zap.String("event_id", eventID.String()), zap.Error(err))
		return
	}
	h.mu.Lock()
	_, active := h.rooms[eventID]
	_, taken := h.subs[eventID]
	keep := active && !taken
	if keep {
		h.subs[eventID] = cancel
	}
	h.mu.Unlock()
	if !keep {
		cancel()
	}
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	count := -1
	if m, ok := h.rooms[c.EventID]; ok {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		count = len(m)
		if count == 0 {
			delete(h.rooms, c.EventID)
			if cancel, ok := h.subs[c.EventID]; ok {
				cancel()
				delete(h.subs, c.EventID)
			}
		}
	}
	onChange := h.onChange
	h.mu.Unlock()
	if onChange != nil && count >= 0 {
		onChange(c.EventID, count)
	}
	h.logger.Debug("client left check-in feed", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Broadcast sends a message to every local client of an event.
func (h *Hub) Broadcast(eventID uuid.UUID, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("unencodable feed payload", zap.String("event", event), zap.Error(err))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[eventID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("feed client buffer full, dropping message", zap.String("client_id", c.ID))
		}
	}
}

// PublishToEvent delivers a message to the event's feed on every instance. With Redis
// it only publishes, and the subscriber performs the local broadcast once. If the
// publish fails, local clients still get the message.
func (h *Hub) PublishToEvent(eventID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.Broadcast(eventID, event, payload)
		return
	}
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("unencodable feed payload", zap.String("event", event), zap.Error(err))
		return
	}
	if err := h.redis.PublishEventMessage(eventID, event, data); err != nil {
		h.logger.Warn("feed publish failed, broadcasting locally", zap.String("event_id", eventID.String()), zap.Error(err))
		h.Broadcast(eventID, event, json.RawMessage(data))
	}
}

// Watchers returns the number of local feed clients for an event.
func (h *Hub) Watchers(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// sendTo queues a message for a single client.
func (h *Hub) sendTo(c *Client, event string, payload interface{}) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[c.EventID][c.ID]; !ok {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}

func encode(payload interface{}) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}
