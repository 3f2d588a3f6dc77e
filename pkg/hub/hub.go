// Package hub fans inbound relay events out to room subscribers, choosing
// reliable or droppable delivery per event type. This split is the central
// backpressure policy: guaranteed delivery is traded for bounded latency on
// exactly the streams where staleness is worse than loss.
package hub

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/registry"
)

// Bridge republishes reliable events beyond this process (NATS in
// production). A nil bridge keeps everything local.
type Bridge interface {
	PublishReliable(room string, ev *model.OutboundEvent) error
	Close()
}

// SessionRoom returns the room name subscribers join for one session.
func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

// RelayRoom returns the room relay connections join after registering.
func RelayRoom(sessionID string) string {
	return "relay:" + sessionID
}

// sessionFromRoom is the inverse of SessionRoom.
func sessionFromRoom(room string) (string, bool) {
	return strings.CutPrefix(room, "session:")
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	sessions *registry.Registry
	bridge   Bridge
	l        *log.Logger
	metrics  *hubMetrics
}

type Option func(*Hub)

// WithSessionLookup lets the hub resolve live sessions for the late-joiner
// catch-up notification.
func WithSessionLookup(r *registry.Registry) Option {
	return func(h *Hub) {
		h.sessions = r
	}
}

func WithBridge(b Bridge) Option {
	return func(h *Hub) {
		h.bridge = b
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Hub) {
		h.l = l
	}
}

func NewHub(opts ...Option) *Hub {
	ret := &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		l:       log.Default().Named("hub"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.metrics = setupMetrics(ret)
	return ret
}

// Register attaches a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.l.Debug("client registered",
		log.String("client", c.ID), log.Int("connections", h.ClientCount()))
}

// Unregister detaches a client, removes it from all rooms and closes it.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	var touched []string
	for room, members := range h.rooms {
		if _, member := members[clientID]; member {
			delete(members, clientID)
			touched = append(touched, room)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		c.Close()
		h.l.Debug("client unregistered",
			log.String("client", clientID),
			log.Uint64("volatileDropped", c.Dropped()))
	}
	for _, room := range touched {
		h.notifyViewers(room)
	}
}

// JoinRoom subscribes a client to a room. Joining the room of an already
// active session immediately yields a synthetic session:active event so
// late joiners can switch into the live view without polling.
func (h *Hub) JoinRoom(clientID, room string) error {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("unknown client %s", clientID)
	}
	members, found := h.rooms[room]
	if !found {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[clientID] = c
	h.mu.Unlock()

	if sessionID, isSession := sessionFromRoom(room); isSession && h.sessions != nil {
		if s := h.sessions.GetSession(sessionID); s != nil {
			c.deliverReliable(&model.OutboundEvent{
				Type:      model.EventSessionActive,
				SessionID: sessionID,
				Timestamp: nowMs(),
				Data:      s,
			})
		}
	}
	h.notifyViewers(room)
	return nil
}

// LeaveRoom unsubscribes a client from a room.
func (h *Hub) LeaveRoom(clientID, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
	h.notifyViewers(room)
}

// Broadcast fans an event out to every member of a room, honoring the
// event type's delivery mode. Clients whose reliable queue overflowed are
// evicted; blocking the room on one dead consumer is not an option.
func (h *Hub) Broadcast(room string, ev *model.OutboundEvent) {
	mode := ev.Type.Mode()

	h.mu.RLock()
	members := lo.Values(h.rooms[room])
	h.mu.RUnlock()

	var evict []string
	for _, c := range members {
		if mode == model.Volatile {
			if c.deliverVolatile(ev) {
				h.metrics.sentVolatile.Add(1)
			} else {
				h.metrics.droppedVolatile.Add(1)
			}
			continue
		}
		if c.deliverReliable(ev) {
			h.metrics.sentReliable.Add(1)
		} else {
			evict = append(evict, c.ID)
		}
	}
	for _, id := range evict {
		h.l.Warn("evicting client with overflowing reliable queue",
			log.String("client", id), log.String("event", string(ev.Type)))
		h.Unregister(id)
	}

	if mode == model.Reliable && h.bridge != nil {
		if err := h.bridge.PublishReliable(room, ev); err != nil {
			h.l.Error("bridge publish failed",
				log.String("room", room), log.ErrorField(err))
		}
	}
}

// SendTo delivers a reliable event to one specific client (acks, nacks,
// steward commands back to a relay).
func (h *Hub) SendTo(clientID string, ev *model.OutboundEvent) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if !c.deliverReliable(ev) {
		h.Unregister(clientID)
		return false
	}
	h.metrics.sentReliable.Add(1)
	return true
}

// notifyViewers tells the session's relay connections how many subscribers
// are watching, so the relay can adapt its streaming (controls stream on
// demand).
func (h *Hub) notifyViewers(room string) {
	sessionID, isSession := sessionFromRoom(room)
	if !isSession {
		return
	}
	count := h.RoomSize(room)
	h.Broadcast(RelayRoom(sessionID), &model.OutboundEvent{
		Type:      model.EventRelayViewers,
		SessionID: sessionID,
		Timestamp: nowMs(),
		Data: model.ViewerInfo{
			SessionID:       sessionID,
			ViewerCount:     count,
			RequestControls: count > 0,
		},
	})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close evicts all clients and shuts the bridge down.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := lo.Keys(h.clients)
	h.mu.Unlock()
	for _, id := range clients {
		h.Unregister(id)
	}
	if h.bridge != nil {
		h.bridge.Close()
	}
	h.l.Info("hub closed",
		log.Uint64("sentReliable", h.metrics.sentReliable.Load()),
		log.Uint64("sentVolatile", h.metrics.sentVolatile.Load()),
		log.Uint64("droppedVolatile", h.metrics.droppedVolatile.Load()))
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
