package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/hub"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ingest"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/parity"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ratelimit"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// relayService owns the inbound pipeline: rate limit, validate, update the
// session registry, track parity, fan out via the hub.
type relayService struct {
	limiter  *ratelimit.Limiter
	adapter  *ingest.Adapter
	sessions *registry.Registry
	tracker  *parity.Tracker
	hub      *hub.Hub
	l        *log.Logger
	upgrader websocket.Upgrader

	printMessage bool
}

type serviceOption func(*relayService)

func withLimiter(l *ratelimit.Limiter) serviceOption {
	return func(s *relayService) { s.limiter = l }
}

func withAdapter(a *ingest.Adapter) serviceOption {
	return func(s *relayService) { s.adapter = a }
}

func withRegistry(r *registry.Registry) serviceOption {
	return func(s *relayService) { s.sessions = r }
}

func withTracker(t *parity.Tracker) serviceOption {
	return func(s *relayService) { s.tracker = t }
}

func withHub(h *hub.Hub) serviceOption {
	return func(s *relayService) { s.hub = h }
}

func withPrintMessage(b bool) serviceOption {
	return func(s *relayService) { s.printMessage = b }
}

func newRelayService(opts ...serviceOption) *relayService {
	ret := &relayService{
		l: log.Default().Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin policy is handled by the fronting proxy
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// resolveTier reads the entitlement tier the auth layer resolved upstream.
// Header wins over query param; anything unknown maps to anonymous.
func resolveTier(r *http.Request) ratelimit.Tier {
	name := r.Header.Get("X-PitBox-Tier")
	if name == "" {
		name = r.URL.Query().Get("tier")
	}
	return ratelimit.Resolve(name)
}

// classOf assigns inbound message types to their rate limit class. The
// high frequency uplink types run on the stream bucket, everything a human
// or the control plane triggers runs on the command bucket.
func classOf(msgType string) ratelimit.Class {
	switch msgType {
	case model.MsgTelemetry, model.MsgTelemetryBinary,
		model.MsgStrategyUpdate, model.MsgVideoFrame:
		return ratelimit.ClassStream
	default:
		return ratelimit.ClassCommand
	}
}

// writePump drains the client's event channels onto the websocket. One
// writer goroutine per connection; nobody else writes to the conn.
func (s *relayService) writePump(conn *websocket.Conn, c *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	stop := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(stop)
		conn.Close()
	}()
	events := make(chan *model.OutboundEvent)
	go func() {
		defer close(events)
		for {
			ev, ok := c.NextEvent()
			if !ok {
				return
			}
			select {
			case events <- ev:
			case <-stop:
				return
			}
		}
	}()
	for {
		select {
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.l.Debug("write failed",
					log.String("client", c.ID), log.ErrorField(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// nack answers the sender with a negative ack naming the rejected type.
func (s *relayService) nack(clientID, sessionID, msgType string, cause error) {
	s.hub.SendTo(clientID, &model.OutboundEvent{
		Type:      model.EventAck,
		SessionID: sessionID,
		Timestamp: nowMs(),
		Data: model.NackPayload{
			OriginalType: msgType,
			OK:           false,
			Error:        cause.Error(),
		},
	})
}

func nowMs() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Millisecond)
}
