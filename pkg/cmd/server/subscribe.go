package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/hub"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ratelimit"
)

var errNotEntitled = errors.New("tier not entitled for this command")

// handleSubscribe upgrades a dashboard/overlay connection. Subscribers
// only speak the control plane: join and leave rooms, and (admin tier)
// steward commands.
func (s *relayService) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Warn("subscriber upgrade failed", log.ErrorField(err))
		return
	}
	connID := uuid.Must(uuid.NewV4()).String()
	tier := resolveTier(r)
	s.l.Info("subscriber connected",
		log.String("client", connID),
		log.String("tier", tier.Name),
		log.String("remote", r.RemoteAddr))

	client := hub.NewClient(connID)
	s.hub.Register(client)
	go s.writePump(conn, client)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		s.hub.Unregister(connID)
		s.limiter.Cleanup(connID)
		conn.Close()
		s.l.Info("subscriber disconnected", log.String("client", connID))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.l.Debug("subscriber read failed",
					log.String("client", connID), log.ErrorField(err))
			}
			return
		}
		s.dispatchSubscriber(connID, tier, raw)
	}
}

func (s *relayService) dispatchSubscriber(connID string, tier ratelimit.Tier, raw []byte) {
	env, err := s.adapter.Envelope(raw)
	var msgType string
	if err == nil {
		msgType = env.Type
	} else {
		// room requests carry no sessionId, only a room; retry as such
		if req, reqErr := s.adapter.RoomRequest(raw); reqErr == nil {
			msgType = req.Type
		} else {
			s.nack(connID, "", "unknown", err)
			return
		}
	}
	if !s.limiter.Allow(connID, ratelimit.ClassCommand, tier) {
		return
	}

	switch msgType {
	case model.MsgRoomJoin:
		if req, err := s.adapter.RoomRequest(raw); err != nil {
			s.nack(connID, "", msgType, err)
		} else if err := s.hub.JoinRoom(connID, req.Room); err != nil {
			s.nack(connID, "", msgType, err)
		}
	case model.MsgRoomLeave:
		if req, err := s.adapter.RoomRequest(raw); err != nil {
			s.nack(connID, "", msgType, err)
		} else {
			s.hub.LeaveRoom(connID, req.Room)
		}
	case model.MsgStewardAction:
		s.stewardAction(connID, tier, raw)
	default:
		s.nack(connID, "", msgType, errUnknownType)
	}
}

// stewardAction forwards an admin race control command to the session's
// relay and subscribers as a steward:decision.
func (s *relayService) stewardAction(connID string, tier ratelimit.Tier, raw []byte) {
	msg, err := s.adapter.StewardAction(raw)
	if err != nil {
		s.nack(connID, "", model.MsgStewardAction, err)
		return
	}
	if tier.Name != ratelimit.TierAdmin.Name {
		s.nack(connID, msg.SessionID, model.MsgStewardAction, errNotEntitled)
		return
	}
	ev := &model.OutboundEvent{
		Type:      model.EventStewardDecision,
		SessionID: msg.SessionID,
		Timestamp: nowMs(),
		Data:      msg,
	}
	s.hub.Broadcast(hub.RelayRoom(msg.SessionID), ev)
	s.hub.Broadcast(hub.SessionRoom(msg.SessionID), ev)
	s.eventLog(msg.SessionID, "steward", msg.Command+": "+msg.Reason, 0)
}
