package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/codec"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/hub"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ingest"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/ratelimit"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/registry"
)

var errUnknownType = errors.New("unsupported message type")

func incidentMessage(msg *model.Incident) string {
	where := msg.CornerName
	if where == "" {
		where = fmt.Sprintf("corner %d", msg.Corner)
	}
	names := msg.DriverNames
	if len(names) == 0 {
		for _, id := range msg.Cars {
			names = append(names, fmt.Sprintf("Car %d", id))
		}
	}
	return fmt.Sprintf("%s incident at %s: %s",
		msg.Severity, where, strings.Join(names, ", "))
}

// handleRelay upgrades a relay agent connection and runs its read pump.
// Messages are processed strictly in arrival order on this goroutine; the
// relay's view of its own session is therefore never reordered by us.
func (s *relayService) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Warn("relay upgrade failed", log.ErrorField(err))
		return
	}
	connID := uuid.Must(uuid.NewV4()).String()
	tier := resolveTier(r)
	s.l.Info("relay connected",
		log.String("client", connID),
		log.String("tier", tier.Name),
		log.String("remote", r.RemoteAddr))

	client := hub.NewClient(connID)
	s.hub.Register(client)
	go s.writePump(conn, client)

	conn.SetReadLimit(1 << 22) // video frames are large
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defer func() {
		s.hub.Unregister(connID)
		s.limiter.Cleanup(connID)
		conn.Close()
		s.l.Info("relay disconnected", log.String("client", connID))
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.l.Debug("relay read failed",
					log.String("client", connID), log.ErrorField(err))
			}
			return
		}
		s.dispatchRelay(connID, tier, raw)
	}
}

// dispatchRelay runs one inbound relay message through the pipeline:
// rate limit, typed validation, registry update, parity bookkeeping,
// hub fan out. A disconnect never tears the session down; only the
// registry's reaper does.
//
//nolint:cyclop // one arm per message type
func (s *relayService) dispatchRelay(connID string, tier ratelimit.Tier, raw []byte) {
	env, err := s.adapter.Envelope(raw)
	if err != nil {
		s.nack(connID, "", "unknown", err)
		return
	}
	if s.printMessage {
		s.l.Debug("relay message",
			log.String("client", connID),
			log.String("type", env.Type),
			log.String("session", env.SessionID))
	}
	if !s.limiter.Allow(connID, classOf(env.Type), tier) {
		// rate limited traffic is dropped, not nacked: a nack per dropped
		// frame would itself amplify the flood
		return
	}

	switch env.Type {
	case model.MsgRelayRegister:
		s.relayRegister(connID, raw)
	case model.MsgSessionMetadata:
		s.sessionMetadata(connID, env, raw)
	case model.MsgTelemetry:
		s.telemetry(connID, env, raw)
	case model.MsgTelemetryBinary:
		s.telemetryBinary(connID, env, raw)
	case model.MsgStrategyUpdate:
		s.strategyUpdate(connID, env, raw)
	case model.MsgIncident:
		s.incident(connID, env, raw)
	case model.MsgRaceEvent:
		s.raceEvent(connID, env, raw)
	case model.MsgDriverUpdate:
		s.driverUpdate(connID, env, raw)
	case model.MsgVideoFrame:
		s.videoFrame(connID, env, raw)
	default:
		s.nack(connID, env.SessionID, env.Type,
			&ingest.ValidationError{MessageType: env.Type, Cause: errUnknownType})
	}
}

// frameIn records parity for one enveloped frame and answers the sampled
// ack protocol. The returned receipt decides whether the frame is fanned
// out: duplicates are acked but never rebroadcast.
func (s *relayService) frameIn(connID string, env *model.Envelope) (rebroadcast bool) {
	receipt := s.tracker.RecordFrameIn(
		env.SessionID, env.Type, env.Timestamp, env.FrameID, env.AckRequested)
	if receipt.ShouldAck {
		if s.hub.SendTo(connID, &model.OutboundEvent{
			Type:      model.EventRelayAck,
			SessionID: env.SessionID,
			Timestamp: nowMs(),
			Data:      model.AckPayload{FrameID: env.FrameID},
		}) {
			s.tracker.RecordAckSent(env.SessionID, env.Type)
		}
	}
	return !receipt.Duplicate
}

func (s *relayService) relayRegister(connID string, raw []byte) {
	msg, err := s.adapter.RelayRegister(raw)
	if err != nil {
		s.nack(connID, "", model.MsgRelayRegister, err)
		return
	}
	s.sessions.Touch(msg.SessionID)
	if err := s.hub.JoinRoom(connID, hub.RelayRoom(msg.SessionID)); err != nil {
		s.l.Warn("relay register failed",
			log.String("client", connID), log.ErrorField(err))
		return
	}
	// tell the relay right away whether anyone is watching
	viewers := s.hub.RoomSize(hub.SessionRoom(msg.SessionID))
	s.hub.SendTo(connID, &model.OutboundEvent{
		Type:      model.EventRelayViewers,
		SessionID: msg.SessionID,
		Timestamp: nowMs(),
		Data: model.ViewerInfo{
			SessionID:       msg.SessionID,
			ViewerCount:     viewers,
			RequestControls: viewers > 0,
		},
	})
}

func (s *relayService) sessionMetadata(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.SessionMetadata(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	// first metadata activates the session, later ones are state changes
	eventType := model.EventSessionActive
	if existing := s.sessions.GetSession(env.SessionID); existing != nil &&
		existing.TrackName != registry.PlaceholderTrackName {
		eventType = model.EventSessionState
	}
	s.sessions.UpsertSession(msg)
	s.hub.Broadcast(hub.SessionRoom(env.SessionID), &model.OutboundEvent{
		Type:      eventType,
		SessionID: env.SessionID,
		Timestamp: nowMs(),
		Data:      s.sessions.GetSession(env.SessionID),
	})
}

func (s *relayService) telemetry(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.Telemetry(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	s.fanOutFrames(env.SessionID, env.Timestamp, ingest.NormalizeTelemetry(msg))
}

func (s *relayService) telemetryBinary(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.TelemetryBinary(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	ts, frames, err := codec.Decode(msg.Payload)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	if ts == 0 {
		ts = env.Timestamp
	}
	s.fanOutFrames(env.SessionID, ts, frames)
}

// fanOutFrames applies canonical car frames to the registry and emits one
// volatile timing:update for the whole batch, names enriched from cache.
func (s *relayService) fanOutFrames(sessionID string, ts float64, frames []model.CarFrame) {
	for i := range frames {
		f := &frames[i]
		s.sessions.UpsertCar(sessionID, f.CarID, registry.PatchFromFrame(f))
		if f.DriverName == "" {
			f.DriverName = s.sessions.DisplayName(sessionID, f.CarID)
		}
	}
	s.hub.Broadcast(hub.SessionRoom(sessionID), &model.OutboundEvent{
		Type:      model.EventTimingUpdate,
		SessionID: sessionID,
		Timestamp: nowMs(),
		Data: model.TimingUpdate{
			SessionID: sessionID,
			Timestamp: ts,
			Cars:      frames,
		},
	})
}

func (s *relayService) strategyUpdate(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.StrategyUpdate(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	intel := make([]model.OpponentIntel, 0, len(msg.Cars))
	for i := range msg.Cars {
		c := &msg.Cars[i]
		snap := &model.StrategySnapshot{
			Fuel:         c.Fuel,
			Tires:        c.Tires,
			Damage:       c.Damage,
			Pit:          c.Pit,
			TireCompound: c.TireCompound,
		}
		s.sessions.UpsertCar(env.SessionID, c.CarID,
			registry.CarPatch{Strategy: snap})
		intel = append(intel, model.OpponentIntel{
			CarID:        c.CarID,
			DisplayName:  s.sessions.DisplayName(env.SessionID, c.CarID),
			FuelPct:      c.Fuel.Pct,
			TireCompound: c.TireCompound,
			PitStops:     c.Pit.Stops,
			InPitLane:    c.Pit.InLane,
		})
	}
	room := hub.SessionRoom(env.SessionID)
	now := nowMs()
	// one strategy frame feeds three subscriber views, all droppable
	s.hub.Broadcast(room, &model.OutboundEvent{
		Type:      model.EventStrategyUpdate,
		SessionID: env.SessionID,
		Timestamp: now,
		Data:      msg.Cars,
	})
	s.hub.Broadcast(room, &model.OutboundEvent{
		Type:      model.EventCarStatus,
		SessionID: env.SessionID,
		Timestamp: now,
		Data:      s.sessions.GetSession(env.SessionID).Cars,
	})
	s.hub.Broadcast(room, &model.OutboundEvent{
		Type:      model.EventOpponentIntel,
		SessionID: env.SessionID,
		Timestamp: now,
		Data:      intel,
	})
}

func (s *relayService) incident(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.Incident(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	s.sessions.Touch(env.SessionID)
	room := hub.SessionRoom(env.SessionID)
	s.hub.Broadcast(room, &model.OutboundEvent{
		Type:      model.EventIncidentNew,
		SessionID: env.SessionID,
		Timestamp: nowMs(),
		Data:      msg,
	})
	s.eventLog(env.SessionID, "incident", incidentMessage(msg), msg.Lap)
}

func (s *relayService) raceEvent(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.RaceEvent(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	s.sessions.Touch(env.SessionID)
	s.hub.Broadcast(hub.SessionRoom(env.SessionID), &model.OutboundEvent{
		Type:      model.EventRaceEvent,
		SessionID: env.SessionID,
		Timestamp: nowMs(),
		Data:      msg,
	})
	s.eventLog(env.SessionID, "raceControl",
		"flag "+msg.FlagState+" ("+msg.SessionPhase+")", msg.Lap)
}

func (s *relayService) driverUpdate(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.DriverUpdate(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	if !s.frameIn(connID, env) {
		return
	}
	name := msg.DriverName
	s.sessions.UpsertCar(env.SessionID, msg.CarID,
		registry.CarPatch{DriverName: &name})
	s.eventLog(env.SessionID, "driver",
		fmt.Sprintf("%s: %s (%s)", msg.Action, msg.DriverName,
			s.sessions.DisplayName(env.SessionID, msg.CarID)), 0)
}

func (s *relayService) videoFrame(connID string, env *model.Envelope, raw []byte) {
	msg, err := s.adapter.VideoFrame(raw)
	if err != nil {
		s.nack(connID, env.SessionID, env.Type, err)
		s.tracker.RecordError(env.SessionID, env.Type, err.Error())
		return
	}
	s.sessions.Touch(env.SessionID)
	s.hub.Broadcast(hub.SessionRoom(env.SessionID), &model.OutboundEvent{
		Type:      model.EventVideoFrame,
		SessionID: env.SessionID,
		Timestamp: nowMs(),
		Data:      msg,
	})
}

// eventLog appends to the session's reliable audit stream.
func (s *relayService) eventLog(sessionID, kind, message string, lap int) {
	s.hub.Broadcast(hub.SessionRoom(sessionID), &model.OutboundEvent{
		Type:      model.EventLog,
		SessionID: sessionID,
		Timestamp: nowMs(),
		Data: model.EventLogEntry{
			SessionID: sessionID,
			Kind:      kind,
			Message:   message,
			Lap:       lap,
			Timestamp: nowMs(),
		},
	})
}
