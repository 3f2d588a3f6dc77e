package model

// DeliveryMode decides what happens to an event when the subscriber's
// transport is backpressured.
type DeliveryMode int

const (
	// Reliable events are queued and delivered even to a momentarily slow
	// consumer. Low frequency, high value.
	Reliable DeliveryMode = iota
	// Volatile events are dropped instead of queued. A slow consumer must
	// see the latest state, not a backlog of stale state.
	Volatile
)

func (d DeliveryMode) String() string {
	if d == Volatile {
		return "volatile"
	}
	return "reliable"
}

type EventType string

const (
	EventSessionActive   EventType = "session:active"
	EventSessionState    EventType = "session:state"
	EventTimingUpdate    EventType = "timing:update"
	EventIncidentNew     EventType = "incident:new"
	EventRaceEvent       EventType = "race:event"
	EventStrategyUpdate  EventType = "strategy:update"
	EventCarStatus       EventType = "car:status"
	EventOpponentIntel   EventType = "opponent:intel"
	EventLog             EventType = "event:log"
	EventRelayAck        EventType = "relay:ack"
	EventAck             EventType = "ack"
	EventStewardDecision EventType = "steward:decision"
	EventVideoFrame      EventType = "video:frame"
	EventRelayViewers    EventType = "relay:viewers"
)

// Mode returns the delivery guarantee attached to the event type.
func (t EventType) Mode() DeliveryMode {
	switch t {
	case EventTimingUpdate, EventStrategyUpdate, EventCarStatus,
		EventOpponentIntel, EventVideoFrame:
		return Volatile
	default:
		return Reliable
	}
}

// OutboundEvent is the unit of fan-out to subscribers.
type OutboundEvent struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// AckPayload answers a frame that carried an ack request.
type AckPayload struct {
	FrameID string `json:"frameId"`
}

// NackPayload reports a rejected inbound message back to its sender.
type NackPayload struct {
	OriginalType string `json:"originalType"`
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
}

// OpponentIntel is the compact per-opponent strategy digest derived from
// strategy updates for the pit wall's opponent view.
type OpponentIntel struct {
	CarID        int     `json:"carId"`
	DisplayName  string  `json:"displayName"`
	FuelPct      float64 `json:"fuelPct"`
	TireCompound string  `json:"tireCompound,omitempty"`
	PitStops     int     `json:"pitStops"`
	InPitLane    bool    `json:"inPitLane"`
}

// ViewerInfo tells a relay how many subscribers watch its session.
type ViewerInfo struct {
	SessionID       string `json:"sessionId"`
	ViewerCount     int    `json:"viewerCount"`
	RequestControls bool   `json:"requestControls"`
}

// EventLogEntry is the reliable audit trail entry for incidents, race
// control changes and driver updates.
type EventLogEntry struct {
	SessionID string  `json:"sessionId"`
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	Lap       int     `json:"lap,omitempty"`
	Timestamp float64 `json:"timestamp"`
}
