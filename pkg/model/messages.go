package model

// Inbound message kinds as sent by the relay agent. Field names and types
// mirror the relay protocol (camelCase JSON, ms timestamps).
const (
	MsgSessionMetadata = "session_metadata"
	MsgTelemetry       = "telemetry"
	MsgTelemetryBinary = "telemetry_binary"
	MsgStrategyUpdate  = "strategy_update"
	MsgIncident        = "incident"
	MsgRaceEvent       = "race_event"
	MsgVideoFrame      = "video_frame"
	MsgDriverUpdate    = "driver_update"

	MsgRelayRegister = "relay:register"
	MsgRoomJoin      = "room:join"
	MsgRoomLeave     = "room:leave"
	MsgStewardAction = "steward:action"
)

// Envelope carries the fields common to all relay messages. FrameID and
// AckRequested implement the sampled ack protocol: the relay tags a subset
// of frames and expects a relay:ack naming the frame id.
type Envelope struct {
	Type          string  `json:"type" validate:"required"`
	SessionID     string  `json:"sessionId" validate:"required"`
	Timestamp     float64 `json:"timestamp"`
	SchemaVersion string  `json:"schemaVersion,omitempty"`
	FrameID       string  `json:"frameId,omitempty"`
	AckRequested  bool    `json:"ackRequested,omitempty"`
}

type SessionMetadata struct {
	Envelope
	TrackName       string      `json:"trackName" validate:"required"`
	TrackConfig     string      `json:"trackConfig,omitempty"`
	SessionType     SessionType `json:"sessionType,omitempty" validate:"omitempty,oneof=practice qualifying race warmup"`
	Category        string      `json:"category,omitempty"`
	MultiClass      bool        `json:"multiClass"`
	CautionsEnabled bool        `json:"cautionsEnabled"`
	DriverSwap      bool        `json:"driverSwap"`
	MaxDrivers      int         `json:"maxDrivers" validate:"gte=0"`
	Weather         Weather     `json:"weather"`
	LeagueID        string      `json:"leagueId,omitempty"`
}

type CarPosition struct {
	S float64 `json:"s" validate:"gte=0,lte=1"`
}

type CarTelemetrySnapshot struct {
	CarID         int         `json:"carId" validate:"gte=0,lte=65535"`
	DriverID      string      `json:"driverId,omitempty"`
	DriverName    string      `json:"driverName,omitempty"`
	CarNumber     string      `json:"carNumber,omitempty"`
	Speed         float64     `json:"speed"`
	Gear          int         `json:"gear"`
	Pos           CarPosition `json:"pos"`
	Throttle      float64     `json:"throttle" validate:"gte=0,lte=1"`
	Brake         float64     `json:"brake" validate:"gte=0,lte=1"`
	Steering      float64     `json:"steering"`
	RPM           float64     `json:"rpm,omitempty"`
	InPit         bool        `json:"inPit"`
	Lap           int         `json:"lap" validate:"gte=0"`
	ClassPosition int         `json:"classPosition,omitempty"`
	Position      int         `json:"position,omitempty"`
}

// TelemetrySnapshot accepts the car list under any of the three legacy
// keys; at least one must be present.
type TelemetrySnapshot struct {
	Envelope
	Cars          []CarTelemetrySnapshot `json:"cars,omitempty" validate:"required_without_all=Drivers Standings,dive"`
	Drivers       []CarTelemetrySnapshot `json:"drivers,omitempty" validate:"omitempty,dive"`
	Standings     []CarTelemetrySnapshot `json:"standings,omitempty" validate:"omitempty,dive"`
	SessionTimeMs float64                `json:"sessionTimeMs,omitempty"`
}

// CarList returns whichever of the legacy list keys carried the data.
func (t *TelemetrySnapshot) CarList() []CarTelemetrySnapshot {
	switch {
	case len(t.Cars) > 0:
		return t.Cars
	case len(t.Drivers) > 0:
		return t.Drivers
	default:
		return t.Standings
	}
}

// BinaryTelemetry wraps the compact fixed-layout payload. The []byte field
// arrives base64 encoded inside the JSON envelope.
type BinaryTelemetry struct {
	Envelope
	Payload []byte `json:"payload" validate:"required"`
}

type CarStrategy struct {
	CarID        int         `json:"carId" validate:"gte=0"`
	Fuel         FuelState   `json:"fuel"`
	Tires        TireWear    `json:"tires"`
	Damage       DamageState `json:"damage"`
	Pit          PitState    `json:"pit"`
	TireCompound string      `json:"tireCompound,omitempty"`
}

type StrategyUpdate struct {
	Envelope
	Cars []CarStrategy `json:"cars" validate:"required,dive"`
}

type Incident struct {
	Envelope
	Cars              []int          `json:"cars" validate:"required,min=1"`
	CarNames          []string       `json:"carNames,omitempty"`
	DriverNames       []string       `json:"driverNames,omitempty"`
	Lap               int            `json:"lap" validate:"gte=0"`
	Corner            int            `json:"corner" validate:"gte=0"`
	CornerName        string         `json:"cornerName,omitempty"`
	TrackPosition     float64        `json:"trackPosition" validate:"gte=0,lte=1"`
	Severity          string         `json:"severity" validate:"required,oneof=low med high"`
	DisciplineContext string         `json:"disciplineContext"`
	RawData           map[string]any `json:"rawData,omitempty"`
}

type RaceEvent struct {
	Envelope
	FlagState     string  `json:"flagState" validate:"required,oneof=green yellow localYellow caution red restart checkered white"`
	Lap           int     `json:"lap" validate:"gte=0"`
	TimeRemaining float64 `json:"timeRemaining"`
	SessionPhase  string  `json:"sessionPhase" validate:"required,oneof=pre_race formation racing caution restart finished"`
}

type VideoFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId" validate:"required"`
	Image     []byte `json:"image" validate:"required"`
}

type DriverUpdate struct {
	Envelope
	CarID      int    `json:"carId" validate:"gte=0"`
	DriverName string `json:"driverName" validate:"required"`
	Action     string `json:"action" validate:"required,oneof=join leave"`
}

// control plane

type RelayRegister struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId" validate:"required"`
}

type RoomRequest struct {
	Type string `json:"type"`
	Room string `json:"room" validate:"required"`
}

type StewardAction struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId" validate:"required"`
	Command   string `json:"command" validate:"required"`
	Reason    string `json:"reason,omitempty"`
	TargetCar int    `json:"targetCar,omitempty" validate:"gte=0"`
}
