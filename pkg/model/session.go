package model

import "time"

type SessionType string

const (
	SessionTypePractice   SessionType = "practice"
	SessionTypeQualifying SessionType = "qualifying"
	SessionTypeRace       SessionType = "race"
	SessionTypeWarmup     SessionType = "warmup"
	SessionTypeUnknown    SessionType = "unknown"
)

type TrackState string

const (
	TrackStateDry  TrackState = "dry"
	TrackStateDamp TrackState = "damp"
	TrackStateWet  TrackState = "wet"
)

type Weather struct {
	AmbientTemp   float64    `json:"ambientTemp"`
	TrackTemp     float64    `json:"trackTemp"`
	Precipitation float64    `json:"precipitation"`
	TrackState    TrackState `json:"trackState" validate:"omitempty,oneof=dry damp wet"`
}

// Session is the in-memory live state of one relay session. It is owned
// exclusively by the registry; other components read snapshots.
type Session struct {
	ID              string            `json:"sessionId"`
	TrackName       string            `json:"trackName"`
	TrackConfig     string            `json:"trackConfig,omitempty"`
	SessionType     SessionType       `json:"sessionType"`
	Category        string            `json:"category,omitempty"`
	MultiClass      bool              `json:"multiClass"`
	CautionsEnabled bool              `json:"cautionsEnabled"`
	DriverSwap      bool              `json:"driverSwap"`
	MaxDrivers      int               `json:"maxDrivers"`
	Weather         Weather           `json:"weather"`
	LeagueID        string            `json:"leagueId,omitempty"`
	Cars            map[int]*CarState `json:"-"`
	LastUpdate      time.Time         `json:"-"`
}

// CarState caches what we learned about a car so far. Sparse binary frames
// omit names; the cached value fills the gap.
type CarState struct {
	CarID         int               `json:"carId"`
	DriverID      string            `json:"driverId,omitempty"`
	DriverName    string            `json:"driverName,omitempty"`
	CarNumber     string            `json:"carNumber,omitempty"`
	TrackFraction float32           `json:"trackFraction"`
	Speed         float32           `json:"speed"`
	Lap           int               `json:"lap"`
	Position      int               `json:"position"`
	InPit         bool              `json:"inPit"`
	Strategy      *StrategySnapshot `json:"strategy,omitempty"`
}

type FuelState struct {
	Level      float64 `json:"level"`
	Pct        float64 `json:"pct"`
	UsePerHour float64 `json:"usePerHour,omitempty"`
}

type TireWear struct {
	FL float64 `json:"fl"`
	FR float64 `json:"fr"`
	RL float64 `json:"rl"`
	RR float64 `json:"rr"`
}

type DamageState struct {
	Aero   float64 `json:"aero"`
	Engine float64 `json:"engine"`
}

type PitState struct {
	InLane bool `json:"inLane"`
	Stops  int  `json:"stops"`
}

// StrategySnapshot is the 1 Hz slow lane data per car.
type StrategySnapshot struct {
	Fuel         FuelState   `json:"fuel"`
	Tires        TireWear    `json:"tires"`
	Damage       DamageState `json:"damage"`
	Pit          PitState    `json:"pit"`
	TireCompound string      `json:"tireCompound,omitempty"`
}
