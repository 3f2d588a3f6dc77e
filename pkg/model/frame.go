package model

// CarFrame is the canonical per-car telemetry record. Every upstream shape
// (legacy JSON telemetry, compact binary telemetry, strategy payloads) is
// normalized into this type before any downstream component sees it.
type CarFrame struct {
	CarID         int     `json:"carId"`
	DriverName    string  `json:"driverName,omitempty"`
	CarNumber     string  `json:"carNumber,omitempty"`
	TrackFraction float32 `json:"trackFraction"`
	Speed         float32 `json:"speed"`
	Lap           int     `json:"lap"`
	Position      int     `json:"position"`
	Gear          int     `json:"gear,omitempty"`
	Throttle      float64 `json:"throttle,omitempty"`
	Brake         float64 `json:"brake,omitempty"`
	InPit         bool    `json:"inPit,omitempty"`
}

// TimingUpdate is the volatile payload fanned out to dashboards.
type TimingUpdate struct {
	SessionID string     `json:"sessionId"`
	Timestamp float64    `json:"timestamp"`
	Cars      []CarFrame `json:"cars"`
}
