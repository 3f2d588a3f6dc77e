package ingest

import "github.com/pitbox-racing/pitbox-relay-go/pkg/model"

// NormalizeTelemetry maps the legacy JSON telemetry shape into canonical
// car frames. Downstream components only ever see model.CarFrame,
// regardless of which upstream shape delivered the data.
func NormalizeTelemetry(snap *model.TelemetrySnapshot) []model.CarFrame {
	cars := snap.CarList()
	frames := make([]model.CarFrame, 0, len(cars))
	for i := range cars {
		c := &cars[i]
		frames = append(frames, model.CarFrame{
			CarID:         c.CarID,
			DriverName:    c.DriverName,
			CarNumber:     c.CarNumber,
			TrackFraction: float32(c.Pos.S),
			Speed:         float32(c.Speed),
			Lap:           c.Lap,
			Position:      c.Position,
			Gear:          c.Gear,
			Throttle:      c.Throttle,
			Brake:         c.Brake,
			InPit:         c.InPit,
		})
	}
	return frames
}
