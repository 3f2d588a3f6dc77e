// Package codec implements the compact binary telemetry format used on the
// relay uplink. At 60 Hz with a full field JSON encoding dominates bandwidth
// and CPU; the fixed layout packs a car record into 14 bytes.
//
// Layout (little endian):
//
//	header:   float64 timestamp (ms) | uint8 car count
//	per car:  uint16 car id | float32 track fraction | float32 speed |
//	          uint16 lap | uint8 position | 1 pad byte
package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

const (
	HeaderSize    = 9
	CarRecordSize = 14
	MaxCars       = 255
)

// Decode parses a binary telemetry buffer into the canonical frame type.
// A short or corrupt buffer degrades to partial data: records are decoded
// as long as a full 14 bytes remain, the rest is discarded silently.
// Partial telemetry is more useful than none for a live display.
func Decode(buf []byte) (timestamp float64, frames []model.CarFrame, err error) {
	if len(buf) < HeaderSize {
		return 0, nil, fmt.Errorf("buffer too small for header: %d bytes", len(buf))
	}
	timestamp = math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8]))
	carCount := int(buf[8])

	frames = make([]model.CarFrame, 0, carCount)
	offset := HeaderSize
	for i := 0; i < carCount; i++ {
		if offset+CarRecordSize > len(buf) {
			break
		}
		rec := buf[offset : offset+CarRecordSize]
		frames = append(frames, model.CarFrame{
			CarID:         int(binary.LittleEndian.Uint16(rec[0:2])),
			TrackFraction: math.Float32frombits(binary.LittleEndian.Uint32(rec[2:6])),
			Speed:         math.Float32frombits(binary.LittleEndian.Uint32(rec[6:10])),
			Lap:           int(binary.LittleEndian.Uint16(rec[10:12])),
			Position:      int(rec[12]),
			// rec[13] is reserved padding, ignored
		})
		offset += CarRecordSize
	}
	return timestamp, frames, nil
}

// Encode is the mirror operation of Decode. The server itself never sends
// binary telemetry but the format must round-trip for relay test harnesses.
func Encode(timestamp float64, frames []model.CarFrame) ([]byte, error) {
	if len(frames) > MaxCars {
		return nil, fmt.Errorf("too many cars for one frame: %d (max %d)",
			len(frames), MaxCars)
	}
	buf := make([]byte, HeaderSize+len(frames)*CarRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(timestamp))
	buf[8] = byte(len(frames))

	offset := HeaderSize
	for i := range frames {
		f := &frames[i]
		if f.CarID < 0 || f.CarID > math.MaxUint16 {
			return nil, fmt.Errorf("car id out of range: %d", f.CarID)
		}
		rec := buf[offset : offset+CarRecordSize]
		binary.LittleEndian.PutUint16(rec[0:2], uint16(f.CarID))
		binary.LittleEndian.PutUint32(rec[2:6], math.Float32bits(f.TrackFraction))
		binary.LittleEndian.PutUint32(rec[6:10], math.Float32bits(f.Speed))
		binary.LittleEndian.PutUint16(rec[10:12], uint16(f.Lap))
		rec[12] = byte(f.Position)
		rec[13] = 0
		offset += CarRecordSize
	}
	return buf, nil
}
