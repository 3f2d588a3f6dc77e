// Package ingest validates and normalizes inbound relay messages before they
// touch any session state. A malformed payload yields a typed validation
// error and mutates nothing; the caller answers the relay with a negative
// acknowledgment.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

// ValidationError distinguishes schema violations from "valid but stale"
// data. It carries the originating message type for the negative ack.
type ValidationError struct {
	MessageType string
	Cause       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s message: %v", e.MessageType, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

type Adapter struct {
	validate *validator.Validate
	l        *log.Logger
}

type Option func(*Adapter)

func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		a.l = l
	}
}

func NewAdapter(opts ...Option) *Adapter {
	ret := &Adapter{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		l:        log.Default().Named("ingest"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func parse[T any](a *Adapter, raw []byte, msgType string) (*T, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		a.l.Debug("message rejected: malformed json",
			log.String("type", msgType), log.ErrorField(err))
		return nil, &ValidationError{MessageType: msgType, Cause: err}
	}
	if err := a.validate.Struct(&msg); err != nil {
		a.l.Debug("message rejected: schema violation",
			log.String("type", msgType), log.ErrorField(err))
		return nil, &ValidationError{MessageType: msgType, Cause: err}
	}
	return &msg, nil
}

// Envelope peeks at the common fields to dispatch on the message type.
func (a *Adapter) Envelope(raw []byte) (*model.Envelope, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{MessageType: "unknown", Cause: err}
	}
	if env.Type == "" {
		return nil, &ValidationError{
			MessageType: "unknown",
			Cause:       fmt.Errorf("missing type field"),
		}
	}
	return &env, nil
}

func (a *Adapter) SessionMetadata(raw []byte) (*model.SessionMetadata, error) {
	return parse[model.SessionMetadata](a, raw, model.MsgSessionMetadata)
}

func (a *Adapter) Telemetry(raw []byte) (*model.TelemetrySnapshot, error) {
	return parse[model.TelemetrySnapshot](a, raw, model.MsgTelemetry)
}

func (a *Adapter) TelemetryBinary(raw []byte) (*model.BinaryTelemetry, error) {
	return parse[model.BinaryTelemetry](a, raw, model.MsgTelemetryBinary)
}

func (a *Adapter) StrategyUpdate(raw []byte) (*model.StrategyUpdate, error) {
	return parse[model.StrategyUpdate](a, raw, model.MsgStrategyUpdate)
}

func (a *Adapter) Incident(raw []byte) (*model.Incident, error) {
	return parse[model.Incident](a, raw, model.MsgIncident)
}

func (a *Adapter) RaceEvent(raw []byte) (*model.RaceEvent, error) {
	return parse[model.RaceEvent](a, raw, model.MsgRaceEvent)
}

func (a *Adapter) VideoFrame(raw []byte) (*model.VideoFrame, error) {
	return parse[model.VideoFrame](a, raw, model.MsgVideoFrame)
}

func (a *Adapter) DriverUpdate(raw []byte) (*model.DriverUpdate, error) {
	return parse[model.DriverUpdate](a, raw, model.MsgDriverUpdate)
}

func (a *Adapter) RelayRegister(raw []byte) (*model.RelayRegister, error) {
	return parse[model.RelayRegister](a, raw, model.MsgRelayRegister)
}

func (a *Adapter) RoomRequest(raw []byte) (*model.RoomRequest, error) {
	return parse[model.RoomRequest](a, raw, "room request")
}

func (a *Adapter) StewardAction(raw []byte) (*model.StewardAction, error) {
	return parse[model.StewardAction](a, raw, model.MsgStewardAction)
}
