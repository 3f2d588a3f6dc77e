// Package registry owns the in-memory table of live sessions and their
// per-car cached state. Nothing else mutates a Session directly.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	DefaultStaleDuration = 60 * time.Second
	DefaultReapInterval  = 30 * time.Second

	// PlaceholderTrackName marks sessions auto-created from telemetry that
	// outran its metadata message.
	PlaceholderTrackName = "Unknown Track"
)

// sessionEntry pairs a session with its own lock. Each session is guarded
// individually so unrelated sessions never serialize on a shared lock.
type sessionEntry struct {
	mu sync.Mutex
	s  *model.Session
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	staleDuration time.Duration
	reapInterval  time.Duration
	now           func() time.Time
	onEvict       func(sessionID string)
	l             *log.Logger

	done     chan struct{}
	stopOnce sync.Once
}

type Option func(*Registry)

func WithStaleDuration(d time.Duration) Option {
	return func(r *Registry) {
		r.staleDuration = d
	}
}

func WithReapInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.reapInterval = d
	}
}

// WithEvictCallback is invoked (outside any registry lock) for every session
// the reaper removes, so dependent state (parity counters) can be released.
func WithEvictCallback(cb func(sessionID string)) Option {
	return func(r *Registry) {
		r.onEvict = cb
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Registry) {
		r.l = l
	}
}

func NewRegistry(opts ...Option) *Registry {
	ret := &Registry{
		sessions:      make(map[string]*sessionEntry),
		staleDuration: DefaultStaleDuration,
		reapInterval:  DefaultReapInterval,
		now:           time.Now,
		l:             log.Default().Named("registry"),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (r *Registry) entry(sessionID string) *sessionEntry {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.sessions[sessionID]; ok {
		return e
	}
	// Telemetry may race with (or outrun) the metadata message; dropping
	// valid frames because metadata hasn't arrived yet is worse than a
	// temporarily mislabeled session.
	e = &sessionEntry{
		s: &model.Session{
			ID:          sessionID,
			TrackName:   PlaceholderTrackName,
			SessionType: model.SessionTypeUnknown,
			Cars:        make(map[int]*model.CarState),
			LastUpdate:  r.now(),
		},
	}
	r.sessions[sessionID] = e
	r.l.Debug("auto-created placeholder session", log.String("sessionId", sessionID))
	return e
}

// UpsertSession applies relay metadata, creating the session if needed.
func (r *Registry) UpsertSession(meta *model.SessionMetadata) {
	e := r.entry(meta.SessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.s
	s.TrackName = meta.TrackName
	s.TrackConfig = meta.TrackConfig
	if meta.SessionType != "" {
		s.SessionType = meta.SessionType
	}
	s.Category = meta.Category
	s.MultiClass = meta.MultiClass
	s.CautionsEnabled = meta.CautionsEnabled
	s.DriverSwap = meta.DriverSwap
	s.MaxDrivers = meta.MaxDrivers
	s.Weather = meta.Weather
	s.LeagueID = meta.LeagueID
	s.LastUpdate = r.now()
}

// GetSession returns a snapshot of the session or nil if unknown. The copy
// keeps callers from racing with later upserts.
func (r *Registry) GetSession(sessionID string) *model.Session {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshotSession(e.s)
}

func snapshotSession(s *model.Session) *model.Session {
	cp := *s
	cp.Cars = make(map[int]*model.CarState, len(s.Cars))
	for id, car := range s.Cars {
		carCp := *car
		if car.Strategy != nil {
			stratCp := *car.Strategy
			carCp.Strategy = &stratCp
		}
		cp.Cars[id] = &carCp
	}
	return &cp
}

// CarPatch lists the car fields an upsert may touch. Nil fields keep the
// cached value, so a sparse binary frame never clears a previously learned
// driver name.
type CarPatch struct {
	DriverID      *string
	DriverName    *string
	CarNumber     *string
	TrackFraction *float32
	Speed         *float32
	Lap           *int
	Position      *int
	InPit         *bool
	Strategy      *model.StrategySnapshot
}

// PatchFromFrame derives a patch from a canonical car frame.
func PatchFromFrame(f *model.CarFrame) CarPatch {
	patch := CarPatch{
		TrackFraction: &f.TrackFraction,
		Speed:         &f.Speed,
		Lap:           &f.Lap,
		Position:      &f.Position,
		InPit:         &f.InPit,
	}
	if f.DriverName != "" {
		patch.DriverName = &f.DriverName
	}
	if f.CarNumber != "" {
		patch.CarNumber = &f.CarNumber
	}
	return patch
}

// UpsertCar applies a patch to a car's cached state, creating session and
// car entries as needed.
func (r *Registry) UpsertCar(sessionID string, carID int, patch CarPatch) {
	e := r.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()

	car, ok := e.s.Cars[carID]
	if !ok {
		car = &model.CarState{CarID: carID}
		e.s.Cars[carID] = car
	}
	if patch.DriverID != nil {
		car.DriverID = *patch.DriverID
	}
	if patch.DriverName != nil {
		car.DriverName = *patch.DriverName
	}
	if patch.CarNumber != nil {
		car.CarNumber = *patch.CarNumber
	}
	if patch.TrackFraction != nil {
		car.TrackFraction = *patch.TrackFraction
	}
	if patch.Speed != nil {
		car.Speed = *patch.Speed
	}
	if patch.Lap != nil {
		car.Lap = *patch.Lap
	}
	if patch.Position != nil {
		car.Position = *patch.Position
	}
	if patch.InPit != nil {
		car.InPit = *patch.InPit
	}
	if patch.Strategy != nil {
		strat := *patch.Strategy
		car.Strategy = &strat
	}
	e.s.LastUpdate = r.now()
}

// DisplayName resolves a car's human readable label, synthesizing
// "Car {id}" when no name was ever supplied.
func (r *Registry) DisplayName(sessionID string, carID int) string {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if car, found := e.s.Cars[carID]; found && car.DriverName != "" {
			return car.DriverName
		}
	}
	return fmt.Sprintf("Car %d", carID)
}

// Touch refreshes the session's last-update timestamp.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.s.LastUpdate = r.now()
	e.mu.Unlock()
}

// ListActive returns snapshots of all live sessions.
func (r *Registry) ListActive() []*model.Session {
	r.mu.RLock()
	entries := lo.Values(r.sessions)
	r.mu.RUnlock()

	ret := make([]*model.Session, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		ret = append(ret, snapshotSession(e.s))
		e.mu.Unlock()
	}
	return ret
}

// Remove deletes a session without firing the evict callback.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Start launches the stale session reaper. It sweeps on a fixed interval
// and evicts sessions whose last update is older than the stale duration.
func (r *Registry) Start() {
	go func() {
		ticker := time.NewTicker(r.reapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.reapOnce()
			}
		}
	}()
}

func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Registry) reapOnce() {
	deadline := r.now().Add(-r.staleDuration)

	r.mu.Lock()
	var stale []string
	for id, e := range r.sessions {
		e.mu.Lock()
		if e.s.LastUpdate.Before(deadline) {
			stale = append(stale, id)
		}
		e.mu.Unlock()
	}
	for _, id := range stale {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.l.Info("evicted stale session", log.String("sessionId", id))
		if r.onEvict != nil {
			r.onEvict(id)
		}
	}
}
