package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestRegistry(opts ...Option) (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewRegistry(opts...), clock
}

func strPtr(s string) *string   { return &s }
func f32Ptr(f float32) *float32 { return &f }
func intPtr(i int) *int         { return &i }

func TestAutoCreatePlaceholder(t *testing.T) {
	r, _ := newTestRegistry()

	assert.Nil(t, r.GetSession("s1"))
	r.UpsertCar("s1", 7, CarPatch{TrackFraction: f32Ptr(0.25)})

	s := r.GetSession("s1")
	require.NotNil(t, s)
	assert.Equal(t, "Unknown Track", s.TrackName)
	assert.Equal(t, model.SessionTypeUnknown, s.SessionType)
	assert.InDelta(t, 0.25, s.Cars[7].TrackFraction, 1e-6)
}

func TestTouchOnlyRefreshesKnownSessions(t *testing.T) {
	r, clock := newTestRegistry()

	r.Touch("s9")
	assert.Empty(t, r.ListActive(), "a bare refresh must not create a session")

	r.UpsertCar("s9", 1, CarPatch{})
	clock.Advance(10 * time.Second)
	r.Touch("s9")

	s := r.GetSession("s9")
	require.NotNil(t, s)
	assert.Equal(t, clock.Now(), s.LastUpdate)
}

func TestMetadataUpgradesPlaceholder(t *testing.T) {
	r, _ := newTestRegistry()
	r.UpsertCar("s1", 7, CarPatch{})

	r.UpsertSession(&model.SessionMetadata{
		Envelope:    model.Envelope{SessionID: "s1"},
		TrackName:   "Spa-Francorchamps",
		SessionType: model.SessionTypeRace,
		MultiClass:  true,
	})

	s := r.GetSession("s1")
	require.NotNil(t, s)
	assert.Equal(t, "Spa-Francorchamps", s.TrackName)
	assert.Equal(t, model.SessionTypeRace, s.SessionType)
	assert.True(t, s.MultiClass)
	assert.Contains(t, s.Cars, 7, "cars survive a metadata update")
}

func TestCarEnrichmentPersists(t *testing.T) {
	r, _ := newTestRegistry()

	// JSON telemetry supplies the name once
	r.UpsertCar("s1", 3, CarPatch{
		DriverName: strPtr("M. Verstappen"),
		CarNumber:  strPtr("1"),
	})
	// later sparse binary frames carry no name
	r.UpsertCar("s1", 3, CarPatch{
		TrackFraction: f32Ptr(0.5),
		Lap:           intPtr(12),
	})

	s := r.GetSession("s1")
	assert.Equal(t, "M. Verstappen", s.Cars[3].DriverName)
	assert.Equal(t, "1", s.Cars[3].CarNumber)
	assert.Equal(t, 12, s.Cars[3].Lap)
}

func TestDisplayNameFallback(t *testing.T) {
	r, _ := newTestRegistry()
	r.UpsertCar("s1", 3, CarPatch{DriverName: strPtr("A. Senna")})
	r.UpsertCar("s1", 4, CarPatch{})

	assert.Equal(t, "A. Senna", r.DisplayName("s1", 3))
	assert.Equal(t, "Car 4", r.DisplayName("s1", 4))
	assert.Equal(t, "Car 9", r.DisplayName("s1", 9))
	assert.Equal(t, "Car 1", r.DisplayName("nosuch", 1))
}

func TestNoCarWithoutFrame(t *testing.T) {
	r, _ := newTestRegistry()
	r.UpsertSession(&model.SessionMetadata{
		Envelope:  model.Envelope{SessionID: "s1"},
		TrackName: "Monza",
	})
	assert.Empty(t, r.GetSession("s1").Cars)
}

func TestSnapshotIsolation(t *testing.T) {
	r, _ := newTestRegistry()
	r.UpsertCar("s1", 1, CarPatch{Lap: intPtr(1)})

	snap := r.GetSession("s1")
	snap.Cars[1].Lap = 99
	snap.TrackName = "mutated"

	fresh := r.GetSession("s1")
	assert.Equal(t, 1, fresh.Cars[1].Lap)
	assert.Equal(t, "Unknown Track", fresh.TrackName)
}

func TestReaperEvictsIdleSessions(t *testing.T) {
	var evicted []string
	r, clock := newTestRegistry(
		WithStaleDuration(60*time.Second),
		WithEvictCallback(func(id string) { evicted = append(evicted, id) }),
	)

	r.UpsertCar("idle", 1, CarPatch{})
	r.UpsertCar("busy", 1, CarPatch{})

	// busy is touched every 10s for 5 minutes, idle never
	for i := 0; i < 30; i++ {
		clock.Advance(10 * time.Second)
		r.Touch("busy")
		if i%3 == 2 {
			r.reapOnce()
		}
	}

	assert.Nil(t, r.GetSession("idle"))
	assert.NotNil(t, r.GetSession("busy"))
	assert.Equal(t, []string{"idle"}, evicted)

	active := r.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "busy", active[0].ID)
}

func TestReaperKeepsFreshSessions(t *testing.T) {
	r, clock := newTestRegistry(WithStaleDuration(60 * time.Second))
	r.UpsertCar("s1", 1, CarPatch{})

	clock.Advance(59 * time.Second)
	r.reapOnce()
	assert.NotNil(t, r.GetSession("s1"))

	clock.Advance(2 * time.Second)
	r.reapOnce()
	assert.Nil(t, r.GetSession("s1"))
}
