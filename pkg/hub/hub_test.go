package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/registry"
)

func timingEvent(sessionID string) *model.OutboundEvent {
	return &model.OutboundEvent{
		Type:      model.EventTimingUpdate,
		SessionID: sessionID,
		Data:      model.TimingUpdate{SessionID: sessionID},
	}
}

func incidentEvent(sessionID string) *model.OutboundEvent {
	return &model.OutboundEvent{
		Type:      model.EventIncidentNew,
		SessionID: sessionID,
	}
}

// nextEventOrTimeout wraps the blocking NextEvent for tests.
func nextEventOrTimeout(c *Client, d time.Duration) *model.OutboundEvent {
	got := make(chan *model.OutboundEvent, 1)
	go func() {
		if ev, ok := c.NextEvent(); ok {
			got <- ev
		}
	}()
	select {
	case ev := <-got:
		return ev
	case <-time.After(d):
		return nil
	}
}

func TestReliableSurvivesPausedConsumer(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := NewClient("sub-1")
	h.Register(c)
	require.NoError(t, h.JoinRoom("sub-1", SessionRoom("s1")))

	// consumer is paused: nobody calls NextEvent while we broadcast
	h.Broadcast(SessionRoom("s1"), incidentEvent("s1"))

	// resume
	ev := nextEventOrTimeout(c, time.Second)
	require.NotNil(t, ev, "queued incident must arrive after the pause")
	assert.Equal(t, model.EventIncidentNew, ev.Type)
}

func TestVolatileDroppedForPausedConsumer(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := NewClient("sub-1")
	h.Register(c)
	require.NoError(t, h.JoinRoom("sub-1", SessionRoom("s1")))

	// paused consumer: the timing update from during the pause must never
	// arrive, the incident must
	h.Broadcast(SessionRoom("s1"), timingEvent("s1"))
	h.Broadcast(SessionRoom("s1"), incidentEvent("s1"))

	ev := nextEventOrTimeout(c, time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventIncidentNew, ev.Type)

	assert.Nil(t, nextEventOrTimeout(c, 50*time.Millisecond),
		"the dropped timing update must not reappear")
	assert.Equal(t, uint64(1), c.Dropped())
}

func TestVolatileReachesActiveConsumer(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := NewClient("sub-1")
	h.Register(c)
	require.NoError(t, h.JoinRoom("sub-1", SessionRoom("s1")))

	received := make(chan *model.OutboundEvent, 16)
	go func() {
		for {
			ev, ok := c.NextEvent()
			if !ok {
				return
			}
			received <- ev
		}
	}()

	// 60 Hz style repetition; an actively reading consumer gets at least one
	deadline := time.After(2 * time.Second)
	for {
		h.Broadcast(SessionRoom("s1"), timingEvent("s1"))
		select {
		case ev := <-received:
			assert.Equal(t, model.EventTimingUpdate, ev.Type)
			return
		case <-deadline:
			t.Fatal("active consumer never received a volatile event")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestBroadcastScopedToRoom(t *testing.T) {
	h := NewHub()
	defer h.Close()

	inRoom := NewClient("in")
	outside := NewClient("out")
	h.Register(inRoom)
	h.Register(outside)
	require.NoError(t, h.JoinRoom("in", SessionRoom("s1")))
	require.NoError(t, h.JoinRoom("out", SessionRoom("other")))

	h.Broadcast(SessionRoom("s1"), incidentEvent("s1"))

	require.NotNil(t, nextEventOrTimeout(inRoom, time.Second))
	assert.Nil(t, nextEventOrTimeout(outside, 50*time.Millisecond),
		"events only reach connections that joined the room")
}

func TestLateJoinerGetsSessionActive(t *testing.T) {
	reg := registry.NewRegistry()
	reg.UpsertSession(&model.SessionMetadata{
		Envelope:  model.Envelope{SessionID: "s1"},
		TrackName: "Spa",
	})

	h := NewHub(WithSessionLookup(reg))
	defer h.Close()

	c := NewClient("late")
	h.Register(c)
	require.NoError(t, h.JoinRoom("late", SessionRoom("s1")))

	ev := nextEventOrTimeout(c, time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventSessionActive, ev.Type)
	session, ok := ev.Data.(*model.Session)
	require.True(t, ok)
	assert.Equal(t, "Spa", session.TrackName)
}

func TestJoinUnknownSessionNoCatchUp(t *testing.T) {
	h := NewHub(WithSessionLookup(registry.NewRegistry()))
	defer h.Close()

	c := NewClient("early")
	h.Register(c)
	require.NoError(t, h.JoinRoom("early", SessionRoom("s1")))

	assert.Nil(t, nextEventOrTimeout(c, 50*time.Millisecond))
}

func TestOverflowingReliableQueueEvictsClient(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := NewClient("dead")
	h.Register(c)
	require.NoError(t, h.JoinRoom("dead", SessionRoom("s1")))

	for i := 0; i < reliableQueueSize+10; i++ {
		h.Broadcast(SessionRoom("s1"), incidentEvent("s1"))
	}
	assert.Equal(t, 0, h.ClientCount())
}

func TestViewerNotification(t *testing.T) {
	h := NewHub()
	defer h.Close()

	relay := NewClient("relay-1")
	h.Register(relay)
	require.NoError(t, h.JoinRoom("relay-1", RelayRoom("s1")))

	sub := NewClient("sub-1")
	h.Register(sub)
	require.NoError(t, h.JoinRoom("sub-1", SessionRoom("s1")))

	ev := nextEventOrTimeout(relay, time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventRelayViewers, ev.Type)
	info, ok := ev.Data.(model.ViewerInfo)
	require.True(t, ok)
	assert.Equal(t, 1, info.ViewerCount)
	assert.True(t, info.RequestControls)

	h.LeaveRoom("sub-1", SessionRoom("s1"))
	ev = nextEventOrTimeout(relay, time.Second)
	require.NotNil(t, ev)
	info = ev.Data.(model.ViewerInfo)
	assert.Equal(t, 0, info.ViewerCount)
	assert.False(t, info.RequestControls)
}

func TestSendTo(t *testing.T) {
	h := NewHub()
	defer h.Close()

	c := NewClient("relay-1")
	h.Register(c)

	ok := h.SendTo("relay-1", &model.OutboundEvent{
		Type: model.EventRelayAck,
		Data: model.AckPayload{FrameID: "f12-99"},
	})
	assert.True(t, ok)
	assert.False(t, h.SendTo("nobody", incidentEvent("s1")))

	ev := nextEventOrTimeout(c, time.Second)
	require.NotNil(t, ev)
	assert.Equal(t, model.EventRelayAck, ev.Type)
}

func TestUnregisterClosesClient(t *testing.T) {
	h := NewHub()

	c := NewClient("sub-1")
	h.Register(c)
	require.NoError(t, h.JoinRoom("sub-1", SessionRoom("s1")))
	h.Unregister("sub-1")

	_, ok := c.NextEvent()
	assert.False(t, ok)
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.RoomSize(SessionRoom("s1")))
	h.Close()
}
