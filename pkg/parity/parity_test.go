package parity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateAndOutOfOrder(t *testing.T) {
	tr := NewTracker()

	// sequence 1,2,2,5,3 -> exactly one duplicate, one out-of-order
	ids := []string{"f1-1000", "f2-1001", "f2-1001", "f5-1004", "f3-1002"}
	var dups, ooo int
	for i, id := range ids {
		r := tr.RecordFrameIn("s1", "telemetry", float64(1000+i), id, false)
		if r.Duplicate {
			dups++
		}
		if r.OutOfOrder {
			ooo++
		}
	}
	assert.Equal(t, 1, dups)
	assert.Equal(t, 1, ooo)

	stats := tr.Snapshot("s1")["telemetry"]
	assert.Equal(t, uint64(5), stats.FramesIn)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(1), stats.OutOfOrder)
}

func TestShouldAckOnlyOnRequest(t *testing.T) {
	tr := NewTracker()

	r := tr.RecordFrameIn("s1", "telemetry", 1, "f1-1", false)
	assert.False(t, r.ShouldAck)

	r = tr.RecordFrameIn("s1", "telemetry", 2, "f2-2", true)
	assert.True(t, r.ShouldAck)

	tr.RecordAckSent("s1", "telemetry")
	assert.Equal(t, uint64(1), tr.Snapshot("s1")["telemetry"].AcksSent)
}

func TestStreamsAreIndependent(t *testing.T) {
	tr := NewTracker()

	tr.RecordFrameIn("s1", "telemetry", 1, "f7-1", false)
	r := tr.RecordFrameIn("s1", "strategy", 2, "f1-2", false)
	assert.False(t, r.OutOfOrder, "lower seq on another stream is fine")

	r = tr.RecordFrameIn("s2", "telemetry", 3, "f1-3", false)
	assert.False(t, r.OutOfOrder, "sessions do not share counters")
}

func TestTimestampFallback(t *testing.T) {
	tr := NewTracker()

	// ids without the f<seq> shape order by timestamp
	tr.RecordFrameIn("s1", "video", 100, "frame-a", false)
	r := tr.RecordFrameIn("s1", "video", 50, "frame-b", false)
	assert.True(t, r.OutOfOrder)

	r = tr.RecordFrameIn("s1", "video", 150, "frame-c", false)
	assert.False(t, r.OutOfOrder)
}

func TestRecentWindowBounded(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3*recentWindow; i++ {
		tr.RecordFrameIn("s1", "telemetry", float64(i), fmt.Sprintf("f%d-%d", i, i), false)
	}
	stats := tr.Snapshot("s1")["telemetry"]
	assert.Equal(t, uint64(3*recentWindow), stats.FramesIn)
	assert.Equal(t, uint64(0), stats.Duplicates)
}

func TestCleanup(t *testing.T) {
	tr := NewTracker()
	tr.RecordFrameIn("s1", "telemetry", 1, "f1-1", false)
	tr.Cleanup("s1")
	assert.Nil(t, tr.Snapshot("s1"))
}
