// Package parity keeps per (session, stream) frame accounting so a relay
// with a lossy uplink can detect gaps and decide about resends. The server
// never owns retry logic; it only counts and acknowledges on request.
package parity

import (
	"strconv"
	"strings"
	"sync"
)

// recentWindow bounds the per-stream duplicate detection set.
const recentWindow = 256

// Receipt is the result of recording one inbound frame.
type Receipt struct {
	ShouldAck  bool
	Duplicate  bool
	OutOfOrder bool
}

// StreamStats is a snapshot of one stream's counters.
type StreamStats struct {
	FramesIn   uint64 `json:"framesIn"`
	AcksSent   uint64 `json:"acksSent"`
	Duplicates uint64 `json:"duplicates"`
	OutOfOrder uint64 `json:"outOfOrder"`
	LastError  string `json:"lastError,omitempty"`
}

type streamState struct {
	StreamStats
	maxSeq      int64
	maxTs       float64
	hasFrame    bool
	recent      map[string]struct{}
	recentOrder []string
}

func (s *streamState) remember(frameID string) {
	if frameID == "" {
		return
	}
	if len(s.recentOrder) >= recentWindow {
		oldest := s.recentOrder[0]
		s.recentOrder = s.recentOrder[1:]
		delete(s.recent, oldest)
	}
	s.recent[frameID] = struct{}{}
	s.recentOrder = append(s.recentOrder, frameID)
}

// parseSeq extracts the numeric sequence from frame ids of the form
// "f<seq>-<ms>". Returns ok=false for anything else; those frames fall back
// to timestamp ordering.
func parseSeq(frameID string) (int64, bool) {
	if len(frameID) < 2 || frameID[0] != 'f' {
		return 0, false
	}
	body := frameID[1:]
	if idx := strings.IndexByte(body, '-'); idx > 0 {
		body = body[:idx]
	}
	seq, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// Tracker holds the counters for all live sessions.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]map[string]*streamState
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]map[string]*streamState),
	}
}

func (t *Tracker) stream(sessionID, stream string) *streamState {
	streams, ok := t.sessions[sessionID]
	if !ok {
		streams = make(map[string]*streamState)
		t.sessions[sessionID] = streams
	}
	st, ok := streams[stream]
	if !ok {
		st = &streamState{recent: make(map[string]struct{})}
		streams[stream] = st
	}
	return st
}

// RecordFrameIn registers one inbound frame. ShouldAck is true only when the
// sender explicitly asked for an acknowledgment; unconditional acks would
// double the traffic of a 60 Hz stream.
//
//nolint:whitespace // can't make both editor and linter happy
func (t *Tracker) RecordFrameIn(
	sessionID, stream string,
	frameTs float64,
	frameID string,
	ackRequested bool,
) Receipt {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stream(sessionID, stream)
	st.FramesIn++
	ret := Receipt{ShouldAck: ackRequested}

	if _, seen := st.recent[frameID]; frameID != "" && seen {
		st.Duplicates++
		ret.Duplicate = true
		return ret
	}

	if seq, ok := parseSeq(frameID); ok {
		if st.hasFrame && seq == st.maxSeq {
			st.Duplicates++
			ret.Duplicate = true
			return ret
		}
		if st.hasFrame && seq < st.maxSeq {
			st.OutOfOrder++
			ret.OutOfOrder = true
		} else {
			st.maxSeq = seq
		}
	} else if st.hasFrame && frameTs < st.maxTs {
		st.OutOfOrder++
		ret.OutOfOrder = true
	}
	if frameTs > st.maxTs {
		st.maxTs = frameTs
	}
	st.hasFrame = true
	st.remember(frameID)
	return ret
}

// RecordAckSent bumps the ack counter after the hub delivered a relay:ack.
func (t *Tracker) RecordAckSent(sessionID, stream string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream(sessionID, stream).AcksSent++
}

// RecordError notes the last validation error observed on a stream.
func (t *Tracker) RecordError(sessionID, stream, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stream(sessionID, stream).LastError = msg
}

// Snapshot returns a copy of all stream counters of one session.
func (t *Tracker) Snapshot(sessionID string) map[string]StreamStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	streams, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	ret := make(map[string]StreamStats, len(streams))
	for name, st := range streams {
		ret[name] = st.StreamStats
	}
	return ret
}

// Cleanup drops all state of a session. Called when the registry reaps it.
func (t *Tracker) Cleanup(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}
