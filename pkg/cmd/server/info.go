package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/hub"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/parity"
	"github.com/pitbox-racing/pitbox-relay-go/version"
)

type sessionInfo struct {
	SessionID   string                        `json:"sessionId"`
	TrackName   string                        `json:"trackName"`
	SessionType model.SessionType             `json:"sessionType"`
	Cars        int                           `json:"cars"`
	Viewers     int                           `json:"viewers"`
	LastUpdate  time.Time                     `json:"lastUpdate"`
	Streams     map[string]parity.StreamStats `json:"streams,omitempty"`
}

type serverInfo struct {
	Version     string        `json:"version"`
	Uptime      string        `json:"uptime"`
	Connections int           `json:"connections"`
	Rooms       int           `json:"rooms"`
	Sessions    []sessionInfo `json:"sessions"`
}

var startTime = time.Now()

// handleInfo reports live hub, session and parity stats.
func (s *relayService) handleInfo(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.ListActive()
	info := serverInfo{
		Version:     version.Version,
		Uptime:      time.Since(startTime).Round(time.Second).String(),
		Connections: s.hub.ClientCount(),
		Rooms:       s.hub.RoomCount(),
		Sessions: lo.Map(active, func(sess *model.Session, _ int) sessionInfo {
			return sessionInfo{
				SessionID:   sess.ID,
				TrackName:   sess.TrackName,
				SessionType: sess.SessionType,
				Cars:        len(sess.Cars),
				Viewers:     s.hub.RoomSize(hub.SessionRoom(sess.ID)),
				LastUpdate:  sess.LastUpdate,
				Streams:     s.tracker.Snapshot(sess.ID),
			}
		}),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(info); err != nil {
		s.l.Warn("info encode failed", log.ErrorField(err))
	}
}
