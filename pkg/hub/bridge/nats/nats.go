// Package nats republishes the hub's reliable events on NATS subjects so
// other service instances (stewarding backends, archival consumers) can
// observe session lifecycle, incidents and race control decisions without
// holding a websocket subscription.
package nats

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/pitbox-racing/pitbox-relay-go/log"
	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

const defaultSubjectPrefix = "pbr"

type Bridge struct {
	conn   *nats.Conn
	l      *log.Logger
	prefix string
}

type Option func(*Bridge)

func WithLogger(l *log.Logger) Option {
	return func(b *Bridge) {
		b.l = l
	}
}

func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

func NewBridge(url string, opts ...Option) (*Bridge, error) {
	ret := &Bridge{
		l:      log.Default().Named("hub.bridge.nats"),
		prefix: defaultSubjectPrefix,
	}
	for _, opt := range opts {
		opt(ret)
	}
	conn, err := nats.Connect(url,
		nats.Name("pitbox-relay-hub"),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connecting nats at %s: %w", url, err)
	}
	ret.conn = conn
	ret.l.Info("nats bridge connected", log.String("url", url))
	return ret, nil
}

// subject maps room and event type to a NATS subject, e.g.
// pbr.session.s1.incident.new
func (b *Bridge) subject(room string, eventType model.EventType) string {
	sanitize := func(s string) string {
		return strings.ReplaceAll(s, ":", ".")
	}
	return fmt.Sprintf("%s.%s.%s", b.prefix, sanitize(room), sanitize(string(eventType)))
}

func (b *Bridge) PublishReliable(room string, ev *model.OutboundEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", ev.Type, err)
	}
	return b.conn.Publish(b.subject(room, ev.Type), data)
}

func (b *Bridge) Close() {
	if err := b.conn.Drain(); err != nil {
		b.l.Warn("nats drain failed", log.ErrorField(err))
	}
}
