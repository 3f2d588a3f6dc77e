package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

func TestSubjectMapping(t *testing.T) {
	b := &Bridge{prefix: defaultSubjectPrefix}

	assert.Equal(t, "pbr.session.s1.incident.new",
		b.subject("session:s1", model.EventIncidentNew))
	assert.Equal(t, "pbr.session.s1.race.event",
		b.subject("session:s1", model.EventRaceEvent))

	b.prefix = "custom"
	assert.Equal(t, "custom.session.s1.session.active",
		b.subject("session:s1", model.EventSessionActive))
}
