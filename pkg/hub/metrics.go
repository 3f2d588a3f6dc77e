package hub

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/pitbox-racing/pitbox-relay-go/log"
)

type hubMetrics struct {
	sentReliable    atomic.Uint64
	sentVolatile    atomic.Uint64
	droppedVolatile atomic.Uint64
}

// setupMetrics registers observable gauges against the global meter
// provider. Without a configured exporter these are no-ops.
func setupMetrics(h *Hub) *hubMetrics {
	m := &hubMetrics{}
	meter := otel.GetMeterProvider().Meter("pbr.hub")
	register := func(metricName, desc, unit string, valueProvider func() int64) {
		if _, err := meter.Int64ObservableGauge(
			metricName,
			metric.WithDescription(desc),
			metric.WithUnit(unit),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(valueProvider())
				return nil
			})); err != nil {
			log.Error("failed to register metric",
				log.String("metric", metricName),
				log.ErrorField(err))
		}
	}
	type data struct {
		name  string
		desc  string
		unit  string
		value func() int64
	}
	for _, d := range []*data{
		{
			"pbr.hub.sent.reliable", "Reliable events delivered", "{count}",
			func() int64 { return int64(m.sentReliable.Load()) },
		},
		{
			"pbr.hub.sent.volatile", "Volatile events delivered", "{count}",
			func() int64 { return int64(m.sentVolatile.Load()) },
		},
		{
			"pbr.hub.dropped.volatile", "Volatile events dropped", "{count}",
			func() int64 { return int64(m.droppedVolatile.Load()) },
		},
		{
			"pbr.hub.connections", "Attached clients", "{count}",
			func() int64 { return int64(h.ClientCount()) },
		},
		{
			"pbr.hub.rooms", "Active rooms", "{count}",
			func() int64 { return int64(h.RoomCount()) },
		},
	} {
		register(d.name, d.desc, d.unit, d.value)
	}
	return m
}
