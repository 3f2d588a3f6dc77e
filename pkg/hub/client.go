package hub

import (
	"sync"
	"sync/atomic"

	"github.com/pitbox-racing/pitbox-relay-go/pkg/model"
)

// reliableQueueSize bounds the per-client queue for reliable events. These
// are low frequency; a full queue means the consumer is gone for good and
// the client gets evicted rather than stalling the whole room.
const reliableQueueSize = 256

// Client is one subscriber (dashboard, overlay, stewarding tool) or relay
// connection attached to the hub. Events arrive on two channels with
// different guarantees:
//
//   - reliable: buffered, delivered even to a momentarily slow consumer
//   - volatile: unbuffered, handed over only to a consumer that is ready
//     right now, dropped otherwise
//
// The transport's write pump drains both via NextEvent.
type Client struct {
	ID string

	reliable chan *model.OutboundEvent
	volatile chan *model.OutboundEvent
	done     chan struct{}

	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewClient(id string) *Client {
	return &Client{
		ID:       id,
		reliable: make(chan *model.OutboundEvent, reliableQueueSize),
		volatile: make(chan *model.OutboundEvent),
		done:     make(chan struct{}),
	}
}

// NextEvent blocks until an event is available or the client is closed.
// Reliable events win when both channels are ready.
func (c *Client) NextEvent() (*model.OutboundEvent, bool) {
	select {
	case ev := <-c.reliable:
		return ev, true
	default:
	}
	select {
	case ev := <-c.reliable:
		return ev, true
	case ev := <-c.volatile:
		return ev, true
	case <-c.done:
		return nil, false
	}
}

// Dropped returns how many volatile events this client missed.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// deliverReliable queues the event. Returns false when the queue is full,
// which the hub treats as a dead consumer.
func (c *Client) deliverReliable(ev *model.OutboundEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.reliable <- ev:
		return true
	default:
		return false
	}
}

// deliverVolatile hands the event to a ready consumer or drops it. Dropping
// keeps latency bounded: a slow consumer must see the latest state, not an
// ever-growing backlog of stale state.
func (c *Client) deliverVolatile(ev *model.OutboundEvent) bool {
	select {
	case c.volatile <- ev:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}
