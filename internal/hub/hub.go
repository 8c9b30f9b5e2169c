// Package hub fans decoded reports out to connected feed clients.
package hub

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fakeldat/go-fakeldat/internal/logging"
	"github.com/fakeldat/go-fakeldat/internal/metrics"
	"github.com/fakeldat/go-fakeldat/internal/protocol"
)

// BackpressurePolicy decides what happens when a client's queue is full.
type BackpressurePolicy int

const (
	// PolicyDrop loses the report for that client and keeps it connected.
	PolicyDrop BackpressurePolicy = iota
	// PolicyKick disconnects the client that cannot keep up.
	PolicyKick
)

// Subscription selects which measurement reports a client receives.
// Settings echoes and trigger acks are always delivered so every
// client keeps seeing device state changes.
type Subscription int32

const (
	// SubAll is the zero value: new clients get every report.
	SubAll Subscription = iota
	SubRaw
	SubSummary
)

func (s Subscription) String() string {
	switch s {
	case SubRaw:
		return "raw"
	case SubSummary:
		return "summary"
	default:
		return "all"
	}
}

// ParseSubscription maps a subscribe target to its Subscription.
func ParseSubscription(s string) (Subscription, error) {
	switch s {
	case "all":
		return SubAll, nil
	case "raw":
		return SubRaw, nil
	case "summary":
		return SubSummary, nil
	}
	return SubAll, fmt.Errorf("unknown subscription %q (use raw|summary|all)", s)
}

// Client is one feed subscriber. The writer goroutine owns Out; Closed
// tells it to stop. The subscription is written by the client's reader
// goroutine and read during Broadcast, hence the atomic.
type Client struct {
	Out       chan protocol.Report
	Closed    chan struct{}
	closeOnce sync.Once
	sub       atomic.Int32
}

// Subscribe narrows (or widens) the measurement reports this client
// receives from Broadcast.
func (c *Client) Subscribe(s Subscription) { c.sub.Store(int32(s)) }

// Subscription returns the client's current measurement selection.
func (c *Client) Subscription() Subscription { return Subscription(c.sub.Load()) }

// wants reports whether r should reach this client.
func (c *Client) wants(r protocol.Report) bool {
	switch r.(type) {
	case protocol.RawReport:
		s := c.Subscription()
		return s == SubAll || s == SubRaw
	case protocol.SummaryReport:
		s := c.Subscription()
		return s == SubAll || s == SubSummary
	default:
		return true
	}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// OutBufSize is the queue capacity given to new clients.
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates an empty Hub with the drop policy.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("feed_first_client_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("feed_last_client_disconnected")
	}
}

// Broadcast queues r on every connected client that subscribes to it,
// applying the backpressure policy to any client whose queue is full.
func (h *Hub) Broadcast(r protocol.Report) {
	clients := h.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	if len(clients) > 0 {
		max := 0
		sum := 0
		for _, c := range clients {
			l := len(c.Out)
			if l > max {
				max = l
			}
			sum += l
		}
		metrics.SetQueueDepth(max, sum/len(clients))
	}
	for _, c := range clients {
		if !c.wants(r) {
			continue
		}
		select {
		case c.Out <- r:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // writer exits; the server removes it on disconnect
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a copy of the current client set.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
