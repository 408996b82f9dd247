package control

import "sync"

const clientBuffer = 256

// Event is a single control-plane event line, encoded by the caller as
// JSON before Publish.
type Event struct {
	Name string
	JSON []byte
}

// EventHub fans out control-plane events to every subscribed
// connection. Adapted from the session-output fan-out hub: no per-topic
// replay buffer here, since a late subscriber has no use for events
// that predate its "subscribe" command — unlike session output, control
// events aren't something a client "catches up" on.
type EventHub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewEventHub returns an EventHub ready for use.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[chan []byte]struct{})}
}

// Publish sends ev.JSON to every current subscriber. Sends are
// non-blocking so a slow or stuck subscriber cannot stall publishing.
func (h *EventHub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev.JSON:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function.
func (h *EventHub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []byte, clientBuffer)
	h.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}
