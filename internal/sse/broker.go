// Package sse streams post change notifications to browsers as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the broker.
const (
	TypePostCreated    = "post.created"
	TypePostUpdated    = "post.updated"
	TypePostDeleted    = "post.deleted"
	TypeListingUpdated = "listing.updated"
)

const (
	clientBuffer = 64
	retryMillis  = 3000
)

// Event is a single typed message. Data is JSON-encoded into the data field.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// hub is the broker's mutable state. It is only touched from the loop goroutine.
type hub struct {
	clients     map[chan []byte]struct{}
	lastListing time.Time
	dropped     uint64
}

func (h *hub) send(frame []byte) {
	for ch := range h.clients {
		select {
		case ch <- frame:
		default:
			h.dropped++
		}
	}
}

// Broker fans events out to subscribed clients. All state lives in a hub
// owned by one goroutine; callers submit closures over cmds.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration
	now       func() time.Time

	cmds    chan func(*hub)
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. listingThrottle is the minimum gap between two
// listing.updated events caused by post changes.
func NewBroker(listingThrottle time.Duration) *Broker {
	if listingThrottle <= 0 {
		listingThrottle = 2 * time.Second
	}
	b := &Broker{
		throttle:  listingThrottle,
		heartbeat: 25 * time.Second,
		now:       time.Now,
		cmds:      make(chan func(*hub), 256),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)
	h := &hub{clients: make(map[chan []byte]struct{})}
	for {
		select {
		case <-b.done:
			for ch := range h.clients {
				close(ch)
			}
			return
		case fn := <-b.cmds:
			fn(h)
		}
	}
}

// do runs fn on the loop goroutine. It reports false once the broker is closed.
func (b *Broker) do(fn func(*hub)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.cmds <- fn:
		return true
	case <-b.stopped:
		return false
	}
}

// query runs fn on the loop goroutine and waits for it to finish.
func (b *Broker) query(fn func(*hub)) bool {
	finished := make(chan struct{})
	if !b.do(func(h *hub) { fn(h); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel. Safe to call twice.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.done)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed on Unsubscribe
// or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	added := false
	b.query(func(h *hub) {
		h.clients[ch] = struct{}{}
		added = true
	})
	if !added {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	n := 0
	b.query(func(h *hub) { n = len(h.clients) })
	return n
}

// Dropped returns how many frames were discarded because a client was slow.
func (b *Broker) Dropped() uint64 {
	var n uint64
	b.query(func(h *hub) { n = h.dropped })
	return n
}

// Publish broadcasts event to all clients.
func (b *Broker) Publish(event Event) {
	frame, err := encodeFrame(event)
	if err != nil {
		return
	}
	b.do(func(h *hub) { h.send(frame) })
}

// PublishPostEvent broadcasts post.<kind> for path and, at most once per
// throttle window, listing.updated. Kinds other than created, updated and
// deleted are ignored.
func (b *Broker) PublishPostEvent(kind, path string) {
	var typ string
	switch kind {
	case "created":
		typ = TypePostCreated
	case "updated":
		typ = TypePostUpdated
	case "deleted":
		typ = TypePostDeleted
	default:
		return
	}
	frame, err := encodeFrame(Event{Type: typ, Data: map[string]string{"path": path}})
	if err != nil {
		return
	}
	b.do(func(h *hub) {
		h.send(frame)
		now := b.now()
		if now.Sub(h.lastListing) < b.throttle {
			return
		}
		h.lastListing = now
		if listing, err := encodeFrame(Event{Type: TypeListingUpdated, Data: map[string]string{}}); err == nil {
			h.send(listing)
		}
	})
}

func encodeFrame(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("sse: encode %s: %w", event.Type, err)
	}
	return fmt.Appendf(nil, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), event.Type, payload), nil
}

// ServeHTTP streams events to one client until it disconnects or the broker
// closes. A comment line is written every heartbeat to keep proxies from
// timing the connection out.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
