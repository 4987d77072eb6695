// Package eventbus implements the process-wide, bounded, lossy broadcast
// channel described for the daemon's event fan-out: one producer (every
// workspace session's reader pump), many subscribers (every authenticated
// client connection). Generalised from the per-session broadcast/eviction
// pattern in the teacher's session_host.go (appendMessage/broadcastMessage)
// into one process-wide ring buffer with a monotonic sequence number and a
// per-subscriber cursor, per the spec's "build one" design note.
package eventbus

import "sync"

const defaultCapacity = 2048

// Kind tags a DaemonEvent.
type Kind string

const (
	KindAppServer      Kind = "app_server"
	KindTerminalOutput Kind = "terminal_output"
)

// Event is a single broadcast item.
type Event struct {
	Kind    Kind
	Payload any
}

type slot struct {
	seq   uint64
	event Event
}

// Bus is a bounded ring buffer broadcast. The zero value is not usable; use New.
type Bus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ring     []slot
	cap      int
	head     uint64 // sequence number of the oldest slot still in the ring
	next     uint64 // sequence number that will be assigned to the next Publish
	closed   bool
}

// New creates a Bus with the given ring capacity (0 selects the default ~2048).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	b := &Bus{ring: make([]slot, capacity), cap: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish broadcasts ev to all subscribers. Never blocks: if the ring is
// full, the oldest event is overwritten.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	idx := int(b.next % uint64(b.cap))
	b.ring[idx] = slot{seq: b.next, event: ev}
	b.next++
	if b.next-b.head > uint64(b.cap) {
		b.head = b.next - uint64(b.cap)
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Close unblocks every subscriber's Next call permanently.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Subscriber is a per-connection cursor into the bus. Events published
// before Subscribe was called are never observed (no replay).
type Subscriber struct {
	bus    *Bus
	pos    uint64
	closed bool // this subscriber only, distinct from the bus's own closed
}

// Subscribe returns a cursor positioned at "now" — only future events are seen.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	pos := b.next
	b.mu.Unlock()
	return &Subscriber{bus: b, pos: pos}
}

// Close unblocks this subscriber's pending or future Next call without
// affecting the bus or any other subscriber. Safe to call more than once.
// This is how a per-connection forwarder stops promptly on client
// disconnect instead of waiting for the next bus event to wake it.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	s.closed = true
	s.bus.mu.Unlock()
	s.bus.cond.Broadcast()
}

// Next blocks until an event is available, the bus closes, this subscriber
// is closed, or a lag occurred. lagged is true when the subscriber's cursor
// fell behind the ring head; in that case it resumes at head and the caller
// should simply continue.
func (s *Subscriber) Next() (ev Event, closed bool, lagged bool) {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if s.closed {
			return Event{}, true, false
		}
		if s.pos < b.head {
			s.pos = b.head
			lagged = true
		}
		if s.pos < b.next {
			idx := int(s.pos % uint64(b.cap))
			item := b.ring[idx]
			s.pos++
			return item.event, false, lagged
		}
		if b.closed {
			return Event{}, true, false
		}
		b.cond.Wait()
	}
}
