// Package session implements the per-connection mailbox that makes the
// HTTP transport survive disconnects: a bounded ring buffer of
// buffered events for replay, plus a best-effort live broadcast to any
// attached subscribers. The ring buffer is the only durable tier; the
// live tier may drop events for a slow subscriber, which then recovers
// via replay.
package session

import (
	"sync"
	"time"
)

const (
	// HistorySize is the maximum number of events retained per session.
	HistorySize = 100

	// Timeout is how long a session may sit idle before the sweep
	// removes it.
	Timeout = time.Hour

	// subscriberBuffer bounds each live subscriber's channel. A
	// subscriber that falls further behind misses live events and must
	// rely on replay.
	subscriberBuffer = 64
)

// Event is one buffered protocol event. Immutable once created.
type Event struct {
	ID        uint64
	Type      string
	Data      string
	CreatedAt time.Time
}

// Session is a single client mailbox. All methods are safe for
// concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	history     []Event // ring: history[head] is the oldest entry
	head        int
	count       int
	nextEventID uint64
	lastActive  time.Time
	subscribers map[*Subscriber]struct{}
}

// New creates a session with the given id.
func New(id string) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		CreatedAt:   now,
		history:     make([]Event, HistorySize),
		nextEventID: 1,
		lastActive:  now,
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// PushEvent allocates the next event id, appends the event to the ring
// buffer (evicting the oldest entry at capacity), fans it out to live
// subscribers and touches the session. Returns the assigned id.
//
// The id is allocated under the same lock that orders the ring append,
// so buffer order always matches id order.
func (s *Session) PushEvent(eventType, data string) uint64 {
	s.mu.Lock()
	id := s.nextEventID
	s.nextEventID++
	ev := Event{ID: id, Type: eventType, Data: data, CreatedAt: time.Now()}

	if s.count == HistorySize {
		s.history[s.head] = ev
		s.head = (s.head + 1) % HistorySize
	} else {
		s.history[(s.head+s.count)%HistorySize] = ev
		s.count++
	}
	s.lastActive = time.Now()

	// Fan out under the lock: Close also closes sub.ch under the lock,
	// so a send can never race a concurrent close. Sends are
	// non-blocking; the live tier is lossy and a slow subscriber
	// recovers via replay.
	for sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
	return id
}

// EventsAfter returns every buffered event with id > lastEventID in
// ascending id order. If lastEventID predates the oldest retained
// event the gap is unrecoverable and replay silently starts at the
// earliest available event.
func (s *Session) EventsAfter(lastEventID uint64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, s.count)
	for i := 0; i < s.count; i++ {
		ev := s.history[(s.head+i)%HistorySize]
		if ev.ID > lastEventID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscriber yields live events for the lifetime of one connection.
type Subscriber struct {
	s    *Session
	ch   chan Event
	once sync.Once
}

// Events is the live event channel. It is closed by Close.
func (sub *Subscriber) Events() <-chan Event { return sub.ch }

// Close detaches the subscriber. Stored history and other subscribers
// are unaffected. The channel is closed under the session lock so it
// cannot race a fan-out in PushEvent.
func (sub *Subscriber) Close() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subscribers, sub)
		close(sub.ch)
		sub.s.mu.Unlock()
	})
}

// Subscribe attaches a live listener to the session.
func (s *Session) Subscribe() *Subscriber {
	sub := &Subscriber{s: s, ch: make(chan Event, subscriberBuffer)}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// IsStale reports whether the session has been idle longer than
// Timeout.
func (s *Session) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActive) > Timeout
}

// CurrentEventID returns the most recently assigned event id, 0 if no
// event has been pushed yet.
func (s *Session) CurrentEventID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextEventID - 1
}

// closeAll detaches every subscriber; used when the manager evicts the
// session so attached streams terminate.
func (s *Session) closeAll() {
	s.mu.Lock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
