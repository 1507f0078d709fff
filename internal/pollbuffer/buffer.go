// Package pollbuffer keeps the messages routed to HTTP poll clients until
// they come and collect them. Each subscriber has a bounded buffer that keeps
// only its most recent messages.
package pollbuffer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrUnknownClient is returned when a client id is not in the store
	ErrUnknownClient = errors.New("unknown poll client")
	// ErrClosed is returned when the store has been closed
	ErrClosed = errors.New("poll buffer store is closed")
	// ErrDuplicateClient is returned when a client id is already in the store
	ErrDuplicateClient = errors.New("poll client already registered")
)

// Subscription declares one subscriber buffer. Sizes below one become one.
type Subscription struct {
	Name string
	Type string
	Size int
}

// Message is one buffered delivery.
type Message struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Value    any       `json:"value"`
	Received time.Time `json:"received"`
}

type subscriberKey struct {
	name    string
	msgType string
}

type ring struct {
	size     int
	messages []Message
}

// Buffer holds the pending messages of one poll client. It is safe for
// concurrent use.
type Buffer struct {
	mu       sync.Mutex
	rings    map[subscriberKey]*ring
	order    []subscriberKey
	lastSeen time.Time
	now      func() time.Time
}

// NewBuffer creates a buffer with one ring per subscription.
func NewBuffer(subs []Subscription) *Buffer {
	b := &Buffer{
		rings: make(map[subscriberKey]*ring, len(subs)),
		now:   time.Now,
	}
	for _, s := range subs {
		key := subscriberKey{name: s.Name, msgType: s.Type}
		if _, ok := b.rings[key]; ok {
			continue
		}
		size := s.Size
		if size < 1 {
			size = 1
		}
		b.rings[key] = &ring{size: size}
		b.order = append(b.order, key)
	}
	b.lastSeen = b.now()
	return b
}

// Push stores a message for the named subscriber, dropping the oldest one
// when the ring is full. It reports false for an unknown subscriber.
func (b *Buffer) Push(name, msgType string, value any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.rings[subscriberKey{name: name, msgType: msgType}]
	if !ok {
		return false
	}
	r.messages = append(r.messages, Message{Name: name, Type: msgType, Value: value, Received: b.now()})
	if over := len(r.messages) - r.size; over > 0 {
		r.messages = append(r.messages[:0:0], r.messages[over:]...)
	}
	return true
}

// Drain returns and clears every buffered message, grouped by subscriber in
// declaration order. Draining marks the client as seen.
func (b *Buffer) Drain() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Message, 0)
	for _, key := range b.order {
		r := b.rings[key]
		out = append(out, r.messages...)
		r.messages = nil
	}
	b.lastSeen = b.now()
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.rings {
		n += len(r.messages)
	}
	return n
}

// Touch marks the client as seen without draining.
func (b *Buffer) Touch() {
	b.mu.Lock()
	b.lastSeen = b.now()
	b.mu.Unlock()
}

// LastSeen returns when the client last polled or published.
func (b *Buffer) LastSeen() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

// Store maps poll client ids to their buffers. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buffers map[string]*Buffer
	closed  bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{buffers: make(map[string]*Buffer)}
}

// Add registers b under id.
func (s *Store) Add(id string, b *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.buffers[id]; ok {
		return ErrDuplicateClient
	}
	s.buffers[id] = b
	return nil
}

// Get returns the buffer registered under id.
func (s *Store) Get(id string) (*Buffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, ok := s.buffers[id]
	if !ok {
		return nil, ErrUnknownClient
	}
	return b, nil
}

// Remove forgets id and reports whether it was present.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buffers[id]
	delete(s.buffers, id)
	return ok
}

// Len returns the number of registered clients.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers)
}

// Expire removes every client not seen for longer than timeout and returns
// their ids.
func (s *Store) Expire(now time.Time, timeout time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, b := range s.buffers {
		if now.Sub(b.LastSeen()) > timeout {
			expired = append(expired, id)
			delete(s.buffers, id)
		}
	}
	return expired
}

// RunExpiry calls Expire every interval until ctx is done, passing each
// expired id to onExpire.
func (s *Store) RunExpiry(ctx context.Context, interval, timeout time.Duration, onExpire func(id string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range s.Expire(now, timeout) {
				onExpire(id)
			}
		}
	}
}

// Close drops every buffer. Later calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = make(map[string]*Buffer)
	s.closed = true
	return nil
}
