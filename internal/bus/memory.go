package bus

import (
	"context"
	"sync"
)

// MemoryBus delivers envelopes synchronously to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	closed bool
	subs   map[int]func(Envelope)
	nextID int
}

// NewMemoryBus creates an open bus with no subscribers.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Envelope))}
}

// Publish hands env to every subscriber before returning.
func (m *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]func(Envelope), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.RUnlock()

	for _, fn := range subs {
		fn(env)
	}
	return nil
}

// Subscribe registers fn until ctx is done.
func (m *MemoryBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.nextID++
	id := m.nextID
	m.subs[id] = fn
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()
	return nil
}

// Close drops every subscriber. Close is idempotent.
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[int]func(Envelope))
	return nil
}
