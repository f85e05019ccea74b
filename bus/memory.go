package bus

import (
	"sync"
	"sync/atomic"

	"github.com/syssam/sensorthings/entity"
)

// Memory fans messages out to in-process subscribers. A subscriber whose
// buffer is full misses the message.
type Memory struct {
	mu      sync.RWMutex
	subs    map[int]chan *entity.ChangedMessage
	next    int
	dropped atomic.Int64
	closed  bool
}

// NewMemory returns an empty in-memory bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[int]chan *entity.ChangedMessage)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (m *Memory) Subscribe(buffer int) (<-chan *entity.ChangedMessage, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan *entity.ChangedMessage, buffer)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.next
	m.next++
	m.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Publish implements Bus.
func (m *Memory) Publish(msg *entity.ChangedMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- msg:
		default:
			m.dropped.Add(1)
		}
	}
}

// Dropped returns the number of deliveries missed by full subscribers.
func (m *Memory) Dropped() int64 { return m.dropped.Load() }

// Close closes all subscriber channels. Later subscribers get a closed
// channel.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.closed = true
}
