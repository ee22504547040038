package bus

import "sync"

// Memory is an in-process Bus. Publish delivers synchronously to every
// handler subscribed to the exact topic.
type Memory struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[string][]Handler)}
}

func (m *Memory) Publish(topic string, payload []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	hs := append([]Handler(nil), m.handlers[topic]...)
	m.mu.RUnlock()

	for _, h := range hs {
		h(append([]byte(nil), payload...))
	}
	return nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.handlers[topic] = append(m.handlers[topic], h)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.handlers = nil
	return nil
}
