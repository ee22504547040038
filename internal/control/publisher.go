package control

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/bus"
	"rtb-bidder/internal/observability"
)

// Publisher serializes events onto one bus topic from a bounded queue.
// Add never blocks; when the queue is full the event is dropped and
// counted. A nil *Publisher accepts and discards everything.
type Publisher struct {
	topic string
	bus   bus.Bus

	mu     sync.RWMutex
	closed bool
	queue  chan any
	done   chan struct{}
}

func NewPublisher(b bus.Bus, topic string, size int) *Publisher {
	if size <= 0 {
		size = 1
	}
	p := &Publisher{
		topic: topic,
		bus:   b,
		queue: make(chan any, size),
		done:  make(chan struct{}),
	}
	go p.drain()
	return p
}

func (p *Publisher) Add(v any) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- v:
		return true
	default:
		observability.PublishDropped.WithLabelValues(p.topic).Inc()
		return false
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for v := range p.queue {
		payload, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("topic", p.topic).Msg("encode event")
			continue
		}
		if err := p.bus.Publish(p.topic, payload); err != nil {
			observability.PublishDropped.WithLabelValues(p.topic).Inc()
			log.Warn().Err(err).Str("topic", p.topic).Msg("publish event")
		}
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
