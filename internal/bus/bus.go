// Package bus carries control commands and diagnostic events between bidder
// instances and operators.
package bus

import "errors"

// Handler receives the raw payload of one message. Handlers run on the
// transport's delivery goroutine and should not block for long.
type Handler func(payload []byte)

type Bus interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	Close() error
}

var ErrClosed = errors.New("bus closed")
