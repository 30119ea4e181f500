// Package server provides the bounded, non-blocking send queue shared by
// WebSocket clients and SSE streams.
package server

import (
	"context"
	"sync"
)

// outbox is the buffered send queue behind a transport connection. Pushes
// never block: a full queue is reported to the relay as a delivery failure.
type outbox struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newOutbox(size int) *outbox {
	return &outbox{ch: make(chan []byte, size)}
}

func (o *outbox) push(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return errStreamClosed
	}
	select {
	case o.ch <- data:
		return nil
	default:
		return errSendQueueFull
	}
}

// close reports whether this call was the one that closed the queue.
func (o *outbox) close() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	o.closed = true
	close(o.ch)
	return true
}
