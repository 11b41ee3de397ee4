package broadcaster

import (
	"errors"
	"sync"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrChannelFull   = errors.New("channel buffer full")
)

// Channel is the write side of one live connection. Send must never block:
// a channel that cannot take the data right away reports an error instead.
type Channel interface {
	Send(data []byte) error
	Close()
}

// QueueChannel buffers encoded payloads for a connection goroutine to drain.
type QueueChannel struct {
	queue chan []byte
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewQueueChannel(size int) *QueueChannel {
	if size < 1 {
		size = 1
	}

	return &QueueChannel{
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

func (c *QueueChannel) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.queue <- data:
		return nil
	default:
		return ErrChannelFull
	}
}

// Close marks the channel dead. The queue itself is never closed so a late
// Send cannot panic; readers watch Done instead.
func (c *QueueChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.done)
}

func (c *QueueChannel) Queue() <-chan []byte {
	return c.queue
}

func (c *QueueChannel) Done() <-chan struct{} {
	return c.done
}
