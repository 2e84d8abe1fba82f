// Package mailbox provides an unbounded FIFO queue with many producers and a
// single consumer. It backs the broker's event queue and every per-connection
// delivery channel.
package mailbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push once the mailbox is closed, and by Pop once
// the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox: closed")

// Mailbox is an unbounded FIFO queue. Push never blocks. Any number of
// goroutines may push; only one goroutine should pop.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// New creates an empty, open mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v to the queue.
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.signal()
	return nil
}

func (m *Mailbox[T]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the oldest item without blocking.
func (m *Mailbox[T]) TryPop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	v := m.items[0]
	m.items[0] = zero
	m.items = m.items[1:]
	if len(m.items) == 0 {
		// Release the backing array once drained.
		m.items = nil
	}
	return v, true
}

// Pop blocks until an item is available and returns it. Items queued before
// Close are still returned; after that Pop reports ErrClosed.
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := m.TryPop(); ok {
			return v, nil
		}
		if m.Closed() {
			// Close may race with a final Push that won the lock first.
			if v, ok := m.TryPop(); ok {
				return v, nil
			}
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-m.ready:
		case <-m.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Ready is signalled after a Push. It may fire spuriously, so consumers
// should drain with TryPop.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Done is closed when the mailbox is closed.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Close stops accepting new items. It is safe to call more than once and from
// either side of the mailbox.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Closed reports whether Close has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
