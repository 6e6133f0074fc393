// ABOUTME: Per-agent command queue for agents on the long-poll transport.
// ABOUTME: Poll blocks until a command arrives or the poll window expires.

package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

// mailboxDepth bounds pending commands per agent. A long-poll agent
// that falls this far behind is effectively gone; newer commands are
// rejected rather than queued indefinitely.
const mailboxDepth = 16

// ErrMailboxFull indicates the agent's pending-command queue is at
// capacity and the command was not accepted.
var ErrMailboxFull = errors.New("command mailbox full")

// ErrMailboxClosed indicates the agent's mailbox was evicted while a
// caller held a reference to it.
var ErrMailboxClosed = errors.New("command mailbox closed")

// Mailbox queues serialized commands per device id for pull-based
// delivery. Eviction unblocks any poller waiting on the evicted box.
type Mailbox struct {
	mu    sync.Mutex
	boxes map[string]*box
}

type box struct {
	cmds chan []byte
	done chan struct{}
}

// NewMailbox creates an empty Mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{boxes: make(map[string]*box)}
}

// Enqueue appends an encoded command to the device's queue, creating
// the queue on first use.
func (m *Mailbox) Enqueue(deviceID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.getOrCreateLocked(deviceID)
	select {
	case b.cmds <- payload:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Poll blocks until a command is available for the device, the timeout
// elapses, the mailbox is evicted, or ctx is cancelled. The boolean is
// true only when a command was dequeued; a false with a nil error means
// the poll window expired with nothing pending.
func (m *Mailbox) Poll(ctx context.Context, deviceID string, timeout time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	b := m.getOrCreateLocked(deviceID)
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-b.cmds:
		return payload, true, nil
	case <-b.done:
		return nil, false, ErrMailboxClosed
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Evict drops the device's queue and wakes any blocked poller. Pending
// commands are discarded; a disconnected agent has no use for them.
func (m *Mailbox) Evict(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boxes[deviceID]
	if !ok {
		return
	}
	delete(m.boxes, deviceID)
	close(b.done)
}

// Pending reports the number of queued commands for the device.
func (m *Mailbox) Pending(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.boxes[deviceID]
	if !ok {
		return 0
	}
	return len(b.cmds)
}

func (m *Mailbox) getOrCreateLocked(deviceID string) *box {
	b, ok := m.boxes[deviceID]
	if !ok {
		b = &box{
			cmds: make(chan []byte, mailboxDepth),
			done: make(chan struct{}),
		}
		m.boxes[deviceID] = b
	}
	return b
}
