// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package event

import (
	"sync"

	"github.com/parascope/runtime/pkg/task"
)

// DefaultCommBufferCapacity bounds each location's pending-communication-event
// staging buffer. A burst larger than this overwrites its oldest entries
// rather than growing, trading a little accounting precision for keeping the
// hot path non-blocking.
const DefaultCommBufferCapacity = 256

// Buffer stages CommEvents for one location between metric-trigger calls and
// the background flush that folds them into that location's Call-Tree
// Store. Unlike ringBuffer itself it is safe for concurrent Push callers,
// since communication callbacks can fire from contexts the owning location's
// main event loop does not control (e.g. an MPI progress thread).
type Buffer struct {
	mu   sync.Mutex
	ring *ringBuffer[CommEvent]
}

// NewBuffer creates a staging buffer holding up to capacity pending events.
func NewBuffer(capacity int) *Buffer {
	ring, err := newRingBuffer[CommEvent](capacity)
	if err != nil {
		// capacity is caller-controlled and always > 0 in this package;
		// DefaultCommBufferCapacity never trips this.
		ring, _ = newRingBuffer[CommEvent](DefaultCommBufferCapacity)
	}
	return &Buffer{ring: ring}
}

// Push stages ev for the next Drain.
func (b *Buffer) Push(ev CommEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring.push(ev)
}

// Drain empties the buffer and returns every staged event in the order it
// was pushed.
func (b *Buffer) Drain() []CommEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.drain()
}

func (b *Buffer) Len() int { return b.ring.len() }
func (b *Buffer) Cap() int { return b.ring.cap() }

// commBufferFor returns loc's staging buffer, creating one lazily on first
// use so callers that never generate communication events pay nothing.
func (c *Core) commBufferFor(loc *task.State) *Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.commBuffers[loc.Handle]
	if !ok {
		buf = NewBuffer(DefaultCommBufferCapacity)
		c.commBuffers[loc.Handle] = buf
	}
	return buf
}

// StageComm stages a communication event for loc instead of applying it
// immediately, for callers on a hot path that cannot afford RecordComm's
// metric-definition lookup. FlushComm must be called (e.g. periodically, or
// before a task switch) to fold staged events into the call tree.
func (c *Core) StageComm(loc *task.State, ev CommEvent) {
	c.commBufferFor(loc).Push(ev)
}

// FlushComm applies every event staged for loc since the last flush, in
// order, via RecordComm. It is cheap to call with nothing staged.
func (c *Core) FlushComm(loc *task.State) error {
	buf := c.commBufferFor(loc)
	pending := buf.Drain()
	for _, ev := range pending {
		if err := c.RecordComm(loc, ev); err != nil {
			return err
		}
	}
	return nil
}
