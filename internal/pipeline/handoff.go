// SPDX-License-Identifier: MIT
package pipeline

import (
	"sync/atomic"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
)

// HandoffStats describes the capture hand-off queue.
type HandoffStats struct {
	Capacity int    `json:"capacity"`
	Queued   int    `json:"queued"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
}

// Handoff is the bounded queue between the capture callback and the driver.
// Push never blocks: a full queue discards its oldest chunk.
type Handoff struct {
	ch      chan audio.Chunk
	faults  chan error
	pushed  atomic.Uint64
	dropped atomic.Uint64
	metrics Metrics
}

var _ audio.Sink = (*Handoff)(nil)

// NewHandoff creates a queue holding up to size chunks. metrics may be nil.
func NewHandoff(size int, metrics Metrics) *Handoff {
	if size <= 0 {
		size = config.DefaultHandoffQueueSize
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Handoff{
		ch:      make(chan audio.Chunk, size),
		faults:  make(chan error, 1),
		metrics: metrics,
	}
}

// Push enqueues c, dropping the oldest queued chunk while the queue is full.
func (h *Handoff) Push(c audio.Chunk) {
	h.pushed.Add(1)
	h.metrics.ChunkCaptured()
	for {
		select {
		case h.ch <- c:
			return
		default:
		}
		select {
		case <-h.ch:
			h.dropped.Add(1)
			h.metrics.HandoffDropped()
		default:
		}
	}
}

// Fault records a capture fault. Only the first pending fault is kept.
func (h *Handoff) Fault(err error) {
	select {
	case h.faults <- err:
	default:
	}
}

// Chunks is the receive side for the driver.
func (h *Handoff) Chunks() <-chan audio.Chunk { return h.ch }

// Faults delivers capture faults to the driver.
func (h *Handoff) Faults() <-chan error { return h.faults }

// Drain discards queued chunks and pending faults.
func (h *Handoff) Drain() {
	for {
		select {
		case <-h.ch:
		case <-h.faults:
		default:
			return
		}
	}
}

// Stats returns the queue counters.
func (h *Handoff) Stats() HandoffStats {
	return HandoffStats{
		Capacity: cap(h.ch),
		Queued:   len(h.ch),
		Pushed:   h.pushed.Load(),
		Dropped:  h.dropped.Load(),
	}
}
