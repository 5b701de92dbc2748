// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"testing"
	"time"
)

// collectSink keeps the first limit chunks and the first fault.
type collectSink struct {
	mu     sync.Mutex
	limit  int
	chunks []Chunk
	full   chan struct{}
	faults chan error
}

func newCollectSink(limit int) *collectSink {
	return &collectSink{limit: limit, full: make(chan struct{}), faults: make(chan error, 1)}
}

func (s *collectSink) Push(c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) >= s.limit {
		return
	}
	s.chunks = append(s.chunks, c)
	if len(s.chunks) == s.limit {
		close(s.full)
	}
}

func (s *collectSink) Fault(err error) {
	select {
	case s.faults <- err:
	default:
	}
}

func (s *collectSink) waitFull(t *testing.T) []Chunk {
	t.Helper()
	select {
	case <-s.full:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %d chunks", s.limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}

func (s *collectSink) waitFault(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.faults:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a fault")
		return nil
	}
}

func (s *collectSink) collected() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Chunk(nil), s.chunks...)
}
