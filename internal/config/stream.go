// SPDX-License-Identifier: MIT
package config

import "sync/atomic"

// StreamStore publishes StreamConfig snapshots. Writers replace the whole
// value; readers never observe a partially updated configuration.
type StreamStore struct {
	current atomic.Pointer[StreamConfig]
}

// NewStreamStore returns a store holding initial.
func NewStreamStore(initial StreamConfig) *StreamStore {
	s := &StreamStore{}
	s.current.Store(&initial)
	return s
}

// Load returns the current snapshot by value.
func (s *StreamStore) Load() StreamConfig {
	return *s.current.Load()
}

// Store validates next and, if valid, makes it the current snapshot.
func (s *StreamStore) Store(next StreamConfig) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}

// SetFPS replaces only the frame rate. Concurrent Store calls may race;
// the last writer wins with a complete snapshot either way.
func (s *StreamStore) SetFPS(fps int) error {
	next := s.Load()
	next.TargetFPS = fps
	return s.Store(next)
}
