// SPDX-License-Identifier: MIT

/*
Package audio implements the capture side of the pipeline:
- PortAudio device capture with a real-time callback
- WAV file replay and a synthetic tone generator
- A WAV recording tap driven from the pipeline goroutine

Thread Safety:
- Sources hand chunks to a Sink that must never block
- State is published through atomics so Stats is safe from any goroutine
- The device callback locks its OS thread
*/
package audio

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEndOfInput is reported through Sink.Fault when a non-looping file
// source runs out of samples.
var ErrEndOfInput = errors.New("audio: end of input")

// Chunk is a block of mono samples in [-1, 1] captured at Timestamp, the
// wall-clock time of its last sample.
type Chunk struct {
	Samples    []float32
	Timestamp  time.Time
	SampleRate float64
	Sequence   uint64
}

// Sink receives chunks from a capture source. Push is called from the
// capture goroutine or real-time callback and must not block.
type Sink interface {
	Push(Chunk)
	Fault(error)
}

// Source produces chunks into a Sink until stopped.
type Source interface {
	Start(sink Sink) error
	Stop() error
	Stats() Stats
}

// Stats describes the state of a capture source.
type Stats struct {
	IsRunning      bool    `json:"is_running"`
	DeviceName     string  `json:"device_name"`
	LastError      string  `json:"last_error,omitempty"`
	SampleRate     float64 `json:"sample_rate"`
	Channels       int     `json:"channels"`
	ChunksCaptured uint64  `json:"chunks_captured"`
	Overflows      uint64  `json:"overflows"`
}

// state is the bookkeeping shared by every source.
type state struct {
	running   atomic.Bool
	chunks    atomic.Uint64
	overflows atomic.Uint64

	mu         sync.Mutex
	deviceName string
	lastErr    string
	sampleRate float64
	channels   int
}

func (s *state) setFormat(name string, sampleRate float64, channels int) {
	s.mu.Lock()
	s.deviceName = name
	s.sampleRate = sampleRate
	s.channels = channels
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *state) setError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func (s *state) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		IsRunning:      s.running.Load(),
		DeviceName:     s.deviceName,
		LastError:      s.lastErr,
		SampleRate:     s.sampleRate,
		Channels:       s.channels,
		ChunksCaptured: s.chunks.Load(),
		Overflows:      s.overflows.Load(),
	}
}
