// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/pkg/utils"
)

// DefaultToneAmplitude is the per-tone amplitude used when tones are given
// as bare frequencies.
const DefaultToneAmplitude = 0.25

// ToneSource synthesizes a sum of sines, for demos and tests without a
// microphone.
type ToneSource struct {
	sampleRate float64
	blocksize  int
	tones      []utils.Tone

	// Paced emits one block per block period. When false, blocks are
	// produced as fast as the sink accepts them.
	Paced bool

	mu     sync.Mutex
	w      *worker
	offset int64 // next sample index, owned by the running generator
	state
}

var _ Source = (*ToneSource)(nil)

// NewToneSource creates a paced generator.
func NewToneSource(sampleRate float64, blocksize int, tones ...utils.Tone) (*ToneSource, error) {
	if sampleRate <= 0 || blocksize <= 0 {
		return nil, fmt.Errorf("tone source: sample rate and blocksize must be positive (got %.0f, %d)", sampleRate, blocksize)
	}
	for _, t := range tones {
		if t.Frequency <= 0 || t.Frequency >= sampleRate/2 {
			return nil, fmt.Errorf("tone source: %.1f Hz is outside (0, %.1f)", t.Frequency, sampleRate/2)
		}
	}
	return &ToneSource{sampleRate: sampleRate, blocksize: blocksize, tones: tones, Paced: true}, nil
}

// TonesAt turns frequencies into tones of DefaultToneAmplitude.
func TonesAt(freqs ...float64) []utils.Tone {
	tones := make([]utils.Tone, len(freqs))
	for i, f := range freqs {
		tones[i] = utils.Tone{Frequency: f, Amplitude: DefaultToneAmplitude}
	}
	return tones
}

// Start begins generation. The signal is phase-continuous across restarts.
func (s *ToneSource) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		return nil
	}
	s.setFormat(fmt.Sprintf("tones %v", s.tones), s.sampleRate, 1)
	s.running.Store(true)
	s.w = startWorker(func(stop <-chan struct{}) { s.run(sink, stop) })
	log.Infof("Audio: Tone generator started (%d tones, SampleRate: %.0f Hz)", len(s.tones), s.sampleRate)
	return nil
}

func (s *ToneSource) run(sink Sink, stop <-chan struct{}) {
	var ticker *time.Ticker
	if s.Paced {
		ticker = time.NewTicker(blockPeriod(s.blocksize, s.sampleRate))
		defer ticker.Stop()
	}
	start, first := time.Now(), s.offset
	for pace(ticker, stop) {
		samples := make([]float32, s.blocksize)
		utils.FillTones(samples, s.offset, s.sampleRate, s.tones)
		s.offset += int64(s.blocksize)
		sink.Push(Chunk{
			Samples:    samples,
			Timestamp:  start.Add(blockPeriod(int(s.offset-first), s.sampleRate)),
			SampleRate: s.sampleRate,
			Sequence:   s.chunks.Add(1),
		})
	}
}

// Stop halts generation and waits for the generator goroutine.
func (s *ToneSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w.halt()
	s.w = nil
	s.running.Store(false)
	return nil
}

// Stats returns the generator state.
func (s *ToneSource) Stats() Stats { return s.stats() }
