// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"time"
)

// Window is one fixed-length analysis frame: the carried-over tail of the
// previous window followed by HopSize new samples.
type Window struct {
	Samples    []float64
	Timestamp  time.Time
	SampleRate float64
}

// Assembler turns variably sized sample chunks into overlapping windows of
// fftSize samples. It is not safe for concurrent use; the pipeline driver owns
// it.
type Assembler struct {
	fftSize int
	overlap int
	hop     int

	tail    []float64 // last overlap samples of the previous window
	pending []float64 // new samples not yet emitted
	head    int       // first unconsumed index in pending
	primed  bool      // first chunk seen

	lastTimestamp  time.Time
	lastSampleRate float64
}

// NewAssembler creates an assembler emitting windows of fftSize samples that
// share int(fftSize*overlapFraction) samples with their predecessor.
func NewAssembler(fftSize int, overlapFraction float64) (*Assembler, error) {
	if fftSize <= 0 {
		return nil, fmt.Errorf("fft size must be positive, got %d", fftSize)
	}
	if overlapFraction < 0 || overlapFraction >= 1 {
		return nil, fmt.Errorf("overlap fraction must be in [0, 1), got %v", overlapFraction)
	}
	overlap := int(float64(fftSize) * overlapFraction)
	hop := fftSize - overlap
	if hop < 1 {
		return nil, fmt.Errorf("overlap fraction %v leaves no new samples per window", overlapFraction)
	}

	return &Assembler{
		fftSize: fftSize,
		overlap: overlap,
		hop:     hop,
		tail:    make([]float64, overlap),
		pending: make([]float64, 0, fftSize+hop),
	}, nil
}

// Write appends a chunk's samples. timestamp is the chunk's arrival time,
// i.e. the time of its last sample.
func (a *Assembler) Write(samples []float32, timestamp time.Time, sampleRate float64) {
	// Compact before appending so the backing array stays O(fftSize) once the
	// chunk size is steady.
	if a.head > 0 {
		n := copy(a.pending, a.pending[a.head:])
		a.pending = a.pending[:n]
		a.head = 0
	}
	for _, s := range samples {
		a.pending = append(a.pending, float64(s))
	}

	// A short first chunk is padded so a window is available immediately.
	if !a.primed {
		a.primed = true
		for len(a.pending) < a.hop {
			a.pending = append(a.pending, 0)
		}
	}

	a.lastTimestamp = timestamp
	a.lastSampleRate = sampleRate
}

// Next fills dst (len FFTSize) with the next window if enough samples are
// pending and reports whether it did. The returned timestamp is the time of
// the window's last sample.
func (a *Assembler) Next(dst []float64) (time.Time, bool) {
	if len(dst) != a.fftSize {
		panic(fmt.Sprintf("analysis: window buffer has %d samples, want %d", len(dst), a.fftSize))
	}
	if a.Pending() < a.hop {
		return time.Time{}, false
	}

	copy(dst, a.tail)
	copy(dst[a.overlap:], a.pending[a.head:a.head+a.hop])
	a.head += a.hop
	copy(a.tail, dst[a.hop:])

	ts := a.lastTimestamp
	if a.lastSampleRate > 0 {
		behind := float64(a.Pending()) / a.lastSampleRate
		ts = ts.Add(-time.Duration(behind * float64(time.Second)))
	}
	return ts, true
}

// Push writes a chunk and returns every window it completes. Each window owns
// a freshly allocated sample slice.
func (a *Assembler) Push(samples []float32, timestamp time.Time, sampleRate float64) []Window {
	a.Write(samples, timestamp, sampleRate)
	var out []Window
	for a.Pending() >= a.hop {
		buf := make([]float64, a.fftSize)
		ts, _ := a.Next(buf)
		out = append(out, Window{Samples: buf, Timestamp: ts, SampleRate: sampleRate})
	}
	return out
}

// Reset returns the assembler to its initial state: zero tail, nothing
// pending, first-chunk padding armed again.
func (a *Assembler) Reset() {
	for i := range a.tail {
		a.tail[i] = 0
	}
	a.pending = a.pending[:0]
	a.head = 0
	a.primed = false
	a.lastTimestamp = time.Time{}
	a.lastSampleRate = 0
}

// Pending returns the number of new samples waiting for a window.
func (a *Assembler) Pending() int { return len(a.pending) - a.head }

// FFTSize returns the window length.
func (a *Assembler) FFTSize() int { return a.fftSize }

// OverlapSize returns the number of samples consecutive windows share.
func (a *Assembler) OverlapSize() int { return a.overlap }

// HopSize returns the number of new samples per window.
func (a *Assembler) HopSize() int { return a.hop }
