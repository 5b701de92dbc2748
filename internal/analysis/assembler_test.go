// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"testing"
	"time"
)

// ramp returns n samples counting up from start, so every sample is unique.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestNewAssemblerRejectsBadParameters(t *testing.T) {
	tests := []struct {
		fft     int
		overlap float64
	}{
		{0, 0.5},
		{-8, 0.5},
		{1024, 1.0},
		{1024, -0.25},
		{4, 0.9}, // hop would be 1: accepted below
	}
	for _, tt := range tests[:4] {
		if _, err := NewAssembler(tt.fft, tt.overlap); err == nil {
			t.Errorf("NewAssembler(%d, %v) expected error", tt.fft, tt.overlap)
		}
	}
	a, err := NewAssembler(tests[4].fft, tests[4].overlap)
	if err != nil {
		t.Fatalf("NewAssembler(4, 0.9): %v", err)
	}
	if a.HopSize() != 1 || a.OverlapSize() != 3 {
		t.Errorf("hop/overlap = %d/%d, want 1/3", a.HopSize(), a.OverlapSize())
	}
}

func TestAssemblerOverlapInvariant(t *testing.T) {
	sizes := []int{16, 256, 1024}
	overlaps := []float64{0, 0.25, 0.5, 0.75, 0.9}
	chunkSizes := []int{7, 100, 1000, 4096}

	for _, fft := range sizes {
		for _, o := range overlaps {
			for _, cs := range chunkSizes {
				t.Run(fmt.Sprintf("fft%d_o%.2f_chunk%d", fft, o, cs), func(t *testing.T) {
					a, err := NewAssembler(fft, o)
					if err != nil {
						t.Fatalf("NewAssembler: %v", err)
					}
					overlap := int(float64(fft) * o)
					hop := fft - overlap

					// Start with a full hop so no first-chunk padding is involved.
					var windows []Window
					next := 1
					windows = append(windows, a.Push(ramp(next, hop), time.Time{}, 0)...)
					next += hop
					for range 20 {
						windows = append(windows, a.Push(ramp(next, cs), time.Time{}, 0)...)
						next += cs
					}
					if len(windows) < 2 {
						t.Fatalf("only %d windows emitted", len(windows))
					}

					for i := 1; i < len(windows); i++ {
						prev, cur := windows[i-1].Samples, windows[i].Samples
						if len(cur) != fft {
							t.Fatalf("window %d has %d samples, want %d", i, len(cur), fft)
						}
						for k := 0; k < overlap; k++ {
							if cur[k] != prev[hop+k] {
								t.Fatalf("window %d sample %d = %v, want %v (shared with previous)", i, k, cur[k], prev[hop+k])
							}
						}
						// New samples continue the ramp without gaps.
						if overlap < fft && cur[overlap] != prev[fft-1]+1 {
							t.Fatalf("window %d first new sample = %v, want %v", i, cur[overlap], prev[fft-1]+1)
						}
					}
					if p := a.Pending(); p >= hop {
						t.Errorf("pending = %d, should be < hop %d after draining", p, hop)
					}
				})
			}
		}
	}
}

func TestAssemblerFirstChunkPadding(t *testing.T) {
	a, _ := NewAssembler(8, 0.5)

	w := a.Push([]float32{1, 2}, time.Time{}, 0)
	if len(w) != 1 {
		t.Fatalf("short first chunk produced %d windows, want 1", len(w))
	}
	want := []float64{0, 0, 0, 0, 1, 2, 0, 0}
	for i, v := range want {
		if w[0].Samples[i] != v {
			t.Fatalf("padded window = %v, want %v", w[0].Samples, want)
		}
	}

	// Padding happens once: a second short chunk waits for more data.
	if w := a.Push([]float32{3, 4}, time.Time{}, 0); len(w) != 0 {
		t.Fatalf("second short chunk produced %d windows, want 0", len(w))
	}
	w = a.Push([]float32{5, 6}, time.Time{}, 0)
	if len(w) != 1 {
		t.Fatalf("expected window once a full hop arrived, got %d", len(w))
	}
	want = []float64{1, 2, 0, 0, 3, 4, 5, 6}
	for i, v := range want {
		if w[0].Samples[i] != v {
			t.Fatalf("second window = %v, want %v", w[0].Samples, want)
		}
	}
}

func TestAssemblerMultipleWindowsPerChunk(t *testing.T) {
	a, _ := NewAssembler(1024, 0.75)
	base := time.Unix(100, 0)
	sr := 256000.0

	windows := a.Push(ramp(0, 256*5), base, sr)
	if len(windows) != 5 {
		t.Fatalf("got %d windows, want 5", len(windows))
	}
	// Timestamps step by one hop and the last one equals the chunk time.
	hopDur := time.Duration(256 / sr * float64(time.Second))
	for i := 1; i < len(windows); i++ {
		d := windows[i].Timestamp.Sub(windows[i-1].Timestamp)
		if d < hopDur-time.Microsecond || d > hopDur+time.Microsecond {
			t.Errorf("timestamp step %d = %s, want %s", i, d, hopDur)
		}
	}
	if !windows[4].Timestamp.Equal(base) {
		t.Errorf("last window timestamp = %v, want %v", windows[4].Timestamp, base)
	}
}

func TestAssemblerReset(t *testing.T) {
	a, _ := NewAssembler(8, 0.5)
	a.Push(ramp(1, 10), time.Time{}, 0)
	a.Reset()
	if a.Pending() != 0 {
		t.Fatalf("pending after reset = %d", a.Pending())
	}
	w := a.Push([]float32{9}, time.Time{}, 0)
	if len(w) != 1 {
		t.Fatalf("reset should re-arm first-chunk padding, got %d windows", len(w))
	}
	want := []float64{0, 0, 0, 0, 9, 0, 0, 0}
	for i, v := range want {
		if w[0].Samples[i] != v {
			t.Fatalf("window after reset = %v, want %v", w[0].Samples, want)
		}
	}
}

func TestAssemblerBoundedMemory(t *testing.T) {
	a, _ := NewAssembler(1024, 0.5)
	buf := make([]float64, 1024)
	chunk := ramp(0, 300)
	for range 10000 {
		a.Write(chunk, time.Time{}, 0)
		for {
			if _, ok := a.Next(buf); !ok {
				break
			}
		}
	}
	if c := cap(a.pending); c > 4*1024 {
		t.Errorf("pending buffer grew to %d samples", c)
	}
}

func TestAssemblerHotPathZeroAllocs(t *testing.T) {
	a, _ := NewAssembler(2048, 0.75)
	buf := make([]float64, 2048)
	chunk := ramp(0, 512)

	drain := func() {
		a.Write(chunk, time.Time{}, 384000)
		for {
			if _, ok := a.Next(buf); !ok {
				break
			}
		}
	}
	drain()
	allocs := testing.AllocsPerRun(100, drain)
	if allocs > 0 {
		t.Errorf("Expected zero allocations in Write/Next hot path, got %.1f", allocs)
	}
}
