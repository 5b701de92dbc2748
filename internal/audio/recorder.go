// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
)

// ErrNotRecording is returned by Write after Close.
var ErrNotRecording = errors.New("audio: recorder is closed")

// Recorder writes the mono capture stream to an integer PCM WAV file. It is
// fed from the pipeline goroutine, never from the real-time callback.
type Recorder struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	encoder    *wav.Encoder
	sampleBuf  *audio.IntBuffer // reusable buffer for format conversion
	fullScale  float64
	frames     int64
	sampleRate float64
}

// NewRecorder creates path and writes a WAV header for mono audio at
// sampleRate with bitDepth 16, 24 or 32.
func NewRecorder(path string, sampleRate float64, bitDepth int) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported recording bit depth %d", bitDepth)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("recording sample rate must be positive, got %f", sampleRate)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		path:       path,
		file:       file,
		encoder:    wav.NewEncoder(file, int(sampleRate), bitDepth, 1, wavFormatPCM),
		fullScale:  float64(int64(1)<<(bitDepth-1) - 1),
		sampleRate: sampleRate,
		sampleBuf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: int(sampleRate)},
			SourceBitDepth: bitDepth,
		},
	}
	log.Infof("Audio: Recording to %s (SampleRate: %.0f Hz, BitDepth: %d)", path, sampleRate, bitDepth)
	return r, nil
}

// Write appends samples, clipping them to [-1, 1].
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return ErrNotRecording
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		if math.IsNaN(v) {
			v = 0
		}
		r.sampleBuf.Data[i] = int(math.Round(v * r.fullScale))
	}
	if err := r.encoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("write %s: %w", r.path, err)
	}
	r.frames += int64(len(samples))
	return nil
}

// Frames returns the number of samples written so far.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Path returns the output file path.
func (r *Recorder) Path() string { return r.path }

// Close finalizes the WAV header and closes the file. Closing twice is a
// no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return nil
	}

	encErr := r.encoder.Close()
	r.encoder = nil
	fileErr := r.file.Close()
	r.file = nil
	if err := errors.Join(encErr, fileErr); err != nil {
		return err
	}
	log.Infof("Audio: Recording saved to %s (%.2f s)", r.path, float64(r.frames)/r.sampleRate)
	return nil
}
