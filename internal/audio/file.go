// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
)

// wavFormatPCM is the WAVE format tag for integer PCM.
const wavFormatPCM = 1

// FileSource replays channel 0 of an integer PCM WAV file.
type FileSource struct {
	path      string
	blocksize int
	loop      bool

	// Paced replays in real time. When false, blocks are produced as fast
	// as the sink accepts them.
	Paced bool

	mu sync.Mutex
	w  *worker
	state
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a paced replay source. Nothing is opened until Start.
func NewFileSource(path string, blocksize int, loop bool) *FileSource {
	if blocksize <= 0 {
		blocksize = 1024
	}
	return &FileSource{path: path, blocksize: blocksize, loop: loop, Paced: true}
}

// openWAV opens path and positions the decoder at the PCM data.
func openWAV(path string) (*os.File, *wav.Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, nil, fmt.Errorf("%s: unsupported WAV format %d, only integer PCM is supported", path, dec.WavAudioFormat)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, dec, nil
}

// Start opens the file and begins replay. Replay always restarts from the
// beginning of the file.
func (s *FileSource) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		s.w.halt()
		s.w = nil
	}

	f, dec, err := openWAV(s.path)
	if err != nil {
		s.setError(err)
		return err
	}
	sr := float64(dec.SampleRate)
	s.setFormat(filepath.Base(s.path), sr, int(dec.NumChans))
	s.running.Store(true)
	log.Infof("Audio: Replaying %s (SampleRate: %.0f Hz, Channels: %d, BitDepth: %d, Loop: %t)",
		s.path, sr, dec.NumChans, dec.BitDepth, s.loop)

	s.w = startWorker(func(stop <-chan struct{}) {
		defer f.Close()
		s.run(sink, dec, stop)
	})
	return nil
}

func (s *FileSource) run(sink Sink, dec *wav.Decoder, stop <-chan struct{}) {
	defer s.running.Store(false)

	ch := max(int(dec.NumChans), 1)
	sr := float64(dec.SampleRate)
	toFloat := pcmScaler(int(dec.BitDepth))
	buf := &audio.IntBuffer{
		Format: dec.Format(),
		Data:   make([]int, s.blocksize*ch),
	}

	var ticker *time.Ticker
	if s.Paced {
		ticker = time.NewTicker(blockPeriod(s.blocksize, sr))
		defer ticker.Stop()
	}

	start := time.Now()
	var emitted int
	rewound := false
	for pace(ticker, stop) {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			s.fail(sink, fmt.Errorf("read %s: %w", s.path, err))
			return
		}
		frames := n / ch
		if frames == 0 {
			if !s.loop || rewound {
				// End of file, or a file without samples.
				s.setError(ErrEndOfInput)
				sink.Fault(ErrEndOfInput)
				return
			}
			if err := dec.Rewind(); err != nil {
				s.fail(sink, err)
				return
			}
			rewound = true
			continue
		}
		rewound = false

		samples := make([]float32, frames)
		for i := range samples {
			samples[i] = toFloat(buf.Data[i*ch])
		}
		emitted += frames
		sink.Push(Chunk{
			Samples:    samples,
			Timestamp:  start.Add(blockPeriod(emitted, sr)),
			SampleRate: sr,
			Sequence:   s.chunks.Add(1),
		})
	}
}

func (s *FileSource) fail(sink Sink, err error) {
	log.Errorf("Audio: File source failed: %v", err)
	s.setError(err)
	sink.Fault(err)
}

// Stop halts replay and waits for the reader goroutine.
func (s *FileSource) Stop() error {
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

// Stats returns the replay state.
func (s *FileSource) Stats() Stats { return s.stats() }

// pcmScaler converts integer PCM of the given bit depth to [-1, 1]. 8-bit
// WAV data is unsigned.
func pcmScaler(bitDepth int) func(int) float32 {
	if bitDepth == 8 {
		return func(v int) float32 { return float32(v-128) / 128 }
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	return func(v int) float32 { return float32(v) / scale }
}
