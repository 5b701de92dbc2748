// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
)

// inputCallback is the PortAudio callback form used for capture.
type inputCallback = func(in []float32, ti portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags)

// paStream is the part of *portaudio.Stream the device source uses.
type paStream interface {
	Start() error
	Stop() error
	Close() error
}

func openStream(p portaudio.StreamParameters, cb inputCallback) (paStream, error) {
	s, err := portaudio.OpenStream(p, cb)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeviceSource captures from a PortAudio input device.
type DeviceSource struct {
	cfg config.AudioConfig

	mu     sync.Mutex
	stream paStream
	sink   Sink
	state
}

var _ Source = (*DeviceSource)(nil)

// NewDeviceSource creates a source for the device selected by cfg. Nothing
// is opened until Start.
func NewDeviceSource(cfg config.AudioConfig) *DeviceSource {
	return &DeviceSource{cfg: cfg}
}

// Start resolves the input device, opens a float32 callback stream and
// starts it. Starting a running source is a no-op.
func (s *DeviceSource) Start(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	if err := Initialize(); err != nil {
		s.setError(err)
		return err
	}
	stream, name, err := s.open(sink)
	if err != nil {
		s.setError(err)
		_ = Terminate()
		return err
	}

	s.stream = stream
	s.running.Store(true)
	log.Infof("Audio: Capture started (Device: %s, SampleRate: %.0f Hz, Channels: %d, Blocksize: %d)",
		name, s.cfg.SampleRate, s.cfg.Channels, s.cfg.Blocksize)
	return nil
}

func (s *DeviceSource) open(sink Sink) (paStream, string, error) {
	dev, err := FindInputDevice(s.cfg.DeviceNames, s.cfg.FallbackDeviceID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve input device: %w", err)
	}
	if dev == nil {
		return nil, "", fmt.Errorf("resolve input device: no input device available")
	}

	latency := dev.DefaultHighInputLatency
	if s.cfg.LowLatency {
		latency = dev.DefaultLowInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  latency,
		},
		SampleRate:      s.cfg.SampleRate,
		FramesPerBuffer: s.cfg.Blocksize,
	}

	s.sink = sink
	s.setFormat(dev.Name, s.cfg.SampleRate, s.cfg.Channels)

	stream, err := paOpenStream(params, s.process)
	if err != nil {
		return nil, "", fmt.Errorf("open input stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, "", fmt.Errorf("start input stream on %q: %w", dev.Name, err)
	}
	return stream, dev.Name, nil
}

// process is the real-time callback. It copies channel 0 into a fresh chunk
// and hands it to the sink, which never blocks.
func (s *DeviceSource) process(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if flags&portaudio.InputOverflow != 0 {
		s.overflows.Add(1)
	}

	ch := max(s.cfg.Channels, 1)
	samples := make([]float32, len(in)/ch)
	for i := range samples {
		samples[i] = in[i*ch]
	}
	s.sink.Push(Chunk{
		Samples:    samples,
		Timestamp:  time.Now(),
		SampleRate: s.cfg.SampleRate,
		Sequence:   s.chunks.Add(1),
	})
}

// Stop stops and closes the stream. Stopping a stopped source is a no-op.
func (s *DeviceSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	s.running.Store(false)

	stream := s.stream
	s.stream = nil
	var firstErr error
	if err := stream.Stop(); err != nil {
		firstErr = err
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := Terminate(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		s.setError(firstErr)
		return firstErr
	}
	log.Infof("Audio: Capture stopped")
	return nil
}

// Stats returns the capture state.
func (s *DeviceSource) Stats() Stats { return s.stats() }
