// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
)

type fakeStream struct {
	started, stopped, closed bool
	startErr                 error
}

func (f *fakeStream) Start() error { f.started = true; return f.startErr }
func (f *fakeStream) Stop() error  { f.stopped = true; return nil }
func (f *fakeStream) Close() error { f.closed = true; return nil }

// fakePortAudio stubs library init and stream opening. The returned pointer
// receives the callback passed to the last open.
func fakePortAudio(t *testing.T, stream *fakeStream, openErr error) (*inputCallback, *portaudio.StreamParameters) {
	t.Helper()
	origInit, origTerm, origOpen := paLibInitialize, paLibTerminate, paOpenStream
	t.Cleanup(func() { paLibInitialize, paLibTerminate, paOpenStream = origInit, origTerm, origOpen })

	var cb inputCallback
	var params portaudio.StreamParameters
	paLibInitialize = func() error { return nil }
	paLibTerminate = func() error { return nil }
	paOpenStream = func(p portaudio.StreamParameters, c inputCallback) (paStream, error) {
		params, cb = p, c
		if openErr != nil {
			return nil, openErr
		}
		return stream, nil
	}
	return &cb, &params
}

func testAudioConfig() config.AudioConfig {
	cfg := config.Default().Audio
	cfg.DeviceNames = []string{"ultramic"}
	cfg.Channels = 2
	cfg.Blocksize = 4
	cfg.LowLatency = true
	return cfg
}

func TestDeviceSourceCapture(t *testing.T) {
	standardDevices(t)
	stream := &fakeStream{}
	cb, params := fakePortAudio(t, stream, nil)

	src := NewDeviceSource(testAudioConfig())
	sink := newCollectSink(2)
	if err := src.Start(sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !stream.started {
		t.Fatal("stream not started")
	}
	if params.Input.Device.Name != "UltraMic384K 16bit r0" || params.FramesPerBuffer != 4 || params.Input.Channels != 2 {
		t.Errorf("unexpected stream parameters %+v", params)
	}
	// Starting twice is a no-op.
	if err := src.Start(sink); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	// Interleaved stereo: channel 0 carries 1..4, channel 1 carries -1.
	in := []float32{1, -1, 2, -1, 3, -1, 4, -1}
	(*cb)(in, portaudio.StreamCallbackTimeInfo{}, 0)
	(*cb)(in, portaudio.StreamCallbackTimeInfo{}, portaudio.InputOverflow)

	chunks := sink.waitFull(t)
	want := []float32{1, 2, 3, 4}
	for i, v := range want {
		if chunks[0].Samples[i] != v {
			t.Fatalf("chunk samples = %v, want %v", chunks[0].Samples, want)
		}
	}
	if chunks[0].Sequence != 1 || chunks[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d", chunks[0].Sequence, chunks[1].Sequence)
	}
	if time.Since(chunks[0].Timestamp) > time.Minute || chunks[0].SampleRate != config.DefaultSampleRate {
		t.Errorf("chunk metadata %+v", chunks[0])
	}
	// Each chunk owns its samples.
	in[0] = 99
	if chunks[0].Samples[0] != 1 {
		t.Error("chunk aliases the callback buffer")
	}

	st := src.Stats()
	if !st.IsRunning || st.DeviceName != "UltraMic384K 16bit r0" || st.ChunksCaptured != 2 || st.Overflows != 1 {
		t.Errorf("stats = %+v", st)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !stream.stopped || !stream.closed {
		t.Error("stream not stopped and closed")
	}
	if src.Stats().IsRunning {
		t.Error("still running after Stop")
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestDeviceSourceOpenFailure(t *testing.T) {
	standardDevices(t)
	fakePortAudio(t, nil, errors.New("Invalid sample rate"))

	src := NewDeviceSource(testAudioConfig())
	err := src.Start(newCollectSink(1))
	if err == nil || !strings.Contains(err.Error(), "Invalid sample rate") {
		t.Fatalf("Start = %v, want open error", err)
	}
	st := src.Stats()
	if st.IsRunning || !strings.Contains(st.LastError, "Invalid sample rate") {
		t.Errorf("stats after failure = %+v", st)
	}
}

func TestDeviceSourceStartFailureClosesStream(t *testing.T) {
	standardDevices(t)
	stream := &fakeStream{startErr: errors.New("device busy")}
	fakePortAudio(t, stream, nil)

	src := NewDeviceSource(testAudioConfig())
	if err := src.Start(newCollectSink(1)); err == nil {
		t.Fatal("expected start error")
	}
	if !stream.closed {
		t.Error("stream should be closed after a failed start")
	}
}

func TestDeviceSourceNoDevice(t *testing.T) {
	fakeDevices(t, -1)
	fakePortAudio(t, &fakeStream{}, nil)

	src := NewDeviceSource(testAudioConfig())
	if err := src.Start(newCollectSink(1)); err == nil {
		t.Fatal("expected error without devices")
	}
	if src.Stats().LastError == "" {
		t.Error("LastError not set")
	}
}
