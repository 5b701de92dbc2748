// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/health"
	"github.com/zmk5566/Crowd-Sonic/internal/pipeline"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

type fakeController struct {
	running   bool
	startErr  error
	streamCfg *config.StreamStore
	devices   []audio.Device
	devErr    error
	b         *stream.Broadcaster
	fpsCalls  []int
}

func newFakeController() *fakeController {
	return &fakeController{
		streamCfg: config.NewStreamStore(config.DefaultStreamConfig()),
		b:         stream.New(stream.Options{QueueSize: 8}, nil),
	}
}

func (f *fakeController) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() error {
	f.running = false
	return nil
}

func (f *fakeController) Status() pipeline.Status {
	st := f.b.Stats()
	return pipeline.Status{
		IsRunning:        f.running,
		CurrentFPS:       st.CurrentFPS,
		ConnectedClients: st.ConnectedClients,
		AudioDeviceName:  "UltraMic384K",
	}
}

func (f *fakeController) StreamConfig() config.StreamConfig { return f.streamCfg.Load() }

func (f *fakeController) UpdateStreamConfig(cfg config.StreamConfig) error {
	return f.streamCfg.Store(cfg)
}

func (f *fakeController) SetFPS(fps int) error {
	f.fpsCalls = append(f.fpsCalls, fps)
	return f.streamCfg.SetFPS(fps)
}

func (f *fakeController) AudioConfig() config.AudioConfig { return config.Default().Audio }

func (f *fakeController) DetailedStats() pipeline.DetailedStats {
	var ds pipeline.DetailedStats
	ds.Analysis.FFTSize = 8192
	ds.Config.Stream = f.streamCfg.Load()
	return ds
}

func (f *fakeController) Devices() ([]audio.Device, error) { return f.devices, f.devErr }

func (f *fakeController) TestCompression() (pipeline.CompressionReport, error) {
	return pipeline.CompressionReport{OriginalSizeBytes: 16388, CompressedSizeBytes: 15000, CompressionRatio: 0.915}, nil
}

func (f *fakeController) Subscribe(name string) (*stream.Subscriber, error) {
	return f.b.Subscribe(name)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStartStopStatus(t *testing.T) {
	fc := newFakeController()
	s := NewServer(fc, Options{})

	rec := do(t, s, http.MethodPost, "/api/start", "")
	if rec.Code != http.StatusOK || !decode[ControlResponse](t, rec).Success {
		t.Fatalf("start = %d %s", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodGet, "/api/status", "")
	st := decode[map[string]any](t, rec)
	for _, key := range []string{"is_running", "current_fps", "connected_clients", "total_frames_sent",
		"total_bytes_sent", "uptime_seconds", "audio_device_name"} {
		if _, ok := st[key]; !ok {
			t.Errorf("status missing %q", key)
		}
	}
	if st["is_running"] != true || st["audio_device_name"] != "UltraMic384K" {
		t.Errorf("status = %v", st)
	}

	rec = do(t, s, http.MethodPost, "/api/stop", "")
	if rec.Code != http.StatusOK || fc.running {
		t.Fatalf("stop = %d, running = %t", rec.Code, fc.running)
	}

	fc.startErr = errors.New("no input device")
	rec = do(t, s, http.MethodPost, "/api/start", "")
	resp := decode[ControlResponse](t, rec)
	if rec.Code != http.StatusInternalServerError || resp.Success || !strings.Contains(resp.Message, "no input device") {
		t.Errorf("failed start = %d %+v", rec.Code, resp)
	}
}

func TestStreamConfigRoutes(t *testing.T) {
	fc := newFakeController()
	s := NewServer(fc, Options{})

	got := decode[config.StreamConfig](t, do(t, s, http.MethodGet, "/api/config/stream", ""))
	if got != config.DefaultStreamConfig() {
		t.Errorf("GET stream config = %+v", got)
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"partial update", `{"target_fps": 20, "compression_level": 9}`, http.StatusOK},
		{"gate toggle", `{"enable_significance_gate": true}`, http.StatusOK},
		{"fps too high", `{"target_fps": 61}`, http.StatusBadRequest},
		{"bad level", `{"compression_level": -1}`, http.StatusBadRequest},
		{"bad threshold", `{"similarity_threshold": 1.5}`, http.StatusBadRequest},
		{"malformed", `{"target_fps": "fast"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/config/stream", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}

	cfg := fc.StreamConfig()
	if cfg.TargetFPS != 20 || cfg.CompressionLevel != 9 || !cfg.EnableSignificanceGate {
		t.Errorf("config after updates = %+v", cfg)
	}
	if cfg.SimilarityThreshold != config.DefaultSimilarityThreshold {
		t.Errorf("rejected update leaked: %+v", cfg)
	}
}

func TestSetFPS(t *testing.T) {
	fc := newFakeController()
	s := NewServer(fc, Options{})

	tests := []struct {
		query    string
		wantCode int
	}{
		{"fps=5", http.StatusOK},
		{"fps=60", http.StatusOK},
		{"fps=4", http.StatusBadRequest},
		{"fps=61", http.StatusBadRequest},
		{"fps=abc", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, path := range []string{"/api/config/fps", "/api/config/fps_legacy"} {
		for _, tt := range tests {
			rec := do(t, s, http.MethodPost, path+"?"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Errorf("%s?%s: code = %d, want %d", path, tt.query, rec.Code, tt.wantCode)
			}
		}
	}
	if len(fc.fpsCalls) != 4 || fc.StreamConfig().TargetFPS != 60 {
		t.Errorf("SetFPS calls = %v, target = %d", fc.fpsCalls, fc.StreamConfig().TargetFPS)
	}
}

func TestReadOnlyRoutes(t *testing.T) {
	fc := newFakeController()
	fc.devices = []audio.Device{{ID: 3, Name: "UltraMic384K", HostAPI: "ALSA", MaxInputChannels: 1, DefaultSampleRate: 384000, IsDefault: true}}
	s := NewServer(fc, Options{})

	audioCfg := decode[config.AudioConfig](t, do(t, s, http.MethodGet, "/api/config/audio", ""))
	if audioCfg.SampleRate != config.DefaultSampleRate || audioCfg.FFTSize != config.DefaultFFTSize {
		t.Errorf("audio config = %+v", audioCfg)
	}

	stats := decode[map[string]any](t, do(t, s, http.MethodGet, "/api/stats/detailed", ""))
	for _, key := range []string{"timestamp", "audio", "analysis", "stream", "driver", "handoff", "process", "config"} {
		if _, ok := stats[key]; !ok {
			t.Errorf("detailed stats missing %q", key)
		}
	}

	devs := decode[DevicesResponse](t, do(t, s, http.MethodGet, "/api/devices", ""))
	if len(devs.Devices) != 1 || devs.Timestamp == 0 {
		t.Fatalf("devices = %+v", devs)
	}
	if d := devs.Devices[0]; d.ID != 3 || d.MaxChannels != 1 || d.DefaultSampleRate != 384000 || !d.IsDefault {
		t.Errorf("device = %+v", d)
	}

	fc.devErr = errors.New("portaudio unavailable")
	if rec := do(t, s, http.MethodGet, "/api/devices", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("device error code = %d", rec.Code)
	}

	rep := decode[pipeline.CompressionReport](t, do(t, s, http.MethodPost, "/api/test/compression", ""))
	if rep.OriginalSizeBytes != 16388 {
		t.Errorf("compression report = %+v", rep)
	}

	probe := decode[StreamTestResponse](t, do(t, s, http.MethodGet, "/api/stream/test", ""))
	if probe.Status != "ok" || probe.Endpoint != "/api/stream" {
		t.Errorf("stream test = %+v", probe)
	}
}

func TestOptionalRoutes(t *testing.T) {
	fc := newFakeController()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("crowdsonic_frames_delivered_total 1\n"))
	})
	hh := health.New(health.Checker{Name: "capture", Check: func(context.Context) error {
		if !fc.running {
			return errors.New("capture not running")
		}
		return nil
	}})

	bare := NewServer(fc, Options{})
	for _, path := range []string{"/metrics", "/healthz", "/api/stream", "/ws"} {
		if rec := do(t, bare, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s without option = %d, want 404", path, rec.Code)
		}
	}

	s := NewServer(fc, Options{Metrics: metrics, Health: hh})
	if rec := do(t, s, http.MethodGet, "/metrics", ""); !strings.Contains(rec.Body.String(), "crowdsonic_frames_delivered_total") {
		t.Errorf("metrics body = %q", rec.Body)
	}
	if rec := do(t, s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while stopped = %d", rec.Code)
	}
	fc.running = true
	if rec := do(t, s, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz while running = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s := NewServer(newFakeController(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "http://example.test")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestSSEStream(t *testing.T) {
	fc := newFakeController()
	s := NewServer(fc, Options{EnableSSE: true})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- do(t, s, http.MethodGet, "/api/stream", "") }()

	waitSubscribers(t, fc.b, 1)
	fc.b.Broadcast(&stream.Frame{SequenceID: 1, CompressionMethod: "gzip"})
	fc.b.Close()

	select {
	case rec := <-done:
		body := rec.Body.String()
		if !strings.HasPrefix(body, "data: {") || !strings.Contains(body, `"sequence_id":1`) {
			t.Errorf("missing unnamed frame event in %q", body)
		}
		if strings.Contains(body, "event: frame") {
			t.Errorf("frame events must not be named: %q", body)
		}
		if !strings.Contains(body, "event: stopped\ndata: {\"status\":\"stopped\",\"reason\":\"shutdown\"}") {
			t.Errorf("missing stopped event in %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SSE handler did not return after the stream closed")
	}

	if rec := do(t, s, http.MethodGet, "/api/stream", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("SSE after close = %d, want 503", rec.Code)
	}
}

func TestSSEEndsOnShutdown(t *testing.T) {
	fc := newFakeController()
	s := NewServer(fc, Options{EnableSSE: true})

	done := make(chan struct{})
	go func() {
		do(t, s, http.MethodGet, "/api/stream", "")
		close(done)
	}()
	waitSubscribers(t, fc.b, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Shutdown(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SSE handler did not return on shutdown")
	}
	if n := fc.b.Stats().ConnectedClients; n != 0 {
		t.Errorf("%d subscribers left after shutdown", n)
	}
}

func TestWebSocketStream(t *testing.T) {
	fc := newFakeController()
	srv := httptest.NewServer(NewServer(fc, Options{EnableWebSocket: true}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	waitSubscribers(t, fc.b, 1)
	fc.b.Broadcast(&stream.Frame{SequenceID: 5, PeakFrequencyHz: 42000})

	var f stream.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if f.SequenceID != 5 || f.PeakFrequencyHz != 42000 {
		t.Errorf("frame = %+v", f)
	}

	conn.Close()
	waitSubscribers(t, fc.b, 0)
}

func waitSubscribers(t *testing.T, b *stream.Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Stats().ConnectedClients != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", b.Stats().ConnectedClients, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
