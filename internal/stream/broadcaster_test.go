// SPDX-License-Identifier: MIT
package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/analysis"
	"github.com/zmk5566/Crowd-Sonic/internal/codec"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	mu        sync.Mutex
	delivered int
	bytes     int
	dropped   int
	subs      int
}

func (m *countingMetrics) FrameDelivered(n int) {
	m.mu.Lock()
	m.delivered++
	m.bytes += n
	m.mu.Unlock()
}

func (m *countingMetrics) FrameDropped() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func (m *countingMetrics) SubscribersChanged(d int) {
	m.mu.Lock()
	m.subs += d
	m.mu.Unlock()
}

func frame(seq uint64) *Frame {
	return &Frame{SequenceID: seq, DataCompressed: "abcd", CompressionMethod: codec.MethodGzip}
}

// collect drains every message currently queued for s.
func collect(t *testing.T, s *Subscriber) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case m, ok := <-s.queue:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestBroadcastDropsOldest(t *testing.T) {
	const k = 4
	m := &countingMetrics{}
	b := New(Options{QueueSize: k}, m)
	s, err := b.Subscribe("slow")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for seq := uint64(1); seq <= k+1; seq++ {
		b.Broadcast(frame(seq))
	}

	got := collect(t, s)
	if len(got) != k {
		t.Fatalf("queued %d messages, want %d", len(got), k)
	}
	for i, msg := range got {
		if want := uint64(i + 2); msg.Frame.SequenceID != want {
			t.Errorf("message %d seq = %d, want %d", i, msg.Frame.SequenceID, want)
		}
	}
	if st := b.Stats(); st.DroppedFrames != 1 {
		t.Errorf("DroppedFrames = %d, want 1", st.DroppedFrames)
	}
	if s.Info().Dropped != 1 || m.dropped != 1 {
		t.Errorf("subscriber dropped = %d, metrics dropped = %d, want 1", s.Info().Dropped, m.dropped)
	}
}

func TestBroadcastDoesNotBlockWithoutConsumers(t *testing.T) {
	b := New(Options{QueueSize: 2}, nil)
	for i := range 3 {
		if _, err := b.Subscribe(""); err != nil {
			t.Fatalf("Subscribe %d: %v", i, err)
		}
	}
	done := make(chan struct{})
	go func() {
		for seq := range uint64(1000) {
			b.Broadcast(frame(seq))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on full queues")
	}
}

func TestDeliverCountsAndEndsOnClose(t *testing.T) {
	m := &countingMetrics{}
	b := New(Options{QueueSize: 8}, m)
	s, _ := b.Subscribe("reader")

	b.Broadcast(frame(1))
	b.Broadcast(frame(2))
	b.Close()

	var got []Message
	err := s.Deliver(context.Background(), func(msg Message) error {
		got = append(got, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("Deliver returned %v at end of stream", err)
	}
	if len(got) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(got))
	}
	if got[2].Kind != KindStopped || got[2].Notice().Status != "stopped" {
		t.Errorf("last message = %+v, want stopped notice", got[2])
	}

	st := b.Stats()
	if st.TotalFramesSent != 2 || st.TotalBytesSent != 8 {
		t.Errorf("sent frames/bytes = %d/%d, want 2/8", st.TotalFramesSent, st.TotalBytesSent)
	}
	if st.ConnectedClients != 0 {
		t.Errorf("ConnectedClients = %d after Close", st.ConnectedClients)
	}
	if m.delivered != 2 || m.subs != 0 {
		t.Errorf("metrics delivered = %d subs = %d, want 2 and 0", m.delivered, m.subs)
	}
	if _, err := b.Subscribe("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	// Close is idempotent and Broadcast after Close is a no-op.
	b.Close()
	b.Broadcast(frame(3))
}

func TestDeliverFailureRemovesSubscriber(t *testing.T) {
	b := New(Options{}, nil)
	s, _ := b.Subscribe("broken")
	b.Subscribe("healthy")
	b.Broadcast(frame(1))

	errGone := errors.New("connection reset")
	err := s.Deliver(context.Background(), func(Message) error { return errGone })
	if !errors.Is(err, errGone) {
		t.Fatalf("Deliver = %v, want %v", err, errGone)
	}
	if n := b.Stats().ConnectedClients; n != 1 {
		t.Errorf("ConnectedClients = %d, want 1", n)
	}
	// Broadcasting after removal must not touch the closed queue.
	b.Broadcast(frame(2))
	b.Unsubscribe(s)
}

func TestDeliverContextCancel(t *testing.T) {
	b := New(Options{}, nil)
	s, _ := b.Subscribe("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Deliver(ctx, func(Message) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("Deliver = %v, want context.Canceled", err)
	}
	if n := b.Stats().ConnectedClients; n != 0 {
		t.Errorf("ConnectedClients = %d, want 0", n)
	}
}

func TestNotifyKeepsSubscribers(t *testing.T) {
	b := New(Options{}, nil)
	s, _ := b.Subscribe("")
	b.Notify("capture fault")
	got := collect(t, s)
	if len(got) != 1 || got[0].Kind != KindStopped || got[0].Reason != "capture fault" {
		t.Fatalf("got %+v, want one stopped notice", got)
	}
	if b.Stats().ConnectedClients != 1 {
		t.Error("Notify should not disconnect subscribers")
	}
}

func TestCurrentFPS(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := New(Options{TargetFPS: 10, Now: clock.Now}, nil)

	var last *Frame
	for seq := range uint64(30) {
		last = frame(seq)
		b.Broadcast(last)
		clock.Advance(50 * time.Millisecond)
	}
	if last.FPS < 19.9 || last.FPS > 20.1 {
		t.Errorf("frame fps = %.3f, want 20", last.FPS)
	}
	if fps := b.Stats().CurrentFPS; fps != last.FPS {
		t.Errorf("Stats().CurrentFPS = %.3f, frame = %.3f", fps, last.FPS)
	}

	// Shrinking the window keeps the newest samples.
	b.UpdateConfig(config.StreamConfig{TargetFPS: 5})
	b.Broadcast(frame(31))
	if st := b.Stats(); st.UptimeSeconds < 1.49 || st.UptimeSeconds > 1.51 {
		t.Errorf("UptimeSeconds = %.3f, want 1.5", st.UptimeSeconds)
	}
	if fps := b.Stats().CurrentFPS; fps < 19.9 || fps > 20.1 {
		t.Errorf("fps after resize = %.3f, want 20", fps)
	}
	if b.Stats().TargetFPS != 5 {
		t.Errorf("TargetFPS = %d, want 5", b.Stats().TargetFPS)
	}
}

// A subscriber that falls behind loses frames but does not change the rate
// stamped on the frames it does receive.
func TestFPSIsProducerRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := New(Options{QueueSize: 4, TargetFPS: 10, Now: clock.Now}, nil)
	slow, _ := b.Subscribe("slow")

	for seq := range uint64(20) {
		b.Broadcast(frame(seq))
		clock.Advance(100 * time.Millisecond)
	}

	got := collect(t, slow)
	var frames []*Frame
	for _, m := range got {
		if m.Kind == KindFrame {
			frames = append(frames, m.Frame)
		}
	}
	if len(frames) != 4 {
		t.Fatalf("slow subscriber kept %d frames, want the newest 4", len(frames))
	}
	for _, f := range frames {
		if f.FPS < 9.9 || f.FPS > 10.1 {
			t.Errorf("frame %d fps = %.3f, want the broadcast rate 10", f.SequenceID, f.FPS)
		}
	}
	if b.Stats().DroppedFrames == 0 {
		t.Error("shortfall should be reported as drops")
	}
}

func TestFirstFrameFPSIsZero(t *testing.T) {
	b := New(Options{}, nil)
	f := frame(1)
	b.Broadcast(f)
	if f.FPS != 0 {
		t.Errorf("fps of first frame = %v, want 0", f.FPS)
	}
}

func TestNewFrame(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	s := &analysis.Spectrum{
		Timestamp:  ts,
		SampleRate: 384000,
		FFTSize:    8192,
		Features: analysis.Features{
			PeakFrequencyHz:      25000,
			PeakMagnitudeDB:      -12.5,
			SoundPressureLevelDB: 80,
		},
	}
	enc := codec.Encoded{Payload: "xyz", Method: codec.MethodGzip, CompressedSize: 3, OriginalSize: 16388}
	f := NewFrame(7, s, enc)
	if f.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %f, want ms since epoch", f.Timestamp)
	}
	if f.SequenceID != 7 || f.FFTSize != 8192 || f.PeakFrequencyHz != 25000 || f.SPLDB != 80 {
		t.Errorf("unexpected frame %+v", f)
	}
	if f.DataSizeBytes != 3 || f.OriginalSizeBytes != 16388 {
		t.Errorf("sizes = %d/%d", f.DataSizeBytes, f.OriginalSizeBytes)
	}
}

func TestSubscribersInfo(t *testing.T) {
	b := New(Options{QueueSize: 4}, nil)
	s, _ := b.Subscribe("web")
	b.Broadcast(frame(1))
	infos := b.Subscribers()
	if len(infos) != 1 || infos[0].ID != s.ID || infos[0].Name != "web" || infos[0].Queued != 1 {
		t.Errorf("Subscribers() = %+v", infos)
	}
}

func BenchmarkBroadcast(b *testing.B) {
	br := New(Options{QueueSize: 16}, nil)
	for range 8 {
		br.Subscribe("")
	}
	f := frame(1)
	for b.Loop() {
		br.Broadcast(f)
	}
}
