// SPDX-License-Identifier: MIT
package stream

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("stream: broadcaster closed")

// Metrics receives broadcaster events. A nil Metrics disables reporting.
type Metrics interface {
	FrameDelivered(bytes int)
	FrameDropped()
	SubscribersChanged(delta int)
}

type noopMetrics struct{}

func (noopMetrics) FrameDelivered(int) {}
func (noopMetrics) FrameDropped() {}
func (noopMetrics) SubscribersChanged(int) {}

// Options configures a Broadcaster.
type Options struct {
	QueueSize int // per-subscriber capacity, defaults to config.DefaultSubscriberQueueSize
	TargetFPS int
	Now       func() time.Time
}

// Stats is a snapshot of broadcaster counters.
type Stats struct {
	CurrentFPS       float64 `json:"current_fps"`
	TargetFPS        int     `json:"target_fps"`
	ConnectedClients int     `json:"connected_clients"`
	FramesBroadcast  uint64  `json:"frames_broadcast"`
	TotalFramesSent  uint64  `json:"total_frames_sent"`
	TotalBytesSent   uint64  `json:"total_bytes_sent"`
	DroppedFrames    uint64  `json:"dropped_frames"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// SubscriberInfo describes one connected subscriber.
type SubscriberInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ConnectedAt time.Time `json:"connected_at"`
	FramesSent  uint64    `json:"frames_sent"`
	BytesSent   uint64    `json:"bytes_sent"`
	Dropped     uint64    `json:"dropped"`
	Queued      int       `json:"queued"`
}

// Broadcaster fans frames out to subscribers. Each subscriber owns a bounded
// queue; a full queue drops its oldest message so Broadcast never blocks.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*Subscriber
	closed    bool
	queueSize int

	now     func() time.Time
	started time.Time
	metrics Metrics

	targetFPS atomic.Int64

	// Ring of recent broadcast times for current_fps.
	fpsMu     sync.Mutex
	times     []time.Time
	head      int
	count     int
	currentFP atomic.Uint64 // float64 bits

	framesBroadcast atomic.Uint64
	framesSent      atomic.Uint64
	bytesSent       atomic.Uint64
	dropped         atomic.Uint64
}

// New creates a Broadcaster. metrics may be nil.
func New(opts Options, metrics Metrics) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultSubscriberQueueSize
	}
	if opts.TargetFPS <= 0 {
		opts.TargetFPS = config.DefaultTargetFPS
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	b := &Broadcaster{
		subs:      make(map[string]*Subscriber),
		queueSize: opts.QueueSize,
		now:       opts.Now,
		started:   opts.Now(),
		metrics:   metrics,
	}
	b.targetFPS.Store(int64(opts.TargetFPS))
	b.times = make([]time.Time, fpsWindow(opts.TargetFPS))
	return b
}

func fpsWindow(target int) int {
	return max(target, 2)
}

// Subscribe registers a new subscriber with an empty queue.
func (b *Broadcaster) Subscribe(name string) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &Subscriber{
		ID:          uuid.NewString(),
		Name:        name,
		ConnectedAt: b.now(),
		queue:       make(chan Message, b.queueSize),
		b:           b,
	}
	b.subs[s.ID] = s
	b.metrics.SubscribersChanged(1)
	log.Infof("Stream: Subscriber connected (ID: %s, Name: %s, Total: %d)", s.ID, name, len(b.subs))
	return s, nil
}

// Unsubscribe removes s and closes its queue. It is a no-op for subscribers
// that are already gone.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s)
}

func (b *Broadcaster) removeLocked(s *Subscriber) {
	if _, ok := b.subs[s.ID]; !ok {
		return
	}
	delete(b.subs, s.ID)
	close(s.queue)
	b.metrics.SubscribersChanged(-1)
	log.Infof("Stream: Subscriber disconnected (ID: %s, Name: %s, Total: %d)", s.ID, s.Name, len(b.subs))
}

// Broadcast stamps the current fps into f and enqueues it for every
// subscriber. It never blocks on a slow subscriber.
func (b *Broadcaster) Broadcast(f *Frame) {
	f.FPS = b.tick()
	b.framesBroadcast.Add(1)
	b.enqueueAll(Message{Kind: KindFrame, Frame: f})
}

// Notify enqueues a stopped notice for every subscriber.
func (b *Broadcaster) Notify(reason string) {
	b.enqueueAll(Message{Kind: KindStopped, Reason: reason})
}

func (b *Broadcaster) enqueueAll(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		s.enqueue(m)
	}
}

// tick records a broadcast at the current time and returns the frame rate
// over the trailing window.
func (b *Broadcaster) tick() float64 {
	b.fpsMu.Lock()
	defer b.fpsMu.Unlock()

	now := b.now()
	n := len(b.times)
	b.times[b.head] = now
	b.head = (b.head + 1) % n
	if b.count < n {
		b.count++
	}

	fps := 0.0
	if b.count >= 2 {
		oldest := b.times[(b.head-b.count+n)%n]
		if span := now.Sub(oldest).Seconds(); span > 0 {
			fps = float64(b.count-1) / span
		}
	}
	b.currentFP.Store(math.Float64bits(fps))
	return fps
}

// UpdateConfig applies a new stream configuration. Only the target fps
// matters here; it resizes the fps window.
func (b *Broadcaster) UpdateConfig(cfg config.StreamConfig) {
	if cfg.TargetFPS <= 0 || int64(cfg.TargetFPS) == b.targetFPS.Load() {
		return
	}
	b.targetFPS.Store(int64(cfg.TargetFPS))

	b.fpsMu.Lock()
	defer b.fpsMu.Unlock()
	old := b.times
	oldN := len(old)
	n := fpsWindow(cfg.TargetFPS)
	keep := min(b.count, n)
	times := make([]time.Time, n)
	for i := range keep {
		times[i] = old[(b.head-keep+i+oldN)%oldN]
	}
	b.times = times
	b.count = keep
	b.head = keep % n
}

// Stats returns a snapshot of the broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	clients := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		CurrentFPS:       math.Float64frombits(b.currentFP.Load()),
		TargetFPS:        int(b.targetFPS.Load()),
		ConnectedClients: clients,
		FramesBroadcast:  b.framesBroadcast.Load(),
		TotalFramesSent:  b.framesSent.Load(),
		TotalBytesSent:   b.bytesSent.Load(),
		DroppedFrames:    b.dropped.Load(),
		UptimeSeconds:    b.now().Sub(b.started).Seconds(),
	}
}

// Subscribers lists the connected subscribers.
func (b *Broadcaster) Subscribers() []SubscriberInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SubscriberInfo, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, s.Info())
	}
	return out
}

// Closed reports whether Close has been called.
func (b *Broadcaster) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close sends a stopped notice to every subscriber and closes their queues.
// Delivery loops drain what is left and return.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.enqueue(Message{Kind: KindStopped, Reason: "shutdown"})
		delete(b.subs, s.ID)
		close(s.queue)
		b.metrics.SubscribersChanged(-1)
	}
	log.Infof("Stream: Broadcaster closed")
}

// Subscriber is one consumer of the broadcast stream.
type Subscriber struct {
	ID          string
	Name        string
	ConnectedAt time.Time

	queue chan Message
	b     *Broadcaster

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
	dropped    atomic.Uint64
}

// enqueue adds m, discarding the oldest messages while the queue is full.
// Callers hold the broadcaster lock so the queue cannot be closed meanwhile.
func (s *Subscriber) enqueue(m Message) {
	for {
		select {
		case s.queue <- m:
			return
		default:
		}
		select {
		case old := <-s.queue:
			if old.Kind == KindFrame {
				s.dropped.Add(1)
				s.b.dropped.Add(1)
				s.b.metrics.FrameDropped()
			}
		default:
		}
	}
}

// Unsubscribe removes s from its broadcaster.
func (s *Subscriber) Unsubscribe() { s.b.Unsubscribe(s) }

// Queued returns the number of messages waiting for delivery.
func (s *Subscriber) Queued() int { return len(s.queue) }

// Info returns a snapshot of the subscriber's counters.
func (s *Subscriber) Info() SubscriberInfo {
	return SubscriberInfo{
		ID:          s.ID,
		Name:        s.Name,
		ConnectedAt: s.ConnectedAt,
		FramesSent:  s.framesSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		Dropped:     s.dropped.Load(),
		Queued:      len(s.queue),
	}
}

// Deliver hands queued messages to send until the stream ends, ctx is done
// or send fails. A failed send removes the subscriber. It returns nil at end
// of stream.
func (s *Subscriber) Deliver(ctx context.Context, send func(Message) error) error {
	for {
		select {
		case <-ctx.Done():
			s.b.Unsubscribe(s)
			return ctx.Err()
		case m, ok := <-s.queue:
			if !ok {
				return nil
			}
			if err := send(m); err != nil {
				log.Debugf("Stream: Send to subscriber %s failed: %v", s.ID, err)
				s.b.Unsubscribe(s)
				return err
			}
			if m.Kind == KindFrame && m.Frame != nil {
				n := uint64(len(m.Frame.DataCompressed))
				s.framesSent.Add(1)
				s.bytesSent.Add(n)
				s.b.framesSent.Add(1)
				s.b.bytesSent.Add(n)
				s.b.metrics.FrameDelivered(int(n))
			}
		}
	}
}
