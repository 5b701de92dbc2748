// SPDX-License-Identifier: MIT

// Package transport delivers a subscriber's stream to one client over SSE,
// WebSocket, UDP or the log.
package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// Transport sends stream messages to one consumer. Send is only called from
// the subscriber's delivery goroutine.
type Transport interface {
	Send(m stream.Message) error
	Close() error
}

// Disconnector is implemented by transports that notice when the peer goes
// away without a send failing, e.g. a WebSocket read loop.
type Disconnector interface {
	Done() <-chan struct{}
}

// Pump delivers sub's queue through t until the stream ends, ctx is done, the
// peer disconnects or a send fails. It always closes t. A closed stream or a
// peer disconnect is not an error.
func Pump(ctx context.Context, sub *stream.Subscriber, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var peerGone atomic.Bool
	if d, ok := t.(Disconnector); ok {
		go func() {
			select {
			case <-d.Done():
				peerGone.Store(true)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	err := sub.Deliver(ctx, t.Send)
	if errors.Is(err, context.Canceled) && peerGone.Load() {
		err = nil
	}
	return errors.Join(err, t.Close())
}
