// SPDX-License-Identifier: MIT
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
	"github.com/zmk5566/Crowd-Sonic/internal/transport"
)

// sse streams frames to one EventSource client until it disconnects or the
// stream ends.
func (s *Server) sse(c echo.Context) error {
	sub, err := s.ctrl.Subscribe("sse " + c.RealIP())
	if err != nil {
		return unavailable(c, err)
	}
	t, err := transport.NewSSE(c.Response())
	if err != nil {
		sub.Unsubscribe()
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming_unsupported", Message: err.Error()})
	}
	log.Infof("API: SSE client %s connected (%s)", sub.ID, c.RealIP())

	ctx, stop := s.streamContext(c.Request().Context())
	defer stop()
	if err := transport.Pump(ctx, sub, t); err != nil && !errors.Is(err, context.Canceled) {
		log.Debugf("API: SSE client %s ended: %v", sub.ID, err)
	}
	log.Infof("API: SSE client %s disconnected", sub.ID)
	return nil
}

// websocket upgrades the request and streams frames as JSON messages.
func (s *Server) websocket(c echo.Context) error {
	sub, err := s.ctrl.Subscribe("ws " + c.RealIP())
	if err != nil {
		return unavailable(c, err)
	}
	conn, err := transport.Upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		sub.Unsubscribe()
		log.Warnf("API: WebSocket upgrade failed: %v", err)
		return nil
	}
	log.Infof("API: WebSocket client %s connected (%s)", sub.ID, c.RealIP())

	ctx, stop := s.streamContext(c.Request().Context())
	defer stop()
	if err := transport.Pump(ctx, sub, transport.NewWebSocket(conn)); err != nil && !errors.Is(err, context.Canceled) {
		log.Debugf("API: WebSocket client %s ended: %v", sub.ID, err)
	}
	log.Infof("API: WebSocket client %s disconnected", sub.ID)
	return nil
}

// streamContext ends with the request or with server shutdown.
func (s *Server) streamContext(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(s.streamCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func unavailable(c echo.Context, err error) error {
	if errors.Is(err, stream.ErrClosed) {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "stream_closed", Message: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "subscribe_failed", Message: err.Error()})
}
