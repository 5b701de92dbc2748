// SPDX-License-Identifier: MIT

// Package api is the HTTP control surface: status, start/stop, stream
// configuration, diagnostics and the SSE and WebSocket streams.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/health"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/pipeline"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

// Controller is the service behind the control surface, implemented by
// *pipeline.Pipeline.
type Controller interface {
	Start() error
	Stop() error
	Status() pipeline.Status
	StreamConfig() config.StreamConfig
	UpdateStreamConfig(cfg config.StreamConfig) error
	SetFPS(fps int) error
	AudioConfig() config.AudioConfig
	DetailedStats() pipeline.DetailedStats
	Devices() ([]audio.Device, error)
	TestCompression() (pipeline.CompressionReport, error)
	Subscribe(name string) (*stream.Subscriber, error)
}

var _ Controller = (*pipeline.Pipeline)(nil)

// Options selects the optional routes.
type Options struct {
	EnableSSE       bool
	EnableWebSocket bool
	Metrics         http.Handler    // served at /metrics when set
	Health          *health.Handler // served at /healthz and /readyz when set
}

// Server owns the echo instance.
type Server struct {
	ctrl Controller
	echo *echo.Echo

	// streamCtx ends every SSE and WebSocket stream on Shutdown.
	streamCtx    context.Context
	cancelStream context.CancelFunc
}

// NewServer builds the router.
func NewServer(ctrl Controller, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: []string{"*"}}))
	e.Use(requestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{ctrl: ctrl, echo: e, streamCtx: ctx, cancelStream: cancel}

	g := e.Group("/api")
	g.GET("/status", s.status)
	g.POST("/start", s.start)
	g.POST("/stop", s.stop)
	g.GET("/config/stream", s.getStreamConfig)
	g.POST("/config/stream", s.updateStreamConfig)
	g.GET("/config/audio", s.getAudioConfig)
	g.POST("/config/fps", s.setFPS)
	g.POST("/config/fps_legacy", s.setFPS)
	g.GET("/stats/detailed", s.detailedStats)
	g.GET("/devices", s.devices)
	g.POST("/test/compression", s.testCompression)
	g.GET("/stream/test", s.streamTest)

	if opts.EnableSSE {
		g.GET("/stream", s.sse)
	}
	if opts.EnableWebSocket {
		e.GET("/ws", s.websocket)
	}
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	if opts.Health != nil {
		opts.Health.Register(e)
	}
	return s
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start listens on addr until Shutdown. A clean shutdown returns nil.
func (s *Server) Start(addr string) error {
	log.Infof("API: Listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open streams and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelStream()
	return s.echo.Shutdown(ctx)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				log.L().Warn("API: request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.L().Debug("API: request", fields...)
			return nil
		},
	})
}
