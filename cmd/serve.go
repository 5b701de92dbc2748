// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zmk5566/Crowd-Sonic/internal/api"
	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/health"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/observe"
	"github.com/zmk5566/Crowd-Sonic/internal/pipeline"
	"github.com/zmk5566/Crowd-Sonic/internal/transport"
	"github.com/zmk5566/Crowd-Sonic/internal/transport/udp"
	"github.com/zmk5566/Crowd-Sonic/pkg/build"
)

// runServe runs the pipeline and the HTTP server until ctx is cancelled, the
// capture source fails or the input file ends.
func runServe(ctx context.Context, cfg *config.Config) error {
	info := build.Get()
	log.Infof("Serve: Starting %s", info)

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    info.Name,
		ServiceVersion: info.Version,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			log.Warnf("Serve: Metrics shutdown: %v", err)
		}
	}()

	p, err := pipeline.New(cfg, pipeline.WithObserver(provider.Metrics))
	if err != nil {
		return err
	}

	opts := api.Options{
		EnableSSE:       cfg.Server.EnableSSE,
		EnableWebSocket: cfg.Server.EnableWebSocket,
		Health:          health.New(health.Checker{Name: "pipeline", Check: p.Ready}),
	}
	if cfg.Server.EnableMetrics {
		opts.Metrics = provider.Handler()
	}
	srv := api.NewServer(p, opts)

	var pub *udp.Publisher
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return errors.Join(err, p.Close())
		}
		if pub, err = udp.NewPublisher(sender); err != nil {
			return errors.Join(err, p.Close())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return srv.Start(cfg.Server.Address) })

	if pub != nil {
		pumpTo(gctx, g, p, "udp", pub)
	}
	if cfg.Transport.LogFrames {
		pumpTo(gctx, g, p, "log", transport.NewLogging())
	}

	// A missing device is not fatal: /api/start retries once it is plugged in.
	if err := p.Start(); err != nil {
		log.Errorf("Serve: %v", err)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Serve: Shutting down")
		err := p.Close()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, srv.Shutdown(sctx))
	})

	err = g.Wait()
	if errors.Is(err, audio.ErrEndOfInput) {
		log.Infof("Serve: Input file finished")
		return nil
	}
	return err
}

// pumpTo subscribes a server-side transport and delivers to it until the
// stream closes.
func pumpTo(ctx context.Context, g *errgroup.Group, p *pipeline.Pipeline, name string, t transport.Transport) {
	sub, err := p.Subscribe(name)
	if err != nil {
		log.Errorf("Serve: Subscribing %s transport: %v", name, err)
		return
	}
	g.Go(func() error {
		if err := transport.Pump(ctx, sub, t); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorf("Serve: %s transport: %v", name, err)
		}
		return nil
	})
}
