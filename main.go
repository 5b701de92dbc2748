// SPDX-License-Identifier: MIT

// Command crowdsonic captures ultrasonic audio, computes spectra and streams
// them to browser and UDP clients.
//
// The program runs in three phases. Startup stamps build information, reads
// an optional .env file and parses flags. The serve phase runs capture,
// analysis and delivery until a signal arrives. Shutdown stops capture,
// drains in-flight work, tells every client the stream stopped and closes
// the recording.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zmk5566/Crowd-Sonic/cmd"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/pkg/build"
)

func main() {
	if err := build.Initialize(); err != nil {
		log.Debugf("Build info unavailable, using development defaults: %v", err)
	}

	// ENV_* overrides may live in .env next to the binary.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Failed to load .env: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, os.Args[1:], os.Stdout)
	stop()
	_ = log.Sync()

	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
