// SPDX-License-Identifier: MIT

// Package cmd is the crowdsonic command line: serve (the default), list,
// select and config.
package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/pkg/build"
)

// options holds the persistent flags. Only flags the user set override the
// loaded configuration.
type options struct {
	configPath string
	device     string
	sampleRate float64
	fftSize    int
	fps        int
	inputFile  string
	loop       bool
	tones      []float64
	listen     string
	udp        string
	record     bool
	output     string
	verbose    bool
}

// Execute runs the command line with args until ctx is cancelled.
func Execute(ctx context.Context, args []string, stdout io.Writer) error {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	return root.ExecuteContext(ctx)
}

func newRootCommand() *cobra.Command {
	info := build.Get()
	opts := &options{}

	root := &cobra.Command{
		Use:           info.Name,
		Short:         "Ultrasonic spectrum streaming server",
		Version:       info.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.load(c)
			if err != nil {
				return err
			}
			return runServe(c.Context(), cfg)
		},
	}
	root.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Path to a YAML config file (default ./config.yaml if present)")
	pf.StringVarP(&opts.device, "device", "d", "",
		"Input device ID or name substring. Use 'list' to see available devices.")
	pf.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate, "Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&opts.fftSize, "fft-size", "n", config.DefaultFFTSize, "FFT size, a power of two")
	pf.IntVarP(&opts.fps, "fps", "f", config.DefaultTargetFPS,
		fmt.Sprintf("Target frame rate (%d-%d)", config.MinTargetFPS, config.MaxTargetFPS))
	pf.StringVarP(&opts.inputFile, "input-file", "i", "", "Replay a WAV file instead of capturing from a device")
	pf.BoolVar(&opts.loop, "loop", false, "Restart the input file when it ends")
	pf.Float64SliceVarP(&opts.tones, "tone", "t", nil, "Generate a synthetic tone (Hz); repeat for several")
	pf.StringVarP(&opts.listen, "listen", "a", config.DefaultListenAddress, "HTTP listen address")
	pf.StringVar(&opts.udp, "udp", "", "Also publish frames as UDP datagrams to host:port")
	pf.BoolVarP(&opts.record, "record", "r", false, "Record the captured input to a WAV file")
	pf.StringVarP(&opts.output, "output", "o", "",
		"Recording file name. Default is capture-YYYYMMDD-HHMMSS.wav")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Show verbose output")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Capture, analyze and stream spectra (default)",
		RunE:  root.RunE,
	}
	root.AddCommand(serve, newListCommand(opts), newSelectCommand(opts), newConfigCommand(opts))
	return root
}

// load reads the configuration file and environment, then applies the flags
// the user set.
func (o *options) load(c *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	o.apply(c, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		level = log.LevelInfo
	}
	if o.verbose {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	return cfg, nil
}

func (o *options) apply(c *cobra.Command, cfg *config.Config) {
	flags := c.Flags()
	if flags.Changed("device") {
		if id, err := strconv.Atoi(o.device); err == nil {
			cfg.Audio.DeviceNames = nil
			cfg.Audio.FallbackDeviceID = id
		} else if name := strings.TrimSpace(o.device); name != "" {
			cfg.Audio.DeviceNames = []string{name}
		}
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = o.sampleRate
	}
	if flags.Changed("fft-size") {
		cfg.Audio.FFTSize = o.fftSize
	}
	if flags.Changed("fps") {
		cfg.Stream.TargetFPS = o.fps
	}
	if flags.Changed("input-file") {
		cfg.Audio.InputFile = o.inputFile
	}
	if flags.Changed("loop") {
		cfg.Audio.Loop = o.loop
	}
	if flags.Changed("tone") {
		cfg.Audio.Tones = o.tones
	}
	if flags.Changed("listen") {
		cfg.Server.Address = o.listen
	}
	if flags.Changed("udp") {
		cfg.Transport.UDPEnabled = o.udp != ""
		cfg.Transport.UDPTargetAddress = o.udp
	}
	if flags.Changed("record") {
		cfg.Recording.Enabled = o.record
	}
	if flags.Changed("output") {
		cfg.Recording.OutputFile = o.output
	}
	if o.verbose {
		cfg.LogLevel = "debug"
		cfg.Transport.LogFrames = true
	}
}
