// SPDX-License-Identifier: MIT
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/tui"
)

// pickDevice runs the interactive picker. Tests replace it.
var pickDevice = func(channels int, preferredRate float64) (tui.Selection, bool, error) {
	if err := audio.Initialize(); err != nil {
		return tui.Selection{}, false, err
	}
	defer audio.Terminate()

	list := func() ([]audio.Device, error) { return audio.HostDevices() }
	probe := func(d audio.Device) []float64 { return probeInput(d.ID, channels) }
	return tui.Run(list, probe, preferredRate)
}

func newSelectCommand(opts *options) *cobra.Command {
	var write string
	c := &cobra.Command{
		Use:   "select",
		Short: "Choose a capture device and sample rate interactively",
		Long: "Choose a capture device and sample rate interactively, then print the\n" +
			"resulting configuration as YAML or write it to a file.",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.load(c)
			if err != nil {
				return err
			}
			sel, ok, err := pickDevice(cfg.Audio.Channels, cfg.Audio.SampleRate)
			if err != nil {
				return fmt.Errorf("select device: %w", err)
			}
			if !ok {
				fmt.Fprintln(c.ErrOrStderr(), "No device selected.")
				return nil
			}

			applySelection(cfg, sel)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid selection: %w", err)
			}
			if write == "" {
				return config.WriteYAML(c.OutOrStdout(), cfg)
			}
			if err := writeConfigFile(write, cfg); err != nil {
				return err
			}
			fmt.Fprintf(c.ErrOrStderr(), "Wrote %s (device %q at %.0f Hz)\n", write, sel.Device.Name, sel.SampleRate)
			return nil
		},
	}
	c.Flags().StringVarP(&write, "write", "w", "", "Write the configuration to this file instead of stdout")
	return c
}

// applySelection pins the chosen device by name, with its ID as fallback.
func applySelection(cfg *config.Config, sel tui.Selection) {
	cfg.Audio.DeviceNames = []string{sel.Device.Name}
	cfg.Audio.FallbackDeviceID = sel.Device.ID
	cfg.Audio.SampleRate = sel.SampleRate
	if cfg.Audio.Channels > sel.Device.MaxInputChannels {
		cfg.Audio.Channels = sel.Device.MaxInputChannels
	}
}

func writeConfigFile(path string, cfg *config.Config) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() { err = errors.Join(err, f.Close()) }()
	return config.WriteYAML(f, cfg)
}
