// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zmk5566/Crowd-Sonic/internal/audio"
)

// deviceScan is one host device and, when probed, the capture rates it
// accepted.
type deviceScan struct {
	audio.Device
	Rates []float64
}

// scanDevices enumerates host devices. Tests replace it.
var scanDevices = func(probe bool, channels int) ([]deviceScan, error) {
	if err := audio.Initialize(); err != nil {
		return nil, err
	}
	defer audio.Terminate()

	devs, err := audio.HostDevices()
	if err != nil {
		return nil, err
	}
	scans := make([]deviceScan, len(devs))
	for i, d := range devs {
		scans[i].Device = d
		if probe && d.MaxInputChannels > 0 {
			scans[i].Rates = probeInput(d.ID, channels)
		}
	}
	return scans, nil
}

func probeInput(id, channels int) []float64 {
	info, err := audio.InputDevice(id)
	if err != nil {
		return nil
	}
	return audio.ProbeSampleRates(info, channels)
}

func newListCommand(opts *options) *cobra.Command {
	var probe bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := opts.load(c)
			if err != nil {
				return err
			}
			scans, err := scanDevices(probe, cfg.Audio.Channels)
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			printDevices(c.OutOrStdout(), scans, cfg.Audio.DeviceNames, probe)
			return nil
		},
	}
	c.Flags().BoolVarP(&probe, "probe", "p", false, "Probe which common sample rates each input device accepts")
	return c
}

var (
	headerColor    = color.New(color.Bold)
	preferredColor = color.New(color.FgGreen, color.Bold)
	inputColor     = color.New(color.FgCyan)
	dimColor       = color.New(color.Faint)
)

func printDevices(w io.Writer, scans []deviceScan, preferred []string, probed bool) {
	headerColor.Fprintf(w, "Audio devices (%d)\n\n", len(scans))
	if len(scans) == 0 {
		fmt.Fprintln(w, "No audio devices found.")
		return
	}

	for _, s := range scans {
		name := inputColor
		if s.MaxInputChannels == 0 {
			name = dimColor
		}
		var tags []string
		if s.IsDefault {
			tags = append(tags, "default")
		}
		if s.MaxInputChannels > 0 && matchesAny(s.Name, preferred) {
			tags = append(tags, "preferred")
		}

		name.Fprintf(w, "[%d] %s", s.ID, s.Name)
		if len(tags) > 0 {
			preferredColor.Fprintf(w, " (%s)", strings.Join(tags, ", "))
		}
		fmt.Fprintf(w, "\n    %s, Input channels: %d, Output channels: %d\n",
			deviceKind(s.Device), s.MaxInputChannels, s.MaxOutputChannels)
		fmt.Fprintf(w, "    Default sample rate: %.0f Hz", s.DefaultSampleRate)
		if s.HostAPI != "" {
			fmt.Fprintf(w, ", Host API: %s", s.HostAPI)
		}
		fmt.Fprintln(w)
		if probed && s.MaxInputChannels > 0 {
			fmt.Fprintf(w, "    Supported sample rates: %s\n", formatRates(s.Rates))
		}
		fmt.Fprintln(w)
	}
}

func deviceKind(d audio.Device) string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	default:
		return "Output"
	}
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func formatRates(rates []float64) string {
	if len(rates) == 0 {
		return "none"
	}
	parts := make([]string, len(rates))
	for i, r := range rates {
		parts[i] = fmt.Sprintf("%.0f", r)
	}
	return strings.Join(parts, ", ") + " Hz"
}
