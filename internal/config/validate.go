// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zmk5566/Crowd-Sonic/pkg/bitint"
)

// ErrInvalidFPS is returned when a target frame rate is outside
// [MinTargetFPS, MaxTargetFPS].
var ErrInvalidFPS = fmt.Errorf("target_fps must be between %d and %d", MinTargetFPS, MaxTargetFPS)

// Validate reports every invalid field of the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.LogLevel != "" && !isKnownLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error, fatal", c.LogLevel))
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Stream.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.HandoffQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.handoff_queue_size must be positive, got %d", c.Pipeline.HandoffQueueSize))
	}
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address must be set"))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", c.Server.ShutdownTimeout))
	}
	if c.Transport.SubscriberQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("transport.subscriber_queue_size must be positive, got %d", c.Transport.SubscriberQueueSize))
	}
	if c.Transport.UDPEnabled && !strings.Contains(c.Transport.UDPTargetAddress, ":") {
		errs = append(errs, fmt.Errorf("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress))
	}
	if c.Recording.Enabled {
		switch c.Recording.BitDepth {
		case 16, 24, 32:
		default:
			errs = append(errs, fmt.Errorf("recording.bit_depth must be 16, 24 or 32, got %d", c.Recording.BitDepth))
		}
	}

	return errors.Join(errs...)
}

// Validate checks capture parameters.
func (a AudioConfig) Validate() error {
	var errs []error
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be between %d and %d Hz, got %.0f", MinSampleRate, MaxSampleRate, a.SampleRate))
	}
	if a.FFTSize < MinFFTSize || a.FFTSize > MaxFFTSize || !bitint.IsPowerOfTwo(a.FFTSize) {
		errs = append(errs, fmt.Errorf("audio.fft_size must be a power of 2 between %d and %d, got %d", MinFFTSize, MaxFFTSize, a.FFTSize))
	}
	if math.IsNaN(a.OverlapFraction) || a.OverlapFraction < 0 || a.OverlapFraction >= 1 {
		errs = append(errs, fmt.Errorf("audio.overlap must be in [0, 1), got %v", a.OverlapFraction))
	} else if a.FFTSize > 0 && a.HopSize() < 1 {
		errs = append(errs, fmt.Errorf("audio.overlap %v leaves no new samples per window", a.OverlapFraction))
	}
	if a.Channels < 1 || a.Channels > MaxChannels {
		errs = append(errs, fmt.Errorf("audio.channels must be between 1 and %d, got %d", MaxChannels, a.Channels))
	}
	if a.Blocksize <= 0 {
		errs = append(errs, fmt.Errorf("audio.blocksize must be positive, got %d", a.Blocksize))
	}
	if a.FallbackDeviceID < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.fallback_device_id must be >= %d, got %d", MinDeviceID, a.FallbackDeviceID))
	}
	for _, f := range a.Tones {
		if f <= 0 || f >= a.SampleRate/2 {
			errs = append(errs, fmt.Errorf("audio.tones: %.1f Hz is outside (0, Nyquist)", f))
		}
	}
	return errors.Join(errs...)
}

// Validate checks the stream policy. The control surface calls it before a
// snapshot is published.
func (s StreamConfig) Validate() error {
	var errs []error
	if s.TargetFPS < MinTargetFPS || s.TargetFPS > MaxTargetFPS {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrInvalidFPS, s.TargetFPS))
	}
	if s.CompressionLevel < MinCompressionLevel || s.CompressionLevel > MaxCompressionLevel {
		errs = append(errs, fmt.Errorf("compression_level must be between %d and %d, got %d", MinCompressionLevel, MaxCompressionLevel, s.CompressionLevel))
	}
	if math.IsNaN(s.SimilarityThreshold) || s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be in [0, 1], got %v", s.SimilarityThreshold))
	}
	if math.IsNaN(s.MagnitudeThresholdDB) || s.MagnitudeThresholdDB < 0 {
		errs = append(errs, fmt.Errorf("magnitude_threshold_db must not be negative, got %v", s.MagnitudeThresholdDB))
	}
	return errors.Join(errs...)
}

// Validate checks calibration constants.
func (a AnalysisConfig) Validate() error {
	var errs []error
	if a.WindowCompensation < 0 || math.IsNaN(a.WindowCompensation) {
		errs = append(errs, fmt.Errorf("analysis.window_compensation must not be negative, got %v", a.WindowCompensation))
	}
	if a.UltrasonicCutoffHz <= 0 {
		errs = append(errs, fmt.Errorf("analysis.ultrasonic_cutoff_hz must be positive, got %v", a.UltrasonicCutoffHz))
	}
	if a.RolloffFraction <= 0 || a.RolloffFraction > 1 {
		errs = append(errs, fmt.Errorf("analysis.rolloff_fraction must be in (0, 1], got %v", a.RolloffFraction))
	}
	return errors.Join(errs...)
}

func isKnownLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return true
	}
	return false
}
