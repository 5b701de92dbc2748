// SPDX-License-Identifier: MIT
package config

import "time"

// Core configuration constants that define the boundaries and defaults
// for the capture, analysis and streaming pipeline.
const (
	// Audio capture defaults
	DefaultSampleRate       = 384000 // UltraMic-class ultrasonic capture (Hz)
	DefaultFFTSize          = 8192   // ~46.9 Hz bins at 384 kHz
	DefaultOverlapFraction  = 0.75   // 75% overlap between analysis windows
	DefaultWindowType       = "hann" // Window function name
	DefaultChannels         = 1      // Mono audio
	DefaultBlocksize        = 1024   // Frames per capture callback
	DefaultFallbackDeviceID = MinDeviceID
	DefaultLowLatency       = false

	// Stream defaults
	DefaultTargetFPS              = 30
	DefaultCompressionLevel       = 6
	DefaultSimilarityThreshold    = 0.95
	DefaultMagnitudeThresholdDB   = 3.0
	DefaultEnableSignificanceGate = false

	// Analysis calibration defaults
	DefaultWindowCompensation = 0.0 // 0 selects the per-window default (2.0 for Hann)
	DefaultSPLReferenceDB     = 94.0
	DefaultUltrasonicCutoffHz = 20000.0
	DefaultRolloffFraction    = 0.95

	// Pipeline and transport defaults
	DefaultHandoffQueueSize    = 64
	DefaultSubscriberQueueSize = 16
	DefaultListenAddress       = ":8380"
	DefaultShutdownTimeout     = 10 * time.Second
	DefaultUDPTargetAddress    = "127.0.0.1:9090"
	DefaultRecordingBitDepth   = 16

	// Hardware and processing limits
	MinDeviceID         = -1 // -1 represents system default device
	MinSampleRate       = 8000
	MaxSampleRate       = 768000
	MinFFTSize          = 256
	MaxFFTSize          = 65536
	MinTargetFPS        = 5
	MaxTargetFPS        = 60
	MinCompressionLevel = 0
	MaxCompressionLevel = 9
	MaxChannels         = 32
)

// Config is the root configuration, loaded from YAML and ENV_ overrides.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio" json:"audio"`
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream" json:"stream"`
	Analysis  AnalysisConfig  `mapstructure:"analysis" yaml:"analysis" json:"analysis"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport" json:"transport"`
	Recording RecordingConfig `mapstructure:"recording" yaml:"recording" json:"recording"`
}

// AudioConfig fixes the capture parameters for a session. Changing it
// requires rebuilding the spectral engine and window assembler.
type AudioConfig struct {
	SampleRate       float64   `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
	FFTSize          int       `mapstructure:"fft_size" yaml:"fft_size" json:"fft_size"`
	OverlapFraction  float64   `mapstructure:"overlap" yaml:"overlap" json:"overlap"`
	WindowType       string    `mapstructure:"window_type" yaml:"window_type" json:"window_type"`
	Channels         int       `mapstructure:"channels" yaml:"channels" json:"channels"`
	Blocksize        int       `mapstructure:"blocksize" yaml:"blocksize" json:"blocksize"`
	DeviceNames      []string  `mapstructure:"device_names" yaml:"device_names" json:"device_names"`
	FallbackDeviceID int       `mapstructure:"fallback_device_id" yaml:"fallback_device_id" json:"fallback_device_id"`
	LowLatency       bool      `mapstructure:"low_latency" yaml:"low_latency" json:"low_latency"`
	InputFile        string    `mapstructure:"input_file" yaml:"input_file,omitempty" json:"input_file,omitempty"` // Replay a WAV file instead of a device.
	Loop             bool      `mapstructure:"loop" yaml:"loop" json:"loop"`
	Tones            []float64 `mapstructure:"tones" yaml:"tones,omitempty" json:"tones,omitempty"` // Synthetic source frequencies (Hz).
}

// StreamConfig is the runtime-replaceable stream policy. Readers always get
// a complete snapshot from a StreamStore.
type StreamConfig struct {
	TargetFPS              int     `mapstructure:"target_fps" yaml:"target_fps" json:"target_fps"`
	CompressionLevel       int     `mapstructure:"compression_level" yaml:"compression_level" json:"compression_level"`
	SimilarityThreshold    float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold" json:"similarity_threshold"`
	MagnitudeThresholdDB   float64 `mapstructure:"magnitude_threshold_db" yaml:"magnitude_threshold_db" json:"magnitude_threshold_db"`
	EnableSignificanceGate bool    `mapstructure:"enable_significance_gate" yaml:"enable_significance_gate" json:"enable_significance_gate"`
}

// AnalysisConfig holds calibration constants. Their correct values depend on
// the capture hardware's full-scale mapping.
type AnalysisConfig struct {
	WindowCompensation float64 `mapstructure:"window_compensation" yaml:"window_compensation" json:"window_compensation"`
	SPLReferenceDB     float64 `mapstructure:"spl_reference_db" yaml:"spl_reference_db" json:"spl_reference_db"`
	UltrasonicCutoffHz float64 `mapstructure:"ultrasonic_cutoff_hz" yaml:"ultrasonic_cutoff_hz" json:"ultrasonic_cutoff_hz"`
	RolloffFraction    float64 `mapstructure:"rolloff_fraction" yaml:"rolloff_fraction" json:"rolloff_fraction"`
}

// PipelineConfig sizes the capture hand-off.
type PipelineConfig struct {
	HandoffQueueSize int `mapstructure:"handoff_queue_size" yaml:"handoff_queue_size" json:"handoff_queue_size"`
}

// ServerConfig controls the HTTP control surface.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" json:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	EnableSSE       bool          `mapstructure:"enable_sse" yaml:"enable_sse" json:"enable_sse"`
	EnableWebSocket bool          `mapstructure:"enable_websocket" yaml:"enable_websocket" json:"enable_websocket"`
	EnableMetrics   bool          `mapstructure:"enable_metrics" yaml:"enable_metrics" json:"enable_metrics"`
}

// TransportConfig holds settings for subscriber delivery.
type TransportConfig struct {
	SubscriberQueueSize int    `mapstructure:"subscriber_queue_size" yaml:"subscriber_queue_size" json:"subscriber_queue_size"`
	UDPEnabled          bool   `mapstructure:"udp_enabled" yaml:"udp_enabled" json:"udp_enabled"`
	UDPTargetAddress    string `mapstructure:"udp_target_address" yaml:"udp_target_address" json:"udp_target_address"`
	LogFrames           bool   `mapstructure:"log_frames" yaml:"log_frames" json:"log_frames"`
}

// RecordingConfig enables the raw capture WAV tap.
type RecordingConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	OutputFile string `mapstructure:"output_file" yaml:"output_file" json:"output_file"`
	BitDepth   int    `mapstructure:"bit_depth" yaml:"bit_depth" json:"bit_depth"`
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate:       DefaultSampleRate,
			FFTSize:          DefaultFFTSize,
			OverlapFraction:  DefaultOverlapFraction,
			WindowType:       DefaultWindowType,
			Channels:         DefaultChannels,
			Blocksize:        DefaultBlocksize,
			DeviceNames:      []string{"UltraMic384K", "UltraMic"},
			FallbackDeviceID: DefaultFallbackDeviceID,
			LowLatency:       DefaultLowLatency,
		},
		Stream: DefaultStreamConfig(),
		Analysis: AnalysisConfig{
			WindowCompensation: DefaultWindowCompensation,
			SPLReferenceDB:     DefaultSPLReferenceDB,
			UltrasonicCutoffHz: DefaultUltrasonicCutoffHz,
			RolloffFraction:    DefaultRolloffFraction,
		},
		Pipeline: PipelineConfig{
			HandoffQueueSize: DefaultHandoffQueueSize,
		},
		Server: ServerConfig{
			Address:         DefaultListenAddress,
			ShutdownTimeout: DefaultShutdownTimeout,
			EnableSSE:       true,
			EnableWebSocket: true,
			EnableMetrics:   true,
		},
		Transport: TransportConfig{
			SubscriberQueueSize: DefaultSubscriberQueueSize,
			UDPEnabled:          false,
			UDPTargetAddress:    DefaultUDPTargetAddress,
		},
		Recording: RecordingConfig{
			Enabled:  false,
			BitDepth: DefaultRecordingBitDepth,
		},
	}
}

// DefaultStreamConfig returns the stream policy used at startup.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		TargetFPS:              DefaultTargetFPS,
		CompressionLevel:       DefaultCompressionLevel,
		SimilarityThreshold:    DefaultSimilarityThreshold,
		MagnitudeThresholdDB:   DefaultMagnitudeThresholdDB,
		EnableSignificanceGate: DefaultEnableSignificanceGate,
	}
}

// OverlapSize returns the number of samples shared by consecutive windows.
func (a AudioConfig) OverlapSize() int {
	return int(float64(a.FFTSize) * a.OverlapFraction)
}

// HopSize returns the number of new samples per analysis window.
func (a AudioConfig) HopSize() int {
	return a.FFTSize - a.OverlapSize()
}
