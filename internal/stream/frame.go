// SPDX-License-Identifier: MIT
package stream

import (
	"github.com/zmk5566/Crowd-Sonic/internal/analysis"
	"github.com/zmk5566/Crowd-Sonic/internal/codec"
)

// Frame is one encoded spectrum as delivered to subscribers. The JSON fields
// are the wire format; the rest is for in-process transports.
type Frame struct {
	Timestamp         float64 `json:"timestamp"` // Unix milliseconds
	SequenceID        uint64  `json:"sequence_id"`
	SampleRate        float64 `json:"sample_rate"`
	FFTSize           int     `json:"fft_size"`
	DataCompressed    string  `json:"data_compressed"`
	CompressionMethod string  `json:"compression_method"`
	DataSizeBytes     int     `json:"data_size_bytes"`
	OriginalSizeBytes int     `json:"original_size_bytes"`
	PeakFrequencyHz   float64 `json:"peak_frequency_hz"`
	PeakMagnitudeDB   float64 `json:"peak_magnitude_db"`
	SPLDB             float64 `json:"spl_db"`
	FPS               float64 `json:"fps"`

	Compressed []byte            `json:"-"`
	Features   analysis.Features `json:"-"`
}

// NewFrame assembles a frame from a spectrum and its encoded magnitudes. FPS
// is stamped by the Broadcaster.
func NewFrame(seq uint64, s *analysis.Spectrum, enc codec.Encoded) *Frame {
	return &Frame{
		Timestamp:         float64(s.Timestamp.UnixNano()) / 1e6,
		SequenceID:        seq,
		SampleRate:        s.SampleRate,
		FFTSize:           s.FFTSize,
		DataCompressed:    enc.Payload,
		CompressionMethod: enc.Method,
		DataSizeBytes:     enc.CompressedSize,
		OriginalSizeBytes: enc.OriginalSize,
		PeakFrequencyHz:   s.Features.PeakFrequencyHz,
		PeakMagnitudeDB:   s.Features.PeakMagnitudeDB,
		SPLDB:             s.Features.SoundPressureLevelDB,
		Compressed:        enc.Compressed,
		Features:          s.Features,
	}
}

// Kind tells a transport what a Message carries.
type Kind int

const (
	KindFrame   Kind = iota // Message.Frame is set.
	KindStopped             // The stream stopped; Message.Reason says why.
)

func (k Kind) String() string {
	switch k {
	case KindFrame:
		return "frame"
	case KindStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Message is one entry of a subscriber queue.
type Message struct {
	Kind   Kind
	Frame  *Frame
	Reason string
}

// StoppedNotice is the JSON body sent with a stopped message.
type StoppedNotice struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Notice returns the stopped notice for m.
func (m Message) Notice() StoppedNotice {
	return StoppedNotice{Status: "stopped", Reason: m.Reason}
}
