// SPDX-License-Identifier: MIT

// Package gate decides whether a computed spectrum is worth transmitting.
// It is pure: the caller keeps the previously emitted spectrum.
package gate

import (
	"math"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/analysis"
	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reason explains a Verdict.
type Reason int

const (
	Emitted     Reason = iota // Both gates passed.
	RateLimited               // Too soon after the previous emitted frame.
	Redundant                 // Too similar to the previous emitted frame.
)

func (r Reason) String() string {
	switch r {
	case Emitted:
		return "emitted"
	case RateLimited:
		return "rate_limited"
	case Redundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of Evaluate. Similarity and PeakDeltaDB are only
// set when the significance gate ran.
type Verdict struct {
	Emit        bool
	Reason      Reason
	Similarity  float64
	PeakDeltaDB float64
}

// MinInterval returns the minimum spacing between emitted frames for fps.
// Non-positive rates disable the time gate.
func MinInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

// Evaluate applies the time gate and, when enabled, the significance gate.
// previous is the last emitted spectrum, or nil before the first emission.
func Evaluate(current, previous *analysis.Spectrum, cfg config.StreamConfig) Verdict {
	if previous == nil {
		return Verdict{Emit: true, Reason: Emitted}
	}

	if current.Timestamp.Sub(previous.Timestamp) < MinInterval(cfg.TargetFPS) {
		return Verdict{Reason: RateLimited}
	}

	if !cfg.EnableSignificanceGate {
		return Verdict{Emit: true, Reason: Emitted}
	}

	// A changed axis is always significant.
	if len(current.MagnitudeDB) != len(previous.MagnitudeDB) {
		return Verdict{Emit: true, Reason: Emitted}
	}

	v := Verdict{
		Similarity:  Similarity(current.MagnitudeDB, previous.MagnitudeDB),
		PeakDeltaDB: math.Abs(current.Features.PeakMagnitudeDB - previous.Features.PeakMagnitudeDB),
	}
	if v.Similarity > cfg.SimilarityThreshold && v.PeakDeltaDB < cfg.MagnitudeThresholdDB {
		v.Reason = Redundant
		return v
	}
	v.Emit = true
	v.Reason = Emitted
	return v
}

// ShouldEmit reports whether current should be transmitted.
func ShouldEmit(current, previous *analysis.Spectrum, cfg config.StreamConfig) bool {
	return Evaluate(current, previous, cfg).Emit
}

// Similarity is the Pearson correlation of two equally long vectors. Constant
// vectors, where the correlation is undefined, score 1 when equal and 0
// otherwise. Vectors of different length score 0.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) {
		if floats.Equal(a, b) {
			return 1
		}
		return 0
	}
	return r
}
