// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Powers below powerFloor convert to dbFloor so silent bins stay finite.
const (
	powerFloor = 1e-20
	dbFloor    = -200.0
)

// Features is the fixed set of scalar descriptors computed for every
// spectrum.
type Features struct {
	PeakFrequencyHz      float64 `json:"peak_frequency_hz"`
	PeakMagnitudeDB      float64 `json:"peak_magnitude_db"`
	SpectralCentroidHz   float64 `json:"spectral_centroid_hz"`
	SpectralBandwidthHz  float64 `json:"spectral_bandwidth_hz"`
	SpectralRolloffHz    float64 `json:"spectral_rolloff_hz"`
	SoundPressureLevelDB float64 `json:"sound_pressure_level_db"`
	UltrasonicPowerRatio float64 `json:"ultrasonic_power_ratio"`
	TotalPower           float64 `json:"total_power"`
}

// PowerToDB converts a linear power value to dB with a 1e-20 floor. NaN and
// infinities map to the floor as well.
func PowerToDB(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < powerFloor {
		return dbFloor
	}
	return 10 * math.Log10(p)
}

// SoundPressureLevel returns 20*log10(rms)+reference, or exactly 0 when rms
// is zero, negative or not finite.
func SoundPressureLevel(rms, referenceDB float64) float64 {
	if rms <= 0 || math.IsNaN(rms) || math.IsInf(rms, 0) {
		return 0
	}
	return 20*math.Log10(rms) + referenceDB
}

// spectralShape fills the power-derived features. power and freqs are
// parallel; cumsum is scratch of the same length. ultraStart is the first bin
// at or above the ultrasonic cutoff.
func spectralShape(f *Features, freqs, power, db, cumsum []float64, ultraStart int, rolloffFraction float64) {
	peak := floats.MaxIdx(db)
	f.PeakFrequencyHz = freqs[peak]
	f.PeakMagnitudeDB = db[peak]

	floats.CumSum(cumsum, power)
	total := cumsum[len(cumsum)-1]
	f.TotalPower = total
	if total <= 0 {
		f.SpectralCentroidHz = 0
		f.SpectralBandwidthHz = 0
		f.SpectralRolloffHz = 0
		f.UltrasonicPowerRatio = 0
		return
	}

	centroid := stat.Mean(freqs, power)
	f.SpectralCentroidHz = centroid
	f.SpectralBandwidthHz = math.Sqrt(stat.MomentAbout(2, freqs, centroid, power))

	idx := sort.SearchFloat64s(cumsum, rolloffFraction*total)
	if idx >= len(freqs) {
		idx = len(freqs) - 1
	}
	f.SpectralRolloffHz = freqs[idx]

	f.UltrasonicPowerRatio = 0
	if ultraStart < len(power) {
		ratio := floats.Sum(power[ultraStart:]) / total
		f.UltrasonicPowerRatio = math.Min(1, math.Max(0, ratio))
	}
}
