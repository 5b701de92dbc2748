// SPDX-License-Identifier: MIT
package analysis

import "math"

// FrequencyBand defines the name and frequency range of a coarse spectral
// band. Bounds are inclusive.
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// BandPower summarises one band of a spectrum. A band with no bins reports
// Power 0, PeakFrequencyHz 0 and PeakMagnitudeDB -Inf, meaning "no data".
type BandPower struct {
	Name            string  `json:"name"`
	LowHz           float64 `json:"low_hz"`
	HighHz          float64 `json:"high_hz"`
	Power           float64 `json:"power"`
	PeakFrequencyHz float64 `json:"peak_frequency_hz"`
	PeakMagnitudeDB float64 `json:"peak_magnitude_db"`
}

// Empty reports whether the band covered no bins.
func (b BandPower) Empty() bool { return math.IsInf(b.PeakMagnitudeDB, -1) }

// DefaultBands spans sub-bass through the upper ultrasonic range.
var DefaultBands = []FrequencyBand{
	{Name: "sub_bass", LowHz: 20, HighHz: 60},
	{Name: "bass", LowHz: 60, HighHz: 250},
	{Name: "low_mid", LowHz: 250, HighHz: 1000},
	{Name: "mid", LowHz: 1000, HighHz: 4000},
	{Name: "high_mid", LowHz: 4000, HighHz: 8000},
	{Name: "presence", LowHz: 8000, HighHz: 12000},
	{Name: "brilliance", LowHz: 12000, HighHz: 20000},
	{Name: "ultrasonic_low", LowHz: 20000, HighHz: 50000},
	{Name: "ultrasonic_mid", LowHz: 50000, HighHz: 100000},
	{Name: "ultrasonic_high", LowHz: 100000, HighHz: 200000},
}

// Bands decomposes a dB spectrum into DefaultBands.
func Bands(frequencies, magnitudeDB []float64) []BandPower {
	return BandsFor(DefaultBands, frequencies, magnitudeDB)
}

// BandsFor decomposes a dB spectrum into the given bands. Band power is the
// sum of linear power (10^(dB/10)) over the band's bins.
func BandsFor(bands []FrequencyBand, frequencies, magnitudeDB []float64) []BandPower {
	out := make([]BandPower, len(bands))
	n := min(len(frequencies), len(magnitudeDB))
	for bi, band := range bands {
		bp := BandPower{
			Name:            band.Name,
			LowHz:           band.LowHz,
			HighHz:          band.HighHz,
			PeakMagnitudeDB: math.Inf(-1),
		}
		for i := 0; i < n; i++ {
			f := frequencies[i]
			if f < band.LowHz || f > band.HighHz {
				continue
			}
			db := magnitudeDB[i]
			bp.Power += math.Pow(10, db/10)
			if db > bp.PeakMagnitudeDB {
				bp.PeakMagnitudeDB = db
				bp.PeakFrequencyHz = f
			}
		}
		out[bi] = bp
	}
	return out
}
