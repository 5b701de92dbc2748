// SPDX-License-Identifier: MIT

// Package utils generates test signals and small spectrum helpers shared by
// the synthetic capture source and the analysis tests.
package utils

import "math"

// Tone is one sinusoidal component of a synthetic signal.
type Tone struct {
	Frequency float64 // Hz
	Amplitude float64 // linear, full scale = 1
}

// FillTones writes the sum of tones into dst, treating dst[0] as absolute
// sample index offset. Consecutive calls with advancing offsets produce a
// phase-continuous signal.
func FillTones(dst []float32, offset int64, sampleRate float64, tones []Tone) {
	for i := range dst {
		tm := float64(offset+int64(i)) / sampleRate
		var v float64
		for _, tn := range tones {
			v += tn.Amplitude * math.Sin(2*math.Pi*tn.Frequency*tm)
		}
		dst[i] = float32(v)
	}
}

// GenerateTones returns size samples of the summed tones starting at t=0.
func GenerateTones(size int, sampleRate float64, tones ...Tone) []float32 {
	buffer := make([]float32, size)
	FillTones(buffer, 0, sampleRate, tones)
	return buffer
}

// GenerateSineWave returns size samples of a single sine.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	return GenerateTones(size, sampleRate, Tone{Frequency: frequency, Amplitude: amplitude})
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1]. Out-of-range bounds are clamped. The first
// index wins on ties.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}
	if startBin > endBin {
		return startBin
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}

// RMS returns the root mean square of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
