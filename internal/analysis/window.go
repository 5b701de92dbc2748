// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	Hann WindowFunc = iota
	Hamming
	Blackman
	Kaiser
	Rectangular
	BartlettHann
	BlackmanNuttall
	Nuttall
)

// KaiserBeta is the shape parameter used for the Kaiser window.
const KaiserBeta = 8.6

// hannCompensation restores the amplitude lost to a Hann taper.
const hannCompensation = 2.0

func (w WindowFunc) String() string {
	switch w {
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Blackman:
		return "blackman"
	case Kaiser:
		return "kaiser"
	case Rectangular:
		return "rectangular"
	case BartlettHann:
		return "bartletthann"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Nuttall:
		return "nuttall"
	default:
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "blackman":
		return Blackman, nil
	case "kaiser":
		return Kaiser, nil
	case "rectangular", "rect", "boxcar", "none":
		return Rectangular, nil
	case "bartletthann":
		return BartlettHann, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// Coefficients returns the n symmetric window coefficients for w.
func (w WindowFunc) Coefficients(n int) []float64 {
	coeffs := make([]float64, n)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch w {
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case Kaiser:
		kaiser(coeffs, KaiserBeta)
	case Rectangular:
		window.Rectangular(coeffs)
	case BartlettHann:
		window.BartlettHann(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		window.Hann(coeffs)
	}
	return coeffs
}

// DefaultCompensation returns the amplitude correction for coeffs when no
// calibration value is configured: 2.0 for Hann, otherwise the inverse of the
// window's coherent gain.
func (w WindowFunc) DefaultCompensation(coeffs []float64) float64 {
	if w == Hann {
		return hannCompensation
	}
	sum := floats.Sum(coeffs)
	if sum <= 0 {
		return 1
	}
	return float64(len(coeffs)) / sum
}

// kaiser multiplies seq in place by a symmetric Kaiser window.
func kaiser(seq []float64, beta float64) []float64 {
	n := len(seq)
	if n == 1 {
		return seq
	}
	denom := besselI0(beta)
	m := float64(n - 1)
	for i := range seq {
		r := 2*float64(i)/m - 1
		seq[i] *= besselI0(beta*math.Sqrt(1-r*r)) / denom
	}
	return seq
}

// besselI0 evaluates the zeroth-order modified Bessel function of the first
// kind by its power series. It converges quickly for the beta values used by
// window design.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	half := x / 2
	for k := 1; k < 64; k++ {
		f := half / float64(k)
		term *= f * f
		sum += term
		if term < sum*1e-17 {
			break
		}
	}
	return sum
}
