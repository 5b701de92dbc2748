// SPDX-License-Identifier: MIT
package analysis

// SpectrumAnalyzer is what the pipeline driver needs from a spectral engine.
// Implementations reuse internal buffers and are driven from one goroutine.
type SpectrumAnalyzer interface {
	// AnalyzeInto computes the spectrum of w into dst. It returns
	// ErrWindowLength when w does not match FFTSize.
	AnalyzeInto(dst *Spectrum, w Window) error
	Frequencies() []float64 // Frequencies returns the shared frequency axis.
	FFTSize() int           // FFTSize returns the number of points of the FFT.
	SampleRate() float64    // SampleRate returns the sample rate used for the analysis.
	Stats() EngineStats     // Stats returns throughput counters.
}
