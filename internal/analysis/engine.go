// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"sync/atomic"
	"time"

	"github.com/zmk5566/Crowd-Sonic/internal/config"
	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/pkg/bitint"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// ErrWindowLength is returned by Analyze when the window does not hold
// exactly FFTSize samples.
var ErrWindowLength = errors.New("analysis: window length does not match fft size")

// Spectrum is the analysis result for one window. MagnitudeDB has
// FFTSize/2+1 entries aligned with Frequencies, which is shared by every
// spectrum of an engine and must not be modified.
type Spectrum struct {
	SequenceID  uint64
	Timestamp   time.Time
	SampleRate  float64
	FFTSize     int
	MagnitudeDB []float64
	Frequencies []float64
	Features    Features
}

// EngineConfig fixes the analysis parameters for a session.
type EngineConfig struct {
	FFTSize            int
	SampleRate         float64
	Window             WindowFunc
	WindowCompensation float64 // 0 selects the window's default
	SPLReferenceDB     float64
	UltrasonicCutoffHz float64
	RolloffFraction    float64
}

// NewEngineConfig builds an EngineConfig from the loaded configuration.
func NewEngineConfig(audio config.AudioConfig, an config.AnalysisConfig) (EngineConfig, error) {
	wf, err := ParseWindowFunc(audio.WindowType)
	if err != nil {
		return EngineConfig{}, err
	}
	return EngineConfig{
		FFTSize:            audio.FFTSize,
		SampleRate:         audio.SampleRate,
		Window:             wf,
		WindowCompensation: an.WindowCompensation,
		SPLReferenceDB:     an.SPLReferenceDB,
		UltrasonicCutoffHz: an.UltrasonicCutoffHz,
		RolloffFraction:    an.RolloffFraction,
	}, nil
}

// EngineStats reports analysis throughput.
type EngineStats struct {
	FramesAnalyzed  uint64        `json:"frames_analyzed"`
	LastDuration    time.Duration `json:"last_duration_ns"`
	AverageDuration time.Duration `json:"average_duration_ns"`
}

// Pre-allocated buffers for FFT calculations.
type workspace struct {
	input  []float64    // windowed samples
	coeffs []complex128 // FFT output, FFTSize/2+1 bins
	power  []float64    // calibrated linear power per bin
	cumsum []float64    // running power sum for rolloff
}

// Engine computes calibrated spectra and features. Analyze reuses internal
// buffers and must only be called from one goroutine; Stats and the
// accessors are safe from any goroutine.
type Engine struct {
	cfg          EngineConfig
	fft          *fourier.FFT
	window       []float64
	compensation float64
	frequencies  []float64
	ultraStart   int
	ws           workspace
	seq          uint64

	frames    atomic.Uint64
	lastNanos atomic.Int64
	sumNanos  atomic.Int64
}

// Compile-time check for interface implementation.
var _ SpectrumAnalyzer = (*Engine)(nil)

// NewEngine validates cfg and precomputes the window and frequency axis.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if !bitint.IsPowerOfTwo(cfg.FFTSize) || cfg.FFTSize < 2 {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", cfg.FFTSize)
	}
	if cfg.SampleRate <= 0 || math.IsNaN(cfg.SampleRate) {
		return nil, fmt.Errorf("sample rate must be positive, got %f", cfg.SampleRate)
	}
	if cfg.RolloffFraction <= 0 || cfg.RolloffFraction > 1 {
		cfg.RolloffFraction = config.DefaultRolloffFraction
	}
	if cfg.UltrasonicCutoffHz <= 0 {
		cfg.UltrasonicCutoffHz = config.DefaultUltrasonicCutoffHz
	}

	fft := fourier.NewFFT(cfg.FFTSize)
	bins := cfg.FFTSize/2 + 1

	freqs := make([]float64, bins)
	for i := range freqs {
		freqs[i] = fft.Freq(i) * cfg.SampleRate
	}

	coeffs := cfg.Window.Coefficients(cfg.FFTSize)
	comp := cfg.WindowCompensation
	if comp == 0 {
		comp = cfg.Window.DefaultCompensation(coeffs)
	}

	log.Infof("Analysis: Initializing Engine (Size: %d, SampleRate: %.1f Hz, Window: %v, Compensation: %.4f, Stages: %d)",
		cfg.FFTSize, cfg.SampleRate, cfg.Window, comp, bitint.Log2(cfg.FFTSize))

	return &Engine{
		cfg:          cfg,
		fft:          fft,
		window:       coeffs,
		compensation: comp,
		frequencies:  freqs,
		ultraStart:   sort.SearchFloat64s(freqs, cfg.UltrasonicCutoffHz),
		ws: workspace{
			input:  make([]float64, cfg.FFTSize),
			coeffs: make([]complex128, bins),
			power:  make([]float64, bins),
			cumsum: make([]float64, bins),
		},
	}, nil
}

// Analyze computes a new Spectrum for w.
func (e *Engine) Analyze(w Window) (Spectrum, error) {
	var s Spectrum
	if err := e.AnalyzeInto(&s, w); err != nil {
		return Spectrum{}, err
	}
	return s, nil
}

// AnalyzeInto computes the spectrum of w into dst, reusing dst.MagnitudeDB
// when it has the right length. It does not allocate in that case.
func (e *Engine) AnalyzeInto(dst *Spectrum, w Window) error {
	if len(w.Samples) != e.cfg.FFTSize {
		return fmt.Errorf("%w: got %d samples, want %d", ErrWindowLength, len(w.Samples), e.cfg.FFTSize)
	}
	start := time.Now()

	bins := len(e.frequencies)
	if len(dst.MagnitudeDB) != bins {
		dst.MagnitudeDB = make([]float64, bins)
	}

	// --- 1. Window ---
	floats.MulTo(e.ws.input, w.Samples, e.window)

	// --- 2. FFT ---
	e.fft.Coefficients(e.ws.coeffs, e.ws.input)

	// --- 3. Calibrated power and dB per bin ---
	scale := e.compensation / float64(e.cfg.FFTSize)
	for i, c := range e.ws.coeffs {
		mag := cmplx.Abs(c) * scale
		p := mag * mag
		if math.IsNaN(p) || math.IsInf(p, 0) {
			p = 0
		}
		e.ws.power[i] = p
		dst.MagnitudeDB[i] = PowerToDB(p)
	}

	// --- 4. Features ---
	spectralShape(&dst.Features, e.frequencies, e.ws.power, dst.MagnitudeDB, e.ws.cumsum, e.ultraStart, e.cfg.RolloffFraction)
	rms := math.Sqrt(floats.Dot(w.Samples, w.Samples) / float64(len(w.Samples)))
	dst.Features.SoundPressureLevelDB = SoundPressureLevel(rms, e.cfg.SPLReferenceDB)

	e.seq++
	dst.SequenceID = e.seq
	dst.Timestamp = w.Timestamp
	dst.SampleRate = e.cfg.SampleRate
	dst.FFTSize = e.cfg.FFTSize
	dst.Frequencies = e.frequencies

	elapsed := time.Since(start).Nanoseconds()
	e.frames.Add(1)
	e.lastNanos.Store(elapsed)
	e.sumNanos.Add(elapsed)
	return nil
}

// FrequencyForBin returns the center frequency (Hz) for a bin index, or 0
// when the index is out of range.
func (e *Engine) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= len(e.frequencies) {
		return 0
	}
	return e.frequencies[bin]
}

// Frequencies returns the shared, read-only frequency axis.
func (e *Engine) Frequencies() []float64 { return e.frequencies }

// FFTSize returns the configured FFT size (number of points).
func (e *Engine) FFTSize() int { return e.cfg.FFTSize }

// SampleRate returns the configured sample rate (Hz).
func (e *Engine) SampleRate() float64 { return e.cfg.SampleRate }

// Window returns the configured window function.
func (e *Engine) Window() WindowFunc { return e.cfg.Window }

// Compensation returns the amplitude correction in use.
func (e *Engine) Compensation() float64 { return e.compensation }

// Stats returns a snapshot of analysis counters.
func (e *Engine) Stats() EngineStats {
	n := e.frames.Load()
	st := EngineStats{
		FramesAnalyzed: n,
		LastDuration:   time.Duration(e.lastNanos.Load()),
	}
	if n > 0 {
		st.AverageDuration = time.Duration(e.sumNanos.Load() / int64(n))
	}
	return st
}
