// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
}

func TestHopSize(t *testing.T) {
	tests := []struct {
		fft     int
		overlap float64
		want    int
	}{
		{8192, 0.75, 2048},
		{1024, 0.5, 512},
		{1024, 0, 1024},
		{256, 0.999, 1},
	}
	for _, tt := range tests {
		a := AudioConfig{FFTSize: tt.fft, OverlapFraction: tt.overlap}
		if got := a.HopSize(); got != tt.want {
			t.Errorf("HopSize(%d, %v) = %d, want %d", tt.fft, tt.overlap, got, tt.want)
		}
	}
}

func TestAudioConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AudioConfig)
		wantErr bool
	}{
		{"defaults", func(*AudioConfig) {}, false},
		{"fft not power of two", func(a *AudioConfig) { a.FFTSize = 3000 }, true},
		{"fft too small", func(a *AudioConfig) { a.FFTSize = 128 }, true},
		{"overlap one", func(a *AudioConfig) { a.OverlapFraction = 1 }, true},
		{"overlap negative", func(a *AudioConfig) { a.OverlapFraction = -0.1 }, true},
		{"sample rate too high", func(a *AudioConfig) { a.SampleRate = 1e6 }, true},
		{"no channels", func(a *AudioConfig) { a.Channels = 0 }, true},
		{"tone above nyquist", func(a *AudioConfig) { a.Tones = []float64{250000} }, true},
		{"ultrasonic tone", func(a *AudioConfig) { a.Tones = []float64{40000} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Default().Audio
			tt.mutate(&a)
			if err := a.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*StreamConfig)
		wantErr bool
	}{
		{"defaults", func(*StreamConfig) {}, false},
		{"fps lower bound", func(s *StreamConfig) { s.TargetFPS = 5 }, false},
		{"fps upper bound", func(s *StreamConfig) { s.TargetFPS = 60 }, false},
		{"fps too low", func(s *StreamConfig) { s.TargetFPS = 4 }, true},
		{"fps too high", func(s *StreamConfig) { s.TargetFPS = 61 }, true},
		{"compression too high", func(s *StreamConfig) { s.CompressionLevel = 10 }, true},
		{"similarity above one", func(s *StreamConfig) { s.SimilarityThreshold = 1.5 }, true},
		{"negative magnitude", func(s *StreamConfig) { s.MagnitudeThresholdDB = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultStreamConfig()
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStreamStore(t *testing.T) {
	store := NewStreamStore(DefaultStreamConfig())

	if err := store.SetFPS(45); err != nil {
		t.Fatalf("SetFPS(45): %v", err)
	}
	if got := store.Load().TargetFPS; got != 45 {
		t.Errorf("TargetFPS = %d, want 45", got)
	}

	err := store.SetFPS(100)
	if !errors.Is(err, ErrInvalidFPS) {
		t.Errorf("SetFPS(100) error = %v, want ErrInvalidFPS", err)
	}
	if got := store.Load().TargetFPS; got != 45 {
		t.Errorf("rejected update changed TargetFPS to %d", got)
	}

	next := store.Load()
	next.EnableSignificanceGate = true
	next.CompressionLevel = 9
	if err := store.Store(next); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := store.Load(); got != next {
		t.Errorf("Load() = %+v, want %+v", got, next)
	}
}
