package voice

import (
	"math"
	"time"

	"github.com/ent0n29/rhodes-client/internal/audio"
)

// SilenceConfig tunes the energy gate of the record backend.
type SilenceConfig struct {
	// Threshold is the minimum RMS that counts as speech.
	Threshold float64
	// PeakRatio raises the threshold to this share of the loudest frame so
	// far.
	PeakRatio float64
	// Duration of continuous silence after speech that ends a recording.
	Duration time.Duration
	// Grace after the recording starts during which silence never counts.
	Grace time.Duration
	// Ceiling bounds a recording even if silence never arrives.
	Ceiling time.Duration
}

func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		Threshold: 0.01,
		PeakRatio: 0.15,
		Duration:  1800 * time.Millisecond,
		Grace:     1500 * time.Millisecond,
		Ceiling:   20 * time.Second,
	}
}

// SilenceDetector decides when a recording should stop. Time is measured in
// audio, not wall clock, so results depend only on the samples fed in.
type SilenceDetector struct {
	cfg        SilenceConfig
	sampleRate int

	elapsed      time.Duration
	peak         float64
	spoken       bool
	silenceSince time.Duration
	silent       bool
}

func NewSilenceDetector(cfg SilenceConfig, sampleRate int) *SilenceDetector {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &SilenceDetector{cfg: cfg, sampleRate: sampleRate}
}

// Feed consumes one PCM16LE frame and reports whether recording should stop.
func (d *SilenceDetector) Feed(frame []byte) bool {
	samples := len(frame) / 2
	d.elapsed += time.Duration(samples) * time.Second / time.Duration(d.sampleRate)

	rms := audio.RMS(frame)
	if rms > d.peak {
		d.peak = rms
	}
	threshold := math.Max(d.cfg.Threshold, d.peak*d.cfg.PeakRatio)

	switch {
	case rms > threshold:
		d.spoken = true
		d.silent = false
	case d.spoken && d.elapsed > d.cfg.Grace:
		if !d.silent {
			d.silent = true
			d.silenceSince = d.elapsed
		} else if d.elapsed-d.silenceSince > d.cfg.Duration {
			return true
		}
	}
	return d.cfg.Ceiling > 0 && d.elapsed >= d.cfg.Ceiling
}

// Spoken reports whether any frame crossed the threshold.
func (d *SilenceDetector) Spoken() bool { return d.spoken }

func (d *SilenceDetector) Elapsed() time.Duration { return d.elapsed }
