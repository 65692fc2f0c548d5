package audio

import (
	"math"
	"time"
)

// GateConfig holds the thresholds for the speech gate.
type GateConfig struct {
	MinSpeechRMS  float64       // absolute floor below which nothing counts as speech
	ThresholdMult float64       // speech threshold as a multiple of the noise floor
	PlaybackMult  float64       // extra multiplier applied while playback is active
	FloorRiseRate float64       // adaptation per frame when energy exceeds the floor
	FloorFallRate float64       // adaptation per frame when energy is below the floor
	HoldWindow    time.Duration // how long the gate stays open after the last speech frame
}

// DefaultGateConfig returns thresholds tuned for 16kHz microphone capture.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinSpeechRMS:  0.015,
		ThresholdMult: 2.5,
		PlaybackMult:  3.0,
		FloorRiseRate: 0.05,
		FloorFallRate: 0.005,
		HoldWindow:    360 * time.Millisecond,
	}
}

// Gate decides per audio frame whether it carries speech worth transmitting.
// It tracks a slowly adapting ambient-noise floor and keeps the gate open for
// a hold window after the last speech frame so mid-word pauses are not
// chopped. While playback is active the threshold rises to suppress acoustic
// echo while still allowing deliberate barge-in.
//
// Gate is not safe for concurrent use; it is owned by the single capture
// callback path.
type Gate struct {
	cfg            GateConfig
	floor          float64
	openUntil      time.Time
	level          float64
	playbackActive bool
}

// NewGate creates a speech gate with the given thresholds.
func NewGate(cfg GateConfig) *Gate {
	if cfg.ThresholdMult <= 0 {
		cfg.ThresholdMult = 2.5
	}
	if cfg.PlaybackMult <= 0 {
		cfg.PlaybackMult = 3.0
	}
	if cfg.HoldWindow <= 0 {
		cfg.HoldWindow = 360 * time.Millisecond
	}
	return &Gate{cfg: cfg, floor: cfg.MinSpeechRMS}
}

// SetPlaybackActive raises or lowers the echo-suppression multiplier.
func (g *Gate) SetPlaybackActive(active bool) {
	g.playbackActive = active
}

// Process classifies one frame at the given instant and reports whether the
// gate is open for it. The instant is injectable so tests can drive the hold
// window deterministically.
func (g *Gate) Process(frame []float32, now time.Time) bool {
	rms := frameRMS(frame)

	// Asymmetric floor adaptation: chase sudden sustained loudness quickly,
	// decay toward quiet slowly so the floor does not follow silence down.
	if rms > g.floor {
		g.floor += (rms - g.floor) * g.cfg.FloorRiseRate
	} else {
		g.floor += (rms - g.floor) * g.cfg.FloorFallRate
	}

	threshold := g.floor * g.cfg.ThresholdMult
	if g.playbackActive {
		threshold *= g.cfg.PlaybackMult
	}
	if threshold < g.cfg.MinSpeechRMS {
		threshold = g.cfg.MinSpeechRMS
	}

	if rms >= threshold {
		g.openUntil = now.Add(g.cfg.HoldWindow)
	}

	open := now.Before(g.openUntil)
	if open {
		g.level = normalizeLevel(rms)
	} else {
		g.level = 0
	}
	return open
}

// Level reports a normalized 0..1 meter for the most recent open-gate frame.
// Closed-gate frames read as 0.
func (g *Gate) Level() float64 {
	return g.level
}

// Silence returns a zeroed frame of the given length, used in place of
// gate-closed frames so the transmit cadence stays regular.
func Silence(n int) []float32 {
	return make([]float32, n)
}

func frameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func normalizeLevel(rms float64) float64 {
	// Speech RMS rarely exceeds ~0.35 on normalized samples.
	level := rms / 0.35
	if level > 1 {
		level = 1
	}
	return level
}
