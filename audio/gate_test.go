package audio

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const frameDur = 10 * time.Millisecond

// frameWithRMS builds a constant-amplitude frame whose RMS equals the target.
func frameWithRMS(rms float64) []float32 {
	frame := make([]float32, 160)
	for i := range frame {
		frame[i] = float32(rms)
	}
	return frame
}

func TestGate_ClosedBeforeSpeech_HoldsAfterSpeech(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	now := time.Unix(0, 0)

	// 20 quiet frames: gate must be closed for every one of them.
	for i := 0; i < 20; i++ {
		require.False(t, g.Process(frameWithRMS(0.002), now), "frame %d before speech", i)
		now = now.Add(frameDur)
	}

	// One loud frame crosses the threshold and opens the gate.
	require.True(t, g.Process(frameWithRMS(0.3), now))
	lastSpeech := now
	now = now.Add(frameDur)

	// Quiet frames inside the hold window stay open.
	holdEnd := lastSpeech.Add(DefaultGateConfig().HoldWindow)
	for now.Before(holdEnd) {
		require.True(t, g.Process(frameWithRMS(0.002), now), "frame at %v inside hold window", now)
		now = now.Add(frameDur)
	}

	// First frame past the hold window is closed again.
	require.False(t, g.Process(frameWithRMS(0.002), now))
}

func TestGate_PlaybackRaisesThreshold(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	now := time.Unix(0, 0)

	// Settle the floor on quiet frames.
	for i := 0; i < 10; i++ {
		g.Process(frameWithRMS(0.002), now)
		now = now.Add(frameDur)
	}

	// A level that opens the gate when idle...
	probe := 0.05
	require.True(t, g.Process(frameWithRMS(probe), now))

	// ...does not open a fresh gate while playback is active.
	g2 := NewGate(DefaultGateConfig())
	g2.SetPlaybackActive(true)
	now2 := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		g2.Process(frameWithRMS(0.002), now2)
		now2 = now2.Add(frameDur)
	}
	require.False(t, g2.Process(frameWithRMS(probe), now2))

	// Deliberately loud interruption still gets through (barge-in).
	require.True(t, g2.Process(frameWithRMS(0.4), now2.Add(frameDur)))
}

func TestGate_LevelOnlyWhileOpen(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	now := time.Unix(0, 0)

	g.Process(frameWithRMS(0.001), now)
	require.Zero(t, g.Level())

	require.True(t, g.Process(frameWithRMS(0.3), now.Add(frameDur)))
	require.Greater(t, g.Level(), 0.0)
	require.LessOrEqual(t, g.Level(), 1.0)
}

func TestGate_FloorAdaptsFasterUpward(t *testing.T) {
	cfg := DefaultGateConfig()
	up := NewGate(cfg)
	down := NewGate(cfg)
	now := time.Unix(0, 0)

	// Drive one gate with sustained loud noise, the other with silence, from
	// the same starting floor. The loud gate's floor must move further.
	startFloor := up.floor
	for i := 0; i < 10; i++ {
		up.Process(frameWithRMS(0.2), now)
		down.Process(frameWithRMS(0.0), now)
		now = now.Add(frameDur)
	}
	rise := up.floor - startFloor
	fall := startFloor - down.floor
	require.Greater(t, rise, 0.0)
	require.Greater(t, fall, 0.0)
	require.Greater(t, rise/0.2, fall/startFloor*2,
		"upward adaptation should outpace downward adaptation")
}

func TestSilence(t *testing.T) {
	s := Silence(160)
	require.Len(t, s, 160)
	for _, v := range s {
		require.Zero(t, v)
	}
}

func TestFrameRMS(t *testing.T) {
	require.Zero(t, frameRMS(nil))
	require.InDelta(t, 0.5, frameRMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	require.InDelta(t, math.Sqrt(0.5), frameRMS([]float32{1, 0, -1, 0}), 1e-9)
}
