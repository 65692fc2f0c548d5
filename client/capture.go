package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/pixvoice/pixvoice/audio"
)

// Source delivers captured microphone frames at audio.CaptureRate. ReadFrame
// blocks until a frame is available and returns io.EOF when the device is
// closed. Captured audio is never routed back to local playback.
type Source interface {
	ReadFrame() ([]float32, error)
	Close() error
}

// Device is one labeled capture device.
type Device struct {
	ID    string
	Label string
}

// PreferInputDevice ranks capture devices so a headset or external microphone
// wins over an incidentally-paired one (a phone's mic showing up over
// Bluetooth is the classic trap). Ties keep enumeration order.
func PreferInputDevice(devices []Device) (Device, bool) {
	if len(devices) == 0 {
		return Device{}, false
	}
	best := devices[0]
	bestScore := deviceScore(best.Label)
	for _, d := range devices[1:] {
		if score := deviceScore(d.Label); score > bestScore {
			best, bestScore = d, score
		}
	}
	return best, true
}

func deviceScore(label string) int {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "headset"),
		strings.Contains(l, "headphone"),
		strings.Contains(l, "usb"),
		strings.Contains(l, "external"):
		return 2
	case strings.Contains(l, "built-in"),
		strings.Contains(l, "builtin"),
		strings.Contains(l, "internal"),
		strings.Contains(l, "default"):
		return 1
	case strings.Contains(l, "phone"),
		strings.Contains(l, "airpods"),
		strings.Contains(l, "hands-free"):
		return -1
	default:
		return 0
	}
}

// StartAudioInput begins streaming frames from the source through the speech
// gate. Open frames are transmitted as PCM; closed frames are replaced by
// silence of the same length so the upstream's own activity detection keeps a
// steady cadence. Only one capture pipeline may run per session.
func (s *Session) StartAudioInput(src Source) error {
	if !s.IsConnected() {
		return errors.New("cannot start audio input: not connected")
	}

	s.mu.Lock()
	if s.captureSrc != nil {
		s.mu.Unlock()
		return errors.New("audio input already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.captureSrc = src
	s.captureCancel = cancel
	s.mu.Unlock()

	go s.captureLoop(ctx, src)
	return nil
}

// StopAudioInput tears down the capture pipeline. Safe to call when capture
// is not running.
func (s *Session) StopAudioInput() {
	s.mu.Lock()
	src := s.captureSrc
	cancel := s.captureCancel
	s.captureSrc = nil
	s.captureCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if src != nil {
		src.Close()
	}
}

func (s *Session) captureLoop(ctx context.Context, src Source) {
	gate := audio.NewGate(audio.DefaultGateConfig())

	for {
		frame, err := src.ReadFrame()
		if err != nil {
			// Release the capture slot whenever the loop dies on its own,
			// so a later StartAudioInput is not refused for a dead pipeline.
			if ctx.Err() == nil {
				if !errors.Is(err, io.EOF) {
					s.emitError(fmt.Errorf("audio input failed: %w", err))
				}
				s.StopAudioInput()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		gate.SetPlaybackActive(s.playbackActive.Load())
		open := gate.Process(frame, time.Now())

		if s.cb.OnInputLevel != nil {
			s.cb.OnInputLevel(gate.Level())
		}

		payload := frame
		if !open {
			payload = audio.Silence(len(frame))
		}
		if err := s.SendRealtimeAudio(audio.EncodePCM16(payload)); err != nil {
			if ctx.Err() == nil {
				log.Printf("⚠️ Stopping capture, send failed: %v", err)
				s.StopAudioInput()
			}
			return
		}
	}
}
