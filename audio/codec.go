package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sample rates used by this deployment. The codec itself is rate-agnostic;
// the rate travels in the mimeType hint next to the payload.
const (
	CaptureRate         = 16000
	DefaultPlaybackRate = 24000
)

// CaptureMimeType is the mimeType sent with outbound realtime audio chunks.
const CaptureMimeType = "audio/pcm;rate=16000"

// EncodePCM16 converts float32 samples to base64-encoded 16-bit little-endian
// PCM. Samples are clamped to [-1, 1] before quantization. Rounding keeps the
// round-trip error within one quantization step.
func EncodePCM16(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int(math.Round(float64(s) * 32768))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v)))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePCM16 converts base64-encoded PCM16LE back to float32 samples and
// reports the sample rate extracted from the mimeType hint (for example
// "audio/pcm;rate=24000"). A hint without a rate token falls back to
// DefaultPlaybackRate. Malformed base64 fails loudly rather than producing
// zeroed audio.
func DecodePCM16(data string, mimeHint string) ([]float32, int, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid base64 audio data: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, 0, fmt.Errorf("invalid PCM16 payload: odd byte count %d", len(raw))
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768
	}
	return samples, RateFromMimeType(mimeHint), nil
}

// RateFromMimeType parses a "rate=<n>" token out of a MIME-type-like string.
// Unknown or missing rates default to DefaultPlaybackRate.
func RateFromMimeType(mimeType string) int {
	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if rest, ok := strings.CutPrefix(part, "rate="); ok {
			if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return DefaultPlaybackRate
}
