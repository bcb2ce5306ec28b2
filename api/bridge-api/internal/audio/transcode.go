package internal_audio

import (
	"encoding/base64"
	"fmt"
)

// The wire carries base64 on both legs: the telephony provider frames µ-law
// bytes, the AI provider frames little-endian PCM16. These composites are the
// whole per-frame conversion done by the bridging loops.

// UlawB64ToModelB64 converts one telephony media payload (base64 µ-law 8 kHz)
// into an AI audio-append payload (base64 PCM16 24 kHz).
func UlawB64ToModelB64(payload string) (string, error) {
	ulaw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode ulaw payload: %w", err)
	}
	if len(ulaw) == 0 {
		return "", nil
	}
	pcm24k := Upsample8kTo24k(DecodeUlaw(ulaw))
	return base64.StdEncoding.EncodeToString(PCMToBytes(pcm24k)), nil
}

// ModelB64ToUlawB64 converts an AI audio delta (base64 PCM16 24 kHz) into
// telephony µ-law bytes, still base64.
func ModelB64ToUlawB64(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(raw) == 0 {
		return "", nil
	}
	pcm8k := Downsample24kTo8k(BytesToPCM(raw))
	return base64.StdEncoding.EncodeToString(EncodeUlaw(pcm8k)), nil
}

// ModelB64ToUlaw is ModelB64ToUlawB64 without the final base64 step, for
// callers that re-frame the µ-law bytes themselves.
func ModelB64ToUlaw(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode pcm payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return EncodeUlaw(Downsample24kTo8k(BytesToPCM(raw))), nil
}
