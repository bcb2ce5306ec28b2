package internal_audio

import "encoding/binary"

// Audio formats on the two sides of the bridge.
const (
	// Telephony side: G.711 µ-law, 8 kHz mono, one byte per sample.
	TelephonySampleRate = 8000
	// AI side: signed 16-bit little-endian PCM, 24 kHz mono.
	ModelSampleRate = 24000

	// FrameDurationMs is the media cadence on both legs.
	FrameDurationMs = 20

	// UlawFrameBytes is one 20 ms µ-law frame (8000 Hz × 0.020 s).
	UlawFrameBytes = 160
	// ModelFrameSamples is one 20 ms PCM frame on the AI side.
	ModelFrameSamples = 480
	// ModelFrameBytes is ModelFrameSamples × 2 bytes per sample.
	ModelFrameBytes = 960
)

const (
	ulawEncodeBias = 33
	ulawClip       = 32635
	ulawDecodeBias = 0x84
)

// ulawToPCM is the 256-entry µ-law expansion table, built at init.
var ulawToPCM [256]int16

// pcmToUlaw is the full 65536-entry compression table indexed by
// uint16(sample), built at init. Trades 64 KiB for a branch-free hot path.
var pcmToUlaw [65536]uint8

func init() {
	for b := 0; b < 256; b++ {
		ulawToPCM[b] = decodeUlawSample(uint8(b))
	}
	for s := 0; s < 65536; s++ {
		pcmToUlaw[s] = encodeUlawSample(int16(s))
	}
}

// decodeUlawSample expands a single µ-law byte. The reconstructed magnitude
// is ((mantissa<<3)+0x84)<<exponent - 0x84; the decode bias 0x84 re-adds the
// hidden mantissa bit. The asymmetry with the encode bias (33) is correct
// per G.711 and must not be "fixed".
func decodeUlawSample(b uint8) int16 {
	inv := ^b
	sign := inv & 0x80
	exponent := (inv >> 4) & 0x07
	mantissa := inv & 0x0F

	magnitude := ((int32(mantissa) << 3) + ulawDecodeBias) << exponent
	magnitude -= ulawDecodeBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// encodeUlawSample compresses a single 16-bit sample to µ-law.
func encodeUlawSample(s int16) uint8 {
	sample := int32(s)
	sign := (sample >> 8) & 0x80
	if sign != 0 {
		sample = -sample
	}
	if sample > ulawClip {
		sample = ulawClip
	}
	sample += ulawEncodeBias

	exponent := 7
	for mask := int32(0x4000); exponent > 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (sample >> (exponent + 3)) & 0x0F

	return uint8(^(sign | int32(exponent)<<4 | mantissa)) & 0xFF
}

// DecodeUlaw expands µ-law bytes to 16-bit PCM samples.
func DecodeUlaw(ulaw []byte) []int16 {
	if len(ulaw) == 0 {
		return nil
	}
	pcm := make([]int16, len(ulaw))
	for i, b := range ulaw {
		pcm[i] = ulawToPCM[b]
	}
	return pcm
}

// EncodeUlaw compresses 16-bit PCM samples to µ-law bytes.
func EncodeUlaw(pcm []int16) []byte {
	if len(pcm) == 0 {
		return nil
	}
	ulaw := make([]byte, len(pcm))
	for i, s := range pcm {
		ulaw[i] = pcmToUlaw[uint16(s)]
	}
	return ulaw
}

// BytesToPCM reinterprets little-endian 16-bit PCM bytes as samples. An odd
// trailing byte is dropped. The input is always copied into an aligned
// sample slice; the raw buffer may come from a WebSocket frame with no
// alignment guarantee.
func BytesToPCM(raw []byte) []int16 {
	n := len(raw) / 2
	if n == 0 {
		return nil
	}
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return pcm
}

// PCMToBytes serialises samples to little-endian 16-bit PCM bytes.
func PCMToBytes(pcm []int16) []byte {
	if len(pcm) == 0 {
		return nil
	}
	raw := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return raw
}
