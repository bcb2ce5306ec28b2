package internal_audio

import (
	"math"
	"math/rand"
)

// signalFloor is the RMS below which a buffer is treated as silence.
const signalFloor = 100

// RMS computes the root-mean-square level of a PCM buffer.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// DB converts an RMS level to decibels relative to full scale.
func DB(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768.0)
}

// HasSignal reports whether the buffer carries audible content.
func HasSignal(pcm []int16) bool {
	return RMS(pcm) > signalFloor
}

// Tone generates a sine wave for tests: freq in Hz at the given sample rate
// and peak amplitude, n samples long.
func Tone(freq float64, sampleRate, amplitude, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

// Noise generates uniform white noise at the given peak amplitude.
func Noise(amplitude, n int, seed int64) []int16 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(rng.Intn(2*amplitude+1) - amplitude)
	}
	return out
}

// DominantFrequency estimates the strongest frequency in pcm via a direct
// Goertzel-style scan over candidate bins. Test helper, not a hot path.
func DominantFrequency(pcm []int16, sampleRate int) float64 {
	if len(pcm) == 0 {
		return 0
	}
	best, bestPower := 0.0, 0.0
	// 5 Hz resolution is plenty for verifying test tones.
	for freq := 50.0; freq < float64(sampleRate)/2; freq += 5.0 {
		var re, im float64
		for i, s := range pcm {
			phase := 2 * math.Pi * freq * float64(i) / float64(sampleRate)
			re += float64(s) * math.Cos(phase)
			im += float64(s) * math.Sin(phase)
		}
		power := re*re + im*im
		if power > bestPower {
			bestPower = power
			best = freq
		}
	}
	return best
}
