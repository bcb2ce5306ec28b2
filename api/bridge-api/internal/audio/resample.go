package internal_audio

// Upsample8kTo24k converts 8 kHz PCM to 24 kHz by linear interpolation.
// Each input sample yields three outputs: the sample itself plus two
// interpolated points toward the next sample (the last sample repeats).
// Output length is exactly 3× the input length.
func Upsample8kTo24k(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 0, len(in)*3)
	for i, s := range in {
		next := s
		if i+1 < len(in) {
			next = in[i+1]
		}
		delta := int32(next) - int32(s)
		out = append(out,
			s,
			int16(int32(s)+roundDiv(delta, 3)),
			int16(int32(s)+roundDiv(delta*2, 3)),
		)
	}
	return out
}

// Downsample24kTo8k converts 24 kHz PCM to 8 kHz by averaging each group of
// three consecutive samples. The 3-tap average doubles as the anti-aliasing
// filter. A short tail is padded by repeating the last sample, so output
// length is floor(len(in)/3).
func Downsample24kTo8k(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	n := len(in) / 3
	if n == 0 {
		return nil
	}
	out := make([]int16, n)
	last := in[len(in)-1]
	for j := 0; j < n; j++ {
		var sum int32
		for k := 0; k < 3; k++ {
			idx := 3*j + k
			if idx < len(in) {
				sum += int32(in[idx])
			} else {
				sum += int32(last)
			}
		}
		out[j] = int16(roundDiv(sum, 3))
	}
	return out
}

// roundDiv divides with rounding half away from zero.
func roundDiv(num, den int32) int32 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return (num - den/2) / den
}
