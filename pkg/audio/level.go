package audio

import "math"

// RMS returns the root-mean-square loudness of samples, clamped to [0, 1].
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := float32(math.Sqrt(sum / float64(len(samples))))
	if rms > 1 {
		return 1
	}
	return rms
}

// Gated reports whether a frame of the given loudness is muted at threshold.
// A threshold of zero or less turns the gate off.
func Gated(loudness, threshold float32) bool {
	return threshold > 0 && loudness < threshold
}

// Gate returns a zero-filled slice of the same length when Gated, and
// samples otherwise.
func Gate(samples []float32, loudness, threshold float32) []float32 {
	if !Gated(loudness, threshold) {
		return samples
	}
	return make([]float32, len(samples))
}
