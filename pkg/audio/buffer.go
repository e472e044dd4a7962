package audio

import "time"

// Frame is one capture callback's worth of mono samples normalized to [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time of the frame.
func (f Frame) Duration() time.Duration {
	return samplesDuration(len(f.Samples), f.SampleRate)
}

// Buffer is decoded audio ready to be scheduled on an output device.
// Samples are interleaved when Channels > 1.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []float32
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the playing time of the buffer.
func (b Buffer) Duration() time.Duration {
	return samplesDuration(b.Frames(), b.SampleRate)
}

// Mono downmixes the buffer to a single channel by averaging.
func (b Buffer) Mono() []float32 {
	if b.Channels <= 1 {
		return b.Samples
	}
	n := b.Frames()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < b.Channels; c++ {
			sum += b.Samples[i*b.Channels+c]
		}
		out[i] = sum / float32(b.Channels)
	}
	return out
}

func samplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
