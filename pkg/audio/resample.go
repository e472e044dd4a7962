package audio

// Resampler converts a stream of mono frames to a fixed target rate using
// linear interpolation. It keeps the read position and the last sample of
// the previous frame, so consecutive frames resample as one continuous
// signal: the output length tracks the exact rate ratio and frame boundaries
// are interpolated like any other pair of samples.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	TargetRate int

	// rate is the input rate the carried state refers to.
	rate int
	// phase is the read position of the next output sample relative to the
	// start of the next frame, in units of 1/TargetRate input samples. It
	// lies in (-TargetRate, 0] between frames; negative positions fall
	// between prev and the first sample of the frame.
	phase int64
	prev  float32
}

// NewResampler creates a resampler producing frames at targetRate.
func NewResampler(targetRate int) *Resampler {
	return &Resampler{TargetRate: targetRate}
}

// Reset forgets the carried position so the next frame starts a new stream.
func (r *Resampler) Reset() {
	r.rate = 0
	r.phase = 0
	r.prev = 0
}

// Process resamples f to the target rate. Frames already at the target rate
// pass through untouched. A change of input rate starts a new stream.
func (r *Resampler) Process(f Frame) Frame {
	if f.SampleRate == r.TargetRate || f.SampleRate <= 0 || r.TargetRate <= 0 {
		return f
	}
	if f.SampleRate != r.rate {
		r.Reset()
		r.rate = f.SampleRate
	}

	n := int64(len(f.Samples))
	if n == 0 {
		return Frame{SampleRate: r.TargetRate}
	}

	from, to := int64(f.SampleRate), int64(r.TargetRate)
	limit := (n - 1) * to

	out := make([]float32, 0, n*to/from+1)
	for ; r.phase <= limit; r.phase += from {
		idx := r.phase / to
		if r.phase < 0 {
			idx = -1
		}
		frac := r.phase - idx*to

		a := r.prev
		if idx >= 0 {
			a = f.Samples[idx]
		}
		if frac == 0 {
			out = append(out, a)
			continue
		}
		b := f.Samples[idx+1]
		out = append(out, a+(b-a)*float32(frac)/float32(to))
	}

	r.phase -= n * to
	r.prev = f.Samples[n-1]

	return Frame{Samples: out, SampleRate: r.TargetRate}
}
