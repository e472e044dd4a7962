package audio

import (
	"math"
	"sync"
	"time"
)

// Mixer places mono voices on a shared sample timeline and renders them into
// output buffers. The number of rendered frames is the output clock, so a
// voice scheduled at time t starts exactly t into the stream.
//
// Render is called from the audio device callback; everything else may be
// called from any goroutine.
type Mixer struct {
	mu sync.Mutex

	sampleRate int

	// Frames rendered so far; the clock.
	rendered int64

	nextID uint64
	voices map[uint64]*mixVoice
	// last is the most recently added voice while it is still scheduled.
	last *mixVoice
}

// joinFrames is how far a start may miss the end of the previous voice and
// still be joined to it. Clock times and resampled lengths are rounded
// separately, so back-to-back voices can disagree by a frame or two.
const joinFrames = 2

// mixVoice keeps one scheduled buffer and its place on the timeline.
//
// start – timeline frame at which samples[0] plays
// onEnd – fired once after the last sample has been rendered
type mixVoice struct {
	start   int64
	samples []float32
	onEnd   func()
}

func (v *mixVoice) end() int64 {
	return v.start + int64(len(v.samples))
}

// NewMixer creates a mixer whose timeline runs at sampleRate.
func NewMixer(sampleRate int) *Mixer {
	return &Mixer{
		sampleRate: sampleRate,
		voices:     make(map[uint64]*mixVoice),
	}
}

// SampleRate returns the rate of the mixer timeline.
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// Now returns the current output clock.
func (m *Mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return samplesDuration(int(m.rendered), m.sampleRate)
}

// Add schedules mono samples to start at the given clock time. A start time
// already in the past is moved to the current render position. A start
// within joinFrames of the end of the previous voice is moved onto that end,
// so back-to-back voices play without a gap or overlap. onEnd may be nil and
// runs on its own goroutine.
func (m *Mixer) Add(samples []float32, at time.Duration, onEnd func()) uint64 {
	start := m.frameAt(at)

	m.mu.Lock()
	defer m.mu.Unlock()

	if end, ok := m.joinLocked(start); ok {
		start = end
	}
	if start < m.rendered {
		start = m.rendered
	}

	v := &mixVoice{start: start, samples: samples, onEnd: onEnd}
	m.nextID++
	m.voices[m.nextID] = v
	m.last = v

	return m.nextID
}

// Follows reports whether a voice added at the given time would be joined to
// the end of the previous voice.
func (m *Mixer) Follows(at time.Duration) bool {
	start := m.frameAt(at)

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.joinLocked(start)
	return ok
}

func (m *Mixer) frameAt(at time.Duration) int64 {
	return int64(math.Round(at.Seconds() * float64(m.sampleRate)))
}

func (m *Mixer) joinLocked(start int64) (int64, bool) {
	if m.last == nil || start <= m.last.start {
		return 0, false
	}
	end := m.last.end()
	if end < m.rendered {
		return 0, false
	}
	if d := start - end; d < -joinFrames || d > joinFrames {
		return 0, false
	}
	return end, true
}

// Remove stops a voice immediately without firing its end callback.
// It reports whether the voice was still scheduled.
func (m *Mixer) Remove(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.voices[id]
	if !ok {
		return false
	}
	delete(m.voices, id)
	if v == m.last {
		m.last = nil
	}
	return true
}

// Clear removes every voice without firing callbacks.
func (m *Mixer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.voices = make(map[uint64]*mixVoice)
	m.last = nil
}

// Len returns the number of scheduled or playing voices.
func (m *Mixer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.voices)
}

// Render mixes the next len(out) frames into out and advances the clock.
// Overlapping voices are summed with saturation.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()

	from := m.rendered
	to := from + int64(len(out))

	var finished []func()
	for id, v := range m.voices {
		if v.start >= to {
			continue
		}

		lo := max(v.start, from)
		hi := min(v.end(), to)
		for f := lo; f < hi; f++ {
			out[f-from] += v.samples[f-v.start]
		}

		if v.end() <= to {
			delete(m.voices, id)
			if v == m.last {
				m.last = nil
			}
			if v.onEnd != nil {
				finished = append(finished, v.onEnd)
			}
		}
	}

	m.rendered = to
	m.mu.Unlock()

	for i := range out {
		out[i] = clampUnit(out[i])
	}

	for _, fn := range finished {
		go fn()
	}
}
