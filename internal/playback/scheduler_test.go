package playback_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-live-interpreter/internal/playback"
	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

const testRate = 1000 // 1 sample per millisecond

type fakeVoice struct {
	start   time.Duration
	length  time.Duration
	onEnded func()
	stopped atomic.Bool
}

func (v *fakeVoice) Stop() { v.stopped.Store(true) }

type fakeOutput struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*fakeVoice
	closed bool
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) setNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

func (o *fakeOutput) Play(buf audio.Buffer, at time.Duration, onEnded func()) (playback.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{start: at, length: buf.Duration(), onEnded: onEnded}
	o.voices = append(o.voices, v)
	return v, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) played() []*fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*fakeVoice(nil), o.voices...)
}

// chunk returns a PCM16 chunk lasting d at testRate.
func chunk(d time.Duration) []byte {
	return make([]byte, int(d/time.Millisecond)*audio.BytesPerSample)
}

func newTestScheduler(t *testing.T, out playback.Output, hooks playback.Hooks) *playback.Scheduler {
	t.Helper()
	s := playback.NewScheduler(zaptest.NewLogger(t), out, playback.NewPCM16Decoder(testRate), hooks)
	t.Cleanup(s.Close)
	return s
}

func waitPlayed(t *testing.T, out *fakeOutput, n int) []*fakeVoice {
	t.Helper()
	require.Eventually(t, func() bool { return len(out.played()) == n }, time.Second, time.Millisecond)
	return out.played()
}

func TestScheduler_BackToBackChunks(t *testing.T) {
	out := &fakeOutput{}
	s := newTestScheduler(t, out, playback.Hooks{})

	require.NoError(t, s.Enqueue(chunk(1000*time.Millisecond)))
	require.NoError(t, s.Enqueue(chunk(500*time.Millisecond)))
	require.NoError(t, s.Enqueue(chunk(2000*time.Millisecond)))

	voices := waitPlayed(t, out, 3)
	assert.Equal(t, time.Duration(0), voices[0].start)
	assert.Equal(t, 1000*time.Millisecond, voices[1].start)
	assert.Equal(t, 1500*time.Millisecond, voices[2].start)
	assert.Equal(t, 3500*time.Millisecond, s.NextStart())
}

func TestScheduler_GaplessWhileClockAdvances(t *testing.T) {
	out := &fakeOutput{}
	s := newTestScheduler(t, out, playback.Hooks{})

	durations := []time.Duration{300, 120, 450, 80, 200}
	var expected, arrival time.Duration
	for i, d := range durations {
		d *= time.Millisecond
		out.setNow(arrival)
		require.NoError(t, s.Enqueue(chunk(d)))
		voices := waitPlayed(t, out, i+1)

		assert.Equal(t, expected, voices[i].start, "chunk %d", i)
		expected += d
		// Next chunk arrives before this one finishes.
		arrival += d / 2
	}
	assert.Equal(t, expected, s.NextStart())
}

func TestScheduler_SnapsForwardWhenBehind(t *testing.T) {
	out := &fakeOutput{}
	s := newTestScheduler(t, out, playback.Hooks{})

	require.NoError(t, s.Enqueue(chunk(100*time.Millisecond)))
	waitPlayed(t, out, 1)

	out.setNow(5 * time.Second)
	require.NoError(t, s.Enqueue(chunk(100*time.Millisecond)))
	voices := waitPlayed(t, out, 2)

	assert.Equal(t, 5*time.Second, voices[1].start)
	assert.Equal(t, 5100*time.Millisecond, s.NextStart())
}

func TestScheduler_FlushStopsEverything(t *testing.T) {
	out := &fakeOutput{}
	var idle atomic.Int32
	s := newTestScheduler(t, out, playback.Hooks{OnIdle: func() { idle.Add(1) }})

	for range 4 {
		require.NoError(t, s.Enqueue(chunk(time.Second)))
	}
	voices := waitPlayed(t, out, 4)
	out.setNow(1200 * time.Millisecond)

	s.Flush()

	assert.Equal(t, 0, s.Active())
	assert.LessOrEqual(t, s.NextStart(), out.Now())
	for _, v := range voices {
		assert.True(t, v.stopped.Load())
	}
	assert.Equal(t, int32(1), idle.Load())

	// Subsequent chunks start from now, not the stale timeline.
	require.NoError(t, s.Enqueue(chunk(time.Second)))
	voices = waitPlayed(t, out, 5)
	assert.Equal(t, 1200*time.Millisecond, voices[4].start)

	// A stopped voice reporting its end late does not disturb the set.
	voices[0].onEnded()
	assert.Equal(t, 1, s.Active())
}

func TestScheduler_FlushOnIdleIsQuiet(t *testing.T) {
	out := &fakeOutput{}
	var idle atomic.Int32
	s := newTestScheduler(t, out, playback.Hooks{OnIdle: func() { idle.Add(1) }})

	s.Flush()
	s.Flush()
	assert.Equal(t, int32(0), idle.Load())
}

func TestScheduler_BusyAndIdle(t *testing.T) {
	out := &fakeOutput{}
	var busy, idle atomic.Int32
	s := newTestScheduler(t, out, playback.Hooks{
		OnBusy: func() { busy.Add(1) },
		OnIdle: func() { idle.Add(1) },
	})

	require.NoError(t, s.Enqueue(chunk(100*time.Millisecond)))
	require.NoError(t, s.Enqueue(chunk(100*time.Millisecond)))
	voices := waitPlayed(t, out, 2)
	assert.Equal(t, int32(1), busy.Load())

	voices[0].onEnded()
	assert.Equal(t, int32(0), idle.Load())
	voices[1].onEnded()
	assert.Equal(t, int32(1), idle.Load())
	assert.Equal(t, 0, s.Active())
}

func TestScheduler_DecodeErrorDropsChunkOnly(t *testing.T) {
	out := &fakeOutput{}
	var dropped atomic.Int32
	var lastErr atomic.Value
	s := newTestScheduler(t, out, playback.Hooks{OnDropped: func(err error) {
		dropped.Add(1)
		lastErr.Store(err)
	}})

	require.NoError(t, s.Enqueue([]byte{1, 2, 3}))
	require.NoError(t, s.Enqueue(nil))
	require.NoError(t, s.Enqueue(chunk(250*time.Millisecond)))

	voices := waitPlayed(t, out, 1)
	assert.Equal(t, time.Duration(0), voices[0].start)
	assert.Equal(t, int32(2), dropped.Load())

	var decodeErr *playback.DecodeError
	assert.True(t, errors.As(lastErr.Load().(error), &decodeErr))
}

// gatedDecoder blocks every decode until released.
type gatedDecoder struct {
	inner   playback.Decoder
	started chan struct{}
	release chan struct{}
}

func (d *gatedDecoder) Decode(chunk []byte) (audio.Buffer, error) {
	d.started <- struct{}{}
	<-d.release
	return d.inner.Decode(chunk)
}

func TestScheduler_FlushDiscardsInFlightDecode(t *testing.T) {
	out := &fakeOutput{}
	dec := &gatedDecoder{
		inner:   playback.NewPCM16Decoder(testRate),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := playback.NewScheduler(zaptest.NewLogger(t), out, dec, playback.Hooks{})

	require.NoError(t, s.Enqueue(chunk(time.Second)))
	<-dec.started

	s.Flush()
	close(dec.release)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, out.played())
	assert.Equal(t, 0, s.Active())

	s.Close()
	assert.ErrorIs(t, s.Enqueue(chunk(time.Second)), playback.ErrClosed)
}

func TestPCM16Decoder(t *testing.T) {
	dec := playback.NewPCM16Decoder(audio.ServiceOutputSampleRate)

	buf, err := dec.Decode(make([]byte, 2400))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, buf.Duration())

	_, err = dec.Decode([]byte{0})
	var decodeErr *playback.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 1, decodeErr.Size)

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, playback.ErrEmptyChunk)
}

func TestMixerOutput_PlaysOnMixerClock(t *testing.T) {
	m := audio.NewMixer(testRate)
	closed := false
	out := playback.NewMixerOutput(m, func() error { closed = true; return nil })

	buf := audio.Buffer{SampleRate: testRate * 2, Channels: 1, Samples: make([]float32, 20)}
	v, err := out.Play(buf, 5*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	m.Render(make([]float32, 8))
	assert.Equal(t, 8*time.Millisecond, out.Now())

	v.Stop()
	assert.Equal(t, 0, m.Len())

	require.NoError(t, out.Close())
	assert.True(t, closed)
}

func TestMixerOutput_BackToBackChunksAtDeviceRate(t *testing.T) {
	const (
		deviceRate = 44100
		chunkLen   = 1200 // 50ms at the service rate
		chunks     = 100
	)
	m := audio.NewMixer(deviceRate)
	out := playback.NewMixerOutput(m, nil)

	for k := range chunks {
		samples := make([]float32, chunkLen)
		for i := range samples {
			samples[i] = 0.5
		}
		buf := audio.Buffer{SampleRate: audio.ServiceOutputSampleRate, Channels: 1, Samples: samples}
		_, err := out.Play(buf, time.Duration(k)*50*time.Millisecond, nil)
		require.NoError(t, err)
	}

	rendered := make([]float32, deviceRate*chunks/20+deviceRate/10)
	m.Render(rendered)

	// Gaps render as silence and overlaps sum above 0.5.
	played := 0
	for played < len(rendered) && rendered[played] == 0.5 {
		played++
	}
	assert.InDelta(t, deviceRate*chunks/20, played, 2)
	for i := played; i < len(rendered); i++ {
		require.Zero(t, rendered[i], "frame %d after the last chunk", i)
	}
}
