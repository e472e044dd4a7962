package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

var errNoDevice = errors.New("no such device")

type fakeSource struct {
	closes int
}

func (s *fakeSource) Close() error {
	s.closes++
	return nil
}

// fakeOpener accepts only constraint sets for which accept returns true.
type fakeOpener struct {
	accept   func(capture.Constraints) bool
	tried    []capture.Constraints
	source   *fakeSource
	deliver  capture.FrameFunc
	nativeHz int
}

func (o *fakeOpener) OpenInput(_ context.Context, c capture.Constraints, onFrame capture.FrameFunc) (capture.Source, error) {
	o.tried = append(o.tried, c)
	if !o.accept(c) {
		return nil, errNoDevice
	}
	o.source = &fakeSource{}
	o.deliver = onFrame
	return o.source, nil
}

func (o *fakeOpener) push(samples []float32) {
	o.deliver(audio.Frame{Samples: samples, SampleRate: o.nativeHz})
}

type received struct {
	frame    audio.Frame
	loudness float32
}

func startTestPipeline(t *testing.T, opener *fakeOpener, deviceID string) (*capture.Handle, *[]received) {
	t.Helper()
	p := capture.NewPipeline(zaptest.NewLogger(t), opener, capture.Config{
		TargetSampleRate:   audio.GeminiInputSampleRate,
		NoiseGateThreshold: 0.01,
		EchoCancellation:   true,
	})

	var got []received
	h, err := p.Start(context.Background(), deviceID, func(f audio.Frame, loudness float32) {
		got = append(got, received{frame: f, loudness: loudness})
	})
	require.NoError(t, err)
	return h, &got
}

func TestPreferenceList(t *testing.T) {
	tests := map[string]struct {
		deviceID string
		expected []capture.Constraints
	}{
		"no_device_selected": {
			deviceID: "",
			expected: []capture.Constraints{{EchoCancellation: true}},
		},
		"device_selected": {
			deviceID: "mic-1",
			expected: []capture.Constraints{
				{DeviceID: "mic-1", Exact: true, EchoCancellation: false},
				{DeviceID: "mic-1", EchoCancellation: false},
				{EchoCancellation: true},
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, capture.PreferenceList(tt.deviceID, false))
		})
	}
}

func TestPipeline_FallsBackThroughPreferences(t *testing.T) {
	opener := &fakeOpener{
		nativeHz: 16000,
		accept:   func(c capture.Constraints) bool { return c.DeviceID == "" },
	}

	h, _ := startTestPipeline(t, opener, "usb-headset")
	defer h.Stop()

	require.Len(t, opener.tried, 3)
	assert.True(t, opener.tried[0].Exact)
	assert.False(t, opener.tried[1].Exact)
	assert.Empty(t, opener.tried[2].DeviceID)
}

func TestPipeline_DeviceErrorWhenAllFail(t *testing.T) {
	opener := &fakeOpener{accept: func(capture.Constraints) bool { return false }}
	p := capture.NewPipeline(zaptest.NewLogger(t), opener, capture.Config{TargetSampleRate: 16000})

	h, err := p.Start(context.Background(), "mic-1", func(audio.Frame, float32) {})
	assert.Nil(t, h)

	var devErr *capture.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Len(t, devErr.Attempts, 3)
	assert.ErrorIs(t, err, errNoDevice)
	assert.Contains(t, err.Error(), "exact(mic-1)")
}

func TestPipeline_NoiseGate(t *testing.T) {
	opener := &fakeOpener{nativeHz: 16000, accept: func(capture.Constraints) bool { return true }}
	h, got := startTestPipeline(t, opener, "")
	defer h.Stop()

	quiet := []float32{0.004, -0.004, 0.004, -0.004}
	loud := []float32{0.5, -0.5, 0.5, -0.5}
	opener.push(quiet)
	opener.push(loud)

	require.Len(t, *got, 2)

	assert.Equal(t, []float32{0, 0, 0, 0}, (*got)[0].frame.Samples)
	assert.InDelta(t, 0.004, (*got)[0].loudness, 1e-6, "true loudness is reported")

	assert.Equal(t, loud, (*got)[1].frame.Samples)
	assert.InDelta(t, 0.5, (*got)[1].loudness, 1e-6)
}

func TestPipeline_ZeroThresholdDisablesGate(t *testing.T) {
	opener := &fakeOpener{nativeHz: 16000, accept: func(capture.Constraints) bool { return true }}
	p := capture.NewPipeline(zaptest.NewLogger(t), opener, capture.Config{TargetSampleRate: 16000})

	var got []audio.Frame
	h, err := p.Start(context.Background(), "", func(f audio.Frame, _ float32) {
		got = append(got, f)
	})
	require.NoError(t, err)
	defer h.Stop()

	quiet := []float32{0.004, -0.004}
	opener.push(quiet)

	require.Len(t, got, 1)
	assert.Equal(t, quiet, got[0].Samples)
}

func TestPipeline_ResamplesToTargetRate(t *testing.T) {
	opener := &fakeOpener{nativeHz: 48000, accept: func(capture.Constraints) bool { return true }}
	h, got := startTestPipeline(t, opener, "")
	defer h.Stop()

	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = 0.25
	}
	opener.push(samples)

	require.Len(t, *got, 1)
	assert.Equal(t, audio.GeminiInputSampleRate, (*got)[0].frame.SampleRate)
	assert.Len(t, (*got)[0].frame.Samples, 1600)
}

func TestHandle_StopIsIdempotentAndDropsLateFrames(t *testing.T) {
	opener := &fakeOpener{nativeHz: 16000, accept: func(capture.Constraints) bool { return true }}
	h, got := startTestPipeline(t, opener, "")

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.Equal(t, 1, opener.source.closes)

	assert.NotPanics(t, func() { opener.push([]float32{0.5}) })
	assert.Empty(t, *got)
}

func TestHandle_StopRacesFrameDelivery(t *testing.T) {
	opener := &fakeOpener{nativeHz: 16000, accept: func(capture.Constraints) bool { return true }}
	p := capture.NewPipeline(zaptest.NewLogger(t), opener, capture.Config{TargetSampleRate: 16000})

	var mu sync.Mutex
	count := 0
	h, err := p.Start(context.Background(), "", func(audio.Frame, float32) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 1000 {
			opener.push([]float32{0.2, 0.2})
		}
	}()
	require.NoError(t, h.Stop())

	mu.Lock()
	atStop := count
	mu.Unlock()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, atStop, count, "no frames after Stop returns")
}

func TestPipeline_ResamplesAcrossFrames(t *testing.T) {
	opener := &fakeOpener{nativeHz: 44100, accept: func(capture.Constraints) bool { return true }}
	h, got := startTestPipeline(t, opener, "")
	defer h.Stop()

	const callbacks, frameLen = 43, 1024
	for range callbacks {
		samples := make([]float32, frameLen)
		for i := range samples {
			samples[i] = 0.25
		}
		opener.push(samples)
	}

	total := 0
	for _, r := range *got {
		total += len(r.frame.Samples)
	}
	exact := float64(callbacks*frameLen) * audio.GeminiInputSampleRate / 44100
	assert.InDelta(t, exact, float64(total), 1)
}
