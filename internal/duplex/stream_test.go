package duplex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// fakeTransport delivers scripted server messages and records sent audio.
type fakeTransport struct {
	inbound chan []Event
	failure chan error

	mu      sync.Mutex
	sent    [][]byte
	block   chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []Event, 16),
		failure: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) sendAudio(ctx context.Context, pcm []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pcm)
	return nil
}

func (f *fakeTransport) receive(context.Context) ([]Event, error) {
	select {
	case evs := <-f.inbound:
		return evs, nil
	case err := <-f.failure:
		return nil, err
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) close() error {
	f.closeMu.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func openStream(t *testing.T, ft *fakeTransport, queue int) *stream {
	t.Helper()
	s := newStream(zaptest.NewLogger(t), "fake", ft, queue)
	ft.inbound <- []Event{{Kind: EventOpen}}
	require.Equal(t, EventOpen, nextEvent(t, s.Events()).Kind)
	return s
}

func TestStream_DropsFramesBeforeOpen(t *testing.T) {
	ft := newFakeTransport()
	s := newStream(zaptest.NewLogger(t), "fake", ft, 4)
	defer s.Close()

	err := s.Send(audio.Frame{Samples: []float32{0.1}, SampleRate: 16000})
	assert.ErrorIs(t, err, ErrNotOpen)

	ft.inbound <- []Event{{Kind: EventOpen}}
	require.Equal(t, EventOpen, nextEvent(t, s.Events()).Kind)

	require.NoError(t, s.Send(audio.Frame{Samples: []float32{0.1, 0.2}, SampleRate: 16000}))
	assert.Eventually(t, func() bool { return ft.sentCount() == 1 }, time.Second, time.Millisecond)
}

func TestStream_BackpressureDropsInsteadOfBlocking(t *testing.T) {
	ft := newFakeTransport()
	ft.block = make(chan struct{})
	s := openStream(t, ft, 2)
	defer s.Close()

	frame := audio.Frame{Samples: []float32{0.1}, SampleRate: 16000}
	var dropped int
	for range 10 {
		if errors.Is(s.Send(frame), ErrBackpressure) {
			dropped++
		}
	}
	// One frame is held by the blocked writer, two sit in the queue.
	assert.GreaterOrEqual(t, dropped, 7)
	close(ft.block)
}

func TestStream_PreservesEventOrder(t *testing.T) {
	ft := newFakeTransport()
	s := openStream(t, ft, 4)
	defer s.Close()

	ft.inbound <- []Event{
		{Kind: EventTranscriptDelta, Text: "a"},
		{Kind: EventAudioChunk, Audio: []byte{1, 0}},
	}
	ft.inbound <- []Event{{Kind: EventTranscriptDelta, Text: "b"}, {Kind: EventTurnComplete}}

	var kinds []EventKind
	var text string
	for range 4 {
		ev := nextEvent(t, s.Events())
		kinds = append(kinds, ev.Kind)
		text += ev.Text
	}
	assert.Equal(t, []EventKind{EventTranscriptDelta, EventAudioChunk, EventTranscriptDelta, EventTurnComplete}, kinds)
	assert.Equal(t, "ab", text)
}

func TestStream_UnexpectedCloseIsTransportError(t *testing.T) {
	ft := newFakeTransport()
	s := openStream(t, ft, 4)

	ft.failure <- errors.New("websocket: close 1011")

	ev := nextEvent(t, s.Events())
	require.Equal(t, EventClosed, ev.Kind)
	var terr *TransportError
	require.ErrorAs(t, ev.Err, &terr)
	assert.Equal(t, "fake", terr.Provider)

	_, ok := <-s.Events()
	assert.False(t, ok, "events channel is closed after EventClosed")

	assert.ErrorIs(t, s.Send(audio.Frame{Samples: []float32{0}}), ErrNotOpen)
	require.NoError(t, s.Close())
}

func TestStream_LocalCloseIsClean(t *testing.T) {
	ft := newFakeTransport()
	s := openStream(t, ft, 4)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	for ev := range s.Events() {
		assert.Equal(t, EventClosed, ev.Kind)
		assert.NoError(t, ev.Err)
	}
	assert.ErrorIs(t, s.Send(audio.Frame{Samples: []float32{0}}), ErrClosed)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "audio_chunk", EventAudioChunk.String())
	assert.Equal(t, "unknown(99)", EventKind(99).String())
}
