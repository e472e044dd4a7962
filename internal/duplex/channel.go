// Package duplex implements the single persistent connection to the remote
// translation service: outbound microphone audio, inbound transcript deltas,
// synthesized audio and turn signals.
package duplex

import (
	"context"
	"errors"
	"fmt"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// EventKind identifies an inbound event.
type EventKind int

const (
	// EventOpen signals that the service accepted the session setup.
	EventOpen EventKind = iota + 1
	EventTranscriptDelta
	EventAudioChunk
	EventTurnComplete
	EventInterrupted
	// EventError reports a non-fatal error sent by the service.
	EventError
	// EventClosed is the last event of a channel. Err is nil when the
	// channel was closed locally and a *TransportError otherwise.
	EventClosed
)

var eventKindNames = map[EventKind]string{
	EventOpen:            "open",
	EventTranscriptDelta: "transcript_delta",
	EventAudioChunk:      "audio_chunk",
	EventTurnComplete:    "turn_complete",
	EventInterrupted:     "interrupted",
	EventError:           "error",
	EventClosed:          "closed",
}

// String implements fmt.Stringer.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Event is one inbound message from the service.
type Event struct {
	Kind EventKind
	// Text carries the fragment of an EventTranscriptDelta.
	Text string
	// Audio carries raw PCM16LE bytes of an EventAudioChunk.
	Audio []byte
	Err   error
}

// Config describes the session to open.
type Config struct {
	Model            string
	Voice            string
	Instructions     string
	InputSampleRate  int
	OutputSampleRate int
}

// Channel is an open session with the remote service.
type Channel interface {
	// Send queues one frame for transmission without blocking. Frames are
	// dropped with ErrNotOpen before the session is open and with
	// ErrBackpressure when the outbound queue is full.
	Send(frame audio.Frame) error
	// Events delivers inbound events in arrival order. The channel is
	// closed after EventClosed.
	Events() <-chan Event
	// Close ends the session. Safe to call more than once.
	Close() error
}

// Dialer opens channels. ctx bounds connection setup only; a returned
// Channel lives until it is closed.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Channel, error)
}

var (
	// ErrNotOpen is returned by Send before the service accepted the session.
	ErrNotOpen = errors.New("channel not open")
	// ErrBackpressure is returned by Send when the outbound queue is full.
	ErrBackpressure = errors.New("outbound queue full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("channel closed")
)

// ConnectError reports that a channel could not be opened.
type ConnectError struct {
	Provider string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Provider, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransportError reports an unexpected end of an open channel.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s connection lost: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
