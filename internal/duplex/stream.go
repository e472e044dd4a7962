package duplex

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

const (
	// DefaultSendQueue bounds outbound frames awaiting the writer.
	DefaultSendQueue = 8

	eventBuffer = 64
)

// transport is the provider-specific half of a stream.
type transport interface {
	sendAudio(ctx context.Context, pcm []byte) error
	// receive blocks for the next server message and translates it.
	receive(ctx context.Context) ([]Event, error)
	close() error
}

// stream runs one writer and one reader goroutine over a transport and
// implements Channel.
type stream struct {
	logger   *zap.Logger
	provider string
	t        transport

	outbound chan []byte
	events   chan Event

	open    atomic.Bool
	closing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newStream(logger *zap.Logger, provider string, t transport, queueSize int) *stream {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &stream{
		logger:   logger.With(zap.String("provider", provider)),
		provider: provider,
		t:        t,
		outbound: make(chan []byte, queueSize),
		events:   make(chan Event, eventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}

	go s.writeLoop()
	go s.readLoop()

	return s
}

// Send implements Channel.
func (s *stream) Send(frame audio.Frame) error {
	if s.closing.Load() {
		return ErrClosed
	}
	if !s.open.Load() {
		return ErrNotOpen
	}

	select {
	case s.outbound <- audio.Float32ToPCM16LE(frame.Samples):
		return nil
	default:
		return ErrBackpressure
	}
}

// Events implements Channel.
func (s *stream) Events() <-chan Event {
	return s.events
}

// Close implements Channel.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.closed)
		s.cancel()
		s.closeErr = s.t.close()
		s.logger.Info("Channel closed")
	})
	return s.closeErr
}

func (s *stream) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.outbound:
			if err := s.t.sendAudio(s.ctx, pcm); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Warn("Failed to send audio frame", zap.Error(err))
			}
		}
	}
}

func (s *stream) readLoop() {
	defer close(s.events)

	for {
		events, err := s.t.receive(s.ctx)
		if err != nil {
			s.finish(err)
			return
		}

		for _, ev := range events {
			if ev.Kind == EventOpen {
				if s.open.Swap(true) {
					continue
				}
				s.logger.Info("Channel open")
			}

			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				s.finish(nil)
				return
			}
		}
	}
}

// finish emits the final EventClosed. After a local Close the consumer may
// have stopped reading, so delivery is best effort.
func (s *stream) finish(err error) {
	s.open.Store(false)

	if s.closing.Load() || s.ctx.Err() != nil {
		select {
		case s.events <- Event{Kind: EventClosed}:
		default:
		}
		return
	}

	s.logger.Warn("Channel closed unexpectedly", zap.Error(err))
	s.cancel()
	_ = s.t.close()

	select {
	case s.events <- Event{Kind: EventClosed, Err: &TransportError{Provider: s.provider, Err: err}}:
	case <-s.closed:
	}
}
