package playback

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrClosed is returned when enqueueing on a closed scheduler.
var ErrClosed = errors.New("playback scheduler closed")

// Hooks are optional callbacks fired by the Scheduler. They run with the
// scheduler's lock held and must not call back into it.
type Hooks struct {
	// OnBusy fires when a chunk is scheduled while nothing was playing.
	OnBusy func()
	// OnIdle fires when the last scheduled chunk ends or is flushed.
	OnIdle func()
	// OnScheduled fires for every chunk placed on the timeline.
	OnScheduled func(start, duration time.Duration)
	// OnDropped fires for every chunk that is dropped.
	OnDropped func(err error)
}

type job struct {
	generation uint64
	chunk      []byte
}

// Scheduler decodes inbound audio chunks in arrival order and schedules them
// back to back on an Output. Flush abandons everything queued, decoding or
// playing.
type Scheduler struct {
	logger  *zap.Logger
	out     Output
	decoder Decoder
	hooks   Hooks

	mu         sync.Mutex
	nextStart  time.Duration
	generation uint64
	pending    []job
	active     map[uint64]Voice
	nextID     uint64
	closed     bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler and starts its decode worker.
func NewScheduler(logger *zap.Logger, out Output, decoder Decoder, hooks Hooks) *Scheduler {
	s := &Scheduler{
		logger:    logger,
		out:       out,
		decoder:   decoder,
		hooks:     hooks,
		nextStart: out.Now(),
		active:    make(map[uint64]Voice),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

// Enqueue queues a raw chunk for decoding and scheduling. It never blocks on
// decoding.
func (s *Scheduler) Enqueue(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending = append(s.pending, job{generation: s.generation, chunk: chunk})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	return nil
}

// Flush stops every active chunk, drops everything queued and resets the
// schedule to the output clock's current time. A decode in flight is
// discarded when it completes.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.pending)
	s.flushLocked()

	s.logger.Debug("Playback flushed", zap.Int("dropped_pending", dropped))
}

// NextStart returns the earliest time the next chunk may start.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextStart
}

// Active returns the number of chunks scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.active)
}

// Close flushes the scheduler and stops its worker. Safe to call multiple times.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.flushLocked()
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) flushLocked() {
	s.generation++
	s.pending = nil

	wasBusy := len(s.active) > 0
	for id, v := range s.active {
		v.Stop()
		delete(s.active, id)
	}

	s.nextStart = s.out.Now()

	if wasBusy && s.hooks.OnIdle != nil {
		s.hooks.OnIdle()
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			j, ok := s.pop()
			if !ok {
				break
			}
			s.process(j)
		}
	}
}

func (s *Scheduler) pop() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.pending) == 0 {
		return job{}, false
	}
	j := s.pending[0]
	s.pending = s.pending[1:]
	return j, true
}

func (s *Scheduler) process(j job) {
	buf, err := s.decoder.Decode(j.chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	if j.generation != s.generation {
		// Flushed while decoding.
		return
	}

	if err != nil {
		s.logger.Warn("Dropping undecodable audio chunk",
			zap.Int("size", len(j.chunk)),
			zap.Error(err))
		if s.hooks.OnDropped != nil {
			s.hooks.OnDropped(err)
		}
		return
	}

	start := max(s.nextStart, s.out.Now())
	duration := buf.Duration()

	s.nextID++
	id := s.nextID
	generation := s.generation

	voice, err := s.out.Play(buf, start, func() { s.ended(id, generation) })
	if err != nil {
		s.logger.Warn("Failed to schedule audio chunk", zap.Error(err))
		if s.hooks.OnDropped != nil {
			s.hooks.OnDropped(err)
		}
		return
	}

	s.nextStart = start + duration
	s.active[id] = voice

	if s.hooks.OnScheduled != nil {
		s.hooks.OnScheduled(start, duration)
	}
	if len(s.active) == 1 && s.hooks.OnBusy != nil {
		s.hooks.OnBusy()
	}
}

func (s *Scheduler) ended(id, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if generation != s.generation {
		return
	}
	if _, ok := s.active[id]; !ok {
		return
	}
	delete(s.active, id)

	if len(s.active) == 0 && s.hooks.OnIdle != nil {
		s.hooks.OnIdle()
	}
}
