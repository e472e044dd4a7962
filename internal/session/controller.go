// Package session owns the lifecycle of a live translation session: the
// microphone capture, the duplex channel, the transcript router and the
// playback scheduler are acquired together and torn down together.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/internal/duplex"
	"github.com/Raikerian/go-live-interpreter/internal/language"
	"github.com/Raikerian/go-live-interpreter/internal/metrics"
	"github.com/Raikerian/go-live-interpreter/internal/playback"
	"github.com/Raikerian/go-live-interpreter/internal/router"
	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// Options configure a Controller.
type Options struct {
	Routing            router.Config
	Service            duplex.Config
	Reconnect          ReconnectPolicy
	NoiseGateThreshold float32
}

// liveSession is the aggregate of everything one session holds.
type liveSession struct {
	id        string
	capture   *capture.Handle
	output    playback.Output
	scheduler *playback.Scheduler
	channel   duplex.Channel
	router    *router.Router

	// ready is set once channel is assigned; capture callbacks check it.
	ready atomic.Bool

	loopStarted bool
	done        chan struct{}
	teardown    sync.Once
}

// pendingStart is a connect in progress. done closes once it has either
// handed its session to the controller or released everything it acquired.
type pendingStart struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller drives the session state machine. Its methods are safe for
// concurrent use.
type Controller struct {
	logger   *zap.Logger
	pipeline *capture.Pipeline
	outputs  playback.OutputOpener
	dialer   duplex.Dialer
	metrics  *metrics.Metrics
	opts     Options

	mu       sync.Mutex
	state    State
	status   Status
	errMsg   string
	settings Settings
	live     *liveSession
	texts    router.Snapshot
	// attempt identifies the current start; Stop and Start bump it so a
	// superseded connect tears itself down.
	attempt         uint64
	connecting      *pendingStart
	cancelReconnect context.CancelFunc
	closed          bool

	level atomic.Uint32

	subMu     sync.Mutex
	subs      map[int]func(Snapshot)
	levelSubs map[int]func(float32)
	nextSub   int
}

// NewController creates an idle controller.
func NewController(
	logger *zap.Logger,
	pipeline *capture.Pipeline,
	outputs playback.OutputOpener,
	dialer duplex.Dialer,
	m *metrics.Metrics,
	opts Options,
	settings Settings,
) *Controller {
	c := &Controller{
		logger:   logger,
		pipeline: pipeline,
		outputs:  outputs,
		dialer:   dialer,
		metrics:  m,
		opts:     opts,
		settings: settings,
		subs:     make(map[int]func(Snapshot)),

		levelSubs: make(map[int]func(float32)),
	}
	c.setStateLocked(StateIdle, StatusIdle)
	return c
}

// Start acquires a new session. It returns ErrAlreadyActive while a session
// is live or connecting. On failure every acquired resource is released and
// the controller enters the error state.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateActive || c.state == StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.cancelReconnectLocked()
	c.attempt++
	token := c.attempt
	c.errMsg = ""
	c.setStateLocked(StateConnecting, StatusConnecting)
	c.mu.Unlock()

	c.publish()

	return c.establish(ctx, token, true)
}

// Stop tears the session down and returns to idle. Calling Stop on an idle
// controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasIdle := c.state == StateIdle && c.live == nil
	c.cancelReconnectLocked()
	pending := c.cancelConnectLocked()
	c.attempt++
	ls := c.live
	c.live = nil
	c.errMsg = ""
	c.resetViewLocked()
	c.setStateLocked(StateIdle, StatusIdle)
	c.mu.Unlock()

	if ls != nil {
		c.logger.Info("Stopping session", zap.String("session_id", ls.id))
		c.teardown(ls)
	}
	if pending != nil {
		<-pending.done
	}
	if !wasIdle {
		c.publish()
	}
}

// Restart replaces the live session with a fresh one. An idle controller is
// simply started.
func (c *Controller) Restart(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancelReconnectLocked()
	pending := c.cancelConnectLocked()
	c.attempt++
	token := c.attempt
	ls := c.live
	c.live = nil
	c.errMsg = ""
	c.resetViewLocked()
	c.setStateLocked(StateConnecting, StatusConnecting)
	c.mu.Unlock()

	if ls != nil {
		c.logger.Info("Restarting session", zap.String("session_id", ls.id))
		c.teardown(ls)
	}
	if pending != nil {
		<-pending.done
	}
	c.publish()

	return c.establish(ctx, token, true)
}

// UpdateSettings stores new settings and restarts a live session if they changed.
func (c *Controller) UpdateSettings(ctx context.Context, s Settings) error {
	if _, ok := language.Lookup(s.UserLanguage); !ok {
		return fmt.Errorf("unsupported user language %q", s.UserLanguage)
	}
	if _, ok := language.Lookup(s.GuestLanguage); !ok {
		return fmt.Errorf("unsupported guest language %q", s.GuestLanguage)
	}

	c.mu.Lock()
	changed := c.settings != s
	c.settings = s
	running := c.state == StateActive || c.state == StateConnecting
	c.mu.Unlock()

	if !changed {
		return nil
	}

	c.logger.Info("Settings updated",
		zap.String("user_language", s.UserLanguage),
		zap.String("guest_language", s.GuestLanguage),
		zap.String("input_device", s.InputDevice),
		zap.String("output_device", s.OutputDevice),
		zap.Bool("restart", running))

	if running {
		return c.Restart(ctx)
	}
	c.publish()
	return nil
}

// Settings returns the current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings
}

// Snapshot returns the state rendered by the UI.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:    c.state,
		Status:   c.status,
		Routing:  c.texts.Active.String(),
		User:     channelView(c.texts.User),
		Guest:    channelView(c.texts.Guest),
		Level:    c.Level(),
		Error:    c.errMsg,
		Settings: c.settings,
	}
	if c.live != nil {
		snap.SessionID = c.live.id
	}
	return snap
}

// Level returns the most recent microphone loudness.
func (c *Controller) Level() float32 {
	return math.Float32frombits(c.level.Load())
}

// Subscribe registers fn for every state change. fn runs synchronously on
// the goroutine causing the change and must not block.
func (c *Controller) Subscribe(fn func(Snapshot)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// SubscribeLevel registers fn for every loudness measurement. fn runs on
// the audio callback and must not block.
func (c *Controller) SubscribeLevel(fn func(float32)) (cancel func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.levelSubs[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.levelSubs, id)
	}
}

// Close stops the session and rejects further starts.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
}

// establish acquires the session parts for the start identified by token.
// When failOnError is set a failure moves the controller to the error state.
// Stop and Restart cancel ctx while it runs and wait for it to release what
// it holds.
func (c *Controller) establish(ctx context.Context, token uint64, failOnError bool) error {
	ctx, cancel := context.WithCancel(ctx)
	pending := &pendingStart{cancel: cancel, done: make(chan struct{})}
	defer close(pending.done)
	defer cancel()

	c.mu.Lock()
	if token != c.attempt || c.state != StateConnecting {
		c.mu.Unlock()
		return ErrStopped
	}
	c.connecting = pending
	settings := c.settings
	c.mu.Unlock()

	ls, err := c.open(ctx, settings)

	c.mu.Lock()
	if c.connecting == pending {
		c.connecting = nil
	}
	if token != c.attempt || c.state != StateConnecting {
		c.mu.Unlock()
		if ls != nil {
			c.teardown(ls)
		}
		return ErrStopped
	}

	if err != nil {
		if failOnError {
			c.failLocked(err)
		}
		c.mu.Unlock()
		if failOnError {
			c.publish()
		}
		return err
	}

	c.live = ls
	ls.loopStarted = true
	c.errMsg = ""
	c.setStateLocked(StateActive, StatusListening)
	c.mu.Unlock()

	go c.loop(ls)

	c.metrics.SessionsStarted.Inc()
	c.logger.Info("Session active", zap.String("session_id", ls.id))
	c.publish()

	return nil
}

// open acquires capture, output with its scheduler, and the channel. On
// failure everything acquired so far is released.
func (c *Controller) open(ctx context.Context, s Settings) (*liveSession, error) {
	instructions, err := language.Instructions(s.UserLanguage, s.GuestLanguage, c.opts.Routing.UserTag, c.opts.Routing.GuestTag)
	if err != nil {
		return nil, err
	}

	ls := &liveSession{
		id:     uuid.NewString(),
		router: router.New(c.opts.Routing),
		done:   make(chan struct{}),
	}
	logger := c.logger.With(zap.String("session_id", ls.id))

	ls.capture, err = c.pipeline.Start(ctx, s.InputDevice, c.frameHandler(ls))
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		c.teardown(ls)
		return nil, err
	}
	ls.output, err = c.outputs.OpenOutput(s.OutputDevice)
	if err != nil {
		c.teardown(ls)
		return nil, &OutputError{DeviceID: s.OutputDevice, Err: err}
	}
	ls.scheduler = playback.NewScheduler(logger, ls.output, playback.NewPCM16Decoder(c.opts.Service.OutputSampleRate), c.playbackHooks(ls))

	if err := ctx.Err(); err != nil {
		c.teardown(ls)
		return nil, err
	}
	cfg := c.opts.Service
	cfg.Instructions = instructions
	ls.channel, err = c.dial(ctx, cfg)
	if err != nil {
		c.teardown(ls)
		return nil, err
	}
	ls.ready.Store(true)

	return ls, nil
}

// dial opens the channel, giving up as soon as ctx is cancelled even when
// the dialer does not. A channel that arrives after that is closed.
func (c *Controller) dial(ctx context.Context, cfg duplex.Config) (duplex.Channel, error) {
	type result struct {
		channel duplex.Channel
		err     error
	}
	res := make(chan result, 1)
	go func() {
		ch, err := c.dialer.Dial(ctx, cfg)
		res <- result{channel: ch, err: err}
	}()

	select {
	case r := <-res:
		return r.channel, r.err
	case <-ctx.Done():
		go func() {
			if r := <-res; r.channel != nil {
				_ = r.channel.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// teardown releases every part of ls that was acquired. It waits for the
// event loop, so it must not run on it.
func (c *Controller) teardown(ls *liveSession) {
	ls.teardown.Do(func() {
		if ls.capture != nil {
			if err := ls.capture.Stop(); err != nil {
				c.logger.Warn("Failed to release microphone", zap.Error(err))
			}
		}
		if ls.channel != nil {
			if err := ls.channel.Close(); err != nil {
				c.logger.Debug("Channel close reported error", zap.Error(err))
			}
		}
		if ls.scheduler != nil {
			ls.scheduler.Close()
		}
		if ls.output != nil {
			if err := ls.output.Close(); err != nil {
				c.logger.Warn("Failed to release output device", zap.Error(err))
			}
		}
		if ls.loopStarted {
			<-ls.done
		}
		ls.router.Reset()
		c.storeLevel(0)
	})
}

func (c *Controller) frameHandler(ls *liveSession) capture.Handler {
	return func(frame audio.Frame, loudness float32) {
		c.metrics.FramesCaptured.Inc()
		if audio.Gated(loudness, c.opts.NoiseGateThreshold) {
			c.metrics.FramesGated.Inc()
		}
		c.storeLevel(loudness)

		if !ls.ready.Load() {
			c.metrics.FramesDropped.WithLabelValues("not_ready").Inc()
			return
		}

		switch err := ls.channel.Send(frame); {
		case err == nil:
			c.metrics.FramesSent.Inc()
		case errors.Is(err, duplex.ErrNotOpen):
			c.metrics.FramesDropped.WithLabelValues("not_open").Inc()
		case errors.Is(err, duplex.ErrBackpressure):
			c.metrics.FramesDropped.WithLabelValues("backpressure").Inc()
		default:
			c.metrics.FramesDropped.WithLabelValues("closed").Inc()
		}
	}
}

func (c *Controller) playbackHooks(ls *liveSession) playback.Hooks {
	return playback.Hooks{
		OnBusy: func() { c.setPlaying(ls, true) },
		OnIdle: func() { c.setPlaying(ls, false) },
		OnScheduled: func(_, d time.Duration) {
			c.metrics.ChunksScheduled.Inc()
			c.metrics.ChunkDuration.Observe(d.Seconds())
			c.metrics.SecondsSynthesized.Add(d.Seconds())
		},
		OnDropped: func(error) {
			c.metrics.ChunksDropped.Inc()
		},
	}
}

// loop dispatches inbound events in arrival order. It is the only goroutine
// touching ls.router.
func (c *Controller) loop(ls *liveSession) {
	defer close(ls.done)

	for ev := range ls.channel.Events() {
		switch ev.Kind {
		case duplex.EventOpen:
			c.logger.Debug("Remote session open", zap.String("session_id", ls.id))

		case duplex.EventTranscriptDelta:
			c.metrics.TranscriptDeltas.Inc()
			ls.router.Delta(ev.Text)
			c.updateTexts(ls)

		case duplex.EventAudioChunk:
			if err := ls.scheduler.Enqueue(ev.Audio); err != nil {
				c.metrics.ChunksDropped.Inc()
			}

		case duplex.EventTurnComplete:
			c.metrics.TurnsCompleted.Inc()
			ls.router.TurnComplete()
			c.updateTexts(ls)
			c.clearRemoteError(ls)

		case duplex.EventInterrupted:
			c.metrics.Interruptions.Inc()
			ls.scheduler.Flush()
			ls.router.Interrupted()
			c.updateTexts(ls)

		case duplex.EventError:
			c.metrics.RemoteErrors.Inc()
			c.logger.Warn("Remote service reported an error",
				zap.String("session_id", ls.id),
				zap.Error(ev.Err))
			c.reportRemoteError(ls, ev.Err)

		case duplex.EventClosed:
			c.handleClosed(ls, ev.Err)
		}
	}
}

func (c *Controller) updateTexts(ls *liveSession) {
	snap := ls.router.Snapshot()

	c.mu.Lock()
	if c.live != ls {
		c.mu.Unlock()
		return
	}
	c.texts = snap
	c.mu.Unlock()

	c.publish()
}

// reportRemoteError shows a service error next to the live session. The
// session keeps running; the message clears on the next completed turn.
func (c *Controller) reportRemoteError(ls *liveSession, err error) {
	c.mu.Lock()
	if c.live != ls {
		c.mu.Unlock()
		return
	}
	c.errMsg = describeRemote(err)
	c.mu.Unlock()

	c.publish()
}

func (c *Controller) clearRemoteError(ls *liveSession) {
	c.mu.Lock()
	if c.live != ls || c.errMsg == "" {
		c.mu.Unlock()
		return
	}
	c.errMsg = ""
	c.mu.Unlock()

	c.publish()
}

func (c *Controller) setPlaying(ls *liveSession, playing bool) {
	c.mu.Lock()
	if c.live != ls || c.state != StateActive {
		c.mu.Unlock()
		return
	}
	if playing {
		c.status = StatusTranslating
		c.metrics.PlaybackActive.Set(1)
	} else {
		c.status = StatusListening
		c.metrics.PlaybackActive.Set(0)
	}
	c.mu.Unlock()

	c.publish()
}

// handleClosed runs on the event loop when the channel ends.
func (c *Controller) handleClosed(ls *liveSession, err error) {
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.live != ls {
		c.mu.Unlock()
		return
	}
	c.live = nil
	c.attempt++
	token := c.attempt
	c.resetViewLocked()

	if c.opts.Reconnect.Enabled && !c.closed {
		c.metrics.SessionFailures.WithLabelValues(failureKind(err)).Inc()
		c.logger.Warn("Connection lost, reconnecting",
			zap.String("session_id", ls.id),
			zap.Duration("initial_delay", c.opts.Reconnect.InitialDelay),
			zap.Error(err))
		c.setStateLocked(StateConnecting, StatusConnecting)
		ctx, cancel := context.WithCancel(context.Background())
		c.cancelReconnect = cancel
		go c.reconnect(ctx, token)
	} else {
		c.logger.Error("Connection lost", zap.String("session_id", ls.id), zap.Error(err))
		c.failLocked(err)
	}
	c.mu.Unlock()

	// The loop is still running; release the rest elsewhere.
	go c.teardown(ls)
	c.publish()
}

// reconnect retries the start identified by token with exponential backoff.
// Only connection failures are retried.
func (c *Controller) reconnect(ctx context.Context, token uint64) {
	policy := c.opts.Reconnect

	select {
	case <-ctx.Done():
		return
	case <-time.After(policy.InitialDelay):
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialDelay
	if policy.MaxDelay > 0 {
		eb.MaxInterval = policy.MaxDelay
	}
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = eb
	if policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))
	}

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		c.metrics.Reconnects.Inc()

		err := c.establish(ctx, token, false)
		var connectErr *duplex.ConnectError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrStopped), ctx.Err() != nil:
			return backoff.Permanent(ErrStopped)
		case errors.As(err, &connectErr):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		c.logger.Warn("Reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})

	if err == nil || errors.Is(err, ErrStopped) || ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if token != c.attempt || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.logger.Error("Giving up reconnecting", zap.Int("attempts", attempt), zap.Error(err))
	c.failLocked(err)
	c.mu.Unlock()

	c.publish()
}

func (c *Controller) cancelReconnectLocked() {
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
}

// cancelConnectLocked cancels a connect in progress and returns it so the
// caller can wait for it after releasing the lock.
func (c *Controller) cancelConnectLocked() *pendingStart {
	pending := c.connecting
	c.connecting = nil
	if pending != nil {
		pending.cancel()
	}
	return pending
}

func (c *Controller) failLocked(err error) {
	kind := failureKind(err)
	c.metrics.SessionFailures.WithLabelValues(kind).Inc()
	c.errMsg = describe(err)
	c.resetViewLocked()
	c.setStateLocked(StateError, StatusError)

	c.logger.Error("Session failed", zap.String("kind", kind), zap.Error(err))
}

func (c *Controller) resetViewLocked() {
	c.texts = router.Snapshot{}
	c.metrics.PlaybackActive.Set(0)
}

func (c *Controller) setStateLocked(state State, status Status) {
	c.state = state
	if status != "" {
		c.status = status
	}
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.metrics.SessionState.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Controller) storeLevel(v float32) {
	c.level.Store(math.Float32bits(v))

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, fn := range c.levelSubs {
		fn(v)
	}
}

func (c *Controller) publish() {
	snap := c.Snapshot()

	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
