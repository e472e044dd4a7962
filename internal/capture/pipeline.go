// Package capture acquires a microphone stream, meters and gates it, and
// delivers frames resampled to the remote service's input rate.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// Constraints describe the input stream to acquire.
type Constraints struct {
	// DeviceID selects a device; empty means the system default.
	DeviceID string
	// Exact fails the attempt when DeviceID is unavailable instead of
	// falling back to the default device.
	Exact            bool
	EchoCancellation bool
}

// String implements fmt.Stringer.
func (c Constraints) String() string {
	switch {
	case c.DeviceID == "":
		return fmt.Sprintf("default(echo_cancellation=%t)", c.EchoCancellation)
	case c.Exact:
		return fmt.Sprintf("exact(%s)", c.DeviceID)
	default:
		return fmt.Sprintf("ideal(%s)", c.DeviceID)
	}
}

// PreferenceList returns constraint sets from strictest to loosest:
// the exact device, the device as a preference, then any echo-cancelled input.
func PreferenceList(deviceID string, echoCancellation bool) []Constraints {
	generic := Constraints{EchoCancellation: true}
	if deviceID == "" {
		return []Constraints{generic}
	}
	return []Constraints{
		{DeviceID: deviceID, Exact: true, EchoCancellation: echoCancellation},
		{DeviceID: deviceID, EchoCancellation: echoCancellation},
		generic,
	}
}

// FrameFunc receives raw frames from an input device at its native rate, one
// frame at a time and in capture order.
type FrameFunc func(audio.Frame)

// Source is an open input stream.
type Source interface {
	// Close stops the stream and releases the device. After Close returns
	// no further frames are delivered.
	Close() error
}

// Opener acquires input streams.
type Opener interface {
	OpenInput(ctx context.Context, c Constraints, onFrame FrameFunc) (Source, error)
}

// Handler receives each processed frame together with its true loudness.
type Handler func(frame audio.Frame, loudness float32)

// Attempt records one failed acquisition.
type Attempt struct {
	Constraints Constraints
	Err         error
}

// DeviceError reports that no input stream could be acquired.
type DeviceError struct {
	Attempts []Attempt
}

func (e *DeviceError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Constraints, a.Err)
	}
	return "microphone unavailable: " + strings.Join(parts, "; ")
}

// Unwrap returns the error of the last attempt.
func (e *DeviceError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Config configures a Pipeline.
type Config struct {
	TargetSampleRate int
	// NoiseGateThreshold mutes frames quieter than it. Zero turns the gate off.
	NoiseGateThreshold float32
	EchoCancellation   bool
}

// Pipeline starts capture sessions.
type Pipeline struct {
	logger *zap.Logger
	opener Opener
	cfg    Config
}

// NewPipeline creates a Pipeline.
func NewPipeline(logger *zap.Logger, opener Opener, cfg Config) *Pipeline {
	return &Pipeline{logger: logger, opener: opener, cfg: cfg}
}

// Start acquires an input stream for deviceID, trying each constraint set of
// the preference list in turn. handler is called once per captured frame.
func (p *Pipeline) Start(ctx context.Context, deviceID string, handler Handler) (*Handle, error) {
	h := &Handle{
		handler:   handler,
		resampler: audio.NewResampler(p.cfg.TargetSampleRate),
		threshold: p.cfg.NoiseGateThreshold,
	}

	var attempts []Attempt
	for _, c := range PreferenceList(deviceID, p.cfg.EchoCancellation) {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Constraints: c, Err: err})
			break
		}

		src, err := p.opener.OpenInput(ctx, c, h.onFrame)
		if err != nil {
			p.logger.Warn("Input constraints not satisfiable, trying looser set",
				zap.Stringer("constraints", c),
				zap.Error(err))
			attempts = append(attempts, Attempt{Constraints: c, Err: err})
			continue
		}

		p.logger.Info("Microphone acquired",
			zap.Stringer("constraints", c),
			zap.Int("target_sample_rate", p.cfg.TargetSampleRate))
		h.source = src
		return h, nil
	}

	return nil, &DeviceError{Attempts: attempts}
}

// Handle is a running capture session.
type Handle struct {
	handler   Handler
	resampler *audio.Resampler
	threshold float32
	source    Source

	// Frame delivery holds the read lock; Stop takes the write lock, so it
	// waits for an in-flight frame and every later frame sees stopped.
	mu      sync.RWMutex
	stopped bool

	stopOnce sync.Once
	stopErr  error
}

func (h *Handle) onFrame(f audio.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		return
	}

	loudness := audio.RMS(f.Samples)
	gated := audio.Frame{
		Samples:    audio.Gate(f.Samples, loudness, h.threshold),
		SampleRate: f.SampleRate,
	}

	h.handler(h.resampler.Process(gated), loudness)
}

// Stop releases the input device. It is safe to call more than once and
// concurrently with frame delivery.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		h.mu.Unlock()

		if h.source != nil {
			h.stopErr = h.source.Close()
		}
	})
	return h.stopErr
}
