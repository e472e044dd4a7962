package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/internal/playback"
	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// Manager owns the PortAudio library and every stream opened through it.
// It implements capture.Opener and playback.OutputOpener.
type Manager struct {
	logger          *zap.Logger
	framesPerBuffer int

	mu          sync.Mutex
	initialized bool
	open        int
}

var errNotInitialized = errors.New("portaudio not initialized")

var (
	_ capture.Opener        = (*Manager)(nil)
	_ playback.OutputOpener = (*Manager)(nil)
)

// NewManager creates a Manager. Initialize must be called before use.
func NewManager(logger *zap.Logger, framesPerBuffer int) *Manager {
	if framesPerBuffer <= 0 {
		framesPerBuffer = audio.DefaultFramesPerBuffer
	}
	return &Manager{logger: logger, framesPerBuffer: framesPerBuffer}
}

// Initialize loads PortAudio.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	m.initialized = true

	m.logger.Info("PortAudio initialized", zap.String("version", portaudio.VersionText()))
	return nil
}

// Terminate unloads PortAudio. Streams still open are invalidated.
func (m *Manager) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	if m.open > 0 {
		m.logger.Warn("Terminating PortAudio with open streams", zap.Int("open_streams", m.open))
	}
	m.initialized = false
	return portaudio.Terminate()
}

// Devices lists every input and output device.
func (m *Manager) Devices() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.devicesLocked()
}

// Rescan reloads PortAudio so hot-plugged devices become visible. PortAudio
// only enumerates on initialization, and reloading invalidates open streams,
// so the rescan is skipped while any stream is open.
func (m *Manager) Rescan() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && m.open == 0 {
		if err := portaudio.Terminate(); err != nil {
			return nil, fmt.Errorf("terminate portaudio: %w", err)
		}
		if err := portaudio.Initialize(); err != nil {
			m.initialized = false
			return nil, fmt.Errorf("initialize portaudio: %w", err)
		}
	}

	return m.devicesLocked()
}

func (m *Manager) devicesLocked() ([]Info, error) {
	if !m.initialized {
		return nil, errNotInitialized
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defIn, _ := portaudio.DefaultInputDevice()
	defOut, _ := portaudio.DefaultOutputDevice()

	var out []Info
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, Info{
				ID:         deviceID(d),
				Name:       d.Name,
				Kind:       KindInput,
				Default:    defIn != nil && deviceID(defIn) == deviceID(d),
				SampleRate: d.DefaultSampleRate,
			})
		}
		if d.MaxOutputChannels > 0 {
			out = append(out, Info{
				ID:         deviceID(d),
				Name:       d.Name,
				Kind:       KindOutput,
				Default:    defOut != nil && deviceID(defOut) == deviceID(d),
				SampleRate: d.DefaultSampleRate,
			})
		}
	}
	return out, nil
}

// OpenInput opens a mono input stream satisfying c. An exact constraint
// fails when the device is missing; otherwise the default input is used.
func (m *Manager) OpenInput(ctx context.Context, c capture.Constraints, onFrame capture.FrameFunc) (capture.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dev, err := m.resolveLocked(c.DeviceID, KindInput, c.Exact)
	if err != nil {
		return nil, err
	}
	if c.EchoCancellation {
		m.logger.Debug("Echo cancellation requested; PortAudio streams are unprocessed",
			zap.String("device", dev.Name))
	}

	params := portaudio.HighLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.FramesPerBuffer = m.framesPerBuffer
	rate := int(params.SampleRate)

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		// PortAudio reuses in between callbacks.
		samples := make([]float32, len(in))
		copy(samples, in)
		onFrame(audio.Frame{Samples: samples, SampleRate: rate})
	})
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", dev.Name, err)
	}

	s, err := m.startLocked(stream)
	if err != nil {
		return nil, fmt.Errorf("start input %q: %w", dev.Name, err)
	}

	m.logger.Info("Input stream opened",
		zap.String("device", dev.Name),
		zap.Int("sample_rate", rate),
		zap.Int("frames_per_buffer", m.framesPerBuffer))
	return s, nil
}

// OpenOutput opens a mono output stream fed by a mixer running at the
// device's native rate. A missing device falls back to the default output.
func (m *Manager) OpenOutput(id string) (playback.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dev, err := m.resolveLocked(id, KindOutput, false)
	if err != nil {
		return nil, err
	}

	params := portaudio.HighLatencyParameters(nil, dev)
	params.Output.Channels = 1
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified
	mixer := audio.NewMixer(int(params.SampleRate))

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		mixer.Render(out)
	})
	if err != nil {
		return nil, fmt.Errorf("open output %q: %w", dev.Name, err)
	}

	s, err := m.startLocked(stream)
	if err != nil {
		return nil, fmt.Errorf("start output %q: %w", dev.Name, err)
	}

	m.logger.Info("Output stream opened",
		zap.String("device", dev.Name),
		zap.Int("sample_rate", mixer.SampleRate()))
	return playback.NewMixerOutput(mixer, s.Close), nil
}

func (m *Manager) resolveLocked(id string, kind Kind, exact bool) (*portaudio.DeviceInfo, error) {
	if !m.initialized {
		return nil, errNotInitialized
	}

	if id != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
		for _, d := range devices {
			if deviceID(d) == id && hasChannels(d, kind) {
				return d, nil
			}
		}
		if exact {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		m.logger.Warn("Selected device missing, using default",
			zap.String("device_id", id),
			zap.String("kind", string(kind)))
	}

	if kind == KindInput {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

func (m *Manager) startLocked(s *portaudio.Stream) (*paStream, error) {
	if err := s.Start(); err != nil {
		_ = s.Close()
		return nil, err
	}
	m.open++
	return &paStream{m: m, s: s}, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open--
}

// paStream is an open PortAudio stream.
type paStream struct {
	m    *Manager
	s    *portaudio.Stream
	once sync.Once
	err  error
}

// Close stops the stream, waiting for the callback in flight, and releases it.
func (s *paStream) Close() error {
	s.once.Do(func() {
		stopErr := s.s.Stop()
		closeErr := s.s.Close()
		s.m.release()
		s.err = errors.Join(stopErr, closeErr)
	})
	return s.err
}

func deviceID(d *portaudio.DeviceInfo) string {
	if d.HostApi == nil {
		return d.Name
	}
	return d.HostApi.Name + "/" + d.Name
}

func hasChannels(d *portaudio.DeviceInfo, kind Kind) bool {
	if kind == KindInput {
		return d.MaxInputChannels > 0
	}
	return d.MaxOutputChannels > 0
}
