// Package playback schedules synthesized speech chunks for gapless playback
// against an output clock.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

// Clock reports the output device's monotonic playback position.
type Clock interface {
	Now() time.Duration
}

// Voice is one buffer scheduled on an Output.
type Voice interface {
	// Stop silences the voice immediately. Its end callback does not fire.
	Stop()
}

// Output plays decoded buffers at precise clock times.
type Output interface {
	Clock
	// Play schedules buf to start at the given clock time. onEnded fires
	// once playback of buf completes naturally, never from within Play.
	Play(buf audio.Buffer, at time.Duration, onEnded func()) (Voice, error)
	Close() error
}

// OutputOpener opens the output device identified by deviceID. An empty id
// selects the system default.
type OutputOpener interface {
	OpenOutput(deviceID string) (Output, error)
}

// Decoder turns a raw chunk from the remote service into playable audio.
type Decoder interface {
	Decode(chunk []byte) (audio.Buffer, error)
}

// DecodeError reports a chunk that could not be decoded.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d byte chunk: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEmptyChunk is returned for chunks that carry no samples.
var ErrEmptyChunk = errors.New("empty audio chunk")

// PCM16Decoder decodes raw little-endian 16-bit PCM at a fixed format.
type PCM16Decoder struct {
	SampleRate int
	Channels   int
}

// NewPCM16Decoder creates a decoder for the services' synthesized speech format.
func NewPCM16Decoder(sampleRate int) *PCM16Decoder {
	return &PCM16Decoder{SampleRate: sampleRate, Channels: audio.ServiceChannels}
}

// Decode implements Decoder.
func (d *PCM16Decoder) Decode(chunk []byte) (audio.Buffer, error) {
	if len(chunk) == 0 {
		return audio.Buffer{}, &DecodeError{Err: ErrEmptyChunk}
	}
	samples, err := audio.PCM16LEToFloat32(chunk)
	if err != nil {
		return audio.Buffer{}, &DecodeError{Size: len(chunk), Err: err}
	}
	if len(samples)%d.Channels != 0 {
		return audio.Buffer{}, &DecodeError{Size: len(chunk), Err: fmt.Errorf("partial frame for %d channels", d.Channels)}
	}

	return audio.Buffer{SampleRate: d.SampleRate, Channels: d.Channels, Samples: samples}, nil
}

// MixerOutput is an Output backed by a software mixer. A device stream pulls
// rendered samples from the mixer, which advances the clock.
type MixerOutput struct {
	mixer   *audio.Mixer
	closeFn func() error

	mu        sync.Mutex
	resampler *audio.Resampler
}

// NewMixerOutput wraps m. closeFn, if set, releases the device feeding on m.
func NewMixerOutput(m *audio.Mixer, closeFn func() error) *MixerOutput {
	return &MixerOutput{mixer: m, closeFn: closeFn, resampler: audio.NewResampler(m.SampleRate())}
}

// Mixer returns the underlying mixer.
func (o *MixerOutput) Mixer() *audio.Mixer {
	return o.mixer
}

// Now implements Clock.
func (o *MixerOutput) Now() time.Duration {
	return o.mixer.Now()
}

// Play implements Output. Buffers are downmixed and resampled to the mixer
// rate. A buffer that continues the previous one is resampled as part of the
// same stream, so back-to-back chunks stay sample exact.
func (o *MixerOutput) Play(buf audio.Buffer, at time.Duration, onEnded func()) (Voice, error) {
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", buf.SampleRate)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.mixer.Follows(at) {
		o.resampler.Reset()
	}
	frame := o.resampler.Process(audio.Frame{Samples: buf.Mono(), SampleRate: buf.SampleRate})
	id := o.mixer.Add(frame.Samples, at, onEnded)

	return &mixerVoice{mixer: o.mixer, id: id}, nil
}

// Close implements Output.
func (o *MixerOutput) Close() error {
	o.mixer.Clear()
	if o.closeFn != nil {
		return o.closeFn()
	}
	return nil
}

type mixerVoice struct {
	mixer *audio.Mixer
	id    uint64
}

func (v *mixerVoice) Stop() {
	v.mixer.Remove(v.id)
}
