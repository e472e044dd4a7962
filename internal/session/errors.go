package session

import (
	"errors"
	"fmt"

	"github.com/Raikerian/go-live-interpreter/internal/capture"
	"github.com/Raikerian/go-live-interpreter/internal/duplex"
)

// OutputError reports that the playback device could not be opened.
type OutputError struct {
	DeviceID string
	Err      error
}

func (e *OutputError) Error() string {
	if e.DeviceID == "" {
		return fmt.Sprintf("open default output device: %v", e.Err)
	}
	return fmt.Sprintf("open output device %q: %v", e.DeviceID, e.Err)
}

func (e *OutputError) Unwrap() error {
	return e.Err
}

// failureKind labels err for metrics and logs.
func failureKind(err error) string {
	var (
		deviceErr    *capture.DeviceError
		outputErr    *OutputError
		connectErr   *duplex.ConnectError
		transportErr *duplex.TransportError
	)
	switch {
	case errors.As(err, &deviceErr):
		return "device"
	case errors.As(err, &outputErr):
		return "output"
	case errors.As(err, &connectErr):
		return "connect"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}

// describe renders err as the message shown next to the retry control.
func describe(err error) string {
	var (
		deviceErr    *capture.DeviceError
		outputErr    *OutputError
		connectErr   *duplex.ConnectError
		transportErr *duplex.TransportError
	)
	switch {
	case errors.As(err, &deviceErr):
		return fmt.Sprintf("Could not access the microphone. Check that it is connected and allowed, then try again. (%v)", deviceErr.Unwrap())
	case errors.As(err, &outputErr):
		return fmt.Sprintf("Could not open the speaker. Pick another output device and try again. (%v)", outputErr.Err)
	case errors.As(err, &connectErr):
		return fmt.Sprintf("Could not connect to the translation service. Check your network and API key, then try again. (%v)", connectErr.Err)
	case errors.As(err, &transportErr):
		return fmt.Sprintf("The connection to the translation service was lost. (%v)", transportErr.Err)
	default:
		return err.Error()
	}
}

// describeRemote renders an error reported by the service during a live session.
func describeRemote(err error) string {
	return fmt.Sprintf("The translation service reported an error. (%v)", err)
}
