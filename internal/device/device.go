// Package device enumerates audio devices and opens microphone and speaker
// streams through PortAudio.
package device

import (
	"errors"
	"sort"
	"strings"
)

// Kind tells input devices from output devices.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// Info describes one selectable device. A device with both inputs and
// outputs is listed once per kind.
type Info struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       Kind    `json:"kind"`
	Default    bool    `json:"default"`
	SampleRate float64 `json:"sample_rate"`
}

// ErrNotFound is returned when a requested device is not present.
var ErrNotFound = errors.New("audio device not found")

// DefaultPreferredKeywords match headsets, whose microphones sit closest to
// the speaker.
var DefaultPreferredKeywords = []string{"bluetooth", "headset"}

// Filter returns the devices of the given kind.
func Filter(devices []Info, kind Kind) []Info {
	out := make([]Info, 0, len(devices))
	for _, d := range devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// PreferredInput picks the input whose name contains one of keywords,
// falling back to the system default and then to the first input.
func PreferredInput(inputs []Info, keywords []string) (Info, bool) {
	for _, d := range inputs {
		name := strings.ToLower(d.Name)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(name, strings.ToLower(kw)) {
				return d, true
			}
		}
	}
	for _, d := range inputs {
		if d.Default {
			return d, true
		}
	}
	if len(inputs) > 0 {
		return inputs[0], true
	}
	return Info{}, false
}

// Reconcile returns the input to use given the current selection. A
// selection that is still present is kept; otherwise the preferred input is
// chosen. changed reports whether the result differs from current.
func Reconcile(current string, inputs []Info, keywords []string) (id string, changed bool) {
	if current != "" {
		for _, d := range inputs {
			if d.ID == current {
				return current, false
			}
		}
	}

	d, ok := PreferredInput(inputs, keywords)
	if !ok {
		return current, false
	}
	return d.ID, d.ID != current
}

// fingerprint identifies a device list regardless of order.
func fingerprint(devices []Info) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = string(d.Kind) + ":" + d.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n")
}
