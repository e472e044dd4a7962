package session

import (
	"errors"
	"time"

	"github.com/Raikerian/go-live-interpreter/internal/router"
)

// State is the lifecycle state of the controller.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateError      State = "error"
)

var allStates = []State{StateIdle, StateConnecting, StateActive, StateError}

// Status is the connection status shown to the user.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusConnecting  Status = "connecting"
	StatusListening   Status = "listening"
	StatusTranslating Status = "translating"
	StatusError       Status = "error"
)

// Settings are the user-selectable inputs of a session.
type Settings struct {
	UserLanguage  string `json:"user_language"`
	GuestLanguage string `json:"guest_language"`
	InputDevice   string `json:"input_device"`
	OutputDevice  string `json:"output_device"`
}

// ChannelView is the visible state of one conversational channel.
type ChannelView struct {
	Text         string `json:"text"`
	TurnFinished bool   `json:"turn_finished"`
}

// Snapshot is everything the UI renders.
type Snapshot struct {
	SessionID string      `json:"session_id,omitempty"`
	State     State       `json:"state"`
	Status    Status      `json:"status"`
	Routing   string      `json:"routing"`
	User      ChannelView `json:"user"`
	Guest     ChannelView `json:"guest"`
	Level     float32     `json:"level"`
	Error     string      `json:"error,omitempty"`
	Settings  Settings    `json:"settings"`
}

// ReconnectPolicy controls automatic restarts after an unexpected close.
type ReconnectPolicy struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts limits reconnect attempts; zero means unlimited.
	MaxAttempts int
}

var (
	// ErrAlreadyActive is returned by Start while a session is live or connecting.
	ErrAlreadyActive = errors.New("session already active")
	// ErrStopped is returned by Start when Stop interrupted it.
	ErrStopped = errors.New("session stopped while connecting")
	// ErrClosed is returned after the controller has been closed.
	ErrClosed = errors.New("session controller closed")
)

func channelView(st router.ChannelState) ChannelView {
	return ChannelView{Text: st.Text, TurnFinished: st.TurnFinished}
}
