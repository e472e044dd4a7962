// Package router splits the interleaved transcript stream of a translation
// session into the two conversational channels, driven by routing tags the
// remote service embeds in its output.
package router

import (
	"strings"
)

// Channel identifies one party of the conversation.
type Channel int

const (
	// ChannelNone means no channel is routed (the router is idle).
	ChannelNone Channel = iota
	// ChannelUser is the local party.
	ChannelUser
	// ChannelGuest is the remote party.
	ChannelGuest
)

// String implements fmt.Stringer.
func (c Channel) String() string {
	switch c {
	case ChannelUser:
		return "user"
	case ChannelGuest:
		return "guest"
	default:
		return "none"
	}
}

// Opposite returns the other party, or ChannelNone for ChannelNone.
func (c Channel) Opposite() Channel {
	switch c {
	case ChannelUser:
		return ChannelGuest
	case ChannelGuest:
		return ChannelUser
	default:
		return ChannelNone
	}
}

// DefaultMaxScratch bounds the bytes buffered while no channel is routed.
const DefaultMaxScratch = 4096

// Config configures a Router.
type Config struct {
	UserTag  string
	GuestTag string

	// ClearOppositeOnSwitch also empties the other channel's live text
	// whenever a tag starts a new utterance.
	ClearOppositeOnSwitch bool

	// MaxScratch bounds unattributed text held while idle. Zero uses DefaultMaxScratch.
	MaxScratch int
}

// ChannelState is the visible state of one channel.
type ChannelState struct {
	Text         string
	TurnFinished bool
}

// Snapshot is a copy of the router's observable state.
type Snapshot struct {
	Active Channel
	User   ChannelState
	Guest  ChannelState
}

// Channel returns the state of c.
func (s Snapshot) Channel(c Channel) ChannelState {
	if c == ChannelGuest {
		return s.Guest
	}
	return s.User
}

type channelState struct {
	text     strings.Builder
	finished bool
}

// Router is the tag-driven state machine. It is not safe for concurrent use:
// a session feeds it from a single event loop goroutine.
type Router struct {
	cfg  Config
	tags [2]tagDef

	active  Channel
	scratch string
	user    channelState
	guest   channelState
}

type tagDef struct {
	literal string
	channel Channel
}

// New creates a Router in the idle state. Both tags must be non-empty and
// distinct.
func New(cfg Config) *Router {
	if cfg.MaxScratch <= 0 {
		cfg.MaxScratch = DefaultMaxScratch
	}

	return &Router{
		cfg: cfg,
		tags: [2]tagDef{
			{literal: cfg.UserTag, channel: ChannelUser},
			{literal: cfg.GuestTag, channel: ChannelGuest},
		},
	}
}

// Active returns the routed channel, or ChannelNone when idle.
func (r *Router) Active() Channel {
	return r.active
}

// Delta consumes one transcript fragment.
func (r *Router) Delta(text string) {
	r.scratch += text

	for {
		idx, tag, ok := r.earliestTag()
		if !ok {
			break
		}

		// Text ahead of the tag finishes the utterance of the channel
		// routed so far.
		r.appendActive(r.scratch[:idx])

		next := tag.channel
		r.state(next).text.Reset()
		r.state(next).finished = false
		if r.cfg.ClearOppositeOnSwitch {
			r.state(next.Opposite()).text.Reset()
		}

		r.active = next
		r.scratch = r.scratch[idx+len(tag.literal):]
	}

	if r.active == ChannelNone {
		r.boundScratch()
		return
	}

	// A trailing partial tag stays in scratch until the next delta settles it.
	hold := r.partialTagSuffix()
	r.appendActive(r.scratch[:len(r.scratch)-hold])
	r.scratch = r.scratch[len(r.scratch)-hold:]
}

// TurnComplete marks the routed channel's utterance as finished. Its text
// stays visible until the channel's next utterance starts.
func (r *Router) TurnComplete() {
	r.scratch = ""
	if r.active != ChannelNone {
		r.state(r.active).finished = true
	}
}

// Interrupted drops unattributed text and returns to idle. Live texts are kept.
func (r *Router) Interrupted() {
	r.scratch = ""
	r.active = ChannelNone
	r.user.finished = false
	r.guest.finished = false
}

// Reset returns the router to its initial state.
func (r *Router) Reset() {
	r.scratch = ""
	r.active = ChannelNone
	r.user = channelState{}
	r.guest = channelState{}
}

// Snapshot returns the current state with surrounding whitespace trimmed
// from the live texts.
func (r *Router) Snapshot() Snapshot {
	return Snapshot{
		Active: r.active,
		User: ChannelState{
			Text:         strings.TrimSpace(r.user.text.String()),
			TurnFinished: r.user.finished,
		},
		Guest: ChannelState{
			Text:         strings.TrimSpace(r.guest.text.String()),
			TurnFinished: r.guest.finished,
		},
	}
}

func (r *Router) state(c Channel) *channelState {
	if c == ChannelGuest {
		return &r.guest
	}
	return &r.user
}

// appendActive appends text to the routed channel; idle discards it.
func (r *Router) appendActive(text string) {
	if r.active == ChannelNone || text == "" {
		return
	}
	st := r.state(r.active)
	st.text.WriteString(text)
	st.finished = false
}

// earliestTag finds the leftmost complete tag in scratch.
func (r *Router) earliestTag() (int, tagDef, bool) {
	best := -1
	var found tagDef
	for _, tag := range r.tags {
		if tag.literal == "" {
			continue
		}
		idx := strings.Index(r.scratch, tag.literal)
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
			found = tag
		}
	}
	return best, found, best >= 0
}

// partialTagSuffix returns the length of the longest scratch suffix that is
// a proper prefix of some tag.
func (r *Router) partialTagSuffix() int {
	longest := 0
	for _, tag := range r.tags {
		maxLen := min(len(tag.literal)-1, len(r.scratch))
		for n := maxLen; n > longest; n-- {
			if strings.HasSuffix(r.scratch, tag.literal[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

// boundScratch drops the oldest idle text beyond the limit, keeping any
// trailing partial tag intact.
func (r *Router) boundScratch() {
	excess := len(r.scratch) - r.cfg.MaxScratch
	if excess <= 0 {
		return
	}
	hold := r.partialTagSuffix()
	if len(r.scratch)-excess < hold {
		excess = len(r.scratch) - hold
	}
	r.scratch = r.scratch[excess:]
}
