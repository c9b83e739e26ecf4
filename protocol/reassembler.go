package protocol

import (
	"bytes"
	"sync"
	"time"
)

type EventKind int

const (
	// EventResponse carries a complete, parsed message.
	EventResponse EventKind = iota

	// EventMalformed means the end marker arrived but the buffer was not JSON.
	EventMalformed

	// EventOverflow means the message grew past MaxMessageSize. The rest of
	// it is discarded up to and including the next end marker.
	EventOverflow

	// EventStalled means a partial message sat idle past StallTimeout and was
	// dropped before the next fragment was accepted.
	EventStalled
)

func (k EventKind) String() string {
	switch k {
	case EventResponse:
		return "response"
	case EventMalformed:
		return "malformed"
	case EventOverflow:
		return "overflow"
	case EventStalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Event is emitted by the Reassembler when a message completes or is lost.
type Event struct {
	Kind     EventKind
	Response Response

	// Raw is the buffer the event was produced from.
	Raw string

	// Err is set for every kind except EventResponse.
	Err error
}

type State int

const (
	StateIdle State = iota
	StateAccumulating
)

func (s State) String() string {
	if s == StateAccumulating {
		return "accumulating"
	}

	return "idle"
}

type ReassemblerOptions struct {
	// MaxMessageSize bounds the buffer. Zero means unbounded.
	MaxMessageSize int

	// StallTimeout drops a partial message when the gap before the next
	// fragment is longer than this. Zero disables the check.
	StallTimeout time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Reassembler accumulates inbound fragments into messages. There is one per
// connection. Feed must be called in delivery order from a single goroutine;
// Reset and State may be called from anywhere.
type Reassembler struct {
	opts ReassemblerOptions

	mu         sync.Mutex
	buf        bytes.Buffer
	lastAppend time.Time

	// discarding is set after an overflow until the end marker of the
	// oversized message is seen.
	discarding bool
}

func NewReassembler(opts ReassemblerOptions) *Reassembler {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Reassembler{opts: opts}
}

// Feed processes one fragment. It returns an event and true when the fragment
// completed (or lost) a message, and false while a message is still
// accumulating.
func (r *Reassembler) Feed(fragment []byte) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Clock()

	if IsSentinel(fragment) {
		if r.discarding {
			r.discarding = false
			return Event{}, false
		}

		raw := r.drain()

		resp, err := NewResponse(raw)
		if err != nil {
			return Event{Kind: EventMalformed, Raw: string(raw), Err: err}, true
		}

		return Event{Kind: EventResponse, Response: resp, Raw: string(raw)}, true
	}

	if r.discarding {
		return Event{}, false
	}

	var stalled []byte
	if r.buf.Len() > 0 && r.opts.StallTimeout > 0 && now.Sub(r.lastAppend) > r.opts.StallTimeout {
		stalled = r.drain()
	}

	if limit := r.opts.MaxMessageSize; limit > 0 && r.buf.Len()+len(fragment) > limit {
		dropped := append(r.drain(), fragment...)
		r.discarding = true

		return Event{Kind: EventOverflow, Raw: string(dropped), Err: ErrMessageTooLarge}, true
	}

	r.buf.Write(fragment)
	r.lastAppend = now

	if stalled != nil {
		return Event{Kind: EventStalled, Raw: string(stalled), Err: ErrStalled}, true
	}

	return Event{}, false
}

// Reset drops any partial message.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Reset()
	r.discarding = false
}

func (r *Reassembler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf.Len() > 0 || r.discarding {
		return StateAccumulating
	}

	return StateIdle
}

// Buffered returns the number of bytes accumulated for the current message.
func (r *Reassembler) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.buf.Len()
}

func (r *Reassembler) drain() []byte {
	raw := make([]byte, r.buf.Len())
	copy(raw, r.buf.Bytes())
	r.buf.Reset()

	return raw
}
