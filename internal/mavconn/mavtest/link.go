// Package mavtest provides an in-memory MAVLink transport and a scripted vehicle for tests.
package mavtest

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	ferrors "FlightLink/internal/errors"
	"FlightLink/internal/mavconn"
)

// Sent is one message written by the code under test.
type Sent struct {
	Message message.Message
	At      time.Time
}

// Link is a mavconn.Transport backed by channels. Messages written to it are recorded and
// handed to an optional responder; Inject plays messages back as if the vehicle sent them.
type Link struct {
	clock clock.Clock

	mu        sync.Mutex
	sent      []Sent
	events    chan mavconn.Inbound
	closed    bool
	responder func(message.Message)
}

// NewLink returns an open link. A nil clock means the wall clock.
func NewLink(clk clock.Clock) *Link {
	if clk == nil {
		clk = clock.New()
	}
	return &Link{clock: clk, events: make(chan mavconn.Inbound, 1024)}
}

// Dialer returns a mavconn.Dialer that always hands out this link.
func (l *Link) Dialer() mavconn.Dialer {
	return func(string) (mavconn.Transport, error) { return l, nil }
}

// Respond installs fn to be called synchronously for every written message.
func (l *Link) Respond(fn func(message.Message)) {
	l.mu.Lock()
	l.responder = fn
	l.mu.Unlock()
}

func (l *Link) WriteMessage(msg message.Message) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ferrors.ErrNotConnected
	}
	l.sent = append(l.sent, Sent{Message: msg, At: l.clock.Now()})
	responder := l.responder
	l.mu.Unlock()

	if responder != nil {
		responder(msg)
	}
	return nil
}

func (l *Link) Events() <-chan mavconn.Inbound {
	return l.events
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

// Inject delivers msg as if it came from sysID/compID. Messages are dropped once the link is
// closed or when the buffer is full, like a lossy radio.
func (l *Link) Inject(sysID, compID uint8, msg message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- mavconn.Inbound{SystemID: sysID, ComponentID: compID, Message: msg}:
	default:
	}
}

// Closed reports whether Close was called.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Sent returns a copy of everything written so far.
func (l *Link) Sent() []Sent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Sent, len(l.sent))
	copy(out, l.sent)
	return out
}

// Reset forgets the recorded messages.
func (l *Link) Reset() {
	l.mu.Lock()
	l.sent = nil
	l.mu.Unlock()
}

// SentOfType returns the recorded messages of type T with their send times.
func SentOfType[T message.Message](l *Link) ([]T, []time.Time) {
	var msgs []T
	var times []time.Time
	for _, s := range l.Sent() {
		if m, ok := s.Message.(T); ok {
			msgs = append(msgs, m)
			times = append(times, s.At)
		}
	}
	return msgs, times
}

// Commands returns the COMMAND_LONG messages with the given command id.
func Commands(l *Link, cmd common.MAV_CMD) []*common.MessageCommandLong {
	all, _ := SentOfType[*common.MessageCommandLong](l)
	var out []*common.MessageCommandLong
	for _, m := range all {
		if m.Command == cmd {
			out = append(out, m)
		}
	}
	return out
}
