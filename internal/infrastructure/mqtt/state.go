package mqtt

import (
	"fmt"
	"time"
)

// StateKind enumerates the connection manager's lifecycle states.
type StateKind int

const (
	// StateIdle is the state before Connect and after Disconnect.
	StateIdle StateKind = iota
	// StateConnecting is set while the initial candidate sweep runs.
	StateConnecting
	// StateConnected means a broker session is live.
	StateConnected
	// StateReconnecting is set while the backoff loop runs after a drop.
	StateReconnecting
	// StateExhausted is terminal until Reconnect is called.
	StateExhausted
)

// String returns the lowercase state name.
func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// State is a snapshot of the connection state machine.
// Candidate is meaningful for StateConnecting, Attempt for StateReconnecting.
type State struct {
	Kind      StateKind
	Candidate int
	Attempt   int
}

// String renders the state with its parameter, e.g. "reconnecting(3)".
func (s State) String() string {
	switch s.Kind {
	case StateConnecting:
		return fmt.Sprintf("connecting(%d)", s.Candidate)
	case StateReconnecting:
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	default:
		return s.Kind.String()
	}
}

// EventKind names a connection lifecycle or data event.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventClose      EventKind = "close"
	EventReconnect  EventKind = "reconnect"
	EventError      EventKind = "error"
	EventMessage    EventKind = "message"
)

// Event is emitted on the client's event channel.
type Event struct {
	Kind    EventKind
	Time    time.Time
	URL     string        // broker involved, when known
	Attempt int           // reconnect attempt number (EventReconnect)
	Delay   time.Duration // backoff before the attempt (EventReconnect)
	Err     error         // EventError, EventDisconnect, EventClose
	Message *Message      // EventMessage
}

// Message is one inbound publish as handed to the router.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	Received time.Time
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base * multiplier^(n-1), capped at ceiling.
func Backoff(attempt int, base time.Duration, multiplier float64, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if ceiling > 0 && delay >= float64(ceiling) {
			return ceiling
		}
	}
	if ceiling > 0 && time.Duration(delay) > ceiling {
		return ceiling
	}
	return time.Duration(delay)
}
