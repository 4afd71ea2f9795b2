// Package transport provides the connection layer between the application
// and a robot: a live serial backend, a playback backend that replays
// recorded telemetry, and the shared packet queue both feed.
package transport

import (
	"errors"
	"time"

	"github.com/smartroomba/roombadash/internal/oi"
)

var (
	// ErrNotConnected is returned by I/O operations before a successful
	// Connect or after Disconnect.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrPortBusy is returned when the target port is already held by
	// another connection in the same process.
	ErrPortBusy = errors.New("transport: port already in use")
	// ErrPortNotFound is returned when no system serial port matches the
	// connection target.
	ErrPortNotFound = errors.New("transport: port not found")
	// ErrDSRTimeout is returned when the DSR line never went high within
	// the handshake budget.
	ErrDSRTimeout = errors.New("transport: timed out waiting for DSR")
)

// State is the connection lifecycle state. It is owned exclusively by the
// connection that reports it.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Kind tags a connection target as live hardware or a playback source. The
// caller decides; the transports never infer it from the target string.
type Kind int

const (
	Live Kind = iota
	Playback
)

func (k Kind) String() string {
	if k == Playback {
		return "playback"
	}
	return "live"
}

// Packet is one complete fixed-length sensor packet, stamped with its
// arrival time. Immutable once constructed.
type Packet struct {
	Data       []byte
	ReceivedAt time.Time
}

// Conn is the capability set both backends implement. Live and playback
// connections behave identically from the caller's point of view: commands
// go down through Send, telemetry comes back through Packets.
type Conn interface {
	// Connect attempts to reach the Connected state against the given
	// target (a serial port name, or a recording path for playback).
	// On any failure every acquired resource is released and the state
	// is Disconnected; repeated failed attempts do not leak.
	Connect(target string) error

	// Disconnect releases all held resources and returns the connection
	// to Disconnected. Safe to call any number of times, in any state,
	// and concurrently with in-flight ingestion.
	Disconnect()

	// Send transmits raw command bytes. Write failures are logged and
	// returned; they never panic.
	Send(p []byte) error

	// SendByte transmits a single command byte.
	SendByte(b byte) error

	// RequestSensors sets the expected reply length for the given packet
	// code and triggers a sensor-data cycle. For playback it emits the
	// next recorded packet; io.EOF reports normal source exhaustion.
	RequestSensors(code byte) error

	// State reports the current connection state.
	State() State

	// SensorDataValid reports whether at least one complete packet has
	// arrived since the last RequestSensors call.
	SensorDataValid() bool

	// Faulted reports that the connection is likely broken (an I/O error
	// surfaced mid-session). The orchestrator reacts by cycling
	// Disconnect/Connect.
	Faulted() bool

	// Packets returns the queue this connection appends telemetry to.
	Packets() *PacketQueue

	// Protocol reports which protocol variant the connection speaks.
	Protocol() oi.Protocol
}
