// Package oi implements the Roomba Open Interface / Serial Command Interface
// wire protocol: command encoding and the fixed-length sensor packet decoder.
// It performs no I/O; the transport layer feeds it raw bytes.
package oi

// Protocol selects which variant of the robot's serial protocol is spoken.
// The two variants differ in line rate; the command opcodes and sensor
// packet layouts used here are common to both.
type Protocol string

const (
	// SCI is the original Serial Command Interface at 57600 baud.
	SCI Protocol = "SCI"
	// OI is the Open Interface at 115200 baud.
	OI Protocol = "OI"
)

// BaudRate returns the line rate negotiated for this protocol variant.
func (p Protocol) BaudRate() int {
	if p == SCI {
		return 57600
	}
	return 115200
}

// ParseProtocol maps a config/CLI string onto a Protocol, defaulting to OI.
func ParseProtocol(s string) Protocol {
	if s == string(SCI) {
		return SCI
	}
	return OI
}
