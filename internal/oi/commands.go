package oi

// Command opcodes. Each command is a single opcode byte optionally followed
// by fixed-width parameters, written to the wire with no framing delimiter.
// 16-bit parameters are big-endian.
const (
	CmdStart   byte = 128
	CmdBaud    byte = 129
	CmdControl byte = 130
	CmdSafe    byte = 131
	CmdFull    byte = 132
	CmdPower   byte = 133
	CmdSpot    byte = 134
	CmdClean   byte = 135
	CmdMax     byte = 136
	CmdDrive   byte = 137
	CmdMotors  byte = 138
	CmdLEDs    byte = 139
	CmdSong    byte = 140
	CmdPlay    byte = 141
	CmdSensors byte = 142
	CmdDock    byte = 143
)

// Special Drive radius values.
const (
	RadiusStraight int16 = 0x7FFF // 32767: drive straight
	RadiusSpinCW   int16 = -1
	RadiusSpinCCW  int16 = 1
	VelocityMax    int16 = 500  // mm/s
	VelocityMin    int16 = -500 // mm/s
)

// Motor bits for the Motors command.
const (
	MotorSideBrush byte = 1 << 0
	MotorVacuum    byte = 1 << 1
	MotorMainBrush byte = 1 << 2
)

// Start encodes the command that opens the command interface.
func Start() []byte { return []byte{CmdStart} }

// Baud encodes a line-rate change request. code is the protocol's baud
// code, not a literal rate; the caller must reopen the port afterwards.
func Baud(code byte) []byte { return []byte{CmdBaud, code} }

// Control encodes the SCI command that enables control mode. On OI firmware
// the same opcode is interpreted as Safe.
func Control() []byte { return []byte{CmdControl} }

// Safe encodes the mode change to safe mode.
func Safe() []byte { return []byte{CmdSafe} }

// Full encodes the mode change to full mode, disabling safety reflexes.
func Full() []byte { return []byte{CmdFull} }

// Power encodes the power-down command.
func Power() []byte { return []byte{CmdPower} }

// Spot starts a spot cleaning cycle.
func Spot() []byte { return []byte{CmdSpot} }

// Clean starts a normal cleaning cycle.
func Clean() []byte { return []byte{CmdClean} }

// MaxClean starts a maximum-time cleaning cycle.
func MaxClean() []byte { return []byte{CmdMax} }

// Dock sends the robot to its charging dock.
func Dock() []byte { return []byte{CmdDock} }

// Drive encodes a drive command with the given velocity (mm/s, clamped to
// ±500) and turning radius (mm; see the Radius* constants for specials).
func Drive(velocity, radius int16) []byte {
	velocity = clamp16(velocity, VelocityMin, VelocityMax)
	return []byte{
		CmdDrive,
		byte(uint16(velocity) >> 8), byte(uint16(velocity)),
		byte(uint16(radius) >> 8), byte(uint16(radius)),
	}
}

// Stop encodes a drive command with zero velocity.
func Stop() []byte { return Drive(0, RadiusStraight) }

// Motors encodes the brush/vacuum motor state from the Motor* bits.
func Motors(bits byte) []byte { return []byte{CmdMotors, bits} }

// LEDs encodes the LED state command. status is the two status LED bits,
// color and intensity control the power LED.
func LEDs(bits, color, intensity byte) []byte {
	return []byte{CmdLEDs, bits, color, intensity}
}

// Song encodes a song definition of up to 16 (note, duration) pairs.
func Song(slot byte, notes []byte) []byte {
	if len(notes) > 32 {
		notes = notes[:32]
	}
	out := make([]byte, 0, 3+len(notes))
	out = append(out, CmdSong, slot, byte(len(notes)/2))
	return append(out, notes...)
}

// Play encodes the command that plays a previously stored song slot.
func Play(slot byte) []byte { return []byte{CmdPlay, slot} }

// Sensors encodes a sensor data request for the given packet code.
func Sensors(code byte) []byte { return []byte{CmdSensors, code} }

func clamp16(v, lo, hi int16) int16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
