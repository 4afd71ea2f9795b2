package oi

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Sensor packet codes. Code 0 returns every sensor group in one 26-byte
// packet; codes 1-3 return the individual groups.
const (
	PacketAll      byte = 0 // 26 bytes, groups 1-3
	PacketPhysical byte = 1 // 10 bytes: bumps, wall, cliffs, overcurrents, dirt
	PacketButtons  byte = 2 // 6 bytes: remote, buttons, distance, angle
	PacketPower    byte = 3 // 10 bytes: charging, voltage, current, temp, charge
)

// packetLengths maps a sensor packet code to the fixed reply length in
// bytes. The table is a protocol constant; both SCI and OI firmware reply
// with the same group layouts.
var packetLengths = map[byte]int{
	PacketAll:      26,
	PacketPhysical: 10,
	PacketButtons:  6,
	PacketPower:    10,
}

// PacketLength returns the expected reply length for a packet code under
// the given protocol variant.
func PacketLength(p Protocol, code byte) (int, error) {
	n, ok := packetLengths[code]
	if !ok {
		return 0, fmt.Errorf("oi: unknown sensor packet code %d (%s)", code, p)
	}
	return n, nil
}

// DecodeError reports a raw packet whose length does not match the length
// mandated for its packet code. The packet carrying it is discarded; it is
// never turned into a partial SensorData.
type DecodeError struct {
	Code byte
	Got  int
	Want int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("oi: packet code %d: got %d bytes, want %d", e.Code, e.Got, e.Want)
}

// ChargingState values reported in the power group.
const (
	ChargingNone     byte = 0
	ChargingRecovery byte = 1
	ChargingFull     byte = 2
	ChargingTrickle  byte = 3
	ChargingWaiting  byte = 4
	ChargingFault    byte = 5
)

// SensorData is one decoded sensor packet. Which fields are populated
// depends on the packet code; Code records which request produced it.
type SensorData struct {
	Code       byte      `json:"code"`
	ReceivedAt time.Time `json:"receivedAt"`

	// Physical group (codes 0 and 1)
	BumpRight             bool  `json:"bumpRight"`
	BumpLeft              bool  `json:"bumpLeft"`
	WheelDropRight        bool  `json:"wheelDropRight"`
	WheelDropLeft         bool  `json:"wheelDropLeft"`
	WheelDropCaster       bool  `json:"wheelDropCaster"`
	Wall                  bool  `json:"wall"`
	CliffLeft             bool  `json:"cliffLeft"`
	CliffFrontLeft        bool  `json:"cliffFrontLeft"`
	CliffFrontRight       bool  `json:"cliffFrontRight"`
	CliffRight            bool  `json:"cliffRight"`
	VirtualWall           bool  `json:"virtualWall"`
	OvercurrentSide       bool  `json:"overcurrentSideBrush"`
	OvercurrentVac        bool  `json:"overcurrentVacuum"`
	OvercurrentMain       bool  `json:"overcurrentMainBrush"`
	OvercurrentDriveRight bool  `json:"overcurrentDriveRight"`
	OvercurrentDriveLeft  bool  `json:"overcurrentDriveLeft"`
	DirtLeft              uint8 `json:"dirtLeft"`
	DirtRight             uint8 `json:"dirtRight"`

	// Buttons group (codes 0 and 2)
	RemoteOpcode uint8 `json:"remoteOpcode"`
	ButtonMax    bool  `json:"buttonMax"`
	ButtonClean  bool  `json:"buttonClean"`
	ButtonSpot   bool  `json:"buttonSpot"`
	ButtonPower  bool  `json:"buttonPower"`
	DistanceMM   int16 `json:"distanceMm"`
	AngleMM      int16 `json:"angleMm"`

	// Power group (codes 0 and 3)
	ChargingState byte   `json:"chargingState"`
	VoltageMV     uint16 `json:"voltageMv"`
	CurrentMA     int16  `json:"currentMa"`
	TemperatureC  int8   `json:"temperatureC"`
	ChargeMAH     uint16 `json:"chargeMah"`
	CapacityMAH   uint16 `json:"capacityMah"`

	// SafetyFault is derived from the wheel-drop and cliff flags. Only
	// meaningful for packets that carry the physical group.
	SafetyFault bool `json:"safetyFault"`
}

// Decode maps one raw fixed-length sensor packet onto a SensorData. It is
// pure: identical inputs always produce identical readings. The packet is
// rejected when its length does not exactly match the length mandated for
// code under the protocol variant.
func Decode(p Protocol, code byte, raw []byte, receivedAt time.Time) (*SensorData, error) {
	want, err := PacketLength(p, code)
	if err != nil {
		return nil, err
	}
	if len(raw) != want {
		return nil, &DecodeError{Code: code, Got: len(raw), Want: want}
	}

	d := &SensorData{Code: code, ReceivedAt: receivedAt}
	switch code {
	case PacketAll:
		d.decodePhysical(raw[0:10])
		d.decodeButtons(raw[10:16])
		d.decodePower(raw[16:26])
	case PacketPhysical:
		d.decodePhysical(raw)
	case PacketButtons:
		d.decodeButtons(raw)
	case PacketPower:
		d.decodePower(raw)
	}
	return d, nil
}

func (d *SensorData) decodePhysical(b []byte) {
	d.BumpRight = b[0]&0x01 != 0
	d.BumpLeft = b[0]&0x02 != 0
	d.WheelDropRight = b[0]&0x04 != 0
	d.WheelDropLeft = b[0]&0x08 != 0
	d.WheelDropCaster = b[0]&0x10 != 0

	d.Wall = b[1] != 0
	d.CliffLeft = b[2] != 0
	d.CliffFrontLeft = b[3] != 0
	d.CliffFrontRight = b[4] != 0
	d.CliffRight = b[5] != 0
	d.VirtualWall = b[6] != 0

	d.OvercurrentSide = b[7]&0x01 != 0
	d.OvercurrentVac = b[7]&0x02 != 0
	d.OvercurrentMain = b[7]&0x04 != 0
	d.OvercurrentDriveRight = b[7]&0x08 != 0
	d.OvercurrentDriveLeft = b[7]&0x10 != 0

	d.DirtLeft = b[8]
	d.DirtRight = b[9]

	d.SafetyFault = d.WheelDropRight || d.WheelDropLeft || d.WheelDropCaster ||
		d.CliffLeft || d.CliffFrontLeft || d.CliffFrontRight || d.CliffRight
}

func (d *SensorData) decodeButtons(b []byte) {
	d.RemoteOpcode = b[0]
	d.ButtonMax = b[1]&0x01 != 0
	d.ButtonClean = b[1]&0x02 != 0
	d.ButtonSpot = b[1]&0x04 != 0
	d.ButtonPower = b[1]&0x08 != 0
	d.DistanceMM = int16(binary.BigEndian.Uint16(b[2:4]))
	d.AngleMM = int16(binary.BigEndian.Uint16(b[4:6]))
}

func (d *SensorData) decodePower(b []byte) {
	d.ChargingState = b[0]
	d.VoltageMV = binary.BigEndian.Uint16(b[1:3])
	d.CurrentMA = int16(binary.BigEndian.Uint16(b[3:5]))
	d.TemperatureC = int8(b[5])
	d.ChargeMAH = binary.BigEndian.Uint16(b[6:8])
	d.CapacityMAH = binary.BigEndian.Uint16(b[8:10])
}
