package oi

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketLength(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code byte
		want int
	}{
		{PacketAll, 26},
		{PacketPhysical, 10},
		{PacketButtons, 6},
		{PacketPower, 10},
	}
	for _, tc := range cases {
		for _, p := range []Protocol{SCI, OI} {
			n, err := PacketLength(p, tc.code)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n, "code %d under %s", tc.code, p)
		}
	}

	_, err := PacketLength(OI, 42)
	assert.Error(t, err)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	t.Parallel()

	for _, code := range []byte{PacketAll, PacketPhysical, PacketButtons, PacketPower} {
		want, err := PacketLength(OI, code)
		require.NoError(t, err)

		for _, n := range []int{0, want - 1, want + 1} {
			if n < 0 {
				continue
			}
			d, err := Decode(OI, code, make([]byte, n), time.Now())
			assert.Nil(t, d, "code %d length %d", code, n)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, code, de.Code)
			assert.Equal(t, n, de.Got)
			assert.Equal(t, want, de.Want)
		}
	}
}

func TestDecodePhysicalGroup(t *testing.T) {
	t.Parallel()

	// Sequential payload exercising the bit fields: bumps+casterdrop,
	// wall on, two cliffs, virtual wall, vacuum overcurrent, dirt levels.
	raw := []byte{0x13, 0x01, 0x00, 0x01, 0x01, 0x00, 0x01, 0x02, 0x64, 0xC8}

	d, err := Decode(OI, PacketPhysical, raw, time.Now())
	require.NoError(t, err)

	assert.True(t, d.BumpRight)
	assert.True(t, d.BumpLeft)
	assert.False(t, d.WheelDropRight)
	assert.False(t, d.WheelDropLeft)
	assert.True(t, d.WheelDropCaster)
	assert.True(t, d.Wall)
	assert.False(t, d.CliffLeft)
	assert.True(t, d.CliffFrontLeft)
	assert.True(t, d.CliffFrontRight)
	assert.False(t, d.CliffRight)
	assert.True(t, d.VirtualWall)
	assert.False(t, d.OvercurrentSide)
	assert.True(t, d.OvercurrentVac)
	assert.False(t, d.OvercurrentMain)
	assert.Equal(t, uint8(100), d.DirtLeft)
	assert.Equal(t, uint8(200), d.DirtRight)
	assert.True(t, d.SafetyFault, "wheel drop and cliffs must trip the fault")
}

func TestDecodeButtonsGroup(t *testing.T) {
	t.Parallel()

	raw := []byte{
		0x8A,       // remote opcode
		0x05,       // max + spot
		0xFF, 0x38, // distance -200 mm
		0x00, 0x5A, // angle +90 mm
	}

	d, err := Decode(OI, PacketButtons, raw, time.Now())
	require.NoError(t, err)

	assert.Equal(t, uint8(0x8A), d.RemoteOpcode)
	assert.True(t, d.ButtonMax)
	assert.False(t, d.ButtonClean)
	assert.True(t, d.ButtonSpot)
	assert.False(t, d.ButtonPower)
	assert.Equal(t, int16(-200), d.DistanceMM)
	assert.Equal(t, int16(90), d.AngleMM)
	assert.False(t, d.SafetyFault)
}

func TestDecodePowerGroup(t *testing.T) {
	t.Parallel()

	raw := []byte{
		ChargingTrickle,
		0x40, 0x9C, // 16540 mV
		0xFF, 0x0A, // -246 mA
		0xE9,       // -23 °C
		0x0A, 0xF0, // 2800 mAh charge
		0x0B, 0xB8, // 3000 mAh capacity
	}

	d, err := Decode(SCI, PacketPower, raw, time.Now())
	require.NoError(t, err)

	assert.Equal(t, ChargingTrickle, d.ChargingState)
	assert.Equal(t, uint16(16540), d.VoltageMV)
	assert.Equal(t, int16(-246), d.CurrentMA)
	assert.Equal(t, int8(-23), d.TemperatureC)
	assert.Equal(t, uint16(2800), d.ChargeMAH)
	assert.Equal(t, uint16(3000), d.CapacityMAH)
}

func TestDecodeFullPacketCoversAllGroups(t *testing.T) {
	t.Parallel()

	raw := make([]byte, 26)
	raw[0] = 0x01                 // bump right
	raw[1] = 0x01                 // wall
	raw[8], raw[9] = 10, 20       // dirt
	raw[10] = 0x88                // remote
	raw[11] = 0x02                // clean button
	raw[12], raw[13] = 0x01, 0x2C // distance 300
	raw[14], raw[15] = 0xFF, 0xF6 // angle -10
	raw[16] = ChargingFull
	raw[17], raw[18] = 0x3F, 0xE2 // 16354 mV
	raw[21] = 25                  // temp
	raw[22], raw[23] = 0x05, 0xDC // 1500 mAh
	raw[24], raw[25] = 0x0B, 0xB8 // 3000 mAh

	d, err := Decode(OI, PacketAll, raw, time.Now())
	require.NoError(t, err)

	assert.True(t, d.BumpRight)
	assert.True(t, d.Wall)
	assert.Equal(t, uint8(10), d.DirtLeft)
	assert.True(t, d.ButtonClean)
	assert.Equal(t, int16(300), d.DistanceMM)
	assert.Equal(t, int16(-10), d.AngleMM)
	assert.Equal(t, ChargingFull, d.ChargingState)
	assert.Equal(t, uint16(16354), d.VoltageMV)
	assert.Equal(t, int8(25), d.TemperatureC)
	assert.Equal(t, uint16(1500), d.ChargeMAH)
	assert.Equal(t, uint16(3000), d.CapacityMAH)
	assert.False(t, d.SafetyFault)
}

func TestDecodeIsDeterministic(t *testing.T) {
	t.Parallel()

	raw := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	first, err := Decode(OI, PacketPhysical, raw, at)
	require.NoError(t, err)
	second, err := Decode(OI, PacketPhysical, raw, at)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("identical input decoded differently (-first +second):\n%s", diff)
	}

	// Spot-check the interpretation of the sequential payload too.
	assert.False(t, first.BumpRight)
	assert.True(t, first.Wall)
	assert.True(t, first.CliffLeft)
	assert.True(t, first.SafetyFault)
	assert.Equal(t, uint8(8), first.DirtLeft)
	assert.Equal(t, uint8(9), first.DirtRight)
}

func TestSafetyFaultFromEachSource(t *testing.T) {
	t.Parallel()

	base := func() []byte { return make([]byte, 10) }

	cases := []struct {
		name string
		mod  func([]byte)
	}{
		{"wheel drop right", func(b []byte) { b[0] |= 0x04 }},
		{"wheel drop left", func(b []byte) { b[0] |= 0x08 }},
		{"wheel drop caster", func(b []byte) { b[0] |= 0x10 }},
		{"cliff left", func(b []byte) { b[2] = 1 }},
		{"cliff front left", func(b []byte) { b[3] = 1 }},
		{"cliff front right", func(b []byte) { b[4] = 1 }},
		{"cliff right", func(b []byte) { b[5] = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := base()
			tc.mod(raw)
			d, err := Decode(OI, PacketPhysical, raw, time.Now())
			require.NoError(t, err)
			assert.True(t, d.SafetyFault)
		})
	}

	// Bumps alone never trip the fault.
	raw := base()
	raw[0] = 0x03
	d, err := Decode(OI, PacketPhysical, raw, time.Now())
	require.NoError(t, err)
	assert.False(t, d.SafetyFault)
}
