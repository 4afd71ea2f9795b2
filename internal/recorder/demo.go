package recorder

import (
	"encoding/binary"
	"math"
	"math/rand"
	"time"
)

// DemoSamples synthesizes a recording of n full sensor packets spaced step
// apart, for running the stack without hardware or a capture file. The
// robot wanders, occasionally bumps, and slowly discharges its battery.
func DemoSamples(n int, step time.Duration) []Sample {
	start := time.Now()
	out := make([]Sample, 0, n)

	charge := 2800.0
	for i := 0; i < n; i++ {
		t := float64(i) * step.Seconds()
		raw := make([]byte, 26)

		// Bump roughly every few seconds of travel
		if rand.Float64() < 0.05 {
			if rand.Float64() < 0.5 {
				raw[0] |= 0x01 // bump right
			} else {
				raw[0] |= 0x02 // bump left
			}
		}
		raw[1] = btob(math.Sin(t*0.7) > 0.95) // wall glimpses
		raw[8] = byte(rand.Intn(30))          // dirt left
		raw[9] = byte(rand.Intn(30))          // dirt right

		dist := int16(180 + rand.Intn(40)) // mm per interval at cruise
		ang := int16(rand.Intn(41) - 20)
		binary.BigEndian.PutUint16(raw[12:14], uint16(dist))
		binary.BigEndian.PutUint16(raw[14:16], uint16(ang))

		charge -= 0.4
		voltage := 16200.0 - (2800.0-charge)*0.9 + rand.Float64()*60
		current := -(900.0 + 250.0*math.Abs(math.Sin(t*0.3)))

		raw[16] = 0 // not charging
		binary.BigEndian.PutUint16(raw[17:19], uint16(voltage))
		binary.BigEndian.PutUint16(raw[19:21], uint16(int16(current)))
		raw[21] = byte(int8(24 + int(3*math.Sin(t*0.05))))
		binary.BigEndian.PutUint16(raw[22:24], uint16(charge))
		binary.BigEndian.PutUint16(raw[24:26], 3000)

		out = append(out, Sample{
			At:   start.Add(time.Duration(i) * step),
			Code: 0,
			Raw:  raw,
		})
	}
	return out
}

func btob(v bool) byte {
	if v {
		return 1
	}
	return 0
}
