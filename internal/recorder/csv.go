// Package recorder reads and writes recorded sensor telemetry as CSV. Each
// row carries the raw packet bytes alongside the decoded columns, so a
// recording can be replayed byte-for-byte by the playback transport.
package recorder

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/smartroomba/roombadash/internal/oi"
)

var csvHeader = []string{
	"timestamp", "packet_code", "raw_hex",
	"bump_left", "bump_right",
	"wheel_drop_left", "wheel_drop_right", "wheel_drop_caster",
	"wall", "cliff_left", "cliff_front_left", "cliff_front_right", "cliff_right",
	"virtual_wall", "dirt_left", "dirt_right",
	"distance_mm", "angle_mm",
	"charging_state", "voltage_mv", "current_ma", "temperature_c",
	"charge_mah", "capacity_mah",
	"safety_fault",
}

// Writer appends one CSV row per decoded reading, in arrival order.
type Writer struct {
	mu   sync.Mutex
	w    *csv.Writer
	c    io.Closer
	once sync.Once
	rows int
}

// NewWriter wraps dst. The header row is written lazily on first record.
func NewWriter(dst io.WriteCloser) *Writer {
	return &Writer{w: csv.NewWriter(dst), c: dst}
}

// Record appends one reading. Write failures are logged and swallowed;
// recording degrades rather than interrupting the telemetry path.
func (r *Writer) Record(d *oi.SensorData, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.once.Do(func() {
		if err := r.w.Write(csvHeader); err != nil {
			log.Printf("[recorder] header write failed: %v", err)
		}
	})

	if err := r.w.Write(buildRow(d, raw)); err != nil {
		log.Printf("[recorder] write failed: %v", err)
		return
	}
	r.w.Flush()
	r.rows++
}

// Rows reports how many readings have been recorded.
func (r *Writer) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// Close flushes and closes the underlying file.
func (r *Writer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		log.Printf("[recorder] flush failed: %v", err)
	}
	return r.c.Close()
}

func buildRow(d *oi.SensorData, raw []byte) []string {
	return []string{
		d.ReceivedAt.Format(time.RFC3339Nano),
		fmt.Sprintf("%d", d.Code),
		hex.EncodeToString(raw),
		boolStr(d.BumpLeft), boolStr(d.BumpRight),
		boolStr(d.WheelDropLeft), boolStr(d.WheelDropRight), boolStr(d.WheelDropCaster),
		boolStr(d.Wall),
		boolStr(d.CliffLeft), boolStr(d.CliffFrontLeft), boolStr(d.CliffFrontRight), boolStr(d.CliffRight),
		boolStr(d.VirtualWall),
		fmt.Sprintf("%d", d.DirtLeft), fmt.Sprintf("%d", d.DirtRight),
		fmt.Sprintf("%d", d.DistanceMM), fmt.Sprintf("%d", d.AngleMM),
		fmt.Sprintf("%d", d.ChargingState),
		fmt.Sprintf("%d", d.VoltageMV), fmt.Sprintf("%d", d.CurrentMA),
		fmt.Sprintf("%d", d.TemperatureC),
		fmt.Sprintf("%d", d.ChargeMAH), fmt.Sprintf("%d", d.CapacityMAH),
		boolStr(d.SafetyFault),
	}
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
