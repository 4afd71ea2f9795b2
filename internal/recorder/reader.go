package recorder

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"strconv"
	"time"
)

// Sample is one recorded packet: the capture timestamp, the packet code it
// answered, and the exact raw bytes that arrived.
type Sample struct {
	At   time.Time
	Code byte
	Raw  []byte
}

// Reader streams Samples back out of a recording. Only the first three
// columns are consulted; the decoded columns exist for people and
// spreadsheets. Exhaustion is reported as io.EOF.
type Reader struct {
	r      *csv.Reader
	c      io.Closer
	sawHdr bool
}

// NewReader wraps src.
func NewReader(src io.ReadCloser) *Reader {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	return &Reader{r: cr, c: src}
}

// Next returns the next recorded sample. Malformed rows are logged and
// skipped; io.EOF signals normal end of the recording.
func (r *Reader) Next() (Sample, error) {
	for {
		row, err := r.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Sample{}, io.EOF
			}
			return Sample{}, err
		}
		if len(row) < 3 {
			log.Printf("[recorder] skipping short row (%d fields)", len(row))
			continue
		}
		if !r.sawHdr && row[0] == "timestamp" {
			r.sawHdr = true
			continue
		}

		at, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			log.Printf("[recorder] skipping row with bad timestamp %q: %v", row[0], err)
			continue
		}
		code, err := strconv.Atoi(row[1])
		if err != nil || code < 0 || code > 255 {
			log.Printf("[recorder] skipping row with bad packet code %q", row[1])
			continue
		}
		raw, err := hex.DecodeString(row[2])
		if err != nil {
			log.Printf("[recorder] skipping row with bad raw hex: %v", err)
			continue
		}
		return Sample{At: at, Code: byte(code), Raw: raw}, nil
	}
}

// Close closes the underlying recording file.
func (r *Reader) Close() error { return r.c.Close() }

// ReadAll drains the reader into memory.
func (r *Reader) ReadAll() ([]Sample, error) {
	var out []Sample
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}
