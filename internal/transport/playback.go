package transport

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/recorder"
)

// PlaybackOptions carries the playback tunables, fixed at construction.
type PlaybackOptions struct {
	Protocol oi.Protocol

	// HonorTiming replays packets with the recording's inter-sample gaps
	// instead of emitting immediately on each request.
	HonorTiming bool

	// MaxGap caps a single honored gap so a recording with a long stall
	// cannot wedge the poll loop. Default 5 s.
	MaxGap time.Duration

	// Open opens the recording by target path. Defaults to os.Open;
	// injected for tests.
	Open func(target string) (io.ReadCloser, error)
}

func (o PlaybackOptions) withDefaults() PlaybackOptions {
	if o.Protocol == "" {
		o.Protocol = oi.OI
	}
	if o.MaxGap == 0 {
		o.MaxGap = 5 * time.Second
	}
	if o.Open == nil {
		o.Open = func(target string) (io.ReadCloser, error) { return os.Open(target) }
	}
	return o
}

// PlaybackConn satisfies Conn without any hardware: each sensor request
// emits the next recorded packet onto the queue. Commands are accepted and
// dropped. Source exhaustion is a normal end-of-stream condition reported
// as io.EOF, never a fault.
type PlaybackConn struct {
	opts  PlaybackOptions
	queue *PacketQueue

	mu        sync.Mutex
	state     State
	src       *recorder.Reader
	preloaded []recorder.Sample
	pos       int
	prevAt    time.Time
	exhausted bool

	valid atomic.Bool
}

// NewPlayback creates a playback connection that reads the recording named
// by the Connect target.
func NewPlayback(opts PlaybackOptions) *PlaybackConn {
	return &PlaybackConn{
		opts:  opts.withDefaults(),
		queue: NewPacketQueue(),
	}
}

// NewPlaybackFromSamples creates a playback connection over an in-memory
// recording. Used for demo mode and tests; Connect ignores its target.
func NewPlaybackFromSamples(opts PlaybackOptions, samples []recorder.Sample) *PlaybackConn {
	c := NewPlayback(opts)
	c.preloaded = samples
	return c
}

func (c *PlaybackConn) Protocol() oi.Protocol { return c.opts.Protocol }

func (c *PlaybackConn) Packets() *PacketQueue { return c.queue }

func (c *PlaybackConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *PlaybackConn) SensorDataValid() bool { return c.valid.Load() }

// Faulted is always false: a recording cannot break mid-session, it only
// ends.
func (c *PlaybackConn) Faulted() bool { return false }

// Exhausted reports whether the recording has been fully replayed.
func (c *PlaybackConn) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

// Connect opens the recording. Succeeds whenever the source is readable.
func (c *PlaybackConn) Connect(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Disconnected {
		return fmt.Errorf("transport: connect %s: already %s", target, c.state)
	}
	if c.preloaded == nil {
		f, err := c.opts.Open(target)
		if err != nil {
			return fmt.Errorf("transport: open recording %s: %w", target, err)
		}
		c.src = recorder.NewReader(f)
	}
	c.pos = 0
	c.prevAt = time.Time{}
	c.exhausted = false
	c.state = Connected
	c.valid.Store(false)
	log.Printf("[playback] replaying %s (%s)", target, c.opts.Protocol)
	return nil
}

// Disconnect releases the recording. Safe to call repeatedly, including
// when Connect never succeeded.
func (c *PlaybackConn) Disconnect() {
	c.mu.Lock()
	src := c.src
	c.src = nil
	c.state = Disconnected
	c.mu.Unlock()
	c.valid.Store(false)
	if src != nil {
		if err := src.Close(); err != nil {
			log.Printf("[playback] error closing recording: %v", err)
		}
	}
}

// Send accepts and drops command bytes: commands are not meaningful
// against a recording.
func (c *PlaybackConn) Send(p []byte) error {
	log.Printf("[playback] ignoring command % X", p)
	return nil
}

func (c *PlaybackConn) SendByte(b byte) error { return c.Send([]byte{b}) }

// RequestSensors emits the next recorded packet. The packet's own recorded
// bytes are replayed verbatim regardless of code, so a recording made with
// one packet code replays exactly as captured. io.EOF reports normal
// exhaustion.
func (c *PlaybackConn) RequestSensors(code byte) error {
	if _, err := oi.PacketLength(c.opts.Protocol, code); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.valid.Store(false)
	sample, err := c.next()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	gap := time.Duration(0)
	if c.opts.HonorTiming && !c.prevAt.IsZero() && sample.At.After(c.prevAt) {
		gap = sample.At.Sub(c.prevAt)
		if gap > c.opts.MaxGap {
			gap = c.opts.MaxGap
		}
	}
	c.prevAt = sample.At
	c.mu.Unlock()

	if gap > 0 {
		time.Sleep(gap)
	}

	c.queue.Push(Packet{Data: sample.Raw, ReceivedAt: time.Now()})
	c.valid.Store(true)
	return nil
}

// next returns the next sample from the preloaded slice or the reader.
// Caller holds c.mu.
func (c *PlaybackConn) next() (recorder.Sample, error) {
	if c.exhausted {
		return recorder.Sample{}, io.EOF
	}
	if c.preloaded != nil {
		if c.pos >= len(c.preloaded) {
			c.exhausted = true
			return recorder.Sample{}, io.EOF
		}
		s := c.preloaded[c.pos]
		c.pos++
		return s, nil
	}
	s, err := c.src.Next()
	if err == io.EOF {
		c.exhausted = true
		return recorder.Sample{}, io.EOF
	}
	if err != nil {
		return recorder.Sample{}, fmt.Errorf("transport: read recording: %w", err)
	}
	return s, nil
}
