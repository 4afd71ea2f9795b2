// Package robot owns the background worker that drives a connection: it
// requests sensor data at a fixed cadence, drains the packet queue, decodes
// each packet, and forwards readings to the recorder and to subscribers.
package robot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartroomba/roombadash/internal/oi"
	"github.com/smartroomba/roombadash/internal/recorder"
	"github.com/smartroomba/roombadash/internal/transport"
)

// Config fixes the orchestrator's behaviour at construction.
type Config struct {
	// Target is the connection target: a serial port name for live, a
	// recording path for playback.
	Target string

	// Kind selects the backend the target was built for. Informational
	// here; the Conn is constructed by the caller.
	Kind transport.Kind

	// PacketCode is the sensor packet requested each cycle.
	PacketCode byte

	// Pause is the interval between sensor requests. Zero or negative
	// falls back to a short tick so playback pacing can dominate.
	Pause time.Duration

	// StartupPause is the wait between the handshake commands and the
	// first sensor request. Default 400 ms.
	StartupPause time.Duration

	// Wakeup toggles the device-detect line before the handshake.
	Wakeup bool
}

// Orchestrator runs the poll/drain/decode/forward loop over one
// connection. Decoded readings fan out to subscribers the way the packet
// queue fans in: non-blocking, in arrival order.
type Orchestrator struct {
	cfg  Config
	conn transport.Conn
	rec  *recorder.Writer // nil when recording is disabled

	subMu       sync.Mutex
	subscribers map[string]chan *oi.SensorData

	lastMu sync.Mutex
	last   *oi.SensorData

	decoded    atomic.Uint64
	decodeErrs atomic.Uint64
}

// New creates an orchestrator. rec may be nil to disable recording.
func New(conn transport.Conn, rec *recorder.Writer, cfg Config) *Orchestrator {
	if cfg.Pause <= 0 {
		cfg.Pause = 10 * time.Millisecond
	}
	if cfg.StartupPause == 0 {
		cfg.StartupPause = 400 * time.Millisecond
	}
	return &Orchestrator{
		cfg:         cfg,
		conn:        conn,
		rec:         rec,
		subscribers: make(map[string]chan *oi.SensorData),
	}
}

// Conn exposes the underlying connection (dashboard command endpoint).
func (o *Orchestrator) Conn() transport.Conn { return o.conn }

// Last returns the most recent decoded reading, or nil.
func (o *Orchestrator) Last() *oi.SensorData {
	o.lastMu.Lock()
	defer o.lastMu.Unlock()
	return o.last
}

// Decoded reports how many readings have been decoded.
func (o *Orchestrator) Decoded() uint64 { return o.decoded.Load() }

// DecodeErrors reports how many packets were discarded as undecodable.
func (o *Orchestrator) DecodeErrors() uint64 { return o.decodeErrs.Load() }

// Subscribe registers a channel receiving every decoded reading. The id
// identifies the subscription for Unsubscribe.
func (o *Orchestrator) Subscribe() (string, <-chan *oi.SensorData) {
	b := make([]byte, 8)
	rand.Read(b)
	id := hex.EncodeToString(b)
	ch := make(chan *oi.SensorData, 16)
	o.subMu.Lock()
	o.subscribers[id] = ch
	o.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscription channel.
func (o *Orchestrator) Unsubscribe(id string) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if ch, ok := o.subscribers[id]; ok {
		close(ch)
		delete(o.subscribers, id)
	}
}

// Run connects (with backoff for live targets), performs the handshake,
// then polls until the context is cancelled or a playback source is
// exhausted. Playback exhaustion is a normal return, not an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.conn.Disconnect()
		if o.rec != nil {
			o.rec.Close()
		}
		o.closeSubscribers()
	}()

	if err := o.connectWithRetry(ctx); err != nil {
		return err
	}
	if err := o.handshake(); err != nil {
		return err
	}

	ticker := time.NewTicker(o.cfg.Pause)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.drain()
			return nil
		case <-ticker.C:
			if done, err := o.cycle(ctx); done {
				return err
			}
		}
	}
}

// cycle is one poll iteration. done reports that the loop should end.
func (o *Orchestrator) cycle(ctx context.Context) (done bool, err error) {
	if o.conn.Faulted() {
		log.Printf("[robot] connection likely broken, reconnecting to %s", o.cfg.Target)
		o.conn.Disconnect()
		if err := o.connectWithRetry(ctx); err != nil {
			return true, err
		}
		if err := o.handshake(); err != nil {
			return true, err
		}
		return false, nil
	}

	if err := o.conn.RequestSensors(o.cfg.PacketCode); err != nil {
		if errors.Is(err, io.EOF) {
			o.drain()
			log.Printf("[robot] playback source exhausted after %d readings", o.decoded.Load())
			return true, nil
		}
		log.Printf("[robot] sensor request failed: %v", err)
		return false, nil
	}

	o.drain()
	return false, nil
}

// drain empties the packet queue, decoding and forwarding every packet.
// Undecodable packets are logged and discarded; they never stop the loop.
func (o *Orchestrator) drain() {
	q := o.conn.Packets()
	for {
		pkt, ok := q.Pop()
		if !ok {
			return
		}
		data, err := oi.Decode(o.conn.Protocol(), o.cfg.PacketCode, pkt.Data, pkt.ReceivedAt)
		if err != nil {
			o.decodeErrs.Add(1)
			log.Printf("[robot] discarding packet: %v", err)
			continue
		}
		o.decoded.Add(1)

		o.lastMu.Lock()
		o.last = data
		o.lastMu.Unlock()

		if o.rec != nil {
			o.rec.Record(data, pkt.Data)
		}
		o.publish(data)
	}
}

func (o *Orchestrator) publish(data *oi.SensorData) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- data:
		default:
			// slow subscriber, skip rather than stall the loop
		}
	}
}

func (o *Orchestrator) closeSubscribers() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for id, ch := range o.subscribers {
		close(ch)
		delete(o.subscribers, id)
	}
}

// handshake wakes and readies a live robot. Playback connections accept
// and drop the same commands, so the sequence is unconditional.
func (o *Orchestrator) handshake() error {
	if o.cfg.Wakeup {
		if sc, ok := o.conn.(*transport.SerialConn); ok {
			if err := sc.Wakeup(); err != nil {
				log.Printf("[robot] wakeup failed: %v", err)
			}
		}
	}
	if err := o.conn.Send(oi.Start()); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)
	if err := o.conn.Send(oi.Control()); err != nil {
		return err
	}
	time.Sleep(o.cfg.StartupPause)
	return nil
}

// connectWithRetry attempts to connect with exponential backoff, starting
// at 1s and doubling up to 30s, until the context is cancelled. Playback
// targets fail fast: an unreadable recording will not become readable.
func (o *Orchestrator) connectWithRetry(ctx context.Context) error {
	delay := time.Second
	const maxDelay = 30 * time.Second
	attempt := 0

	for {
		err := o.conn.Connect(o.cfg.Target)
		if err == nil {
			log.Printf("[robot] connected to %s (%s, attempt %d)", o.cfg.Target, o.cfg.Kind, attempt+1)
			return nil
		}
		if o.cfg.Kind == transport.Playback {
			return err
		}
		attempt++
		log.Printf("[robot] connect attempt %d failed: %v (retry in %v)", attempt, err, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
