package transport

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/smartroomba/roombadash/internal/oi"
)

// Port is the slice of go.bug.st/serial.Port the live transport needs.
// The abstraction enables unit testing without real serial hardware.
type Port interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	GetModemStatusBits() (*serial.ModemStatusBits, error)
	SetReadTimeout(t time.Duration) error
	Drain() error
}

// PortOpener opens a named serial port with the given line parameters.
// Injected so tests can substitute a fake port.
type PortOpener func(name string, mode *serial.Mode) (Port, error)

// PortLister enumerates system serial port names.
type PortLister func() ([]string, error)

func defaultOpener(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Options carries the live transport tunables. They are fixed at
// construction; there are no mutable knobs after Connect.
type Options struct {
	// Protocol selects the variant and with it the negotiated baud rate.
	Protocol oi.Protocol

	// WaitForDSR makes Connect poll the modem DSR line before declaring
	// success. Needed for some virtual ports (Windows Bluetooth serial)
	// that accept an open before the device is actually ready.
	WaitForDSR bool

	// FlushAfterWrite forces a drain after every write. Off by default:
	// draining has been unreliable on some platforms.
	FlushAfterWrite bool

	// DSRAttempts / DSRInterval bound the DSR wait. Defaults: 40 tries,
	// 150 ms apart (6 s total).
	DSRAttempts int
	DSRInterval time.Duration

	// ReadTimeout bounds each blocking read in the ingestion loop so it
	// can observe teardown. Default 200 ms.
	ReadTimeout time.Duration

	// UpdatePause is the recommended wait after a sensors command before
	// the reply is expected. Exposed for the orchestrator. Default 400 ms.
	UpdatePause time.Duration

	// Opener and Lister default to go.bug.st/serial.
	Opener PortOpener
	Lister PortLister
}

func (o Options) withDefaults() Options {
	if o.Protocol == "" {
		o.Protocol = oi.OI
	}
	if o.DSRAttempts == 0 {
		o.DSRAttempts = 40
	}
	if o.DSRInterval == 0 {
		o.DSRInterval = 150 * time.Millisecond
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 200 * time.Millisecond
	}
	if o.UpdatePause == 0 {
		o.UpdatePause = 400 * time.Millisecond
	}
	if o.Opener == nil {
		o.Opener = defaultOpener
	}
	if o.Lister == nil {
		o.Lister = serial.GetPortsList
	}
	return o
}

// Stats are ingestion diagnostics. SuspectMisaligned counts partial frames
// abandoned by a re-request or disconnect: with length-only framing a
// dropped or extra byte misaligns everything after it, and a lingering
// partial frame at a clean boundary is the observable symptom.
type Stats struct {
	BytesIngested     uint64 `json:"bytesIngested"`
	PacketsFramed     uint64 `json:"packetsFramed"`
	SuspectMisaligned uint64 `json:"suspectMisaligned"`
}

// SerialConn is the live serial backend. A background reader goroutine
// ingests inbound bytes and reassembles them into fixed-length packets on
// the queue; framing is purely length-based with no start-of-packet marker.
// The stream is assumed aligned by each fresh sensors request establishing
// a clean boundary; there is no resynchronization (see Stats).
type SerialConn struct {
	opts  Options
	reg   *PortRegistry
	queue *PacketQueue

	mu       sync.Mutex
	state    State
	port     Port
	portName string
	acquired bool
	frame    []byte
	readLen  int
	wg       sync.WaitGroup

	valid   atomic.Bool
	faulted atomic.Bool

	bytesIngested     atomic.Uint64
	packetsFramed     atomic.Uint64
	suspectMisaligned atomic.Uint64
}

// NewSerial creates a live connection. reg must be shared with every other
// live connection in the process to keep the don't-double-open guarantee.
func NewSerial(reg *PortRegistry, opts Options) *SerialConn {
	return &SerialConn{
		opts:  opts.withDefaults(),
		reg:   reg,
		queue: NewPacketQueue(),
	}
}

func (c *SerialConn) Protocol() oi.Protocol { return c.opts.Protocol }

// Packets returns the shared telemetry queue.
func (c *SerialConn) Packets() *PacketQueue { return c.queue }

// State reports the connection state.
func (c *SerialConn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SerialConn) SensorDataValid() bool { return c.valid.Load() }

func (c *SerialConn) Faulted() bool { return c.faulted.Load() }

// Stats returns a snapshot of the ingestion counters.
func (c *SerialConn) Stats() Stats {
	return Stats{
		BytesIngested:     c.bytesIngested.Load(),
		PacketsFramed:     c.packetsFramed.Load(),
		SuspectMisaligned: c.suspectMisaligned.Load(),
	}
}

// Connect enumerates system serial ports, opens the one matching target
// with the protocol's line parameters, optionally waits for DSR, and
// starts the ingestion loop. Any failure releases everything acquired and
// leaves the connection Disconnected.
func (c *SerialConn) Connect(target string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("transport: connect %s: already %s", target, c.state)
	}
	c.state = Connecting
	c.mu.Unlock()

	port, err := c.openPort(target)
	if err != nil {
		c.Disconnect()
		return err
	}

	length, _ := oi.PacketLength(c.opts.Protocol, oi.PacketAll)

	c.mu.Lock()
	c.port = port
	c.frame = c.frame[:0]
	c.readLen = length
	c.state = Connected
	c.mu.Unlock()

	c.valid.Store(false)
	c.faulted.Store(false)

	c.wg.Add(1)
	go c.readLoop(port, target)

	log.Printf("[serial] connected to %s at %d baud (%s)", target, c.opts.Protocol.BaudRate(), c.opts.Protocol)
	return nil
}

func (c *SerialConn) openPort(target string) (Port, error) {
	names, err := c.opts.Lister()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	found := false
	for _, n := range names {
		log.Printf("[serial] found port: %s", n)
		if n == target {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPortNotFound, target)
	}

	if err := c.reg.Acquire(target); err != nil {
		return nil, fmt.Errorf("%w: %s", err, target)
	}
	c.mu.Lock()
	c.portName = target
	c.acquired = true
	c.mu.Unlock()

	mode := &serial.Mode{
		BaudRate: c.opts.Protocol.BaudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := c.opts.Opener(target, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", target, err)
	}
	if err := port.SetReadTimeout(c.opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout on %s: %w", target, err)
	}

	if c.opts.WaitForDSR {
		if err := c.waitForDSR(port); err != nil {
			port.Close()
			return nil, err
		}
	}
	return port, nil
}

// waitForDSR polls the data-set-ready line in bounded sleep increments
// until it goes high or the retry budget is exhausted.
func (c *SerialConn) waitForDSR(port Port) error {
	for i := 0; i < c.opts.DSRAttempts; i++ {
		bits, err := port.GetModemStatusBits()
		if err != nil {
			return fmt.Errorf("transport: read modem status: %w", err)
		}
		if bits.DSR {
			return nil
		}
		log.Printf("[serial] DSR not ready yet (%d/%d)", i+1, c.opts.DSRAttempts)
		time.Sleep(c.opts.DSRInterval)
	}
	return ErrDSRTimeout
}

// Disconnect releases the port, the registry slot and the reader
// goroutine. Safe to call repeatedly and from any state, including while an
// ingestion read is in flight.
func (c *SerialConn) Disconnect() {
	c.mu.Lock()
	port := c.port
	name := c.portName
	acquired := c.acquired
	if len(c.frame) > 0 {
		c.suspectMisaligned.Add(1)
	}
	c.port = nil
	c.acquired = false
	c.frame = nil
	c.state = Disconnected
	c.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			log.Printf("[serial] error closing %s: %v", name, err)
		}
	}
	if acquired {
		c.reg.Release(name)
	}
	c.wg.Wait()
	c.valid.Store(false)
}

// Send writes command bytes to the port. I/O failure marks the connection
// faulted; it never panics.
func (c *SerialConn) Send(p []byte) error {
	c.mu.Lock()
	port := c.port
	name := c.portName
	c.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(p); err != nil {
		log.Printf("[serial] write failed on %s: %v", name, err)
		c.faulted.Store(true)
		return fmt.Errorf("transport: write: %w", err)
	}
	if c.opts.FlushAfterWrite {
		if err := port.Drain(); err != nil {
			log.Printf("[serial] drain failed on %s: %v", name, err)
		}
	}
	return nil
}

// SendByte writes a single command byte.
func (c *SerialConn) SendByte(b byte) error { return c.Send([]byte{b}) }

// RequestSensors sets the expected reply length for code and sends the
// sensors command. A fresh request establishes a clean framing boundary:
// any partial frame still buffered is abandoned and counted as suspect.
func (c *SerialConn) RequestSensors(code byte) error {
	length, err := oi.PacketLength(c.opts.Protocol, code)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if len(c.frame) > 0 {
		c.suspectMisaligned.Add(1)
		c.frame = c.frame[:0]
	}
	c.readLen = length
	c.mu.Unlock()

	c.valid.Store(false)
	return c.Send(oi.Sensors(code))
}

// Wakeup toggles the device-detect line (wired to DTR) low then high to
// wake a sleeping robot before the handshake.
func (c *SerialConn) Wakeup() error {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	if err := port.SetDTR(false); err != nil {
		return fmt.Errorf("transport: set DTR low: %w", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := port.SetDTR(true); err != nil {
		return fmt.Errorf("transport: set DTR high: %w", err)
	}
	return nil
}

// readLoop is the ingestion path. It drains whatever bytes are available
// and exits when the port is closed underneath it or a read error surfaces
// mid-session.
func (c *SerialConn) readLoop(port Port, name string) {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			c.ingest(buf[:n])
		}
		if err != nil {
			if c.State() == Connected {
				log.Printf("[serial] read error on %s: %v (connection likely broken)", name, err)
				c.faulted.Store(true)
			}
			return
		}
		if c.State() != Connected {
			return
		}
	}
}

// ingest appends inbound bytes to the frame buffer and carves off a packet
// each time it reaches the expected length. Partial frames persist across
// calls. A late read racing teardown is dropped, never crashed on.
func (c *SerialConn) ingest(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Connected || c.readLen <= 0 {
		return
	}
	c.bytesIngested.Add(uint64(len(b)))
	c.frame = append(c.frame, b...)
	for len(c.frame) >= c.readLen {
		data := make([]byte, c.readLen)
		copy(data, c.frame[:c.readLen])
		c.frame = c.frame[:copy(c.frame, c.frame[c.readLen:])]

		c.queue.Push(Packet{Data: data, ReceivedAt: time.Now()})
		c.packetsFramed.Add(1)
		c.valid.Store(true)
	}
}
