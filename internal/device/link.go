package device

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
)

// Link defaults. The settle delay covers the board's power-on banner after
// the port opens; trusting input earlier reads boot noise.
const (
	DefaultBaudRate    = 115200
	DefaultSettleDelay = 1800 * time.Millisecond
	DefaultReadTimeout = 1 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond

	maxLineLen = 256
)

// PortOpener opens a serial port. Swappable in tests.
type PortOpener func(name string, mode *serial.Mode) (serial.Port, error)

// LinkConfig tunes one device link. Zero values fall back to the defaults.
// A negative MaxRetries disables retries entirely (single attempt).
type LinkConfig struct {
	BaudRate    int
	SettleDelay time.Duration
	ReadTimeout time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Opener      PortOpener
}

func (c LinkConfig) withDefaults() LinkConfig {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Opener == nil {
		c.Opener = serial.Open
	}
	return c
}

// Link owns exactly one serial connection and performs synchronous
// request/response exchanges with retry and reconnect. All hardware I/O in
// this program goes through a Link.
type Link struct {
	mu       sync.Mutex
	portName string
	cfg      LinkConfig
	port     serial.Port
	state    models.ConnState
	log      *logger.Logger
}

// NewLink builds a link for the named port. The port is not opened until
// the first Execute call.
func NewLink(portName string, cfg LinkConfig, log *logger.Logger) *Link {
	return &Link{
		portName: portName,
		cfg:      cfg.withDefaults(),
		state:    models.StateDisconnected,
		log:      log.Named(portName),
	}
}

// State reports the current connection state.
func (l *Link) State() models.ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Execute sends one already-encoded command line and waits for the board's
// answer. The lock is held for the whole attempt so connect/retry sequences
// are atomic with respect to concurrent callers on the same device.
//
// A board-level ERR is returned as KindBoard without retrying: it is a
// definitive answer, not a transport failure. Timeouts, unexpected lines and
// transport errors close the connection, back off, reconnect and retry up to
// MaxRetries times.
func (l *Link) Execute(command []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == models.StateFaulted {
		return &CommandError{Kind: KindConnection, Err: ErrLinkClosed}
	}

	if l.state != models.StateConnected {
		if err := l.connectLocked(); err != nil {
			return &CommandError{Kind: KindConnection, Message: "open " + l.portName, Err: err}
		}
	}

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if l.state != models.StateConnected {
			if err := l.connectLocked(); err != nil {
				lastErr = err
				break
			}
		}

		reply, err := l.exchangeLocked(command)
		if err == nil {
			switch reply.Verdict {
			case protocol.VerdictOK:
				return nil
			case protocol.VerdictBoardError:
				return &CommandError{Kind: KindBoard, Message: reply.Payload}
			case protocol.VerdictEmpty:
				err = &CommandError{Kind: KindTimeout, Message: "no response within read timeout"}
			case protocol.VerdictUnexpected:
				err = &CommandError{Kind: KindUnexpected, Message: fmt.Sprintf("%q", reply.Payload)}
			}
		}

		lastErr = err
		l.log.Warnw("exchange failed", "attempt", attempt+1, "err", err)
		l.disconnectLocked()
		if attempt < l.cfg.MaxRetries {
			time.Sleep(l.cfg.RetryDelay * time.Duration(attempt+1))
		}
	}

	return &CommandError{Kind: KindRetriesExceeded, Err: lastErr}
}

// Ping sends the PING probe.
func (l *Link) Ping() error {
	return l.Execute(protocol.EncodePing())
}

// Close tears the link down for good. Idempotent and safe while a command
// is in flight: it waits for the in-flight exchange, then marks the link
// faulted so further Execute calls fail fast.
func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectLocked()
	l.state = models.StateFaulted
}

// connectLocked opens the port, waits out the boot banner and drains
// whatever the board already printed. Caller holds l.mu.
func (l *Link) connectLocked() error {
	l.state = models.StateConnecting
	mode := &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := l.cfg.Opener(l.portName, mode)
	if err != nil {
		l.state = models.StateDisconnected
		l.port = nil
		return err
	}
	if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		l.state = models.StateDisconnected
		l.port = nil
		return err
	}

	time.Sleep(l.cfg.SettleDelay)
	_ = port.ResetInputBuffer()

	l.port = port
	l.state = models.StateConnected
	l.log.Debugw("connected", "baud", l.cfg.BaudRate)
	return nil
}

func (l *Link) disconnectLocked() {
	if l.port != nil {
		if err := l.port.Close(); err != nil {
			l.log.Warnw("closing port", "err", err)
		}
		l.port = nil
	}
	if l.state != models.StateFaulted {
		l.state = models.StateDisconnected
	}
}

// exchangeLocked performs one write+read attempt. Caller holds l.mu.
func (l *Link) exchangeLocked(command []byte) (protocol.Reply, error) {
	if err := l.port.ResetInputBuffer(); err != nil {
		return protocol.Reply{}, &CommandError{Kind: KindTransport, Message: "drain input", Err: err}
	}
	if _, err := l.port.Write(command); err != nil {
		return protocol.Reply{}, &CommandError{Kind: KindTransport, Message: "write", Err: err}
	}
	if err := l.port.Drain(); err != nil {
		return protocol.Reply{}, &CommandError{Kind: KindTransport, Message: "flush", Err: err}
	}

	line, err := l.readLineLocked()
	if err != nil {
		return protocol.Reply{}, &CommandError{Kind: KindTransport, Message: "read", Err: err}
	}
	return protocol.Classify(line), nil
}

// readLineLocked reads bytes until newline or until the port's read timeout
// yields an empty read.
func (l *Link) readLineLocked() ([]byte, error) {
	line := make([]byte, 0, 32)
	buf := make([]byte, 1)
	for len(line) < maxLineLen {
		n, err := l.port.Read(buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Read timeout elapsed; return what arrived (possibly
			// nothing) and let classification call it.
			return line, nil
		}
		if buf[0] == '\n' {
			return line, nil
		}
		line = append(line, buf[0])
	}
	return line, nil
}
