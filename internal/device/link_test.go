package device

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go.bug.st/serial"

	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
)

// fakePort is a scripted serial.Port: each written command consumes the next
// canned response line. An empty response simulates a read timeout.
type fakePort struct {
	responses []string
	writes    []string
	reading   []byte
	closed    bool
	writeErr  error
}

func (f *fakePort) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, string(p))
	if len(f.responses) > 0 {
		f.reading = []byte(f.responses[0])
		f.responses = f.responses[1:]
	} else {
		f.reading = nil
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.reading) == 0 {
		return 0, nil // read timeout
	}
	n := copy(p, f.reading)
	f.reading = f.reading[n:]
	return n, nil
}

func (f *fakePort) Close() error                                 { f.closed = true; return nil }
func (f *fakePort) Drain() error                                 { return nil }
func (f *fakePort) ResetInputBuffer() error                      { f.reading = nil; return nil }
func (f *fakePort) ResetOutputBuffer() error                     { return nil }
func (f *fakePort) SetMode(*serial.Mode) error                   { return nil }
func (f *fakePort) SetDTR(bool) error                            { return nil }
func (f *fakePort) SetRTS(bool) error                            { return nil }
func (f *fakePort) SetReadTimeout(time.Duration) error           { return nil }
func (f *fakePort) Break(time.Duration) error                    { return nil }
func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }

// fastCfg removes real-time delays from the link.
func fastCfg(opener PortOpener) LinkConfig {
	return LinkConfig{
		SettleDelay: time.Nanosecond,
		ReadTimeout: time.Millisecond,
		RetryDelay:  time.Nanosecond,
		Opener:      opener,
	}
}

func testLog() *logger.Logger { return logger.Get(logger.ErrorLevel) }

func TestLinkExecute_Success(t *testing.T) {
	port := &fakePort{responses: []string{"OK\n"}}
	opens := 0
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		opens++
		return port, nil
	}), testLog())

	if err := link.Execute([]byte("PING\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opens != 1 {
		t.Errorf("opens: got %d, want 1", opens)
	}
	if len(port.writes) != 1 || port.writes[0] != "PING\n" {
		t.Errorf("writes: got %v", port.writes)
	}
	if link.State() != models.StateConnected {
		t.Errorf("state: got %v, want connected", link.State())
	}
}

func TestLinkExecute_ConnectFailureIsImmediate(t *testing.T) {
	boom := errors.New("no such port")
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		return nil, boom
	}), testLog())

	err := link.Execute([]byte("PING\n"))
	kind, ok := KindOf(err)
	if !ok || kind != KindConnection {
		t.Fatalf("got %v, want connection error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestLinkExecute_BoardErrorNotRetried(t *testing.T) {
	port := &fakePort{responses: []string{"ERR: bad duty\n"}}
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}), testLog())

	err := link.Execute([]byte("SETALL 9999 0 0 0 0 0\n"))
	kind, ok := KindOf(err)
	if !ok || kind != KindBoard {
		t.Fatalf("got %v, want board error", err)
	}
	if !strings.Contains(err.Error(), "bad duty") {
		t.Errorf("reason not surfaced: %v", err)
	}
	if len(port.writes) != 1 {
		t.Errorf("board errors must not retry; wrote %d times", len(port.writes))
	}
}

func TestLinkExecute_TimeoutRetriesThenGivesUp(t *testing.T) {
	// Every attempt times out: the command is attempted MaxRetries+1
	// times, each on a freshly opened port.
	attempts := 0
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		attempts++
		return &fakePort{}, nil
	}), testLog())

	err := link.Execute([]byte("PING\n"))
	kind, ok := KindOf(err)
	if !ok || kind != KindRetriesExceeded {
		t.Fatalf("got %v, want max retries exceeded", err)
	}
	if want := DefaultMaxRetries + 1; attempts != want {
		t.Errorf("attempts: got %d, want %d", attempts, want)
	}
	var ce *CommandError
	if errors.As(err, &ce) {
		if k, _ := KindOf(ce.Err); k != KindTimeout {
			t.Errorf("last error: got %v, want timeout", ce.Err)
		}
	}
	if link.State() != models.StateDisconnected {
		t.Errorf("state: got %v, want disconnected", link.State())
	}
}

func TestLinkExecute_NegativeMaxRetriesMeansSingleAttempt(t *testing.T) {
	attempts := 0
	cfg := fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		attempts++
		return &fakePort{}, nil
	})
	cfg.MaxRetries = -1
	link := NewLink("COM7", cfg, testLog())

	err := link.Execute([]byte("PING\n"))
	kind, ok := KindOf(err)
	if !ok || kind != KindRetriesExceeded {
		t.Fatalf("got %v, want max retries exceeded", err)
	}
	if attempts != 1 {
		t.Errorf("attempts: got %d, want 1", attempts)
	}
}

func TestLinkExecute_RecoversAfterUnexpectedResponse(t *testing.T) {
	ports := []*fakePort{
		{responses: []string{"\xffgarbage\n"}},
		{responses: []string{"OK\n"}},
	}
	idx := 0
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		p := ports[idx]
		idx++
		return p, nil
	}), testLog())

	if err := link.Execute([]byte("PING\n")); err != nil {
		t.Fatalf("expected recovery on retry, got %v", err)
	}
	if !ports[0].closed {
		t.Error("first port should have been closed after the bad line")
	}
}

func TestLinkClose_FailsFastAndIsIdempotent(t *testing.T) {
	port := &fakePort{responses: []string{"OK\n"}}
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}), testLog())

	if err := link.Execute([]byte("PING\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	link.Close()
	link.Close() // idempotent
	if !port.closed {
		t.Error("port not closed")
	}
	if link.State() != models.StateFaulted {
		t.Errorf("state: got %v, want faulted", link.State())
	}
	err := link.Execute([]byte("PING\n"))
	if !errors.Is(err, ErrLinkClosed) {
		t.Errorf("got %v, want ErrLinkClosed", err)
	}
}

func TestLinkExecute_ResponseWithCarriageReturn(t *testing.T) {
	// main_2 firmware answers with \r\n line endings.
	port := &fakePort{responses: []string{"OK\r\n"}}
	link := NewLink("COM7", fastCfg(func(string, *serial.Mode) (serial.Port, error) {
		return port, nil
	}), testLog())

	if err := link.Execute(protocol.EncodePing()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
