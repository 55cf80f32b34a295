package fleet

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"specac_control/internal/device"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
)

// okPort answers OK to everything and records writes. Queue workers write
// concurrently with test assertions, hence the mutex.
type okPort struct {
	mu      sync.Mutex
	writes  []string
	reading []byte
}

func (p *okPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, string(b))
	p.reading = []byte("OK\n")
	return len(b), nil
}

func (p *okPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reading) == 0 {
		return 0, nil
	}
	n := copy(b, p.reading)
	p.reading = p.reading[n:]
	return n, nil
}

func (p *okPort) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *okPort) Close() error                                         { return nil }
func (p *okPort) Drain() error                                         { return nil }
func (p *okPort) ResetInputBuffer() error                              { return nil }
func (p *okPort) ResetOutputBuffer() error                             { return nil }
func (p *okPort) SetMode(*serial.Mode) error                           { return nil }
func (p *okPort) SetDTR(bool) error                                    { return nil }
func (p *okPort) SetRTS(bool) error                                    { return nil }
func (p *okPort) SetReadTimeout(time.Duration) error                   { return nil }
func (p *okPort) Break(time.Duration) error                            { return nil }
func (p *okPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }

func boardPort(name, serialNumber string) *enumerator.PortDetails {
	return &enumerator.PortDetails{
		Name: name, IsUSB: true,
		VID: device.BoardVID, PID: device.BoardPID,
		SerialNumber: serialNumber,
	}
}

func testLog() *logger.Logger { return logger.Get(logger.ErrorLevel) }

// newTestFleet builds a coordinator over fake ports and scans it once.
// Returns the ports keyed by name so tests can inspect writes.
func newTestFleet(t *testing.T, cfg Config, details ...*enumerator.PortDetails) (*Coordinator, map[string]*okPort) {
	t.Helper()
	ports := make(map[string]*okPort)
	for _, d := range details {
		ports[d.Name] = &okPort{}
	}
	cfg.Lister = func() ([]*enumerator.PortDetails, error) { return details, nil }
	cfg.Link = device.LinkConfig{
		SettleDelay: time.Nanosecond,
		ReadTimeout: time.Millisecond,
		RetryDelay:  time.Nanosecond,
		Opener: func(name string, _ *serial.Mode) (serial.Port, error) {
			p, ok := ports[name]
			if !ok {
				return nil, fmt.Errorf("unknown port %s", name)
			}
			return p, nil
		},
	}
	if cfg.CoalesceWindow == 0 {
		cfg.CoalesceWindow = time.Millisecond
	}
	c := New(cfg, testLog())
	if _, err := c.Rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	t.Cleanup(c.Close)
	return c, ports
}

// waitResult blocks for the next executed-command result.
func waitResult(t *testing.T, c *Coordinator) models.CommandResult {
	t.Helper()
	select {
	case res := <-c.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command result")
		return models.CommandResult{}
	}
}

func TestEncodeDuty(t *testing.T) {
	cases := []struct {
		percent, want int
	}{
		{0, 0},
		{100, 4095},
		{80, 3276},
		{50, 2048},
		{1, 41},
		{-5, 0},
		{150, 4095},
	}
	for _, tc := range cases {
		if got := EncodeDuty(tc.percent); got != tc.want {
			t.Errorf("EncodeDuty(%d): got %d, want %d", tc.percent, got, tc.want)
		}
	}
}

func TestRescan_MapsAndRestores(t *testing.T) {
	restored := models.NewChamberSettings()
	restored.Intensity["WHITE"] = 80

	cfg := Config{
		Mapping: map[string]int{"SER-A": 2},
		Restore: func(chamber int) (models.ChamberSettings, bool) {
			if chamber == 2 {
				return restored, true
			}
			return models.ChamberSettings{}, false
		},
	}
	c, _ := newTestFleet(t, cfg,
		boardPort("COM3", "SER-B"), // unmapped, synthesized chamber
		boardPort("COM4", "SER-A"), // chamber 2
	)

	devs := c.Devices()
	if len(devs) != 2 {
		t.Fatalf("devices: got %d, want 2", len(devs))
	}
	if devs[0].Chamber != 2 || !devs[0].Mapped {
		t.Errorf("first device: got %+v, want mapped chamber 2", devs[0])
	}
	if devs[1].Chamber < models.SyntheticChamberBase {
		t.Errorf("second device chamber %d not synthesized", devs[1].Chamber)
	}

	s, ok := c.Settings(0)
	if !ok {
		t.Fatal("no settings for device 0")
	}
	if s.Intensity["WHITE"] != 80 {
		t.Errorf("restored WHITE intensity: got %d, want 80", s.Intensity["WHITE"])
	}
	if s2, _ := c.Settings(1); s2.Intensity["WHITE"] != 0 {
		t.Errorf("unrestored device should start at defaults, got %d", s2.Intensity["WHITE"])
	}
}

func TestApplyDevice_EncodesIntensities(t *testing.T) {
	c, ports := newTestFleet(t, Config{}, boardPort("COM3", "SER-A"))

	if err := c.SetIntensity(0, "WHITE", 80); err != nil {
		t.Fatalf("set intensity: %v", err)
	}
	if err := c.ApplyDevice(0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	res := waitResult(t, c)
	if !res.Success || res.CommandType != protocol.CmdSetAll {
		t.Fatalf("result: %+v", res)
	}

	writes := ports["COM3"].Writes()
	if len(writes) != 1 {
		t.Fatalf("writes: got %v", writes)
	}
	// WHITE is channel index 3.
	want := "SETALL 0 0 0 3276 0 0\n"
	if writes[0] != want {
		t.Errorf("wire command: got %q, want %q", writes[0], want)
	}
}

func TestApplyDevice_ScheduledOffForcesZeroButKeepsDesired(t *testing.T) {
	c, ports := newTestFleet(t, Config{}, boardPort("COM3", "SER-A"))

	if err := c.SetIntensity(0, "RED", 100); err != nil {
		t.Fatalf("set intensity: %v", err)
	}
	// A window starting two hours from now is inactive right now.
	now := time.Now()
	on := now.Add(2 * time.Hour)
	off := now.Add(4 * time.Hour)
	err := c.SetSchedule(0, "RED", models.ChannelSchedule{
		OnTime:  on.Format("15:04"),
		OffTime: off.Format("15:04"),
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("set schedule: %v", err)
	}

	if err := c.ApplyDevice(0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	waitResult(t, c)

	writes := ports["COM3"].Writes()
	if len(writes) != 1 || strings.Contains(writes[0], "4095") {
		t.Errorf("inactive channel should be forced to zero: %v", writes)
	}

	s, _ := c.Settings(0)
	if s.Intensity["RED"] != 100 {
		t.Errorf("desired intensity lost: got %d, want 100", s.Intensity["RED"])
	}
	if sched := s.Schedule["RED"]; !sched.Enabled || sched.Active {
		t.Errorf("schedule snapshot: got %+v, want enabled and inactive", sched)
	}
}

func TestSetFan_CachesStateOnSuccess(t *testing.T) {
	c, ports := newTestFleet(t, Config{}, boardPort("COM3", "SER-A"))

	if err := c.SetFan(0, true, 75); err != nil {
		t.Fatalf("set fan: %v", err)
	}
	res := waitResult(t, c)
	if !res.Success || res.CommandType != protocol.CmdFanSet {
		t.Fatalf("result: %+v", res)
	}
	if fan := c.Status()[0].Fan; !fan.Enabled || fan.Speed != 75 {
		t.Errorf("fan cache: got %+v, want enabled at 75", fan)
	}

	if err := c.SetFan(0, false, 75); err != nil {
		t.Fatalf("disable fan: %v", err)
	}
	waitResult(t, c)
	if fan := c.Status()[0].Fan; fan.Enabled || fan.Speed != 0 {
		t.Errorf("fan cache after disable: got %+v", fan)
	}

	writes := ports["COM3"].Writes()
	if len(writes) != 2 || writes[0] != "FAN_SET 75\n" || writes[1] != "FAN_SET 0\n" {
		t.Errorf("wire commands: got %v", writes)
	}
}

func TestApplyChanged_BatchesWithFollowUp(t *testing.T) {
	cfg := Config{ChangedBatchLimit: 1, FollowUpDelay: 5 * time.Millisecond}
	c, ports := newTestFleet(t, cfg,
		boardPort("COM3", "SER-A"),
		boardPort("COM4", "SER-B"),
	)

	c.ApplyChanged([]int{0, 1})
	waitResult(t, c)
	waitResult(t, c)

	for name, p := range ports {
		writes := p.Writes()
		if len(writes) != 1 || !strings.HasPrefix(writes[0], protocol.CmdSetAll) {
			t.Errorf("%s: got %v, want one SETALL", name, writes)
		}
	}
}

func TestSetScheduleValidation(t *testing.T) {
	c, _ := newTestFleet(t, Config{}, boardPort("COM3", "SER-A"))

	err := c.SetSchedule(0, "BLUE", models.ChannelSchedule{OnTime: "25:00", OffTime: "08:00", Enabled: true})
	if err == nil {
		t.Fatal("expected error for invalid on time")
	}
	s, _ := c.Settings(0)
	if s.Schedule["BLUE"].Enabled {
		t.Error("invalid schedule must be stored disabled")
	}

	// Legacy HHMM times are accepted and canonicalized.
	if err := c.SetSchedule(0, "BLUE", models.ChannelSchedule{OnTime: "0800", OffTime: "2330", Enabled: true}); err != nil {
		t.Fatalf("HHMM times: %v", err)
	}
	s, _ = c.Settings(0)
	if got := s.Schedule["BLUE"]; got.OnTime != "08:00" || got.OffTime != "23:30" || !got.Enabled {
		t.Errorf("canonicalized schedule: got %+v", got)
	}

	if err := c.SetSchedule(0, "MAGENTA", models.ChannelSchedule{}); err == nil {
		t.Error("unknown channel accepted")
	}
	if err := c.SetIntensity(3, "RED", 50); err == nil {
		t.Error("out-of-range device index accepted")
	}
}
