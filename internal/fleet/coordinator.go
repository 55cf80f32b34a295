// Package fleet owns the device links, their command queues and the channel
// scheduler, and translates desired chamber settings into duty-cycle
// commands fanned out across the fleet.
package fleet

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"specac_control/internal/device"
	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
	"specac_control/internal/scheduler"
)

const (
	// DefaultApplyDelay spaces out per-device enqueues during apply-all so
	// a shared USB controller is not saturated.
	DefaultApplyDelay = 20 * time.Millisecond
	// DefaultChangedBatchLimit bounds devices re-applied per scheduler
	// tick; the remainder is deferred to a follow-up.
	DefaultChangedBatchLimit = 4
	// DefaultFollowUpDelay schedules the deferred remainder.
	DefaultFollowUpDelay = 50 * time.Millisecond

	resultBuffer = 256
)

// RestoreFunc looks up persisted settings for a chamber during a rescan, so
// schedules survive across scans.
type RestoreFunc func(chamber int) (models.ChamberSettings, bool)

// Config wires a Coordinator.
type Config struct {
	Link              device.LinkConfig
	CoalesceWindow    time.Duration
	ApplyDelay        time.Duration
	ChangedBatchLimit int
	FollowUpDelay     time.Duration
	Intervals         scheduler.Intervals
	Lister            device.PortLister
	Mapping           map[string]int
	Restore           RestoreFunc
}

func (c Config) withDefaults() Config {
	if c.ApplyDelay == 0 {
		c.ApplyDelay = DefaultApplyDelay
	}
	if c.ChangedBatchLimit == 0 {
		c.ChangedBatchLimit = DefaultChangedBatchLimit
	}
	if c.FollowUpDelay == 0 {
		c.FollowUpDelay = DefaultFollowUpDelay
	}
	if c.Intervals == (scheduler.Intervals{}) {
		c.Intervals = scheduler.DefaultIntervals()
	}
	return c
}

// managedDevice bundles everything the coordinator tracks for one board.
type managedDevice struct {
	identity models.DeviceIdentity
	link     *device.Link
	queue    *device.Queue
	settings models.ChamberSettings
}

// DeviceStatus is the externally visible snapshot of one device.
type DeviceStatus struct {
	models.DeviceIdentity
	State string          `json:"state"`
	Fan   models.FanState `json:"fan"`
}

// Coordinator is the fleet-wide control point. All device and settings
// state lives here, rebuilt wholesale on each scan; nothing is kept in
// package-level globals.
type Coordinator struct {
	mu          sync.Mutex
	cfg         Config
	devices     []*managedDevice
	pendingFans map[string]int // intent id -> fan percent awaiting ack
	results     chan models.CommandResult
	sched       *scheduler.Scheduler
	log         *logger.Logger
	closed      bool
}

// New builds a coordinator with an empty fleet. Call Rescan to populate it.
func New(cfg Config, log *logger.Logger) *Coordinator {
	c := &Coordinator{
		cfg:         cfg.withDefaults(),
		pendingFans: make(map[string]int),
		results:     make(chan models.CommandResult, resultBuffer),
		log:         log.Named("fleet"),
	}
	c.sched = scheduler.New(c.onScheduleChanges, c.cfg.Intervals, log)
	return c
}

// EncodeDuty converts a brightness percent to a PWM duty cycle.
func EncodeDuty(percent int) int {
	duty := int(math.Round(float64(percent) / 100.0 * models.MaxDuty))
	if duty < 0 {
		return 0
	}
	if duty > models.MaxDuty {
		return models.MaxDuty
	}
	return duty
}

// Results exposes the stream of executed-command outcomes. One consumer
// should drain it (the dispatcher); results are dropped, with a log line,
// if nobody keeps up.
func (c *Coordinator) Results() <-chan models.CommandResult {
	return c.results
}

// Scheduler operations are forwarded so callers never touch the scheduler's
// lifecycle directly.

func (c *Coordinator) StartScheduler() { c.sched.Start() }

func (c *Coordinator) StopScheduler() { c.sched.Stop() }

func (c *Coordinator) SchedulerRunning() bool { return c.sched.Running() }

// Rescan tears the current fleet down completely and rebuilds it from a
// fresh port enumeration. Settings for chambers seen before are restored
// through the configured lookup; everything else starts from defaults.
func (c *Coordinator) Rescan() ([]models.DeviceIdentity, error) {
	identities, err := device.Detect(c.cfg.Lister, c.cfg.Mapping)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("coordinator closed")
	}
	old := c.devices
	c.devices = nil
	c.pendingFans = make(map[string]int)
	c.mu.Unlock()

	c.teardown(old)
	c.sched.Reset()

	var fleet []*managedDevice
	for i, id := range identities {
		settings := models.NewChamberSettings()
		if c.cfg.Restore != nil {
			if restored, ok := c.cfg.Restore(id.Chamber); ok {
				settings = NormalizeSettings(restored)
			}
		}
		link := device.NewLink(id.Port, c.cfg.Link, c.log)
		q := device.NewQueue(i, id.Chamber, link, c.cfg.CoalesceWindow, c.onResult, c.log)
		fleet = append(fleet, &managedDevice{identity: id, link: link, queue: q, settings: settings})

		for _, name := range models.ChannelNames {
			ch := models.ChannelIndex(name)
			if err := c.sched.SetEntry(i, ch, settings.Schedule[name]); err != nil {
				c.log.Warnw("restored schedule invalid", "chamber", id.Chamber, "channel", name, "err", err)
			}
		}
	}

	c.mu.Lock()
	c.devices = fleet
	c.mu.Unlock()

	c.log.Infow("scan complete", "devices", len(fleet))
	return identities, nil
}

// Close tears down every link and queue and stops the scheduler.
// Idempotent; safe while commands are in flight.
func (c *Coordinator) Close() {
	c.sched.Stop()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	old := c.devices
	c.devices = nil
	c.mu.Unlock()
	c.teardown(old)
}

func (c *Coordinator) teardown(devs []*managedDevice) {
	for _, d := range devs {
		d.queue.Shutdown(device.DefaultShutdownWait)
		d.link.Close()
	}
}

// Devices returns the identities of the current fleet.
func (c *Coordinator) Devices() []models.DeviceIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.DeviceIdentity, len(c.devices))
	for i, d := range c.devices {
		out[i] = d.identity
	}
	return out
}

// Status reports identity, connection state and fan state per device.
func (c *Coordinator) Status() []DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceStatus, len(c.devices))
	for i, d := range c.devices {
		out[i] = DeviceStatus{
			DeviceIdentity: d.identity,
			State:          d.link.State().String(),
			Fan:            d.settings.Fan,
		}
	}
	return out
}

// Settings returns a deep copy of one device's chamber settings, with the
// scheduler's derived active flags filled in.
func (c *Coordinator) Settings(idx int) (models.ChamberSettings, bool) {
	c.mu.Lock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		c.mu.Unlock()
		return models.ChamberSettings{}, false
	}
	snap := copySettings(d.settings)
	c.mu.Unlock()

	for _, name := range models.ChannelNames {
		ch := models.ChannelIndex(name)
		s := snap.Schedule[name]
		_, s.Active = c.sched.ChannelState(idx, ch)
		snap.Schedule[name] = s
	}
	return snap, true
}

// SetIntensity records the desired brightness percent for one channel. The
// stored value is never touched by schedule-driven forced-off.
func (c *Coordinator) SetIntensity(idx int, channelName string, percent int) error {
	if models.ChannelIndex(channelName) < 0 {
		return fmt.Errorf("unknown channel %q", channelName)
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("intensity %d out of range [0, 100]", percent)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		return errNoDevice(idx)
	}
	d.settings.Intensity[channelName] = percent
	return nil
}

// SetSchedule installs one channel's schedule and registers it with the
// scheduler. Invalid times are stored disabled.
func (c *Coordinator) SetSchedule(idx int, channelName string, sched models.ChannelSchedule) error {
	ch := models.ChannelIndex(channelName)
	if ch < 0 {
		return fmt.Errorf("unknown channel %q", channelName)
	}

	normalized, err := normalizeSchedule(sched)

	c.mu.Lock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		c.mu.Unlock()
		return errNoDevice(idx)
	}
	d.settings.Schedule[channelName] = normalized
	c.mu.Unlock()

	if schedErr := c.sched.SetEntry(idx, ch, normalized); schedErr != nil && err == nil {
		err = schedErr
	}
	return err
}

// SetChamberSettings replaces a device's whole settings block (import path)
// and refreshes its scheduler entries.
func (c *Coordinator) SetChamberSettings(idx int, settings models.ChamberSettings) error {
	settings = NormalizeSettings(settings)

	c.mu.Lock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		c.mu.Unlock()
		return errNoDevice(idx)
	}
	d.settings = settings
	c.mu.Unlock()

	for _, name := range models.ChannelNames {
		ch := models.ChannelIndex(name)
		if err := c.sched.SetEntry(idx, ch, settings.Schedule[name]); err != nil {
			c.log.Warnw("imported schedule invalid", "device", idx, "channel", name, "err", err)
		}
	}
	return nil
}

// SetFan queues a FAN_SET. enabled=false always sends 0; enabled=true with
// speed 0 falls back to a sane default, mirroring how the fan toggle has
// always behaved.
func (c *Coordinator) SetFan(idx int, enabled bool, speed int) error {
	if speed < 0 || speed > 100 {
		return fmt.Errorf("fan speed %d out of range [0, 100]", speed)
	}
	percent := 0
	if enabled {
		percent = speed
		if percent == 0 {
			percent = 50
		}
	}

	c.mu.Lock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		c.mu.Unlock()
		return errNoDevice(idx)
	}
	in := device.SetFanIntent(idx, percent)
	c.pendingFans[in.ID] = percent
	err := d.queue.Enqueue(in)
	if err != nil {
		delete(c.pendingFans, in.ID)
	}
	c.mu.Unlock()
	return err
}

// Ping queues a PING probe for one device.
func (c *Coordinator) Ping(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		return errNoDevice(idx)
	}
	return d.queue.Enqueue(device.PingIntent(idx))
}

// ApplyDevice builds the duty vector for one device and queues a SETALL.
func (c *Coordinator) ApplyDevice(idx int) error {
	c.mu.Lock()
	d, ok := c.deviceLocked(idx)
	if !ok {
		c.mu.Unlock()
		return errNoDevice(idx)
	}
	duties := c.dutiesLocked(idx, d)
	err := d.queue.Enqueue(device.SetChannelsIntent(idx, duties))
	c.mu.Unlock()
	return err
}

// ApplyAll fans the current settings out to every device, spacing the
// enqueues so slow hardware sharing one USB controller is not flooded.
// Returns how many devices were queued.
func (c *Coordinator) ApplyAll() int {
	n := c.deviceCount()
	go func() {
		for idx := 0; idx < n; idx++ {
			if err := c.ApplyDevice(idx); err != nil {
				c.log.Warnw("apply device failed", "device", idx, "err", err)
			}
			time.Sleep(c.cfg.ApplyDelay)
		}
	}()
	return n
}

// ApplyChanged re-applies only the given devices, at most ChangedBatchLimit
// immediately; the remainder is deferred to a follow-up so one tick never
// stalls on a large fleet.
func (c *Coordinator) ApplyChanged(indices []int) {
	if len(indices) == 0 {
		return
	}
	batch := indices
	var rest []int
	if len(batch) > c.cfg.ChangedBatchLimit {
		rest = batch[c.cfg.ChangedBatchLimit:]
		batch = batch[:c.cfg.ChangedBatchLimit]
	}
	for _, idx := range batch {
		if err := c.ApplyDevice(idx); err != nil {
			c.log.Warnw("apply changed failed", "device", idx, "err", err)
		}
	}
	if len(rest) > 0 {
		time.AfterFunc(c.cfg.FollowUpDelay, func() { c.ApplyChanged(rest) })
	}
}

// onScheduleChanges receives scheduler flips and triggers re-apply for the
// affected devices. Notifications were already emitted (this callback runs
// after the scheduler committed the flips to its cache).
func (c *Coordinator) onScheduleChanges(changes []scheduler.Change) {
	seen := make(map[int]bool)
	var devices []int
	for _, ch := range changes {
		c.log.Infow("schedule flip", "device", ch.Device, "channel", ch.Channel, "active", ch.Active)
		if !seen[ch.Device] {
			seen[ch.Device] = true
			devices = append(devices, ch.Device)
		}
	}
	sort.Ints(devices)
	c.ApplyChanged(devices)
}

// onResult runs on queue worker goroutines: it settles fan acks and
// forwards the result to the dispatcher stream.
func (c *Coordinator) onResult(res models.CommandResult) {
	if res.CommandType == protocol.CmdFanSet {
		c.mu.Lock()
		if percent, ok := c.pendingFans[res.ResultID]; ok {
			delete(c.pendingFans, res.ResultID)
			if res.Success {
				if d, ok := c.deviceLocked(res.DeviceIndex); ok {
					d.settings.Fan = models.FanState{Enabled: percent > 0, Speed: percent}
				}
			}
		}
		c.mu.Unlock()
	}

	select {
	case c.results <- res:
	default:
		c.log.Warnw("result stream full, dropping", "device", res.DeviceIndex, "command", res.CommandType)
	}
}

// dutiesLocked resolves one device's duty vector: a channel whose schedule
// is enabled and currently inactive is forced to zero on the wire only; the
// stored intensity survives for reactivation. Caller holds c.mu.
func (c *Coordinator) dutiesLocked(idx int, d *managedDevice) [models.NumChannels]int {
	var duties [models.NumChannels]int
	for _, name := range models.ChannelNames {
		ch := models.ChannelIndex(name)
		enabled, active := c.sched.ChannelState(idx, ch)
		if enabled && !active {
			duties[ch] = 0
			continue
		}
		duties[ch] = EncodeDuty(d.settings.Intensity[name])
	}
	return duties
}

func (c *Coordinator) deviceLocked(idx int) (*managedDevice, bool) {
	if idx < 0 || idx >= len(c.devices) {
		return nil, false
	}
	return c.devices[idx], true
}

func (c *Coordinator) deviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

func errNoDevice(idx int) error {
	return fmt.Errorf("no device at index %d", idx)
}

// NormalizeSettings clamps intensities, fills missing channels with
// defaults and normalizes schedule times (invalid entries come back
// disabled).
func NormalizeSettings(in models.ChamberSettings) models.ChamberSettings {
	out := models.NewChamberSettings()
	for _, name := range models.ChannelNames {
		if pct, ok := in.Intensity[name]; ok {
			out.Intensity[name] = clampPercent(pct)
		}
		if sched, ok := in.Schedule[name]; ok {
			normalized, _ := normalizeSchedule(sched)
			out.Schedule[name] = normalized
		}
	}
	out.Fan = models.FanState{Enabled: in.Fan.Enabled, Speed: clampPercent(in.Fan.Speed)}
	return out
}

// normalizeSchedule canonicalizes times to "HH:MM" (accepting legacy HHMM)
// and forces enabled off when a time does not parse.
func normalizeSchedule(in models.ChannelSchedule) (models.ChannelSchedule, error) {
	out := models.ChannelSchedule{OnTime: in.OnTime, OffTime: in.OffTime, Enabled: in.Enabled}
	on, errOn := scheduler.NormalizeClock(in.OnTime)
	off, errOff := scheduler.NormalizeClock(in.OffTime)
	if errOn != nil || errOff != nil {
		def := models.DefaultSchedule()
		if errOn != nil {
			out.OnTime = def.OnTime
		} else {
			out.OnTime = on
		}
		if errOff != nil {
			out.OffTime = def.OffTime
		} else {
			out.OffTime = off
		}
		if out.Enabled {
			out.Enabled = false
			return out, fmt.Errorf("invalid schedule times on=%q off=%q: disabled", in.OnTime, in.OffTime)
		}
		return out, nil
	}
	out.OnTime, out.OffTime = on, off
	return out, nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func copySettings(in models.ChamberSettings) models.ChamberSettings {
	out := models.ChamberSettings{
		Intensity: make(map[string]int, len(in.Intensity)),
		Schedule:  make(map[string]models.ChannelSchedule, len(in.Schedule)),
		Fan:       in.Fan,
	}
	for k, v := range in.Intensity {
		out.Intensity[k] = v
	}
	for k, v := range in.Schedule {
		out.Schedule[k] = v
	}
	return out
}
