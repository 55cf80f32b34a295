// Package scheduler evaluates per-channel on/off time windows and drives
// re-application of settings whenever a channel flips between active and
// inactive. It runs as a single re-armed timer whose delay adapts to how
// close the nearest schedule boundary is, so minute-granularity flips are
// never missed without busy-polling.
package scheduler

import (
	"fmt"
	"math"
	"sync"
	"time"

	"specac_control/internal/logger"
	"specac_control/internal/models"
)

// Key identifies one schedule slot.
type Key struct {
	Device  int
	Channel int
}

// Change records one active-state flip observed during a tick.
type Change struct {
	Device  int
	Channel int
	Active  bool
}

// NotifyFunc receives all flips of one tick, before any re-apply fan-out
// that tick triggers. Called from the scheduler's evaluation goroutine.
type NotifyFunc func([]Change)

// Intervals are the adaptive re-poll delays, chosen by distance to the
// nearest upcoming on/off boundary.
type Intervals struct {
	Urgent  time.Duration // boundary within 1 minute
	Fast    time.Duration // within 5
	Normal  time.Duration // within 15
	Relaxed time.Duration // farther away
	Idle    time.Duration // nothing enabled at all
}

// DefaultIntervals mirror the tuning the control host has always run with.
func DefaultIntervals() Intervals {
	return Intervals{
		Urgent:  100 * time.Millisecond,
		Fast:    500 * time.Millisecond,
		Normal:  time.Second,
		Relaxed: 5 * time.Second,
		Idle:    10 * time.Second,
	}
}

type entry struct {
	onMin   int
	offMin  int
	enabled bool
}

// Scheduler owns the schedule table and the derived active-state cache.
type Scheduler struct {
	mu      sync.Mutex
	entries map[Key]entry
	active  map[Key]bool
	running bool
	timer   *time.Timer
	notify  NotifyFunc
	iv      Intervals
	now     func() time.Time
	log     *logger.Logger
}

// New builds a stopped scheduler.
func New(notify NotifyFunc, iv Intervals, log *logger.Logger) *Scheduler {
	if iv == (Intervals{}) {
		iv = DefaultIntervals()
	}
	return &Scheduler{
		entries: make(map[Key]entry),
		active:  make(map[Key]bool),
		notify:  notify,
		iv:      iv,
		now:     time.Now,
		log:     log.Named("scheduler"),
	}
}

// Start arms the evaluation timer. Safe to call repeatedly.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.armLocked(0)
	s.log.Infow("scheduler started")
}

// Stop cancels any pending re-arm. Safe to call repeatedly and at any time.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.log.Infow("scheduler stopped")
}

// Running reports whether the scheduler is armed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetEntry installs one channel's schedule. Invalid times force the entry
// disabled, and the error tells the caller why.
func (s *Scheduler) SetEntry(deviceIdx, channel int, sched models.ChannelSchedule) error {
	var e entry
	var parseErr error
	if sched.Enabled {
		on, err1 := ParseClock(sched.OnTime)
		off, err2 := ParseClock(sched.OffTime)
		if err1 != nil || err2 != nil {
			parseErr = fmt.Errorf("schedule for device %d channel %d disabled: on %q off %q invalid",
				deviceIdx, channel, sched.OnTime, sched.OffTime)
		} else {
			e = entry{onMin: on, offMin: off, enabled: true}
		}
	}

	key := Key{Device: deviceIdx, Channel: channel}
	s.mu.Lock()
	s.entries[key] = e
	delete(s.active, key) // next tick re-derives and reports the flip
	s.mu.Unlock()
	return parseErr
}

// Reset drops every entry and the derived cache, e.g. on a rescan.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Key]entry)
	s.active = make(map[Key]bool)
}

// ChannelState returns (enabled, active) for one slot. Unknown slots are
// disabled. Active for an enabled slot that has not been evaluated yet is
// derived on the spot so apply never acts on stale data.
func (s *Scheduler) ChannelState(deviceIdx, channel int) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Key{Device: deviceIdx, Channel: channel}
	e, ok := s.entries[key]
	if !ok || !e.enabled {
		return false, false
	}
	if a, ok := s.active[key]; ok {
		return true, a
	}
	nowMin := s.nowMinutes()
	return true, isActiveAt(nowMin, e.onMin, e.offMin)
}

// armLocked schedules the next tick. Caller holds s.mu.
func (s *Scheduler) armLocked(delay time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	// The timer callback only spawns the evaluation goroutine, so
	// re-arming itself never blocks on evaluation work.
	s.timer = time.AfterFunc(delay, func() { go s.tick() })
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	changes, delay := s.evaluate()
	if len(changes) > 0 && s.notify != nil {
		s.notify(changes)
	}

	s.mu.Lock()
	if s.running {
		s.armLocked(delay)
	}
	s.mu.Unlock()
}

// evaluate recomputes every enabled slot's active state, collects flips and
// picks the next delay from the distance to the nearest boundary.
func (s *Scheduler) evaluate() ([]Change, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMin := s.nowMinutes()
	minDiff := math.MaxInt
	var changes []Change

	for key, e := range s.entries {
		if !e.enabled {
			continue
		}
		if d := minutesUntil(nowMin, e.onMin); d < minDiff {
			minDiff = d
		}
		if d := minutesUntil(nowMin, e.offMin); d < minDiff {
			minDiff = d
		}

		active := isActiveAt(nowMin, e.onMin, e.offMin)
		prev, seen := s.active[key]
		if !seen || prev != active {
			s.active[key] = active
			changes = append(changes, Change{Device: key.Device, Channel: key.Channel, Active: active})
		}
	}

	return changes, s.nextDelay(minDiff)
}

func (s *Scheduler) nextDelay(minDiff int) time.Duration {
	switch {
	case minDiff == math.MaxInt:
		return s.iv.Idle
	case minDiff <= 1:
		return s.iv.Urgent
	case minDiff <= 5:
		return s.iv.Fast
	case minDiff <= 15:
		return s.iv.Normal
	default:
		return s.iv.Relaxed
	}
}

func (s *Scheduler) nowMinutes() int {
	t := s.now()
	return t.Hour()*60 + t.Minute()
}
