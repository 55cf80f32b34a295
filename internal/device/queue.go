package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"specac_control/internal/logger"
	"specac_control/internal/models"
	"specac_control/internal/protocol"
)

const (
	// DefaultCoalesceWindow bounds how long the worker waits for a newer
	// SETALL before transmitting; only the final desired state matters.
	DefaultCoalesceWindow = 30 * time.Millisecond
	// DefaultShutdownWait bounds the join on a worker during shutdown.
	DefaultShutdownWait = 1500 * time.Millisecond

	queueCapacity = 64
)

// Intent is one queued, not-yet-executed command for a specific device.
// Intents are immutable once enqueued.
type Intent struct {
	ID          string
	DeviceIndex int
	Kind        string // protocol.CmdSetAll, CmdFanSet or CmdPing
	Duties      [models.NumChannels]int
	FanPercent  int
}

// SetChannelsIntent builds a SETALL intent.
func SetChannelsIntent(deviceIndex int, duties [models.NumChannels]int) Intent {
	return Intent{ID: uuid.NewString(), DeviceIndex: deviceIndex, Kind: protocol.CmdSetAll, Duties: duties}
}

// SetFanIntent builds a FAN_SET intent.
func SetFanIntent(deviceIndex, percent int) Intent {
	return Intent{ID: uuid.NewString(), DeviceIndex: deviceIndex, Kind: protocol.CmdFanSet, FanPercent: percent}
}

// PingIntent builds a PING intent.
func PingIntent(deviceIndex int) Intent {
	return Intent{ID: uuid.NewString(), DeviceIndex: deviceIndex, Kind: protocol.CmdPing}
}

// ResultFunc receives the outcome of each executed intent. It is called
// from the queue's worker goroutine.
type ResultFunc func(models.CommandResult)

// ErrQueueFull is returned by Enqueue when the device cannot keep up.
var ErrQueueFull = errors.New("command queue full")

// Queue serializes all intents for one device through a single worker so
// the link is never driven concurrently, and coalesces redundant SETALL
// intents to avoid flooding slow hardware.
type Queue struct {
	deviceIndex int
	chamber     int
	link        *Link
	intents     chan Intent
	done        chan struct{}
	window      time.Duration
	report      ResultFunc
	log         *logger.Logger
}

// NewQueue starts the worker for one device.
func NewQueue(deviceIndex, chamber int, link *Link, window time.Duration, report ResultFunc, log *logger.Logger) *Queue {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	q := &Queue{
		deviceIndex: deviceIndex,
		chamber:     chamber,
		link:        link,
		intents:     make(chan Intent, queueCapacity),
		done:        make(chan struct{}),
		window:      window,
		report:      report,
		log:         log.Named(fmt.Sprintf("queue-%d", chamber)),
	}
	go q.run()
	return q
}

// Enqueue adds an intent without blocking. A full queue is reported as an
// error to the caller, never a stall.
func (q *Queue) Enqueue(in Intent) error {
	select {
	case q.intents <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops the worker via a sentinel intent and waits up to wait for
// it to exit. A worker that fails to stop in time is logged and abandoned.
func (q *Queue) Shutdown(wait time.Duration) {
	if wait <= 0 {
		wait = DefaultShutdownWait
	}
	select {
	case q.intents <- Intent{}: // sentinel: empty Kind
	default:
		// Queue full; the worker will still see the closed link soon,
		// but we cannot inject the sentinel. Fall through to the join.
	}
	select {
	case <-q.done:
	case <-time.After(wait):
		q.log.Warnw("worker did not stop in time, abandoning")
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for in := range q.intents {
		if in.Kind == "" {
			return
		}
		batch := []Intent{in}
		if in.Kind == protocol.CmdSetAll {
			var stop bool
			batch, stop = q.coalesce(in)
			if stop {
				q.executeBatch(batch)
				return
			}
		}
		q.executeBatch(batch)
	}
}

// coalesce waits up to the batching window for more SETALL intents and
// keeps only the newest. A different intent kind ends the window and is
// executed right after the coalesced SETALL, preserving arrival order.
// The second return is true when the sentinel arrived mid-window.
func (q *Queue) coalesce(latest Intent) ([]Intent, bool) {
	timer := time.NewTimer(q.window)
	defer timer.Stop()
	for {
		select {
		case next := <-q.intents:
			switch next.Kind {
			case "":
				return []Intent{latest}, true
			case protocol.CmdSetAll:
				latest = next
			default:
				return []Intent{latest, next}, false
			}
		case <-timer.C:
			return []Intent{latest}, false
		}
	}
}

func (q *Queue) executeBatch(batch []Intent) {
	for _, in := range batch {
		q.execute(in)
	}
}

// execute runs one intent against the link and reports the outcome. A
// failure never stops the queue from processing subsequent intents.
func (q *Queue) execute(in Intent) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("worker panic recovered", "intent", in.Kind, "panic", r)
		}
	}()

	command, err := q.encode(in)
	if err == nil {
		err = q.link.Execute(command)
	}

	res := models.CommandResult{
		ResultID:    in.ID,
		DeviceIndex: in.DeviceIndex,
		Chamber:     q.chamber,
		CommandType: in.Kind,
		Success:     err == nil,
		Message:     "OK",
	}
	if err != nil {
		res.Message = err.Error()
	}
	if q.report != nil {
		q.report(res)
	}
}

func (q *Queue) encode(in Intent) ([]byte, error) {
	switch in.Kind {
	case protocol.CmdSetAll:
		return protocol.EncodeSetChannels(in.Duties)
	case protocol.CmdFanSet:
		return protocol.EncodeFanSet(in.FanPercent)
	case protocol.CmdPing:
		return protocol.EncodePing(), nil
	default:
		return nil, fmt.Errorf("unknown intent kind %q", in.Kind)
	}
}
