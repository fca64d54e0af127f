// Package calibrator sequences calibration and parking of the joints of one
// robot part.
//
// A Calibrator is opened with a description, then Calibrate and Park are
// invoked against a hardware.Set. Both run synchronously on the caller's
// goroutine and block in sleep-based poll loops. Abort requests arrive from
// other goroutines through RequestAbortCalibration and RequestAbortPark.
package calibrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/events"
)

// Timing holds poll budgets and intervals of the wait states.
type Timing struct {
	CalibrationPolls        int
	CalibrationPollInterval time.Duration
	ZeroTimeout             time.Duration
	ZeroPollInterval        time.Duration
	ParkPolls               int
	ParkPollInterval        time.Duration
}

// DefaultTiming matches the budgets the joint controllers are tuned for.
var DefaultTiming = Timing{
	CalibrationPolls:        25,
	CalibrationPollInterval: time.Second,
	ZeroTimeout:             5 * time.Second,
	ZeroPollInterval:        500 * time.Millisecond,
	ParkPolls:               30,
	ParkPollInterval:        time.Second,
}

type Calibrator struct {
	cfgMu sync.RWMutex
	cfg   *config.Calibration

	calibAbort AbortFlag
	parkAbort  AbortFlag

	// busy guards against concurrent Calibrate / Park calls.
	busy atomic.Bool

	events events.Publisher
	timing Timing

	// test seams
	now   func() time.Time
	sleep func(time.Duration)

	stateMu  sync.Mutex
	activity calibration.Activity
	group    int
	phase    calibration.Phase
}

// New returns a closed Calibrator. pub may be nil.
func New(pub events.Publisher) *Calibrator {
	return &Calibrator{
		events:   pub,
		timing:   DefaultTiming,
		now:      time.Now,
		sleep:    time.Sleep,
		activity: calibration.ActivityIdle,
		phase:    calibration.PhaseIdle,
	}
}

// SetTiming replaces the poll budgets. It must not be called while an
// operation is running.
func (c *Calibrator) SetTiming(t Timing) {
	c.timing = t
}

// Open validates the description and keeps the resulting configuration for
// subsequent Calibrate and Park calls.
func (c *Calibrator) Open(d *config.Description) error {
	cfg, err := config.NewCalibration(d)
	if err != nil {
		logrus.WithError(err).Error("failed to open calibrator")
		return err
	}

	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"device":  cfg.DeviceName,
		"joints":  cfg.NumJoints(),
		"groups":  len(cfg.Groups),
		"vanilla": cfg.Vanilla,
	}).Info("calibrator opened")
	return nil
}

// Close drops the configuration. It fails while an operation is running.
func (c *Calibrator) Close() error {
	if c.busy.Load() {
		return ErrBusy
	}
	c.cfgMu.Lock()
	c.cfg = nil
	c.cfgMu.Unlock()
	return nil
}

// Config returns the active configuration, or nil when closed.
func (c *Calibrator) Config() *config.Calibration {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// RequestAbortCalibration asks a running Calibrate to stop issuing commands.
func (c *Calibrator) RequestAbortCalibration() bool {
	logrus.WithField("device", c.deviceName()).Info("quitting calibrate")
	c.calibAbort.Request()
	return true
}

// RequestAbortPark asks a running Park to stop waiting.
func (c *Calibrator) RequestAbortPark() bool {
	logrus.WithField("device", c.deviceName()).Info("quitting parking")
	c.parkAbort.Request()
	return true
}

// Busy reports whether Calibrate or Park is running.
func (c *Calibrator) Busy() bool {
	return c.busy.Load()
}

// Progress returns what the calibrator is doing right now.
func (c *Calibrator) Progress() (calibration.Activity, int, calibration.Phase) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.activity, c.group, c.phase
}

func (c *Calibrator) setProgress(a calibration.Activity, group int, phase calibration.Phase) {
	c.stateMu.Lock()
	c.activity = a
	c.group = group
	c.phase = phase
	c.stateMu.Unlock()
}

func (c *Calibrator) deviceName() string {
	if cfg := c.Config(); cfg != nil {
		return cfg.DeviceName
	}
	return ""
}

func (c *Calibrator) publish(name string, payload any) {
	if c.events == nil {
		return
	}
	c.events.Publish(name, payload)
}

// waitAbortable sleeps for d in steps of at most step, returning false as
// soon as flag is observed set.
func (c *Calibrator) waitAbortable(d, step time.Duration, flag *AbortFlag) bool {
	deadline := c.now().Add(d)
	for {
		if flag.Requested() {
			return false
		}
		left := deadline.Sub(c.now())
		if left <= 0 {
			return true
		}
		if left > step {
			left = step
		}
		c.sleep(left)
	}
}
