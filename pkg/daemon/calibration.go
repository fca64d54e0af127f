package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/events"
)

var (
	ErrOperationInProgress = &operationError{"calibration or parking already in progress"}
	ErrNoOperation         = &operationError{"no calibration or parking in progress"}
	ErrShuttingDown        = &operationError{"daemon is shutting down"}
)

type operationError struct{ msg string }

func (e *operationError) Error() string { return e.msg }

// persistedState is what survives a daemon restart.
type persistedState struct {
	LastRun  *calibration.Report     `json:"lastRun,omitempty"`
	LastPark *calibration.ParkReport `json:"lastPark,omitempty"`
}

var (
	stateMu   = &sync.Mutex{}
	state     = &persistedState{}
	statePath = ""

	// operating is set while a calibration or park goroutine owns the
	// hardware. opMu orders claiming it with opWG and shutdown.
	operating    atomic.Bool
	opWG         sync.WaitGroup
	opMu         sync.Mutex
	shuttingDown bool

	// Aborts requested for the current operation. The calibrator clears its
	// own flags when a run starts, so these are handed over again once it
	// has.
	pendingCalibAbort atomic.Bool
	pendingParkAbort  atomic.Bool
)

// abortHandoverInterval is how often a pending abort checks whether the
// calibrator has started.
var abortHandoverInterval = 2 * time.Millisecond

// beginOperation claims the hardware for one calibration or park. Every
// successful call must be paired with endOperation.
func beginOperation() error {
	opMu.Lock()
	defer opMu.Unlock()
	if shuttingDown {
		return ErrShuttingDown
	}
	if !operating.CompareAndSwap(false, true) {
		return ErrOperationInProgress
	}
	pendingCalibAbort.Store(false)
	pendingParkAbort.Store(false)
	opWG.Add(1)
	return nil
}

func endOperation() {
	operating.Store(false)
	opWG.Done()
}

// handOverAbort re-requests a pending abort once the calibrator reports
// activity, which it does only after clearing its abort flags. The returned
// func stops the handover and must be called when the operation returns.
func handOverAbort(activity calibration.Activity, pending *atomic.Bool, request func() bool) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(abortHandoverInterval)
		defer ticker.Stop()
		for {
			if a, _, _ := calib.Progress(); a == activity {
				if pending.Load() {
					logrus.WithField("activity", activity).Debug("handing pending abort to calibrator")
					request()
				}
				return
			}
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func initState(path string) {
	statePath = path
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logrus.WithError(err).Warn("failed to read daemon state")
		return
	}
	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		logrus.WithError(err).Warn("failed to unmarshal daemon state")
		return
	}
	stateMu.Lock()
	state = &st
	stateMu.Unlock()
}

// persistState writes the state file. Caller holds stateMu.
func persistState() {
	if statePath == "" {
		return
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("marshal daemon state")
		return
	}
	if err := os.WriteFile(statePath, b, 0644); err != nil {
		logrus.WithError(err).Error("write daemon state")
	}
}

func publishAction(a calibration.Action, msg string) {
	eventHub.Publish(events.CalibrationAction, events.ActionEvent{
		Action:  string(a),
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

// runCalibration calibrates synchronously and records the report.
func runCalibration() error {
	stop := handOverAbort(calibration.ActivityCalibrating, &pendingCalibAbort, calib.RequestAbortCalibration)
	report, err := calib.Calibrate(hw)
	stop()
	if report != nil {
		stateMu.Lock()
		state.LastRun = report
		persistState()
		stateMu.Unlock()
	}
	return err
}

// startCalibration runs a calibration in the background.
func startCalibration() error {
	if err := beginOperation(); err != nil {
		return err
	}
	publishAction(calibration.ActionStart, "Calibration started")

	go func() {
		defer endOperation()
		if err := runCalibration(); err != nil {
			logrus.WithError(err).Error("calibration run failed")
		}
	}()
	return nil
}

func abortCalibration() error {
	if !operating.Load() {
		return ErrNoOperation
	}
	pendingCalibAbort.Store(true)
	calib.RequestAbortCalibration()
	publishAction(calibration.ActionAbort, "Calibration abort requested")
	return nil
}

func runPark(wait bool) error {
	stop := handOverAbort(calibration.ActivityParking, &pendingParkAbort, calib.RequestAbortPark)
	report, err := calib.Park(hw, wait)
	stop()
	if report != nil {
		stateMu.Lock()
		state.LastPark = report
		persistState()
		stateMu.Unlock()
	}
	return err
}

// startPark parks in the background.
func startPark(wait bool) error {
	if err := beginOperation(); err != nil {
		return err
	}
	publishAction(calibration.ActionPark, fmt.Sprintf("Parking started (wait=%t)", wait))

	go func() {
		defer endOperation()
		if err := runPark(wait); err != nil {
			logrus.WithError(err).Error("park failed")
		}
	}()
	return nil
}

func abortPark() error {
	if !operating.Load() {
		return ErrNoOperation
	}
	pendingParkAbort.Store(true)
	calib.RequestAbortPark()
	publishAction(calibration.ActionAbortPark, "Park abort requested")
	return nil
}

// shutdownOperations refuses new operations, aborts whatever runs, waits
// for it, then optionally parks before the hardware is closed.
func shutdownOperations(park bool) {
	opMu.Lock()
	shuttingDown = true
	running := operating.Load()
	opMu.Unlock()

	if running {
		logrus.Info("aborting running operation")
		pendingCalibAbort.Store(true)
		pendingParkAbort.Store(true)
		calib.RequestAbortCalibration()
		calib.RequestAbortPark()
	}
	opWG.Wait()

	if !park {
		return
	}
	logrus.Info("parking before exit")
	pendingCalibAbort.Store(false)
	pendingParkAbort.Store(false)
	operating.Store(true)
	defer operating.Store(false)
	if err := runPark(true); err != nil {
		logrus.WithError(err).Error("failed to park before exiting")
	}
}

func getStatusSnapshot() *calibration.Status {
	activity, group, phase := calib.Progress()
	st := &calibration.Status{
		Activity: activity,
		Group:    group,
		Phase:    phase,
	}
	if cfg := calib.Config(); cfg != nil {
		st.Device = cfg.DeviceName
		st.Vanilla = cfg.Vanilla
		st.Joints = cfg.NumJoints()
		st.Groups = len(cfg.Groups)
	}

	stateMu.Lock()
	st.LastRun = state.LastRun
	st.LastPark = state.LastPark
	stateMu.Unlock()

	if st.LastRun != nil && st.LastRun.Error != "" {
		st.Message = st.LastRun.Error
	}

	if scheduler != nil {
		next, running := scheduler.Status()
		if running {
			st.ScheduledAt = next
		}
	}
	return st
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// schedule sets the cron expression for scheduled calibrations and returns the next run times.
func schedule(cronExpr string) ([]time.Time, error) {
	if cronExpr == "" {
		if conf.Cron() == "" {
			scheduler.Stop()
			return nil, nil
		}

		conf.SetCron("")
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
		scheduler.Stop()
		publishAction(calibration.ActionScheduleDisable, "Calibration schedule disabled")
		return nil, nil
	}

	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	if conf.Cron() != cronExpr {
		conf.SetCron(cronExpr)
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	if err := scheduler.Schedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule calibration")
		return nil, err
	}
	scheduler.Start()

	nextRuns := []time.Time{}
	now := time.Now()
	for range 3 {
		next := sched.Next(now)
		nextRuns = append(nextRuns, next)
		now = next
	}

	publishAction(calibration.ActionSchedule, fmt.Sprintf("Calibration scheduled at %s", nextRuns[0].Format("Jan _2 15:04")))
	return nextRuns, nil
}

func postpone(duration time.Duration) error {
	if err := scheduler.Postpone(duration); err != nil {
		logrus.WithError(err).Error("failed to postpone calibration")
		return err
	}
	publishAction(calibration.ActionSchedulePostpone, fmt.Sprintf("Calibration postponed for %s", duration.String()))
	return nil
}

func skipNextSchedule() error {
	if err := scheduler.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next scheduled calibration")
		return err
	}
	publishAction(calibration.ActionScheduleSkip, "Calibration skipped")
	return nil
}
