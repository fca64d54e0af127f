package calibrator

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/events"
	"github.com/jointcal/jointcal/pkg/hardware"
)

// Calibrate runs every configured joint group through the calibration state
// machine.
//
// Group level failures (calibration or zeroing timeouts) leave that group's
// joints powered off with the limited PID and never fail the call. The
// returned error is non-nil only when nothing could safely run: missing
// capabilities, more joints ordered than axes, or a PID read failure. An
// aborted run returns a nil error with Report.Aborted set.
func (c *Calibrator) Calibrate(hw hardware.Set) (*calibration.Report, error) {
	cfg := c.Config()
	if cfg == nil {
		return nil, ErrNotOpen
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	c.calibAbort.reset()
	c.setProgress(calibration.ActivityCalibrating, 0, calibration.PhaseIdle)
	defer c.setProgress(calibration.ActivityIdle, 0, calibration.PhaseIdle)

	log := logrus.WithField("device", cfg.DeviceName)
	report := &calibration.Report{
		Device:    cfg.DeviceName,
		StartedAt: c.now(),
		Vanilla:   cfg.Vanilla,
		Groups:    []calibration.GroupReport{},
	}
	c.publish(events.CalibrationRun, events.RunEvent{
		Device: cfg.DeviceName,
		Ts:     report.StartedAt.Unix(),
	})

	err := c.calibrate(hw, cfg, log, report)

	report.FinishedAt = c.now()
	ev := events.RunEvent{
		Device:       cfg.DeviceName,
		Finished:     true,
		Aborted:      report.Aborted,
		FailedGroups: report.FailedGroups(),
		Ts:           report.FinishedAt.Unix(),
	}
	switch {
	case err != nil:
		report.Error = err.Error()
		ev.Error = report.Error
		log.WithError(err).Error("calibration failed")
	case report.Aborted:
		log.Warn("calibration aborted")
	default:
		log.WithFields(logrus.Fields{
			"failedGroups": ev.FailedGroups,
			"elapsed":      report.FinishedAt.Sub(report.StartedAt).String(),
		}).Info("calibration finished")
	}
	c.publish(events.CalibrationRun, ev)

	return report, err
}

func (c *Calibrator) calibrate(hw hardware.Set, cfg *config.Calibration, log *logrus.Entry, report *calibration.Report) error {
	if err := hw.Validate(); err != nil {
		return err
	}

	nj, err := hw.Encoders.Axes()
	if err != nil {
		return fmt.Errorf("%w: failed to read axis count: %v", hardware.ErrInterfaceUnavailable, err)
	}
	if total := cfg.TotalGroupJoints(); total > nj {
		return fmt.Errorf("%w: %d joints in calibration order, hardware reports %d axes", ErrTooManyJoints, total, nj)
	}
	for gi, g := range cfg.Groups {
		for _, j := range g {
			if j >= nj {
				return fmt.Errorf("%w: group %d asks to calibrate joint %d, which is beyond the %d axes of this part", config.ErrConfiguration, gi, j, nj)
			}
		}
	}

	if cfg.Vanilla {
		log.Warn("vanilla flag is on, setting safe pid but skipping calibration")
	} else {
		log.WithField("groups", len(cfg.Groups)).Warn("going to calibrate")
	}

	if cfg.StartupDelay > 0 {
		log.WithField("delay", cfg.StartupDelay.String()).Debug("waiting before first group")
		c.waitAbortable(cfg.StartupDelay, c.timing.CalibrationPollInterval, &c.calibAbort)
	}

	guard := newPidGuard(hw, cfg, log)
	for gi, group := range cfg.Groups {
		if c.calibAbort.Requested() {
			report.Aborted = true
			for ; gi < len(cfg.Groups); gi++ {
				report.Groups = append(report.Groups, calibration.GroupReport{
					Index:   gi,
					Joints:  cfg.Groups[gi],
					Phase:   calibration.PhaseIdle,
					Outcome: calibration.OutcomeNotRun,
				})
			}
			break
		}

		gr, err := c.runGroup(hw, cfg, guard, gi, group, log)
		report.Groups = append(report.Groups, gr)
		if err != nil {
			return err
		}
		if gr.Outcome == calibration.OutcomeAborted {
			report.Aborted = true
		}
	}

	return nil
}

// groupRun carries one group through its phases.
type groupRun struct {
	c      *Calibrator
	log    *logrus.Entry
	device string
	report calibration.GroupReport
}

func (r *groupRun) enter(p calibration.Phase, msg string) {
	from := r.report.Phase
	r.report.Phase = p
	r.c.setProgress(calibration.ActivityCalibrating, r.report.Index, p)

	entry := r.log.WithFields(logrus.Fields{
		"from": from,
		"to":   p,
	})
	switch p {
	case calibration.PhaseFailedDisabled:
		entry.Error(msg)
	default:
		entry.Debug(msg)
	}

	r.c.publish(events.CalibrationGroup, events.GroupPhaseEvent{
		Device:  r.device,
		Group:   r.report.Index,
		Joints:  r.report.Joints,
		From:    string(from),
		To:      string(p),
		Message: msg,
		Ts:      r.c.now().Unix(),
	})
}

func (c *Calibrator) runGroup(
	hw hardware.Set,
	cfg *config.Calibration,
	guard *pidGuard,
	index int,
	group config.JointGroup,
	log *logrus.Entry,
) (calibration.GroupReport, error) {
	start := c.now()
	r := &groupRun{
		c:      c,
		log:    log.WithField("group", index),
		device: cfg.DeviceName,
		report: calibration.GroupReport{
			Index:  index,
			Joints: group,
			Phase:  calibration.PhaseIdle,
		},
	}
	positions := make(map[int]float64, len(group))
	reached := make(map[int]bool, len(group))

	finish := func(o calibration.Outcome) calibration.GroupReport {
		r.report.Outcome = o
		r.report.Elapsed = c.now().Sub(start)
		for _, j := range group {
			r.report.Results = append(r.report.Results, calibration.JointResult{
				Joint:       j,
				ZeroReached: reached[j],
				Position:    positions[j],
				AmpDisabled: guard.disabled[j],
				PidRestored: guard.restored[j],
			})
		}
		return r.report
	}
	disableAll := func() {
		for _, j := range group {
			guard.Disable(j)
		}
	}

	for _, j := range group {
		if err := guard.Limit(j); err != nil {
			return finish(calibration.OutcomePidReadFailure), err
		}
	}
	r.enter(calibration.PhasePidLimited, "safe pid set")

	if cfg.Vanilla {
		r.enter(calibration.PhaseSettled, "vanilla, calibration skipped")
		return finish(calibration.OutcomeVanilla), nil
	}

	r.enter(calibration.PhaseCalibrating, "calibrating")
	c.logEncoders(hw, r.log, group, "enc values before calib")
	for _, j := range group {
		if c.calibAbort.Requested() {
			return finish(calibration.OutcomeAborted), nil
		}
		p := cfg.Joints[j]
		r.log.WithFields(logrus.Fields{
			"joint": j,
			"type":  p.Type,
			"p1":    p.Param1,
			"p2":    p.Param2,
			"p3":    p.Param3,
		}).Debug("calling calibrate on joint")
		if err := hw.Calibrator.Calibrate(j, p.Type, p.Param1, p.Param2, p.Param3); err != nil {
			r.log.WithError(err).WithField("joint", j).Warn("calibrate command failed")
		}
	}
	c.logEncoders(hw, r.log, group, "enc values after calib")

	r.enter(calibration.PhaseAwaitCalibrationDone, "waiting for calibration to end")
	done, polls := c.awaitCalibrationDone(hw.Calibrator, group, r.log)
	r.report.Polls = polls
	if c.calibAbort.Requested() {
		r.log.Warn("calibration aborted while waiting for joints")
		return finish(calibration.OutcomeAborted), nil
	}
	if !done {
		disableAll()
		r.enter(calibration.PhaseFailedDisabled, "calibration went wrong, disabling axes and keeping safe pid limit")
		return finish(calibration.OutcomeCalibrationTimeout), nil
	}

	r.enter(calibration.PhaseEnableAndZero, "calibration ended, going to zero")
	for _, j := range group {
		guard.Restore(j)
	}
	for _, j := range group {
		if err := hw.ControlMode.SetPositionMode(j); err != nil {
			r.log.WithError(err).WithField("joint", j).Warn("failed to set position mode")
		}
		if err := hw.Amplifier.EnableAmp(j); err != nil {
			r.log.WithError(err).WithField("joint", j).Warn("failed to enable amplifier")
		}
		if err := hw.PID.EnablePid(j); err != nil {
			r.log.WithError(err).WithField("joint", j).Warn("failed to enable pid")
		}
	}
	for _, j := range group {
		if c.calibAbort.Requested() {
			return finish(calibration.OutcomeAborted), nil
		}
		c.goToZero(hw, cfg.Joints[j], j, r.log)
	}

	r.enter(calibration.PhaseAwaitZeroThreshold, "waiting for joints to reach zero")
	allReached := true
	for _, j := range group {
		ok, pos := c.awaitZeroThreshold(hw.Encoders, cfg.Joints[j], j, r.log)
		positions[j] = pos
		reached[j] = ok
		allReached = allReached && ok
	}
	if c.calibAbort.Requested() {
		return finish(calibration.OutcomeAborted), nil
	}
	if !allReached {
		disableAll()
		r.enter(calibration.PhaseFailedDisabled, "some axis got timeout while reaching zero position, disabling this set of axes")
		return finish(calibration.OutcomeZeroingTimeout), nil
	}

	r.enter(calibration.PhaseSettled, "reached zero position")
	return finish(calibration.OutcomeSettled), nil
}

// awaitCalibrationDone polls Done once per interval until every joint of the
// group reports done in the same cycle. A cycle stops at the first joint that
// is not done.
func (c *Calibrator) awaitCalibrationDone(cal hardware.Calibrator, group config.JointGroup, log *logrus.Entry) (bool, int) {
	polls := 0
	for polls < c.timing.CalibrationPolls {
		if c.calibAbort.Requested() {
			return false, polls
		}
		polls++

		ok := true
		for _, j := range group {
			done, err := cal.Done(j)
			if err != nil {
				log.WithError(err).WithField("joint", j).Debug("done query failed")
			}
			if err != nil || !done {
				ok = false
				break
			}
		}
		if ok {
			return true, polls
		}

		c.sleep(c.timing.CalibrationPollInterval)
	}

	log.WithField("polls", polls).Error("timeout while calibrating")
	return false, polls
}

func (c *Calibrator) goToZero(hw hardware.Set, p config.JointParams, j int, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{
		"joint":   j,
		"zeroPos": p.ZeroPos,
		"zeroVel": p.ZeroVel,
	})
	if err := hw.ControlMode.SetPositionMode(j); err != nil {
		log.WithError(err).Warn("failed to set position mode")
	}
	if err := hw.Position.SetRefSpeed(j, p.ZeroVel); err != nil {
		log.WithError(err).Warn("failed to set reference speed")
	}
	if err := hw.Position.PositionMove(j, p.ZeroPos); err != nil {
		log.WithError(err).Warn("failed to command zero move")
	}
}

// awaitZeroThreshold polls the joint encoder until it is within the zero
// threshold or the zero timeout elapses. It returns the last position read.
func (c *Calibrator) awaitZeroThreshold(enc hardware.Encoders, p config.JointParams, j int, log *logrus.Entry) (bool, float64) {
	log = log.WithField("joint", j)
	start := c.now()
	var pos float64
	for {
		v, err := enc.Position(j)
		if err != nil {
			log.WithError(err).Warn("failed to read encoder")
		} else {
			pos = v
			delta := math.Abs(pos - p.ZeroPos)
			log.WithFields(logrus.Fields{
				"curr":      pos,
				"des":       p.ZeroPos,
				"delta":     delta,
				"threshold": p.ZeroPosThreshold,
			}).Debug("going to zero")
			if delta < p.ZeroPosThreshold {
				log.WithField("delta", delta).Info("joint reached zero")
				return true, pos
			}
		}

		if c.now().Sub(start) > c.timing.ZeroTimeout {
			log.Warn("timeout while going to zero")
			return false, pos
		}
		if c.calibAbort.Requested() {
			log.Warn("abort wait while going to zero")
			return false, pos
		}
		c.sleep(c.timing.ZeroPollInterval)
	}
}

func (c *Calibrator) logEncoders(hw hardware.Set, log *logrus.Entry, group config.JointGroup, msg string) {
	pos, err := hw.Encoders.Positions()
	if err != nil {
		log.WithError(err).Debug("failed to read encoders")
		return
	}
	for _, j := range group {
		if j < len(pos) {
			log.WithFields(logrus.Fields{
				"joint": j,
				"enc":   pos[j],
			}).Info(msg)
		}
	}
}

// IsConfigurationError reports whether err was caused by the description or
// the hardware disagreeing with it.
func IsConfigurationError(err error) bool {
	return errors.Is(err, config.ErrConfiguration) || errors.Is(err, ErrTooManyJoints)
}
