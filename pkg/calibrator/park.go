package calibrator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibration"
	"github.com/jointcal/jointcal/pkg/events"
	"github.com/jointcal/jointcal/pkg/hardware"
)

// Park moves every joint to its home position in one combined command. With
// wait set it polls until the motion is done, the poll budget runs out or an
// abort is requested. A timeout is only diagnosed in the logs and the report;
// the returned error stays nil.
func (c *Calibrator) Park(hw hardware.Set, wait bool) (*calibration.ParkReport, error) {
	cfg := c.Config()
	if cfg == nil {
		return nil, ErrNotOpen
	}
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	c.parkAbort.reset()
	c.setProgress(calibration.ActivityParking, 0, calibration.PhaseIdle)
	defer c.setProgress(calibration.ActivityIdle, 0, calibration.PhaseIdle)

	log := logrus.WithField("device", cfg.DeviceName)
	report := &calibration.ParkReport{
		Device:    cfg.DeviceName,
		StartedAt: c.now(),
		Vanilla:   cfg.Vanilla,
		Waited:    wait,
	}
	defer func() {
		report.FinishedAt = c.now()
		c.publish(events.Park, events.ParkEvent{
			Device:     report.Device,
			Finished:   true,
			Aborted:    report.Aborted,
			TimedOut:   report.TimedOut,
			Unfinished: report.Unfinished,
			Ts:         report.FinishedAt.Unix(),
		})
	}()

	if cfg.Vanilla {
		log.Warn("vanilla flag is on, faking park")
		return report, nil
	}

	if err := hw.ValidateForPark(); err != nil {
		report.Error = err.Error()
		return report, err
	}
	nj, err := hw.Encoders.Axes()
	if err != nil {
		err = fmt.Errorf("%w: failed to read axis count: %v", hardware.ErrInterfaceUnavailable, err)
		report.Error = err.Error()
		log.WithError(err).Error("error getting number of encoders")
		return report, err
	}

	homeVel := cfg.HomeVelocities()
	homePos := cfg.HomePositions()
	if len(homePos) != nj {
		log.WithFields(logrus.Fields{
			"configured": len(homePos),
			"axes":       nj,
		}).Warn("home position count differs from axis count")
	}

	if err := hw.ControlMode.SetPositionModeAll(); err != nil {
		log.WithError(err).Warn("failed to set position mode")
	}
	if err := hw.Position.SetRefSpeeds(homeVel); err != nil {
		log.WithError(err).Warn("failed to set home speeds")
	}
	if err := hw.Position.PositionMoveAll(homePos); err != nil {
		log.WithError(err).Warn("failed to command park move")
	}

	if wait {
		log.Debug("moving to park positions")
		done := false
		for report.Polls < c.timing.ParkPolls && !c.parkAbort.Requested() {
			report.Polls++
			d, err := hw.Position.MotionDoneAll()
			if err != nil {
				log.WithError(err).Debug("motion done query failed")
			}
			if err == nil && d {
				done = true
				break
			}
			c.sleep(c.timing.ParkPollInterval)
		}

		if !done && !c.parkAbort.Requested() {
			report.TimedOut = true
			c.diagnosePark(hw.Position, nj, log, report)
		}
	}

	report.Aborted = c.parkAbort.Requested()
	if report.Aborted {
		log.Info("park was aborted")
	} else {
		log.Info("park was done")
	}
	return report, nil
}

// diagnosePark queries every joint once to tell which ones did not arrive.
func (c *Calibrator) diagnosePark(pc hardware.PositionControl, nj int, log *logrus.Entry, report *calibration.ParkReport) {
	for j := 0; j < nj; j++ {
		done, err := pc.MotionDone(j)
		if err != nil {
			log.WithError(err).WithField("joint", j).Error("joint did not answer during park")
			report.Unresponsive = append(report.Unresponsive, j)
			continue
		}
		if !done {
			log.WithField("joint", j).Error("joint not in position after timeout")
			report.Unfinished = append(report.Unfinished, j)
		}
	}
}
