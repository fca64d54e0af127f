package calibrator

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/hardware"
)

type pidSnapshot struct {
	original hardware.Pid
	limited  hardware.Pid
}

// pidGuard captures controller gains before calibration, bounds them to the
// joint's maxPWM while calibrating, and afterwards either puts the original
// gains back or leaves the bounded gains in force with the amplifier off.
// One guard lives for one calibrate invocation.
type pidGuard struct {
	pid hardware.PIDControl
	amp hardware.Amplifier
	cfg *config.Calibration
	log *logrus.Entry

	snapshots map[int]pidSnapshot
	restored  map[int]bool
	disabled  map[int]bool
}

func newPidGuard(hw hardware.Set, cfg *config.Calibration, log *logrus.Entry) *pidGuard {
	return &pidGuard{
		pid:       hw.PID,
		amp:       hw.Amplifier,
		cfg:       cfg,
		log:       log,
		snapshots: make(map[int]pidSnapshot),
		restored:  make(map[int]bool),
		disabled:  make(map[int]bool),
	}
}

// Limit reads the joint PID and pushes a copy bounded to maxPWM. A read
// failure is fatal to the whole calibration run.
func (g *pidGuard) Limit(joint int) error {
	orig, err := g.pid.GetPid(joint)
	if err != nil {
		g.log.WithError(err).WithField("joint", joint).Error("getPid failed, aborting calibration")
		return fmt.Errorf("%w: joint %d: %v", ErrPidRead, joint, err)
	}

	snap := pidSnapshot{
		original: orig,
		limited:  orig.Limited(g.cfg.Joints[joint].MaxPWM),
	}
	g.snapshots[joint] = snap

	if err := g.pid.SetPid(joint, snap.limited); err != nil {
		g.log.WithError(err).WithField("joint", joint).Warn("failed to set limited pid")
	}
	g.log.WithFields(logrus.Fields{
		"joint":     joint,
		"maxOutput": snap.limited.MaxOutput,
	}).Debug("pid limited")
	return nil
}

// Restore writes the captured original PID back.
func (g *pidGuard) Restore(joint int) {
	snap, ok := g.snapshots[joint]
	if !ok {
		g.log.WithField("joint", joint).Error("no pid snapshot to restore")
		return
	}
	if err := g.pid.SetPid(joint, snap.original); err != nil {
		g.log.WithError(err).WithField("joint", joint).Error("failed to restore original pid")
		return
	}
	g.restored[joint] = true
}

// Disable keeps the joint in the bounded-torque state and powers its
// amplifier off. Calling it again is harmless.
func (g *pidGuard) Disable(joint int) {
	if snap, ok := g.snapshots[joint]; ok && g.restored[joint] {
		if err := g.pid.SetPid(joint, snap.limited); err != nil {
			g.log.WithError(err).WithField("joint", joint).Error("failed to reapply limited pid")
		} else {
			g.restored[joint] = false
		}
	}
	if err := g.amp.DisableAmp(joint); err != nil {
		g.log.WithError(err).WithField("joint", joint).Error("failed to disable amplifier")
	}
	g.disabled[joint] = true
}
