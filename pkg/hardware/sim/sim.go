// Package sim is an in-memory joint controller used for dry runs and demos.
//
// Joints move towards their commanded position at the reference speed,
// calibration completes after a fixed duration, and faults can be injected
// per joint.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/hardware"
)

const (
	defaultSpeed    = 10.0
	defaultMaxPWM   = 1333.0
	positionEpsilon = 1e-6
)

// Faults selects misbehaving joints.
type Faults struct {
	// NeverCalibrates joints never report calibration done.
	NeverCalibrates []int `json:"neverCalibrates,omitempty"`
	// Stuck joints accept moves but never leave their position.
	Stuck []int `json:"stuck,omitempty"`
	// PidReadFailure joints fail GetPid.
	PidReadFailure []int `json:"pidReadFailure,omitempty"`
	// Mute joints fail every motion done query.
	Mute []int `json:"mute,omitempty"`
}

type Options struct {
	Axes                int
	CalibrationDuration time.Duration
	// InitialPositions defaults to all zeros.
	InitialPositions []float64
	Faults           Faults
}

type joint struct {
	from      float64
	target    float64
	speed     float64
	moveStart time.Time

	calibStart  time.Time
	calibrating bool
	calibrated  bool

	pid        hardware.Pid
	pidEnabled bool
	ampEnabled bool
	posMode    bool

	neverCalibrates bool
	stuck           bool
	pidReadFailure  bool
	mute            bool
}

type Device struct {
	mu       sync.Mutex
	joints   []*joint
	calibDur time.Duration

	now func() time.Time
}

var _ hardware.Device = &Device{}

func New(opts Options) (*Device, error) {
	if opts.Axes <= 0 {
		return nil, fmt.Errorf("sim: axes must be greater than 0, got %d", opts.Axes)
	}
	if len(opts.InitialPositions) > opts.Axes {
		return nil, fmt.Errorf("sim: %d initial positions for %d axes", len(opts.InitialPositions), opts.Axes)
	}

	d := &Device{
		joints:   make([]*joint, opts.Axes),
		calibDur: opts.CalibrationDuration,
		now:      time.Now,
	}
	for i := range d.joints {
		j := &joint{
			speed:      defaultSpeed,
			ampEnabled: true,
			pidEnabled: true,
			pid: hardware.Pid{
				Kp:        32000,
				Kd:        50,
				Ki:        60,
				MaxInt:    defaultMaxPWM,
				MaxOutput: defaultMaxPWM,
				Scale:     13,
			},
		}
		if i < len(opts.InitialPositions) {
			j.from = opts.InitialPositions[i]
			j.target = j.from
		}
		d.joints[i] = j
	}
	if err := d.SetFaults(opts.Faults); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"axes":                opts.Axes,
		"calibrationDuration": opts.CalibrationDuration.String(),
	}).Info("simulated joint controller ready")
	return d, nil
}

// SetFaults replaces the injected faults.
func (d *Device) SetFaults(f Faults) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, j := range d.joints {
		j.neverCalibrates = false
		j.stuck = false
		j.pidReadFailure = false
		j.mute = false
	}
	mark := func(name string, idx []int, set func(j *joint)) error {
		for _, i := range idx {
			if i < 0 || i >= len(d.joints) {
				return fmt.Errorf("sim: %s fault on joint %d, only %d axes", name, i, len(d.joints))
			}
			set(d.joints[i])
		}
		return nil
	}
	if err := mark("neverCalibrates", f.NeverCalibrates, func(j *joint) { j.neverCalibrates = true }); err != nil {
		return err
	}
	if err := mark("stuck", f.Stuck, func(j *joint) { j.stuck = true }); err != nil {
		return err
	}
	if err := mark("pidReadFailure", f.PidReadFailure, func(j *joint) { j.pidReadFailure = true }); err != nil {
		return err
	}
	return mark("mute", f.Mute, func(j *joint) { j.mute = true })
}

func (d *Device) joint(i int) (*joint, error) {
	if i < 0 || i >= len(d.joints) {
		return nil, fmt.Errorf("sim: joint %d out of range, %d axes", i, len(d.joints))
	}
	return d.joints[i], nil
}

// position of j at t. Caller holds the lock.
func (j *joint) position(t time.Time) float64 {
	if j.stuck || j.moveStart.IsZero() {
		return j.from
	}
	dist := j.target - j.from
	travelled := t.Sub(j.moveStart).Seconds() * j.speed
	if travelled >= math.Abs(dist) {
		return j.target
	}
	return j.from + math.Copysign(travelled, dist)
}

func (j *joint) moving(t time.Time) bool {
	return math.Abs(j.position(t)-j.target) > positionEpsilon
}

func (d *Device) move(j *joint, pos float64) {
	t := d.now()
	j.from = j.position(t)
	if !j.ampEnabled {
		// Unpowered joints do not follow commands.
		j.target = j.from
		j.moveStart = time.Time{}
		return
	}
	j.target = pos
	j.moveStart = t
}

func (d *Device) Calibrate(i int, typ uint8, p1, p2, p3 float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"joint": i,
		"type":  typ,
	}).Debug("sim: calibration started")
	j.calibrating = true
	j.calibrated = false
	j.calibStart = d.now()
	return nil
}

func (d *Device) Done(i int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return false, err
	}
	if j.calibrating && !j.neverCalibrates && d.now().Sub(j.calibStart) >= d.calibDur {
		j.calibrating = false
		j.calibrated = true
	}
	return j.calibrated, nil
}

func (d *Device) Axes() (int, error) {
	return len(d.joints), nil
}

func (d *Device) Position(i int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return 0, err
	}
	return j.position(d.now()), nil
}

func (d *Device) Positions() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.now()
	ret := make([]float64, len(d.joints))
	for i, j := range d.joints {
		ret[i] = j.position(t)
	}
	return ret, nil
}

func (d *Device) SetRefSpeed(i int, speed float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	if speed <= 0 {
		speed = defaultSpeed
	}
	j.speed = speed
	return nil
}

func (d *Device) SetRefSpeeds(speeds []float64) error {
	for i, s := range speeds {
		if i >= len(d.joints) {
			break
		}
		if err := d.SetRefSpeed(i, s); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) PositionMove(i int, pos float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	d.move(j, pos)
	return nil
}

func (d *Device) PositionMoveAll(pos []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, p := range pos {
		if i >= len(d.joints) {
			break
		}
		d.move(d.joints[i], p)
	}
	return nil
}

func (d *Device) MotionDone(i int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return false, err
	}
	if j.mute {
		return false, fmt.Errorf("sim: joint %d did not answer", i)
	}
	return !j.moving(d.now()), nil
}

func (d *Device) MotionDoneAll() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.now()
	for i, j := range d.joints {
		if j.mute {
			return false, fmt.Errorf("sim: joint %d did not answer", i)
		}
		if j.moving(t) {
			return false, nil
		}
	}
	return true, nil
}

func (d *Device) GetPid(i int) (hardware.Pid, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return hardware.Pid{}, err
	}
	if j.pidReadFailure {
		return hardware.Pid{}, fmt.Errorf("sim: pid read on joint %d failed", i)
	}
	return j.pid, nil
}

func (d *Device) SetPid(i int, pid hardware.Pid) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	j.pid = pid
	return nil
}

func (d *Device) EnablePid(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	j.pidEnabled = true
	return nil
}

func (d *Device) EnableAmp(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	j.ampEnabled = true
	return nil
}

func (d *Device) DisableAmp(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	// freeze where it is
	t := d.now()
	j.from = j.position(t)
	j.target = j.from
	j.moveStart = time.Time{}
	j.ampEnabled = false
	return nil
}

func (d *Device) SetPositionMode(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, err := d.joint(i)
	if err != nil {
		return err
	}
	j.posMode = true
	return nil
}

func (d *Device) SetPositionModeAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, j := range d.joints {
		j.posMode = true
	}
	return nil
}

// JointState is a snapshot of one simulated joint.
type JointState struct {
	Position   float64      `json:"position"`
	Target     float64      `json:"target"`
	Calibrated bool         `json:"calibrated"`
	AmpEnabled bool         `json:"ampEnabled"`
	PidEnabled bool         `json:"pidEnabled"`
	Pid        hardware.Pid `json:"pid"`
}

// State returns a snapshot of every joint.
func (d *Device) State() []JointState {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.now()
	ret := make([]JointState, len(d.joints))
	for i, j := range d.joints {
		ret[i] = JointState{
			Position:   j.position(t),
			Target:     j.target,
			Calibrated: j.calibrated,
			AmpEnabled: j.ampEnabled,
			PidEnabled: j.pidEnabled,
			Pid:        j.pid,
		}
	}
	return ret
}
