package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxPWM is the output ceiling used when max_pwm is absent.
	DefaultMaxPWM = 60.0
	// DefaultZeroPosThreshold is the zero acceptance band in degrees used when
	// pos_zero_threshold is absent.
	DefaultZeroPosThreshold = 2.0
)

// ErrConfiguration marks an invalid calibrator description.
var ErrConfiguration = errors.New("invalid calibration configuration")

// JointParams are the calibration and homing parameters of one joint.
type JointParams struct {
	Type             uint8   `json:"type"`
	Param1           float64 `json:"param1"`
	Param2           float64 `json:"param2"`
	Param3           float64 `json:"param3"`
	ZeroPos          float64 `json:"zeroPos"`
	ZeroVel          float64 `json:"zeroVel"`
	ZeroPosThreshold float64 `json:"zeroPosThreshold"`
	HomePos          float64 `json:"homePos"`
	HomeVel          float64 `json:"homeVel"`
	MaxPWM           float64 `json:"maxPWM"`
}

// JointGroup is an ordered set of joints calibrated together.
type JointGroup []int

// Calibration is the validated calibrator configuration. Joints is indexed
// by joint number and always has exactly NumJoints entries.
type Calibration struct {
	DeviceName   string        `json:"deviceName"`
	Vanilla      bool          `json:"vanilla"`
	StartupDelay time.Duration `json:"startupDelay"`
	Joints       []JointParams `json:"joints"`
	Groups       []JointGroup  `json:"groups"`
}

// NumJoints returns the configured joint count.
func (c *Calibration) NumJoints() int {
	return len(c.Joints)
}

// TotalGroupJoints returns the number of joint slots across all groups.
func (c *Calibration) TotalGroupJoints() int {
	n := 0
	for _, g := range c.Groups {
		n += len(g)
	}
	return n
}

// HomePositions returns the home position of every joint.
func (c *Calibration) HomePositions() []float64 {
	ret := make([]float64, len(c.Joints))
	for i, j := range c.Joints {
		ret[i] = j.HomePos
	}
	return ret
}

// HomeVelocities returns the home speed of every joint.
func (c *Calibration) HomeVelocities() []float64 {
	ret := make([]float64, len(c.Joints))
	for i, j := range c.Joints {
		ret[i] = j.HomeVel
	}
	return ret
}

// NewCalibration validates d and builds the per-joint parameter table.
func NewCalibration(d *Description) (*Calibration, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: description is nil", ErrConfiguration)
	}

	general := General{}
	if d.General != nil {
		general = *d.General
	}
	log := logrus.WithField("device", general.DeviceName)

	if general.Verbose {
		log.WithField("description", fmt.Sprintf("%+v", describe(d))).Info("calibrator description")
	}
	if general.Vanilla {
		log.Warn("vanilla flag is on, calibration and parking motion will be skipped")
	}

	if d.Calibration == nil || d.Calibration.Joints <= 0 {
		return nil, fmt.Errorf("%w: calibration.joints must be greater than 0", ErrConfiguration)
	}
	cal := d.Calibration
	nj := cal.Joints

	home := Home{}
	if d.Home != nil {
		home = *d.Home
	}

	c := &Calibration{
		DeviceName:   general.DeviceName,
		Vanilla:      general.Vanilla,
		StartupDelay: time.Duration(general.StartupDelaySeconds * float64(time.Second)),
		Joints:       make([]JointParams, nj),
	}
	if c.StartupDelay < 0 {
		return nil, fmt.Errorf("%w: general.startup_delay_seconds must not be negative", ErrConfiguration)
	}

	types := make([]float64, len(cal.CalibrationType))
	for i, t := range cal.CalibrationType {
		if t < 0 || t > 255 {
			return nil, fmt.Errorf("%w: calibration_type[%d]=%d out of range 0-255", ErrConfiguration, i, t)
		}
		types[i] = float64(t)
	}

	lists := []struct {
		name   string
		values []float64
		set    func(p *JointParams, v float64)
	}{
		{"calibration_type", types, func(p *JointParams, v float64) { p.Type = uint8(v) }},
		{"calibration1", cal.Calibration1, func(p *JointParams, v float64) { p.Param1 = v }},
		{"calibration2", cal.Calibration2, func(p *JointParams, v float64) { p.Param2 = v }},
		{"calibration3", cal.Calibration3, func(p *JointParams, v float64) { p.Param3 = v }},
		{"position_zero", cal.PositionZero, func(p *JointParams, v float64) { p.ZeroPos = v }},
		{"velocity_zero", cal.VelocityZero, func(p *JointParams, v float64) { p.ZeroVel = v }},
		{"position_home", home.PositionHome, func(p *JointParams, v float64) { p.HomePos = v }},
		{"velocity_home", home.VelocityHome, func(p *JointParams, v float64) { p.HomeVel = v }},
	}
	for _, l := range lists {
		if err := c.fill(log, l.name, l.values, general.Strict, l.set); err != nil {
			return nil, err
		}
	}

	if cal.MaxPWM == nil {
		log.Warnf("max_pwm not found, assuming %v", DefaultMaxPWM)
		for i := range c.Joints {
			c.Joints[i].MaxPWM = DefaultMaxPWM
		}
	} else if err := c.fill(log, "max_pwm", cal.MaxPWM, general.Strict, func(p *JointParams, v float64) { p.MaxPWM = v }); err != nil {
		return nil, err
	}

	if cal.PosZeroThreshold == nil {
		log.Warnf("pos_zero_threshold not found, assuming %v degrees, this may be too strict for fingers", DefaultZeroPosThreshold)
		for i := range c.Joints {
			c.Joints[i].ZeroPosThreshold = DefaultZeroPosThreshold
		}
	} else if err := c.fill(log, "pos_zero_threshold", cal.PosZeroThreshold, general.Strict, func(p *JointParams, v float64) { p.ZeroPosThreshold = v }); err != nil {
		return nil, err
	}

	seen := make(map[int]int)
	for gi, g := range d.CalibOrder {
		group := make(JointGroup, 0, len(g))
		for _, j := range g {
			if j < 0 || j >= nj {
				return nil, fmt.Errorf("%w: calib_order group %d references joint %d, only %d joints are configured", ErrConfiguration, gi, j, nj)
			}
			if prev, ok := seen[j]; ok {
				log.WithFields(logrus.Fields{
					"joint":         j,
					"group":         gi,
					"previousGroup": prev,
				}).Warn("joint appears in more than one calibration group")
			}
			seen[j] = gi
			group = append(group, j)
		}
		c.Groups = append(c.Groups, group)
	}
	if c.TotalGroupJoints() > nj {
		return nil, fmt.Errorf("%w: calib_order lists %d joints but only %d are configured", ErrConfiguration, c.TotalGroupJoints(), nj)
	}
	if len(c.Groups) == 0 {
		log.Warn("calib_order is empty, calibration will not move any joint")
	}

	log.WithFields(logrus.Fields{
		"joints": nj,
		"groups": len(c.Groups),
	}).Debug("calibration config loaded")

	return c, nil
}

func (c *Calibration) fill(log *logrus.Entry, name string, values []float64, strict bool, set func(*JointParams, float64)) error {
	nj := len(c.Joints)
	if len(values) > nj {
		return fmt.Errorf("%w: %s has %d values but only %d joints are configured", ErrConfiguration, name, len(values), nj)
	}
	if len(values) < nj {
		if strict {
			return fmt.Errorf("%w: %s has %d values, %d required", ErrConfiguration, name, len(values), nj)
		}
		log.WithField("list", name).Warnf("%d values for %d joints, remaining joints default to 0", len(values), nj)
	}
	for i, v := range values {
		set(&c.Joints[i], v)
	}
	return nil
}

type descriptionDump struct {
	General     General
	Calibration CalibrationSection
	Home        Home
	CalibOrder  [][]int
}

func describe(d *Description) descriptionDump {
	var ret descriptionDump
	if d.General != nil {
		ret.General = *d.General
	}
	if d.Calibration != nil {
		ret.Calibration = *d.Calibration
	}
	if d.Home != nil {
		ret.Home = *d.Home
	}
	ret.CalibOrder = d.CalibOrder
	return ret
}
