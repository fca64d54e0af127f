// Package hardware defines the capability contract the calibrator drives.
//
// Each capability is a small interface. A Set bundles all of them into the
// single value the sequencers consume; how a Set is assembled (simulator,
// serial controller, test fake) is of no concern to the sequencing code.
package hardware

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInterfaceUnavailable is returned when a required capability is missing
// from a Set.
var ErrInterfaceUnavailable = errors.New("hardware interface unavailable")

// Pid holds the gains and limits of one joint's motor controller.
type Pid struct {
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	MaxInt    float64 `json:"maxInt"`
	MaxOutput float64 `json:"maxOutput"`
	Scale     float64 `json:"scale"`
	Offset    float64 `json:"offset"`
}

// Limited returns a copy of p with the integral and output ceilings set to
// ceiling.
func (p Pid) Limited(ceiling float64) Pid {
	p.MaxInt = ceiling
	p.MaxOutput = ceiling
	return p
}

// Calibrator runs the hardware-specific calibration procedure of a joint.
// Calibrate is fire-and-forget; Done reports completion.
type Calibrator interface {
	Calibrate(joint int, typ uint8, p1, p2, p3 float64) error
	Done(joint int) (bool, error)
}

// Encoders reads joint positions.
type Encoders interface {
	Axes() (int, error)
	Position(joint int) (float64, error)
	Positions() ([]float64, error)
}

// PositionControl commands position moves.
type PositionControl interface {
	SetRefSpeed(joint int, speed float64) error
	SetRefSpeeds(speeds []float64) error
	PositionMove(joint int, pos float64) error
	PositionMoveAll(pos []float64) error
	MotionDone(joint int) (bool, error)
	MotionDoneAll() (bool, error)
}

// PIDControl reads, writes and enables joint controllers.
type PIDControl interface {
	GetPid(joint int) (Pid, error)
	SetPid(joint int, pid Pid) error
	EnablePid(joint int) error
}

// Amplifier switches joint motor power.
type Amplifier interface {
	EnableAmp(joint int) error
	DisableAmp(joint int) error
}

// ControlMode selects the control mode of joints.
type ControlMode interface {
	SetPositionMode(joint int) error
	SetPositionModeAll() error
}

// Set is the capability bundle handed to the calibrator.
type Set struct {
	Calibrator  Calibrator
	Encoders    Encoders
	Position    PositionControl
	PID         PIDControl
	Amplifier   Amplifier
	ControlMode ControlMode
}

// Device is implemented by backends that provide every capability.
type Device interface {
	Calibrator
	Encoders
	PositionControl
	PIDControl
	Amplifier
	ControlMode
}

// NewSet returns a Set where every capability is served by d.
func NewSet(d Device) Set {
	return Set{
		Calibrator:  d,
		Encoders:    d,
		Position:    d,
		PID:         d,
		Amplifier:   d,
		ControlMode: d,
	}
}

// Validate checks that every capability is present.
func (s Set) Validate() error {
	var missing []string
	if s.Calibrator == nil {
		missing = append(missing, "calibrator")
	}
	if s.Encoders == nil {
		missing = append(missing, "encoders")
	}
	if s.Position == nil {
		missing = append(missing, "position")
	}
	if s.PID == nil {
		missing = append(missing, "pid")
	}
	if s.Amplifier == nil {
		missing = append(missing, "amplifier")
	}
	if s.ControlMode == nil {
		missing = append(missing, "control mode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInterfaceUnavailable, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateForPark checks the subset of capabilities parking needs.
func (s Set) ValidateForPark() error {
	var missing []string
	if s.Encoders == nil {
		missing = append(missing, "encoders")
	}
	if s.Position == nil {
		missing = append(missing, "position")
	}
	if s.ControlMode == nil {
		missing = append(missing, "control mode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInterfaceUnavailable, strings.Join(missing, ", "))
	}
	return nil
}
