package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Hardware backends the daemon can drive.
const (
	HardwareSim    = "sim"
	HardwareSerial = "serial"
)

// Config holds daemon settings. It is separate from the calibrator
// Description, which describes the robot part itself.
type Config interface {
	DescriptionPath() string
	Hardware() string
	SerialPort() string
	BaudRate() int
	ParkOnShutdown() bool
	AllowNonRootAccess() bool
	Cron() string
	SimCalibrationDuration() time.Duration

	SetDescriptionPath(string)
	SetParkOnShutdown(bool)
	SetAllowNonRootAccess(bool)
	SetCron(string)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
