package daemon

import (
	"io"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/hardware"
	"github.com/jointcal/jointcal/pkg/hardware/serialport"
	"github.com/jointcal/jointcal/pkg/hardware/sim"
)

// openSerial is a test seam.
var openSerial = func(port string, baud int) (hardware.Device, error) {
	return serialport.Open(port, baud)
}

// openHardware builds the configured backend. axes sizes the simulator.
func openHardware(c config.Config, axes int) (hardware.Device, error) {
	switch c.Hardware() {
	case config.HardwareSim:
		logrus.WithField("axes", axes).Warn("using simulated joint controller, no real hardware will move")
		return sim.New(sim.Options{
			Axes:                axes,
			CalibrationDuration: c.SimCalibrationDuration(),
		})
	case config.HardwareSerial:
		return openSerial(c.SerialPort(), c.BaudRate())
	default:
		return nil, pkgerrors.Errorf("unknown hardware backend %q", c.Hardware())
	}
}

func closeHardware(d hardware.Device) error {
	if c, ok := d.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
