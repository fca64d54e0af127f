package calibrator

import (
	"errors"
	"testing"
	"time"

	"github.com/jointcal/jointcal/pkg/events"
	"github.com/jointcal/jointcal/pkg/hardware"
)

func TestParkWaitDone(t *testing.T) {
	c, clock, _ := newTestCalibrator(testDescription(3, []int{0, 1, 2}))
	dev := newFakeDevice(3)

	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if report.TimedOut || report.Aborted {
		t.Fatalf("report = %+v, want clean park", report)
	}
	if report.Polls != 1 || clock.sleeps != 0 {
		t.Fatalf("polls = %d, sleeps = %d, want 1 and 0", report.Polls, clock.sleeps)
	}
	for _, prefix := range []string{"posmodeall", "speedall", "moveall"} {
		if n := dev.count(prefix); n != 1 {
			t.Fatalf("%q calls = %d, want 1", prefix, n)
		}
	}
	for j := 0; j < 3; j++ {
		if dev.pos[j] != 15 {
			t.Fatalf("joint %d position = %v, want home 15", j, dev.pos[j])
		}
	}
}

func TestParkTimeoutStillSucceeds(t *testing.T) {
	c, clock, pub := newTestCalibrator(testDescription(3, []int{0, 1, 2}))
	dev := newFakeDevice(3)
	dev.stuck[1] = true

	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v, want nil", err)
	}
	if !report.TimedOut {
		t.Fatalf("report.TimedOut = false, want true")
	}
	if report.Polls != 30 || clock.slept != 30*time.Second {
		t.Fatalf("polls = %d, slept = %v, want 30 and 30s", report.Polls, clock.slept)
	}
	if len(report.Unfinished) != 1 || report.Unfinished[0] != 1 {
		t.Fatalf("Unfinished = %v, want [1]", report.Unfinished)
	}
	if len(report.Unresponsive) != 0 {
		t.Fatalf("Unresponsive = %v, want none", report.Unresponsive)
	}

	last := pub.events[len(pub.events)-1]
	if last.name != events.Park {
		t.Fatalf("last event = %s, want %s", last.name, events.Park)
	}
	if ev := last.payload.(events.ParkEvent); !ev.TimedOut || !ev.Finished {
		t.Fatalf("park event = %+v", ev)
	}
}

func TestParkDiagnosesUnresponsiveJoint(t *testing.T) {
	c, _, _ := newTestCalibrator(testDescription(3, []int{0, 1, 2}))
	dev := newFakeDevice(3)
	dev.mute[2] = true

	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if len(report.Unresponsive) != 1 || report.Unresponsive[0] != 2 {
		t.Fatalf("Unresponsive = %v, want [2]", report.Unresponsive)
	}
	if len(report.Unfinished) != 0 {
		t.Fatalf("Unfinished = %v, want none", report.Unfinished)
	}
}

func TestParkNoWait(t *testing.T) {
	c, clock, _ := newTestCalibrator(testDescription(2, []int{0, 1}))
	dev := newFakeDevice(2)
	dev.stuck[0] = true

	report, err := c.Park(hardware.NewSet(dev), false)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if report.Polls != 0 || clock.sleeps != 0 || report.TimedOut {
		t.Fatalf("report = %+v, want no polling", report)
	}
	if n := dev.count("mdoneall"); n != 0 {
		t.Fatalf("motion done queries = %d, want 0", n)
	}
}

func TestParkVanilla(t *testing.T) {
	desc := testDescription(2, []int{0, 1})
	desc.General.Vanilla = true
	c, _, _ := newTestCalibrator(desc)
	dev := newFakeDevice(2)

	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if !report.Vanilla {
		t.Fatalf("report.Vanilla = false")
	}
	if len(dev.calls) != 0 {
		t.Fatalf("hardware calls = %v, want none", dev.calls)
	}
}

func TestParkAbort(t *testing.T) {
	c, clock, _ := newTestCalibrator(testDescription(2, []int{0, 1}))
	dev := newFakeDevice(2)
	dev.stuck[0] = true
	clock.onSleep = func(n int) {
		if n == 4 {
			c.RequestAbortPark()
		}
	}

	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if !report.Aborted || report.TimedOut {
		t.Fatalf("report = %+v, want aborted without timeout", report)
	}
	if report.Polls != 4 {
		t.Fatalf("polls = %d, want 4", report.Polls)
	}
	if len(report.Unfinished) != 0 {
		t.Fatalf("diagnostic pass ran after abort")
	}
}

func TestParkAxesFailure(t *testing.T) {
	c, _, _ := newTestCalibrator(testDescription(2, []int{0, 1}))
	dev := newFakeDevice(2)
	dev.axesErr = errFakeTimeout

	_, err := c.Park(hardware.NewSet(dev), true)
	if !errors.Is(err, hardware.ErrInterfaceUnavailable) {
		t.Fatalf("Park() error = %v, want ErrInterfaceUnavailable", err)
	}
	if len(dev.calls) != 0 {
		t.Fatalf("hardware calls = %v, want none", dev.calls)
	}
}

func TestParkIgnoresCalibrationAbort(t *testing.T) {
	c, _, _ := newTestCalibrator(testDescription(1, []int{0}))
	dev := newFakeDevice(1)

	c.RequestAbortCalibration()
	report, err := c.Park(hardware.NewSet(dev), true)
	if err != nil {
		t.Fatalf("Park() error = %v", err)
	}
	if report.Aborted {
		t.Fatalf("park honoured a calibration abort")
	}
}
