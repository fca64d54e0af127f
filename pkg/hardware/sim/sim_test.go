package sim

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDevice(t *testing.T, opts Options) (*Device, *clock) {
	t.Helper()
	d, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d.now = c.now
	return d, c
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero axes", Options{}},
		{"too many initial positions", Options{Axes: 1, InitialPositions: []float64{1, 2}}},
		{"fault out of range", Options{Axes: 2, Faults: Faults{Stuck: []int{2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Fatalf("New() error = nil, want error")
			}
		})
	}
}

func TestCalibrationCompletesAfterDuration(t *testing.T) {
	d, c := newTestDevice(t, Options{Axes: 2, CalibrationDuration: 3 * time.Second, Faults: Faults{NeverCalibrates: []int{1}}})

	for j := 0; j < 2; j++ {
		if err := d.Calibrate(j, 3, 0, 0, 0); err != nil {
			t.Fatalf("Calibrate(%d) error = %v", j, err)
		}
	}
	if done, _ := d.Done(0); done {
		t.Fatalf("Done(0) = true right after Calibrate")
	}
	c.advance(3 * time.Second)
	if done, _ := d.Done(0); !done {
		t.Fatalf("Done(0) = false after calibration duration")
	}
	c.advance(time.Hour)
	if done, _ := d.Done(1); done {
		t.Fatalf("Done(1) = true for a joint that never calibrates")
	}
}

func TestMoveAtReferenceSpeed(t *testing.T) {
	d, c := newTestDevice(t, Options{Axes: 1})

	if err := d.SetRefSpeed(0, 5); err != nil {
		t.Fatalf("SetRefSpeed() error = %v", err)
	}
	if err := d.PositionMove(0, -20); err != nil {
		t.Fatalf("PositionMove() error = %v", err)
	}

	c.advance(2 * time.Second)
	if pos, _ := d.Position(0); pos != -10 {
		t.Fatalf("Position() after 2s = %v, want -10", pos)
	}
	if done, _ := d.MotionDone(0); done {
		t.Fatalf("MotionDone() = true mid-move")
	}

	c.advance(2 * time.Second)
	if pos, _ := d.Position(0); pos != -20 {
		t.Fatalf("Position() after 4s = %v, want -20", pos)
	}
	if done, _ := d.MotionDoneAll(); !done {
		t.Fatalf("MotionDoneAll() = false after arriving")
	}
}

func TestStuckAndMuteJoints(t *testing.T) {
	d, c := newTestDevice(t, Options{Axes: 3, Faults: Faults{Stuck: []int{1}, Mute: []int{2}}})

	if err := d.PositionMoveAll([]float64{10, 10, 10}); err != nil {
		t.Fatalf("PositionMoveAll() error = %v", err)
	}
	c.advance(time.Minute)

	if done, err := d.MotionDone(0); err != nil || !done {
		t.Fatalf("MotionDone(0) = %v, %v, want true", done, err)
	}
	if done, err := d.MotionDone(1); err != nil || done {
		t.Fatalf("MotionDone(1) = %v, %v, want false", done, err)
	}
	if _, err := d.MotionDone(2); err == nil {
		t.Fatalf("MotionDone(2) error = nil, want error")
	}
	if pos, _ := d.Position(1); pos != 0 {
		t.Fatalf("stuck joint moved to %v", pos)
	}
}

func TestDisabledJointIgnoresMoves(t *testing.T) {
	d, c := newTestDevice(t, Options{Axes: 1, InitialPositions: []float64{4}})

	if err := d.DisableAmp(0); err != nil {
		t.Fatalf("DisableAmp() error = %v", err)
	}
	if err := d.PositionMove(0, 50); err != nil {
		t.Fatalf("PositionMove() error = %v", err)
	}
	c.advance(time.Minute)
	if pos, _ := d.Position(0); pos != 4 {
		t.Fatalf("Position() = %v, want 4", pos)
	}
	if st := d.State()[0]; st.AmpEnabled {
		t.Fatalf("State().AmpEnabled = true")
	}
}

func TestPidReadFailure(t *testing.T) {
	d, _ := newTestDevice(t, Options{Axes: 2, Faults: Faults{PidReadFailure: []int{0}}})

	if _, err := d.GetPid(0); err == nil {
		t.Fatalf("GetPid(0) error = nil, want error")
	}
	pid, err := d.GetPid(1)
	if err != nil {
		t.Fatalf("GetPid(1) error = %v", err)
	}
	limited := pid.Limited(60)
	if err := d.SetPid(1, limited); err != nil {
		t.Fatalf("SetPid() error = %v", err)
	}
	if got := d.State()[1].Pid; got != limited {
		t.Fatalf("pid = %+v, want %+v", got, limited)
	}
}
