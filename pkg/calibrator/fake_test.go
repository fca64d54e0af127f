package calibrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jointcal/jointcal/pkg/config"
	"github.com/jointcal/jointcal/pkg/hardware"
)

var errFakeTimeout = errors.New("fake: no answer")

// fakeDevice records every command and answers queries from simple tables.
type fakeDevice struct {
	mu sync.Mutex

	axes    int
	axesErr error

	pids       map[int]hardware.Pid
	pidReadErr map[int]bool

	// neverDone joints never finish calibrating.
	neverDone map[int]bool
	// offset is added to every commanded position, keeping joints away from
	// their target.
	offset map[int]float64
	// stuck joints never report motion done.
	stuck map[int]bool
	// mute joints fail motion done queries.
	mute map[int]bool

	pos        map[int]float64
	ampEnabled map[int]bool
	pidEnabled map[int]bool
	doneCalls  map[int]int
	calls      []string
}

var _ hardware.Device = &fakeDevice{}

func newFakeDevice(axes int) *fakeDevice {
	d := &fakeDevice{
		axes:       axes,
		pids:       make(map[int]hardware.Pid),
		pidReadErr: make(map[int]bool),
		neverDone:  make(map[int]bool),
		offset:     make(map[int]float64),
		stuck:      make(map[int]bool),
		mute:       make(map[int]bool),
		pos:        make(map[int]float64),
		ampEnabled: make(map[int]bool),
		pidEnabled: make(map[int]bool),
		doneCalls:  make(map[int]int),
	}
	for j := 0; j < axes; j++ {
		d.pids[j] = originalPid(j)
	}
	return d
}

func originalPid(j int) hardware.Pid {
	return hardware.Pid{Kp: 100 + float64(j), Ki: 1, MaxInt: 1000, MaxOutput: 1333}
}

func (d *fakeDevice) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

// count returns how many recorded calls start with prefix.
func (d *fakeDevice) count(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDevice) Calibrate(joint int, typ uint8, p1, p2, p3 float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("calibrate %d", joint)
	return nil
}

func (d *fakeDevice) Done(joint int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doneCalls[joint]++
	return !d.neverDone[joint], nil
}

func (d *fakeDevice) Axes() (int, error) {
	return d.axes, d.axesErr
}

func (d *fakeDevice) Position(joint int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos[joint], nil
}

func (d *fakeDevice) Positions() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]float64, d.axes)
	for j := range ret {
		ret[j] = d.pos[j]
	}
	return ret, nil
}

func (d *fakeDevice) SetRefSpeed(joint int, speed float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("speed %d", joint)
	return nil
}

func (d *fakeDevice) SetRefSpeeds(speeds []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("speedall")
	return nil
}

func (d *fakeDevice) PositionMove(joint int, pos float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("move %d", joint)
	d.pos[joint] = pos + d.offset[joint]
	return nil
}

func (d *fakeDevice) PositionMoveAll(pos []float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("moveall")
	for j, p := range pos {
		d.pos[j] = p + d.offset[j]
	}
	return nil
}

func (d *fakeDevice) MotionDone(joint int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mute[joint] {
		return false, errFakeTimeout
	}
	return !d.stuck[joint], nil
}

func (d *fakeDevice) MotionDoneAll() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("mdoneall")
	for j := 0; j < d.axes; j++ {
		if d.stuck[j] || d.mute[j] {
			return false, nil
		}
	}
	return true, nil
}

func (d *fakeDevice) GetPid(joint int) (hardware.Pid, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("getpid %d", joint)
	if d.pidReadErr[joint] {
		return hardware.Pid{}, errFakeTimeout
	}
	return d.pids[joint], nil
}

func (d *fakeDevice) SetPid(joint int, pid hardware.Pid) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("setpid %d", joint)
	d.pids[joint] = pid
	return nil
}

func (d *fakeDevice) EnablePid(joint int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("pidenable %d", joint)
	d.pidEnabled[joint] = true
	return nil
}

func (d *fakeDevice) EnableAmp(joint int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ampenable %d", joint)
	d.ampEnabled[joint] = true
	return nil
}

func (d *fakeDevice) DisableAmp(joint int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ampdisable %d", joint)
	d.ampEnabled[joint] = false
	return nil
}

func (d *fakeDevice) SetPositionMode(joint int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("posmode %d", joint)
	return nil
}

func (d *fakeDevice) SetPositionModeAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("posmodeall")
	return nil
}

// fakeClock advances only when the calibrator sleeps.
type fakeClock struct {
	t       time.Time
	sleeps  int
	slept   time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) sleep(d time.Duration) {
	f.t = f.t.Add(d)
	f.sleeps++
	f.slept += d
	if f.onSleep != nil {
		f.onSleep(f.sleeps)
	}
}

type recordedEvent struct {
	name    string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(name string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, recordedEvent{name, payload})
	p.mu.Unlock()
}

func fill(n int, v float64) []float64 {
	ret := make([]float64, n)
	for i := range ret {
		ret[i] = v
	}
	return ret
}

func testDescription(nj int, groups ...[]int) *config.Description {
	return &config.Description{
		General: &config.General{DeviceName: "test_part"},
		Calibration: &config.CalibrationSection{
			Joints:           nj,
			CalibrationType:  make([]int, nj),
			Calibration1:     fill(nj, 1),
			Calibration2:     fill(nj, 2),
			Calibration3:     fill(nj, 3),
			PositionZero:     fill(nj, 0),
			VelocityZero:     fill(nj, 10),
			MaxPWM:           fill(nj, 60),
			PosZeroThreshold: fill(nj, 2),
		},
		Home: &config.Home{
			PositionHome: fill(nj, 15),
			VelocityHome: fill(nj, 5),
		},
		CalibOrder: groups,
	}
}

func newTestCalibrator(desc *config.Description) (*Calibrator, *fakeClock, *fakePublisher) {
	pub := &fakePublisher{}
	c := New(pub)
	clock := newFakeClock()
	c.now = clock.now
	c.sleep = clock.sleep
	if err := c.Open(desc); err != nil {
		panic(err)
	}
	return c, clock, pub
}
