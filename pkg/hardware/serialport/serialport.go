// Package serialport drives a joint controller board over a serial line.
//
// The board speaks a line protocol: every request is one line of
// space-separated ASCII fields terminated by '\n', answered by exactly one
// line starting with "OK" or "ERR". The status word is followed by the
// request's tag, then the result fields or an error message. The tag is the
// command and, for joint-addressed commands, the joint selector:
//
//	MDONE 3     -> OK MDONE 3 1
//	SPDALL 5 5  -> OK SPDALL
//	AMPEN 9     -> ERR AMPEN 9 no such joint
//
// Replies whose tag does not match the outstanding request are stale answers
// to an earlier request that timed out, and are dropped.
//
//	CAL <j> <type> <p1> <p2> <p3>   calibrate joint
//	DONE <j>                        -> OK 0|1
//	AXES                            -> OK <n>
//	POS <j>                         -> OK <deg>
//	POSALL                          -> OK <deg>...
//	MODE <j>|ALL                    position control mode
//	SPD <j> <v> / SPDALL <v>...     reference speed
//	MOVE <j> <deg> / MOVEALL <deg>...
//	MDONE <j>|ALL                   -> OK 0|1
//	GETPID <j>                      -> OK kp ki kd maxint maxout scale offset
//	SETPID <j> kp ki kd maxint maxout scale offset
//	PIDEN <j>, AMPEN <j>, AMPDIS <j>
package serialport

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/jointcal/jointcal/pkg/hardware"
)

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

var (
	ErrTimeout  = &protocolError{"timed out waiting for controller reply"}
	ErrBadReply = &protocolError{"malformed controller reply"}
)

type protocolError struct{ msg string }

func (e *protocolError) Error() string { return e.msg }

// RemoteError is an ERR reply from the controller.
type RemoteError struct {
	Command string
	Message string
}

func (e *RemoteError) Error() string {
	return "controller rejected " + e.Command + ": " + e.Message
}

const DefaultReplyTimeout = 2 * time.Second

type Device struct {
	mu      sync.Mutex
	rw      io.ReadWriter
	closer  io.Closer
	timeout time.Duration
	buf     bytes.Buffer

	axes int
}

var _ hardware.Device = &Device{}

// Open opens the serial port at baud and returns a Device talking to it.
func Open(port string, baud int) (*Device, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open serial port %s", port)
	}
	// Short reads let readLine notice the reply deadline.
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, pkgerrors.Wrapf(err, "failed to set read timeout on %s", port)
	}
	if err := p.ResetInputBuffer(); err != nil {
		logrus.WithError(err).WithField("port", port).Warn("failed to flush serial input")
	}

	logrus.WithFields(logrus.Fields{
		"port": port,
		"baud": baud,
	}).Info("serial joint controller opened")

	d := NewDevice(p)
	d.closer = p
	return d, nil
}

// NewDevice wraps an already open connection.
func NewDevice(rw io.ReadWriter) *Device {
	return &Device{
		rw:      rw,
		timeout: DefaultReplyTimeout,
	}
}

func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// SetReplyTimeout changes how long a request waits for its reply.
func (d *Device) SetReplyTimeout(t time.Duration) {
	d.mu.Lock()
	d.timeout = t
	d.mu.Unlock()
}

// vectorCommands carry one value per joint and no joint selector.
var vectorCommands = map[string]bool{
	"SPDALL":  true,
	"MOVEALL": true,
}

// replyTag is what the controller echoes back after OK or ERR.
func replyTag(cmd string, args []string) []string {
	if len(args) == 0 || vectorCommands[cmd] {
		return []string{cmd}
	}
	return []string{cmd, args[0]}
}

// request sends one command line and returns the fields after the tag.
func (d *Device) request(cmd string, args ...string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	logrus.WithField("cmd", line).Trace("serial request")

	if _, err := io.WriteString(d.rw, line+"\n"); err != nil {
		d.resync()
		return nil, pkgerrors.Wrapf(err, "failed to write %s", cmd)
	}

	tag := replyTag(cmd, args)
	deadline := time.Now().Add(d.timeout)
	for {
		reply, err := d.readLine(deadline)
		if err != nil {
			d.resync()
			return nil, pkgerrors.Wrapf(err, "failed to read reply to %s", cmd)
		}
		logrus.WithField("reply", reply).Trace("serial reply")

		fields := strings.Fields(reply)
		if len(fields) == 0 || (fields[0] != "OK" && fields[0] != "ERR") || len(fields) < 1+len(tag) {
			d.resync()
			return nil, pkgerrors.Wrapf(ErrBadReply, "reply to %s: %q", line, reply)
		}
		if !tagMatches(fields[1:1+len(tag)], tag) {
			logrus.WithFields(logrus.Fields{
				"cmd":   line,
				"reply": reply,
			}).Debug("dropping stale controller reply")
			if time.Now().After(deadline) {
				d.resync()
				return nil, pkgerrors.Wrapf(ErrTimeout, "failed to read reply to %s", cmd)
			}
			continue
		}

		rest := fields[1+len(tag):]
		if fields[0] == "ERR" {
			return nil, &RemoteError{Command: cmd, Message: strings.Join(rest, " ")}
		}
		return rest, nil
	}
}

func tagMatches(got, want []string) bool {
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// resync forgets buffered input after a failed exchange so a late reply to
// it cannot be taken for the answer to the next request.
func (d *Device) resync() {
	d.buf.Reset()
	r, ok := d.rw.(inputResetter)
	if !ok {
		return
	}
	if err := r.ResetInputBuffer(); err != nil {
		logrus.WithError(err).Warn("failed to flush serial input")
	}
}

// readLine reads up to the next '\n'. A read returning no data counts as a
// serial read timeout tick.
func (d *Device) readLine(deadline time.Time) (string, error) {
	chunk := make([]byte, 64)
	for {
		if i := bytes.IndexByte(d.buf.Bytes(), '\n'); i >= 0 {
			line := string(d.buf.Next(i + 1))
			return strings.TrimRight(line, "\r\n"), nil
		}
		n, err := d.rw.Read(chunk)
		if n > 0 {
			d.buf.Write(chunk[:n])
			continue
		}
		if err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
	}
}

func itoa(i int) string { return strconv.Itoa(i) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func ftoas(v []float64) []string {
	ret := make([]string, len(v))
	for i, f := range v {
		ret[i] = ftoa(f)
	}
	return ret
}

func parseFloats(cmd string, fields []string, want int) ([]float64, error) {
	if want >= 0 && len(fields) != want {
		return nil, pkgerrors.Wrapf(ErrBadReply, "%s: got %d values, want %d", cmd, len(fields), want)
	}
	ret := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, pkgerrors.Wrapf(ErrBadReply, "%s: %v", cmd, err)
		}
		ret[i] = v
	}
	return ret, nil
}

func parseBool(cmd string, fields []string) (bool, error) {
	if len(fields) != 1 {
		return false, pkgerrors.Wrapf(ErrBadReply, "%s: got %d values, want 1", cmd, len(fields))
	}
	switch fields[0] {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, pkgerrors.Wrapf(ErrBadReply, "%s: %q is not 0 or 1", cmd, fields[0])
}

func (d *Device) exec(cmd string, args ...string) error {
	_, err := d.request(cmd, args...)
	return err
}

func (d *Device) Calibrate(joint int, typ uint8, p1, p2, p3 float64) error {
	return d.exec("CAL", itoa(joint), strconv.Itoa(int(typ)), ftoa(p1), ftoa(p2), ftoa(p3))
}

func (d *Device) Done(joint int) (bool, error) {
	f, err := d.request("DONE", itoa(joint))
	if err != nil {
		return false, err
	}
	return parseBool("DONE", f)
}

// Axes asks the controller once and caches the answer.
func (d *Device) Axes() (int, error) {
	d.mu.Lock()
	n := d.axes
	d.mu.Unlock()
	if n > 0 {
		return n, nil
	}

	f, err := d.request("AXES")
	if err != nil {
		return 0, err
	}
	if len(f) != 1 {
		return 0, pkgerrors.Wrapf(ErrBadReply, "AXES: got %d values, want 1", len(f))
	}
	n, err = strconv.Atoi(f[0])
	if err != nil || n <= 0 {
		return 0, pkgerrors.Wrapf(ErrBadReply, "AXES: %q", f[0])
	}

	d.mu.Lock()
	d.axes = n
	d.mu.Unlock()
	return n, nil
}

func (d *Device) Position(joint int) (float64, error) {
	f, err := d.request("POS", itoa(joint))
	if err != nil {
		return 0, err
	}
	v, err := parseFloats("POS", f, 1)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

func (d *Device) Positions() ([]float64, error) {
	f, err := d.request("POSALL")
	if err != nil {
		return nil, err
	}
	return parseFloats("POSALL", f, -1)
}

func (d *Device) SetRefSpeed(joint int, speed float64) error {
	return d.exec("SPD", itoa(joint), ftoa(speed))
}

func (d *Device) SetRefSpeeds(speeds []float64) error {
	return d.exec("SPDALL", ftoas(speeds)...)
}

func (d *Device) PositionMove(joint int, pos float64) error {
	return d.exec("MOVE", itoa(joint), ftoa(pos))
}

func (d *Device) PositionMoveAll(pos []float64) error {
	return d.exec("MOVEALL", ftoas(pos)...)
}

func (d *Device) MotionDone(joint int) (bool, error) {
	f, err := d.request("MDONE", itoa(joint))
	if err != nil {
		return false, err
	}
	return parseBool("MDONE", f)
}

func (d *Device) MotionDoneAll() (bool, error) {
	f, err := d.request("MDONE", "ALL")
	if err != nil {
		return false, err
	}
	return parseBool("MDONE", f)
}

func (d *Device) GetPid(joint int) (hardware.Pid, error) {
	f, err := d.request("GETPID", itoa(joint))
	if err != nil {
		return hardware.Pid{}, err
	}
	v, err := parseFloats("GETPID", f, 7)
	if err != nil {
		return hardware.Pid{}, err
	}
	return hardware.Pid{
		Kp:        v[0],
		Ki:        v[1],
		Kd:        v[2],
		MaxInt:    v[3],
		MaxOutput: v[4],
		Scale:     v[5],
		Offset:    v[6],
	}, nil
}

func (d *Device) SetPid(joint int, p hardware.Pid) error {
	return d.exec("SETPID", append([]string{itoa(joint)},
		ftoas([]float64{p.Kp, p.Ki, p.Kd, p.MaxInt, p.MaxOutput, p.Scale, p.Offset})...)...)
}

func (d *Device) EnablePid(joint int) error {
	return d.exec("PIDEN", itoa(joint))
}

func (d *Device) EnableAmp(joint int) error {
	return d.exec("AMPEN", itoa(joint))
}

func (d *Device) DisableAmp(joint int) error {
	return d.exec("AMPDIS", itoa(joint))
}

func (d *Device) SetPositionMode(joint int) error {
	return d.exec("MODE", itoa(joint))
}

func (d *Device) SetPositionModeAll() error {
	return d.exec("MODE", "ALL")
}
