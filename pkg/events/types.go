package events

import "encoding/json"

// Event name constants
const (
	CalibrationGroup  = "calibration.group"
	CalibrationRun    = "calibration.run"
	CalibrationAction = "calibration.action"
	Park              = "park"
)

// Event is a generic event from the daemon.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// GroupPhaseEvent is the typed payload for calibration.group.
type GroupPhaseEvent struct {
	Device  string `json:"device"`
	Group   int    `json:"group"`
	Joints  []int  `json:"joints"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// RunEvent is the typed payload for calibration.run, sent when a run starts
// and when it ends.
type RunEvent struct {
	Device       string `json:"device"`
	Finished     bool   `json:"finished"`
	Aborted      bool   `json:"aborted,omitempty"`
	FailedGroups []int  `json:"failedGroups,omitempty"`
	Error        string `json:"error,omitempty"`
	Ts           int64  `json:"ts"`
}

// ActionEvent is the typed payload for calibration.action.
type ActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// ParkEvent is the typed payload for park.
type ParkEvent struct {
	Device     string `json:"device"`
	Finished   bool   `json:"finished"`
	Aborted    bool   `json:"aborted,omitempty"`
	TimedOut   bool   `json:"timedOut,omitempty"`
	Unfinished []int  `json:"unfinished,omitempty"`
	Ts         int64  `json:"ts"`
}

// DecodeAs decodes the event payload into T. An empty payload yields the
// zero value of T.
//
//	payload, err := events.DecodeAs[events.GroupPhaseEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
