package calibration

import "time"

// Phase defines the steps of the per-group calibration state machine.
type Phase string

const (
	PhaseIdle                 Phase = "Idle"
	PhasePidLimited           Phase = "PidLimited"
	PhaseCalibrating          Phase = "Calibrating"
	PhaseAwaitCalibrationDone Phase = "AwaitCalibrationDone"
	PhaseEnableAndZero        Phase = "EnableAndZero"
	PhaseAwaitZeroThreshold   Phase = "AwaitZeroThreshold"
	PhaseSettled              Phase = "Settled"
	PhaseFailedDisabled       Phase = "FailedDisabled"
)

// Terminal reports whether p ends a group.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseFailedDisabled
}

// Outcome explains the final state of a group.
type Outcome string

const (
	OutcomeSettled            Outcome = "Settled"
	OutcomeVanilla            Outcome = "Vanilla"
	OutcomeCalibrationTimeout Outcome = "CalibrationTimeout"
	OutcomeZeroingTimeout     Outcome = "ZeroingTimeout"
	OutcomeAborted            Outcome = "Aborted"
	OutcomePidReadFailure     Outcome = "PidReadFailure"
	OutcomeNotRun             Outcome = "NotRun"
)

// JointResult is the per-joint view of a group run.
type JointResult struct {
	Joint int `json:"joint"`
	// ZeroReached is set when the joint settled within its zero threshold.
	ZeroReached bool `json:"zeroReached"`
	// Position is the last encoder reading taken while waiting for zero.
	Position    float64 `json:"position"`
	AmpDisabled bool    `json:"ampDisabled"`
	PidRestored bool    `json:"pidRestored"`
}

// GroupReport is the result of calibrating one joint group.
type GroupReport struct {
	Index   int           `json:"index"`
	Joints  []int         `json:"joints"`
	Phase   Phase         `json:"phase"`
	Outcome Outcome       `json:"outcome"`
	Polls   int           `json:"polls"`
	Results []JointResult `json:"results,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Failed reports whether the group's joints were left disabled.
func (g GroupReport) Failed() bool {
	return g.Phase == PhaseFailedDisabled
}

// Report is the result of one calibrate invocation.
type Report struct {
	Device     string        `json:"device"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Vanilla    bool          `json:"vanilla"`
	Aborted    bool          `json:"aborted"`
	Groups     []GroupReport `json:"groups"`
	Error      string        `json:"error,omitempty"`
}

// FailedGroups returns the indices of groups left disabled.
func (r *Report) FailedGroups() []int {
	var ret []int
	for _, g := range r.Groups {
		if g.Failed() {
			ret = append(ret, g.Index)
		}
	}
	return ret
}

// ParkReport is the result of one park invocation.
type ParkReport struct {
	Device     string    `json:"device"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Vanilla    bool      `json:"vanilla"`
	Waited     bool      `json:"waited"`
	Aborted    bool      `json:"aborted"`
	TimedOut   bool      `json:"timedOut"`
	Polls      int       `json:"polls"`
	// Unfinished and Unresponsive are only filled by the diagnostic pass
	// after a timeout.
	Unfinished   []int  `json:"unfinished,omitempty"`
	Unresponsive []int  `json:"unresponsive,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Activity is what the daemon is currently doing with the hardware.
type Activity string

const (
	ActivityIdle        Activity = "Idle"
	ActivityCalibrating Activity = "Calibrating"
	ActivityParking     Activity = "Parking"
)

// Action defines user actions.
type Action string

const (
	ActionStart            Action = "Start"
	ActionAbort            Action = "Abort"
	ActionPark             Action = "Park"
	ActionAbortPark        Action = "AbortPark"
	ActionSchedule         Action = "Schedule"
	ActionScheduleDisable  Action = "ScheduleDisable"
	ActionSchedulePostpone Action = "SchedulePostpone"
	ActionScheduleSkip     Action = "ScheduleSkip"
	ActionScheduleUpcoming Action = "ScheduleUpcoming"
	ActionScheduleError    Action = "ScheduleError"
)

// Status is a synthesized view model exposed via the daemon API.
type Status struct {
	Device      string      `json:"device"`
	Activity    Activity    `json:"activity"`
	Group       int         `json:"group"`
	Phase       Phase       `json:"phase"`
	Vanilla     bool        `json:"vanilla"`
	Joints      int         `json:"joints"`
	Groups      int         `json:"groups"`
	LastRun     *Report     `json:"lastRun,omitempty"`
	LastPark    *ParkReport `json:"lastPark,omitempty"`
	ScheduledAt time.Time   `json:"scheduledAt,omitempty"`
	Message     string      `json:"message,omitempty"`
}
