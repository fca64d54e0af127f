package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/calibration"
)

const (
	defaultLead             = time.Minute * 5 // announce an upcoming run this long before it starts
	defaultPreCheckMaxTimes = 30
	defaultPreCheckInterval = time.Second * 10

	// idleWait parks the run loop when there is nothing scheduled.
	idleWait = time.Hour * 10000
)

var scheduler *Scheduler

// NotifyFunc receives a run time for OnUpcoming, or an error for OnError.
type NotifyFunc func(data any)

// TaskFunc is the scheduled job, or the check that gates it.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. Before each run PreCheck must pass;
// a failing precheck is retried PreCheckMaxTimes times, PreCheckInterval
// apart, before that run is given up.
type Scheduler struct {
	OnUpcoming NotifyFunc // gets the run time, Lead ahead of it
	OnError    NotifyFunc // gets precheck and run failures
	Task       TaskFunc
	PreCheck   TaskFunc

	Lead             time.Duration
	PreCheckMaxTimes int
	PreCheckInterval time.Duration

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// controlKind tells the run loop what changed under it.
type controlKind int

const (
	ctrlRecalculate controlKind = iota // new cron expression
	ctrlPostpone                       // nextRun moved later
	ctrlSkip                           // nextRun moved to the following slot
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task, preCheck TaskFunc, onUpcoming, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("scheduler needs a task")
	}

	return &Scheduler{
		OnUpcoming:       onUpcoming,
		OnError:          onError,
		Task:             task,
		PreCheck:         preCheck,
		Lead:             defaultLead,
		PreCheckMaxTimes: defaultPreCheckMaxTimes,
		PreCheckInterval: defaultPreCheckInterval,
		controlCh:        make(chan controlMsg, 4),
		stopCh:           make(chan struct{}),
	}
}

// initScheduler wires the scheduler to the calibrator and applies the
// configured cron expression.
func initScheduler() {
	scheduler = NewScheduler(
		runScheduledCalibration,
		func() error {
			if operating.Load() {
				return ErrOperationInProgress
			}
			return nil
		},
		func(data any) {
			if at, ok := data.(time.Time); ok {
				publishAction(calibration.ActionScheduleUpcoming, fmt.Sprintf("Scheduled calibration starts at %s", at.Format("Jan _2 15:04")))
			}
		},
		func(data any) {
			if err, ok := data.(error); ok {
				publishAction(calibration.ActionScheduleError, err.Error())
			}
		},
	)

	if expr := conf.Cron(); expr != "" {
		if _, err := schedule(expr); err != nil {
			logrus.WithError(err).WithField("cron", expr).Error("failed to apply configured schedule")
		}
	}
}

func runScheduledCalibration() error {
	if err := beginOperation(); err != nil {
		return err
	}
	defer endOperation()

	publishAction(calibration.ActionStart, "Scheduled calibration started")
	return runCalibration()
}

// Stop ends the run loop. Start may be called again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	select {
	case <-s.stopCh:
		s.stopCh = make(chan struct{})
	default:
	}
	s.running = true
	go s.runScheduled(s.stopCh)
}

func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := cronParser.Parse(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// Postpone delays the next run by d. The delayed run must still come before
// the one after it.
func (s *Scheduler) Postpone(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("postponement must be positive, got %s", d)
	}

	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() || !s.running {
		s.mu.Unlock()
		return fmt.Errorf("no scheduled calibration to postpone")
	}
	orig := s.nextRun
	following := s.schedule.Next(orig).Truncate(time.Second)
	s.mu.Unlock()

	at := orig.Add(d).Truncate(time.Second)
	if !at.Before(following) {
		return fmt.Errorf("postponing by %s would pass the following run at %s", d, following.Format(time.DateTime))
	}

	s.mu.Lock()
	s.nextRun = at
	s.mu.Unlock()
	s.trySendControl(ctrlPostpone, at)
	return nil
}

// Skip drops the next run; the one after it becomes next.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no scheduled calibration to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// runScheduled owns the timer. It exits when stopCh closes; a later Start
// gets a fresh channel and a fresh loop.
func (s *Scheduler) runScheduled(stopCh chan struct{}) {
	logrus.Debug("calibration schedule loop running")
	defer func() {
		s.mu.Lock()
		if s.stopCh == stopCh {
			s.running = false
		}
		s.mu.Unlock()
		logrus.Debug("calibration schedule loop exited")
	}()

	for s.awaitRun(stopCh) {
	}
}

// awaitRun waits for the next run, announces it, gates it on PreCheck and
// starts Task. It returns false once the loop should exit, and true when the
// schedule moved on and the caller should wait again.
func (s *Scheduler) awaitRun(stopCh chan struct{}) bool {
	sched, at := s.snapshot()
	scheduled := sched != nil && !at.IsZero()

	wait := idleWait
	if scheduled {
		wait = max(time.Until(at)-s.Lead, 0)
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	announced := false
	failedChecks := 0
	var lastCheckErr error

	for {
		select {
		case <-stopCh:
			return false

		case msg := <-s.controlCh:
			logrus.WithFields(logrus.Fields{
				"kind": msg.kind,
				"data": msg.data,
			}).Debug("schedule changed")

			switch msg.kind {
			case ctrlRecalculate:
				sh := msg.data.(cron.Schedule)
				s.mu.Lock()
				s.schedule = sh
				s.nextRun = sh.Next(time.Now())
				s.mu.Unlock()
				return true
			case ctrlPostpone:
				// the upcoming notice already went out for this slot
				at = msg.data.(time.Time)
				announced = true
				timer.Reset(time.Until(at))
			case ctrlSkip:
				return true
			}

		case <-timer.C:
			if !scheduled {
				return true
			}

			if !announced {
				logrus.WithField("at", at.Format(time.DateTime)).Debug("upcoming scheduled calibration")
				announced = true
				timer.Reset(max(time.Until(at), 0))
				s.sendNotify(at)
				continue
			}

			if s.PreCheck != nil {
				if err := s.PreCheck(); err != nil {
					if lastCheckErr == nil || err.Error() != lastCheckErr.Error() {
						lastCheckErr = err
						s.sendError(fmt.Errorf("scheduled calibration held back: %v", err))
					}

					failedChecks++
					if failedChecks <= s.PreCheckMaxTimes {
						logrus.WithFields(logrus.Fields{
							"attempt": failedChecks,
							"max":     s.PreCheckMaxTimes,
							"retryIn": s.PreCheckInterval.String(),
						}).WithError(err).Debug("scheduled calibration cannot start yet")
						timer.Reset(s.PreCheckInterval)
						continue
					}

					logrus.WithField("at", at.Format(time.DateTime)).Warn("giving up on scheduled calibration")
					s.advanceNextRun()
					return true
				}
			}

			logrus.WithField("at", at.Format(time.DateTime)).Debug("starting scheduled calibration")
			go func() {
				if err := s.Task(); err != nil {
					s.sendError(fmt.Errorf("scheduled calibration failed: %v", err))
				}
			}()
			s.advanceNextRun()
			return true
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advanceNextRun moves to the first run after now, so a run delayed by
// prechecks does not fire again immediately.
func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	next := s.schedule.Next(s.nextRun)
	if now := time.Now(); next.Before(now) {
		next = s.schedule.Next(now)
	}
	s.nextRun = next
}

func (s *Scheduler) sendNotify(runAt time.Time) {
	if s.OnUpcoming != nil {
		go s.OnUpcoming(runAt)
	}
}

func (s *Scheduler) sendError(err error) {
	if s.OnError != nil {
		go s.OnError(err)
	}
}

// trySendControl drops the message when the loop is not keeping up.
func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
