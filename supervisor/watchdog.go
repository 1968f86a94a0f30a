package supervisor

import "time"

// watchdogState tracks where the watchdog is in its firing sequence.
type watchdogState int

const (
	watchdogArmed watchdogState = iota
	watchdogSoftFired
	watchdogHardFired
	watchdogDisarmed
)

func (s watchdogState) String() string {
	switch s {
	case watchdogArmed:
		return "armed"
	case watchdogSoftFired:
		return "soft_fired"
	case watchdogHardFired:
		return "hard_fired"
	case watchdogDisarmed:
		return "disarmed"
	default:
		return "unknown"
	}
}

// watchdog monitors one running worker against its soft and hard deadlines.
//
// Both timers are armed at worker start on Go's monotonic clock, so system
// clock adjustments cannot shorten or extend a deadline. The watchdog itself
// never signals the worker; the session run loop selects on soft()/hard()
// and performs the graceful request or the forced kill, then records the
// transition here. Disarming stops both timers and happens on every terminal
// path, including cancellation, so a timeout can never fire on a session
// that already ended. A deadline that fired before disarming stays recorded:
// a worker that exits on its own after the soft breach is still classified
// as timed out, because the breach, not user intent, caused the exit.
type watchdog struct {
	state     watchdogState
	softTimer *time.Timer
	hardTimer *time.Timer
	softCh    <-chan time.Time
	hardCh    <-chan time.Time
	breached  Deadline
	hasFired  bool
}

// newWatchdog arms both deadlines relative to now.
func newWatchdog(policy TimeoutPolicy) *watchdog {
	w := &watchdog{
		state:     watchdogArmed,
		softTimer: time.NewTimer(policy.Soft),
		hardTimer: time.NewTimer(policy.Hard),
	}
	w.softCh = w.softTimer.C
	w.hardCh = w.hardTimer.C
	return w
}

// soft returns the soft-deadline channel, nil once the deadline has fired or
// the watchdog is disarmed. A nil channel is never selected.
func (w *watchdog) soft() <-chan time.Time { return w.softCh }

// hard returns the hard-deadline channel, nil once fired or disarmed.
func (w *watchdog) hard() <-chan time.Time { return w.hardCh }

// softExpired records the soft deadline firing.
func (w *watchdog) softExpired() {
	if w.state == watchdogArmed {
		w.state = watchdogSoftFired
	}
	w.softCh = nil
	w.breached = DeadlineSoft
	w.hasFired = true
}

// hardExpired records the hard deadline firing.
func (w *watchdog) hardExpired() {
	if w.state == watchdogArmed || w.state == watchdogSoftFired {
		w.state = watchdogHardFired
	}
	w.softCh = nil
	w.hardCh = nil
	w.breached = DeadlineHard
	w.hasFired = true
}

// fired reports whether either deadline has fired.
func (w *watchdog) fired() bool { return w.hasFired }

// deadline reports which deadline drove a timeout. Meaningful only after
// fired() returns true.
func (w *watchdog) deadline() Deadline { return w.breached }

// disarm stops both timers and ends the firing sequence. Safe to call in
// any state, any number of times.
func (w *watchdog) disarm() {
	w.softTimer.Stop()
	w.hardTimer.Stop()
	w.softCh = nil
	w.hardCh = nil
	w.state = watchdogDisarmed
}
