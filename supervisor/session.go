package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of an execution session. Transitions are
// monotonic: once a terminal state is reached, the session never moves again.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateCancelled
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateCancelled, StateFailed:
		return true
	default:
		return false
	}
}

// Session supervises one code execution from start to terminal state.
//
// A session owns at most one live worker, whose lifetime is strictly
// contained within the session's own. All worker interaction happens in the
// session's run loop, a single goroutine that multiplexes output fragments,
// watchdog deadlines, and cancellation into the ordered event sequence.
type Session struct {
	id      string
	policy  TimeoutPolicy
	spawner Spawner
	logger  *zap.Logger
	log     *eventLog

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}

	// onTerminal is invoked exactly once, after the terminal event has been
	// appended but before done closes. The registry uses it to release the
	// session's capacity slot and schedule eviction.
	onTerminal func(*Session)
}

func newSession(id string, policy TimeoutPolicy, spawner Spawner, logger *zap.Logger, onTerminal func(*Session)) *Session {
	return &Session{
		id:         id,
		policy:     policy,
		spawner:    spawner,
		logger:     logger.With(zap.String("session_id", id)),
		log:        newEventLog(),
		state:      StatePending,
		cancelCh:   make(chan struct{}),
		done:       make(chan struct{}),
		onTerminal: onTerminal,
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// Policy returns the timeout policy governing this session.
func (s *Session) Policy() TimeoutPolicy { return s.policy }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when the worker was started. Zero while Pending.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns when the session reached a terminal state. Zero before.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Events returns a copy of the output sequence produced so far.
func (s *Session) Events() []Event {
	return s.log.snapshot()
}

// Subscribe returns a channel replaying the session's event sequence from
// the start and following it live. The channel closes after the terminal
// event, or when stop is closed.
func (s *Session) Subscribe(stop <-chan struct{}) <-chan Event {
	return s.log.subscribe(stop)
}

// AwaitTerminal blocks until the session reaches a terminal state and
// returns it. Any number of callers may wait concurrently; all observe the
// terminal state only after every preceding event has been recorded.
func (s *Session) AwaitTerminal(ctx context.Context) (State, error) {
	select {
	case <-s.done:
		return s.State(), nil
	case <-ctx.Done():
		return s.State(), ctx.Err()
	}
}

// Cancel requests termination of a running session. The session transitions
// to Cancelled within the grace period regardless of what the worker is
// doing, because the forced kill is unconditional. Cancelling a session that
// is already terminal is a no-op; Cancel never fails.
func (s *Session) Cancel() {
	s.mu.Lock()
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if terminal {
		return
	}
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// start launches the worker and the supervision loop. Called once, by the
// registry, immediately after the session is created.
func (s *Session) start(code string) {
	go s.run(code)
}

func (s *Session) run(code string) {
	s.mu.Lock()
	s.state = StateRunning
	s.startedAt = time.Now()
	startedAt := s.startedAt
	s.mu.Unlock()
	s.log.append(Event{Kind: EventStarted, At: startedAt})

	handle, err := s.spawner.Spawn(context.Background(), code)
	if err != nil {
		s.logger.Error("worker spawn failed", zap.Error(err))
		s.finish(StateFailed, Event{Kind: EventFailed, Reason: err.Error()})
		return
	}

	wd := newWatchdog(s.policy)
	output := handle.Output()
	cancelCh := s.cancelCh
	var graceTimer *time.Timer
	var graceCh <-chan time.Time
	cancelRequested := false
	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	for {
		select {
		case frag, ok := <-output:
			if !ok {
				output = nil
				continue
			}
			s.appendFragment(frag)

		case <-wd.soft():
			wd.softExpired()
			s.logger.Info("soft deadline reached, requesting graceful stop",
				zap.Duration("soft", s.policy.Soft))
			if err := handle.Interrupt(); err != nil {
				s.logger.Warn("graceful stop request failed", zap.Error(err))
			}

		case <-wd.hard():
			wd.hardExpired()
			s.logger.Warn("hard deadline reached, killing worker",
				zap.Duration("hard", s.policy.Hard))
			if err := handle.Kill(); err != nil {
				s.logger.Error("forced kill failed", zap.Error(err))
			}

		case <-cancelCh:
			cancelCh = nil
			cancelRequested = true
			wd.disarm()
			s.logger.Info("cancellation requested, stopping worker")
			if err := handle.Interrupt(); err != nil {
				s.logger.Warn("graceful stop request failed", zap.Error(err))
			}
			graceTimer = time.NewTimer(s.policy.Grace())
			graceCh = graceTimer.C

		case <-graceCh:
			graceCh = nil
			s.logger.Warn("grace period after cancel elapsed, killing worker")
			if err := handle.Kill(); err != nil {
				s.logger.Error("forced kill failed", zap.Error(err))
			}

		case <-handle.Done():
			// The worker is reaped. Drain buffered fragments first so the
			// terminal event stays last in the sequence.
			if output != nil {
				for frag := range output {
					s.appendFragment(frag)
				}
			}
			wd.disarm()
			s.conclude(handle.Exit(), cancelRequested, wd)
			return
		}
	}
}

func (s *Session) appendFragment(frag Fragment) {
	kind := EventStdout
	if frag.Stream == StreamStderr {
		kind = EventStderr
	}
	s.log.append(Event{Kind: kind, At: time.Now(), Text: frag.Text})
}

// conclude maps the worker's outcome and the supervision causes onto the
// terminal state. Cause ordering: explicit cancellation wins over a timeout,
// a timeout wins over whatever exit status the dying worker produced.
func (s *Session) conclude(exit ExitInfo, cancelRequested bool, wd *watchdog) {
	switch {
	case cancelRequested:
		s.finish(StateCancelled, Event{Kind: EventCancelled})
	case wd.fired():
		s.finish(StateTimedOut, Event{Kind: EventTimedOut, Deadline: wd.deadline()})
	case exit.Err != nil:
		s.finish(StateFailed, Event{Kind: EventFailed, Reason: exit.Err.Error()})
	case exit.Code == 0:
		s.finish(StateCompleted, Event{Kind: EventCompleted, ExitCode: 0})
	case exit.Desc != "":
		s.finish(StateFailed, Event{Kind: EventFailed, Reason: exit.Desc})
	default:
		s.finish(StateFailed, Event{
			Kind:     EventFailed,
			ExitCode: exit.Code,
			Reason:   fmt.Sprintf("worker exited with status %d", exit.Code),
		})
	}
}

// finish performs the terminal transition: record state and end time, append
// the terminal event, release awaiters, and notify the registry.
func (s *Session) finish(state State, terminal Event) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.endedAt = time.Now()
	terminal.At = s.endedAt
	s.mu.Unlock()

	s.log.append(terminal)

	// The registry must observe the terminal transition (and free the
	// session's capacity slot) before any awaiter wakes up, otherwise a
	// caller retrying right after AwaitTerminal could still be rejected.
	if s.onTerminal != nil {
		s.onTerminal(s)
	}
	close(s.done)

	s.logger.Info("session terminal",
		zap.String("state", state.String()),
		zap.Duration("elapsed", s.endedAt.Sub(s.startedAt)))
}
