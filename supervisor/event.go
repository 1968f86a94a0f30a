package supervisor

import "time"

// EventKind identifies the variant of an output event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventStdout
	EventStderr
	EventCompleted
	EventTimedOut
	EventCancelled
	EventFailed
)

// String returns the lowercase name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventCompleted:
		return "completed"
	case EventTimedOut:
		return "timed_out"
	case EventCancelled:
		return "cancelled"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the kind ends a session's event stream.
func (k EventKind) Terminal() bool {
	switch k {
	case EventCompleted, EventTimedOut, EventCancelled, EventFailed:
		return true
	default:
		return false
	}
}

// Deadline identifies which timeout deadline produced a TimedOut event.
type Deadline string

const (
	DeadlineSoft Deadline = "soft"
	DeadlineHard Deadline = "hard"
)

// Event is one entry in a session's ordered output sequence.
//
// Within a session, events are strictly ordered by Seq: Started is always
// first, exactly one terminal event is always last, and no event follows it.
// Only the fields matching Kind carry meaning: Text for Stdout/Stderr,
// ExitCode for Completed, Deadline for TimedOut, Reason for Failed.
type Event struct {
	Seq      int
	Kind     EventKind
	At       time.Time
	Text     string
	ExitCode int
	Deadline Deadline
	Reason   string
}
