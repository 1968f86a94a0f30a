package supervisor

import "sync"

// eventLog is the durable output sequence of one session.
//
// It is written by exactly one goroutine (the session run loop) and read by
// any number of subscribers. Every subscriber replays the sequence from the
// start, so an observer attaching after events were produced still sees the
// complete, ordered stream. Each subscriber is driven by its own goroutine
// over a shared slice and cursor, so a slow reader never blocks the writer
// and no event is ever dropped.
type eventLog struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []Event
	closed bool
}

func newEventLog() *eventLog {
	l := &eventLog{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// append assigns the next sequence number, stores the event, and wakes
// subscribers. Appending a terminal event closes the log.
func (l *eventLog) append(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		// A terminal event already ended the sequence.
		return ev
	}
	ev.Seq = len(l.events)
	l.events = append(l.events, ev)
	if ev.Kind.Terminal() {
		l.closed = true
	}
	l.cond.Broadcast()
	return ev
}

// snapshot returns a copy of all events appended so far.
func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// subscribe returns a channel that replays the sequence from the start and
// then follows it live. The channel is closed once the terminal event has
// been delivered, or once stop is closed. A nil stop never cancels.
func (l *eventLog) subscribe(stop <-chan struct{}) <-chan Event {
	ch := make(chan Event)

	stopped := func() bool {
		if stop == nil {
			return false
		}
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	go func() {
		defer close(ch)
		cursor := 0
		for {
			l.mu.Lock()
			for cursor >= len(l.events) && !l.closed && !stopped() {
				l.cond.Wait()
			}
			if stopped() || cursor >= len(l.events) {
				l.mu.Unlock()
				return
			}
			ev := l.events[cursor]
			cursor++
			l.mu.Unlock()

			select {
			case ch <- ev:
			case <-stop:
				return
			}
		}
	}()

	if stop != nil {
		// Wake waiting readers when the subscriber gives up, otherwise they
		// could sit in cond.Wait forever on a session that never ends.
		go func() {
			<-stop
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		}()
	}
	return ch
}
