package supervisor

import "context"

// Stream identifies which standard stream produced an output fragment.
type Stream int

const (
	StreamStdout Stream = iota
	StreamStderr
)

// String returns the stream name.
func (s Stream) String() string {
	if s == StreamStderr {
		return "stderr"
	}
	return "stdout"
}

// Fragment is one captured chunk of worker output. Fragment boundaries need
// not match line boundaries, but byte order is preserved per stream and
// bytes from a single stream are never interleaved within a fragment.
type Fragment struct {
	Stream Stream
	Text   string
}

// ExitInfo is the worker's final status report.
type ExitInfo struct {
	// Code is the process exit code, or -1 when the worker did not exit on
	// its own (killed, or never produced a status).
	Code int

	// Desc describes an abnormal end, such as "signal: killed". Empty for a
	// plain exit.
	Desc string

	// Err is set when the worker could not be supervised to completion at
	// all (an internal I/O or wait failure rather than a worker outcome).
	Err error
}

// Handle is the supervisor's grip on one isolated worker.
//
// The worker shares no mutable memory with its supervisor; everything it
// reports arrives through Output and Exit. Implementations must guarantee
// that Kill is unconditionally effective, even against a tight non-yielding
// loop, and that the underlying execution unit is fully reaped before Done
// is closed.
type Handle interface {
	// Output delivers captured stdout/stderr fragments in production order.
	// The channel is closed once both streams are drained.
	Output() <-chan Fragment

	// Done is closed after the worker has terminated and been reaped.
	Done() <-chan struct{}

	// Exit returns the final status. Valid only after Done is closed.
	Exit() ExitInfo

	// Interrupt asks the worker to stop at its next safe point.
	Interrupt() error

	// Kill ends the worker unconditionally, without waiting for cooperation.
	Kill() error
}

// Spawner creates isolated workers. Implementations return a *SpawnError
// when the isolation boundary cannot be created.
type Spawner interface {
	Spawn(ctx context.Context, code string) (Handle, error)
}
