package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	// outputChunkSize bounds a single captured fragment.
	outputChunkSize = 4096

	// outputBufferFragments bounds the in-flight conduit between the worker's
	// pipe readers and the session loop.
	outputBufferFragments = 64
)

// PythonSpawner runs submitted code as a separate OS process: the code is
// written to a temporary file and handed to the configured interpreter. The
// process is placed in its own process group so that forced termination
// reaches every descendant, including children the code may have forked.
type PythonSpawner struct {
	logger      *zap.Logger
	interpreter string
	args        []string
}

// NewPythonSpawner creates a process-based spawner. Extra args are inserted
// between the interpreter and the code file, e.g. "-u" to unbuffer output.
func NewPythonSpawner(logger *zap.Logger, interpreter string, args ...string) *PythonSpawner {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &PythonSpawner{
		logger:      logger,
		interpreter: interpreter,
		args:        args,
	}
}

// Spawn starts the worker process and begins capturing its output.
func (s *PythonSpawner) Spawn(ctx context.Context, code string) (Handle, error) {
	tmp, err := os.CreateTemp("", "runbox-*.py")
	if err != nil {
		return nil, &SpawnError{Err: fmt.Errorf("creating code file: %w", err)}
	}
	codePath := tmp.Name()
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		os.Remove(codePath)
		return nil, &SpawnError{Err: fmt.Errorf("writing code file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(codePath)
		return nil, &SpawnError{Err: fmt.Errorf("closing code file: %w", err)}
	}

	argv := make([]string, 0, len(s.args)+1)
	argv = append(argv, s.args...)
	argv = append(argv, codePath)

	cmd := exec.Command(s.interpreter, argv...) //nolint:gosec // running submitted code is the point
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.Remove(codePath)
		return nil, &SpawnError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		os.Remove(codePath)
		return nil, &SpawnError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		os.Remove(codePath)
		return nil, &SpawnError{Err: fmt.Errorf("starting %s: %w", s.interpreter, err)}
	}

	s.logger.Debug("worker process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("interpreter", s.interpreter))

	h := &processHandle{
		cmd:      cmd,
		codePath: codePath,
		logger:   s.logger,
		output:   make(chan Fragment, outputBufferFragments),
		done:     make(chan struct{}),
	}
	go h.supervise(stdout, stderr)
	return h, nil
}

// processHandle implements Handle for a worker running as an OS process.
type processHandle struct {
	cmd      *exec.Cmd
	codePath string
	logger   *zap.Logger
	output   chan Fragment
	done     chan struct{}
	exit     ExitInfo
}

func (h *processHandle) Output() <-chan Fragment { return h.output }
func (h *processHandle) Done() <-chan struct{}   { return h.done }

// Exit is valid once Done is closed.
func (h *processHandle) Exit() ExitInfo { return h.exit }

// Interrupt sends the cooperative stop signal to the worker's process group.
func (h *processHandle) Interrupt() error {
	return interruptProcess(h.cmd)
}

// Kill force-terminates the worker's entire process group.
func (h *processHandle) Kill() error {
	return killProcess(h.cmd)
}

// supervise drains both pipes, reaps the process, and publishes the final
// status. It owns the output channel and closes it once both streams hit EOF.
func (h *processHandle) supervise(stdout, stderr io.Reader) {
	var readers sync.WaitGroup
	readers.Add(2)
	go h.readStream(&readers, stdout, StreamStdout)
	go h.readStream(&readers, stderr, StreamStderr)
	readers.Wait()
	close(h.output)

	err := h.cmd.Wait()
	h.exit = exitInfo(err, h.cmd)

	if rmErr := os.Remove(h.codePath); rmErr != nil && !os.IsNotExist(rmErr) {
		h.logger.Warn("failed to remove code file",
			zap.String("path", h.codePath), zap.Error(rmErr))
	}
	close(h.done)
}

// readStream forwards raw chunks from one pipe, preserving byte order. The
// bounded output channel applies backpressure to the pipe rather than
// buffering unboundedly in the supervisor. A multibyte rune cut by the read
// buffer is held back and prepended to the next fragment, so fragments stay
// individually encodable as long as the stream itself is valid UTF-8.
func (h *processHandle) readStream(wg *sync.WaitGroup, r io.Reader, stream Stream) {
	defer wg.Done()
	buf := make([]byte, outputChunkSize)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append(carry, buf[:n]...)
			carry = nil
			if err == nil {
				var rest []byte
				chunk, rest = splitRuneBoundary(chunk)
				carry = append([]byte(nil), rest...)
			}
			if len(chunk) > 0 {
				h.output <- Fragment{Stream: stream, Text: string(chunk)}
			}
		}
		if err != nil {
			if len(carry) > 0 {
				h.output <- Fragment{Stream: stream, Text: string(carry)}
			}
			return
		}
	}
}

// splitRuneBoundary splits off an incomplete trailing UTF-8 sequence. Bytes
// that are not a prefix of a valid rune pass through unchanged, so binary
// output keeps its exact byte order.
func splitRuneBoundary(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && len(b)-i < utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}

// exitInfo derives the worker's final status from cmd.Wait.
func exitInfo(waitErr error, cmd *exec.Cmd) ExitInfo {
	state := cmd.ProcessState
	if state == nil {
		return ExitInfo{Code: -1, Err: waitErr}
	}
	if state.Exited() {
		return ExitInfo{Code: state.ExitCode()}
	}
	// Ended without an exit status, i.e. killed by a signal.
	info := ExitInfo{Code: -1, Desc: state.String()}
	if _, ok := waitErr.(*exec.ExitError); waitErr != nil && !ok {
		info.Err = waitErr
	}
	return info
}
