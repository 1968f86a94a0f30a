package supervisor

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// shellSpawner builds a spawner that runs the submitted code with sh instead
// of a Python interpreter, so the process tests carry no dependency on a
// Python installation.
func shellSpawner(t *testing.T) *PythonSpawner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group supervision tests require a unix shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewPythonSpawner(zaptest.NewLogger(t), "sh")
}

// drainHandle collects the worker's full output and waits for it to be
// reaped.
func drainHandle(t *testing.T, h Handle) (stdout, stderr string) {
	t.Helper()
	var out, errOut strings.Builder
	for frag := range h.Output() {
		switch frag.Stream {
		case StreamStdout:
			out.WriteString(frag.Text)
		case StreamStderr:
			errOut.WriteString(frag.Text)
		}
	}
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker was never reaped")
	}
	return out.String(), errOut.String()
}

func TestPythonSpawnerDefaults(t *testing.T) {
	s := NewPythonSpawner(zaptest.NewLogger(t), "")
	assert.Equal(t, "python3", s.interpreter)

	s = NewPythonSpawner(zaptest.NewLogger(t), "python3.12", "-u", "-I")
	assert.Equal(t, "python3.12", s.interpreter)
	assert.Equal(t, []string{"-u", "-I"}, s.args)
}

func TestSplitRuneBoundary(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		complete string
		rest     string
	}{
		{"ASCIIOnly", "hello\n", "hello\n", ""},
		{"CompleteMultibyteTail", "héllo", "héllo", ""},
		{"SplitTwoByteRune", "h\xc3", "h", "\xc3"},
		{"SplitThreeByteRune", "ok\xe2\x82", "ok", "\xe2\x82"},
		{"SplitFourByteRune", "ok\xf0\x9f\x98", "ok", "\xf0\x9f\x98"},
		{"InvalidBytesPassThrough", "raw \xff\xfe", "raw \xff\xfe", ""},
		{"LoneContinuationBytes", "\x80\x80\x80\x80", "\x80\x80\x80\x80", ""},
		{"OnlyAPrefix", "\xc3", "", "\xc3"},
		{"Empty", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			complete, rest := splitRuneBoundary([]byte(tc.input))
			assert.Equal(t, tc.complete, string(complete))
			assert.Equal(t, tc.rest, string(rest))
		})
	}
}

func TestProcessWorker(t *testing.T) {
	spawner := shellSpawner(t)

	t.Run("CapturesBothStreams", func(t *testing.T) {
		h, err := spawner.Spawn(context.Background(), "echo hello\necho oops >&2\n")
		require.NoError(t, err)

		stdout, stderr := drainHandle(t, h)
		assert.Equal(t, "hello\n", stdout)
		assert.Equal(t, "oops\n", stderr)

		exit := h.Exit()
		assert.Equal(t, 0, exit.Code)
		assert.Empty(t, exit.Desc)
		assert.NoError(t, exit.Err)
	})

	t.Run("ReportsExitStatus", func(t *testing.T) {
		h, err := spawner.Spawn(context.Background(), "exit 3\n")
		require.NoError(t, err)

		drainHandle(t, h)
		assert.Equal(t, 3, h.Exit().Code)
	})

	t.Run("KillStopsABusyLoop", func(t *testing.T) {
		h, err := spawner.Spawn(context.Background(), "while true; do :; done\n")
		require.NoError(t, err)

		// The loop never yields; the kill must end it anyway.
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, h.Kill())

		stdout, _ := drainHandle(t, h)
		assert.Empty(t, stdout)

		exit := h.Exit()
		assert.Equal(t, -1, exit.Code)
		assert.Contains(t, exit.Desc, "kill")
	})

	t.Run("InterruptReachesACooperativeWorker", func(t *testing.T) {
		// The worker installs a handler, reports readiness, then idles. The
		// stop request makes it exit cleanly.
		code := "trap 'exit 0' INT\necho ready\nwhile :; do sleep 0.05; done\n"
		h, err := spawner.Spawn(context.Background(), code)
		require.NoError(t, err)

		select {
		case frag := <-h.Output():
			require.Equal(t, "ready\n", frag.Text)
		case <-time.After(10 * time.Second):
			t.Fatal("worker never reported readiness")
		}
		require.NoError(t, h.Interrupt())

		drainHandle(t, h)
		assert.Equal(t, 0, h.Exit().Code)
	})

	t.Run("SpawnFailureIsSpawnError", func(t *testing.T) {
		bad := NewPythonSpawner(zaptest.NewLogger(t), "/nonexistent/interpreter")
		_, err := bad.Spawn(context.Background(), "echo hi\n")
		require.Error(t, err)
		var spawnErr *SpawnError
		require.ErrorAs(t, err, &spawnErr)
	})
}

// TestProcessSessionEndToEnd runs real workers under full supervision.
func TestProcessSessionEndToEnd(t *testing.T) {
	spawner := shellSpawner(t)

	t.Run("CompletedRun", func(t *testing.T) {
		sess := newSession("e2e-ok", relaxedPolicy(), spawner, zaptest.NewLogger(t), nil)
		sess.start("echo supervised\n")

		assert.Equal(t, StateCompleted, awaitTerminalState(t, sess))

		events := sess.Events()
		var stdout strings.Builder
		for _, ev := range events {
			if ev.Kind == EventStdout {
				stdout.WriteString(ev.Text)
			}
		}
		assert.Equal(t, "supervised\n", stdout.String())
		assert.Equal(t, EventCompleted, events[len(events)-1].Kind)
	})

	t.Run("RunawayLoopTimesOut", func(t *testing.T) {
		policy := TimeoutPolicy{Soft: 80 * time.Millisecond, Hard: 500 * time.Millisecond}
		sess := newSession("e2e-loop", policy, spawner, zaptest.NewLogger(t), nil)
		sess.start("while :; do :; done\n")

		assert.Equal(t, StateTimedOut, awaitTerminalState(t, sess))
		events := sess.Events()
		assert.Equal(t, EventTimedOut, events[len(events)-1].Kind)
	})

	t.Run("CancelledRun", func(t *testing.T) {
		sess := newSession("e2e-cancel", relaxedPolicy(), spawner, zaptest.NewLogger(t), nil)
		sess.start("echo ready\nwhile :; do sleep 0.05; done\n")

		// Wait until the worker is demonstrably running before cancelling.
		stop := make(chan struct{})
		defer close(stop)
		for ev := range sess.Subscribe(stop) {
			if ev.Kind == EventStdout {
				break
			}
		}
		sess.Cancel()

		assert.Equal(t, StateCancelled, awaitTerminalState(t, sess))
	})
}
