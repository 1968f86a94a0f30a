// Package supervisor provides supervised execution of untrusted Python code.
//
// The supervisor package owns the full lifecycle of one code execution: it
// spawns an isolated worker process per request, captures stdout and stderr
// as an ordered event stream, enforces a soft/hard timeout pair, supports
// mid-flight cancellation, and tracks concurrent executions in a registry
// with a configurable ceiling.
//
// The package is built around three pieces: the Session, which supervises a
// single execution end to end; the Registry, which owns session lifecycle
// from creation to eviction; and the Spawner/Handle pair, which abstracts
// the worker process so transports and tests never touch os/exec directly.
//
// Usage:
//
//	reg, err := supervisor.NewRegistry(logger, cfg, spawner)
//	id, err := reg.Create(supervisor.Request{Code: "print('hi')"})
//	for ev := range must(reg.Lookup(id)).Subscribe(nil) {
//	    // ev.Kind: Started, Stdout, Stderr, then exactly one terminal event
//	}
package supervisor
