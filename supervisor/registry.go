package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the supervision parameters enforced by the Registry.
type Config struct {
	// Policy is the process-wide default timeout pair.
	Policy TimeoutPolicy

	// MaxSessions caps concurrently running sessions. Requests beyond the
	// ceiling are rejected with ErrCapacityExceeded, never queued.
	MaxSessions int

	// MaxCodeLength caps submitted source size in bytes.
	MaxCodeLength int

	// MaxTimeoutOverride bounds the per-request soft-timeout override.
	MaxTimeoutOverride time.Duration

	// Retention is how long a terminal session stays visible for late
	// observers before it is evicted, unless acknowledged earlier.
	Retention time.Duration
}

// Validate checks the registry configuration.
func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("timeout policy: %w", err)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.MaxCodeLength <= 0 {
		return fmt.Errorf("max code length must be positive, got %d", c.MaxCodeLength)
	}
	if c.MaxTimeoutOverride < 0 {
		return fmt.Errorf("max timeout override must not be negative, got %s", c.MaxTimeoutOverride)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", c.Retention)
	}
	return nil
}

// Request is one execution request. TimeoutOverride, when non-zero, replaces
// the default soft deadline within the administratively bounded range; the
// grace period is preserved.
type Request struct {
	Code            string
	TimeoutOverride time.Duration
}

// Registry is the process-wide table of live sessions.
//
// It owns session lifecycle from creation to eviction and is the only
// structure mutated by more than one actor; the mutex serializes
// create/cancel/evict so a session cannot be evicted out from under an
// in-flight cancel. The lock is never held across a worker-termination
// wait: Cancel only signals the session and returns.
type Registry struct {
	cfg     Config
	spawner Spawner
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*registryEntry
	running  int
	closed   bool
}

type registryEntry struct {
	session *Session
	evict   *time.Timer
}

// NewRegistry creates a Registry with a validated configuration.
func NewRegistry(logger *zap.Logger, cfg Config, spawner Spawner) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}
	if spawner == nil {
		return nil, fmt.Errorf("spawner is required")
	}
	return &Registry{
		cfg:      cfg,
		spawner:  spawner,
		logger:   logger,
		sessions: make(map[string]*registryEntry),
	}, nil
}

// Create validates the request, registers a new session, and starts it.
// It returns immediately with the session id; execution proceeds
// concurrently.
func (r *Registry) Create(req Request) (string, error) {
	policy, err := r.resolvePolicy(req)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	if r.running >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %d sessions already running", ErrCapacityExceeded, r.cfg.MaxSessions)
	}
	id := uuid.NewString()
	sess := newSession(id, policy, r.spawner, r.logger, r.sessionTerminal)
	r.sessions[id] = &registryEntry{session: sess}
	r.running++
	r.mu.Unlock()

	r.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int("code_bytes", len(req.Code)),
		zap.Duration("soft_timeout", policy.Soft),
		zap.Duration("hard_timeout", policy.Hard))

	sess.start(req.Code)
	return id, nil
}

// resolvePolicy validates the request and computes its timeout policy. No
// resources are consumed when a request is rejected here.
func (r *Registry) resolvePolicy(req Request) (TimeoutPolicy, error) {
	if req.Code == "" {
		return TimeoutPolicy{}, invalidRequestf("code must not be empty")
	}
	if len(req.Code) > r.cfg.MaxCodeLength {
		return TimeoutPolicy{}, invalidRequestf("code is %d bytes, limit is %d", len(req.Code), r.cfg.MaxCodeLength)
	}
	if req.TimeoutOverride < 0 {
		return TimeoutPolicy{}, invalidRequestf("timeout override must not be negative")
	}
	if req.TimeoutOverride > r.cfg.MaxTimeoutOverride {
		return TimeoutPolicy{}, invalidRequestf("timeout override %s exceeds the allowed maximum %s",
			req.TimeoutOverride, r.cfg.MaxTimeoutOverride)
	}
	if req.TimeoutOverride > 0 {
		return r.cfg.Policy.withSoftOverride(req.TimeoutOverride), nil
	}
	return r.cfg.Policy, nil
}

// Lookup returns the session for id, or ErrNotFound.
func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry.session, nil
}

// Cancel requests cancellation of the session with the given id. Cancelling
// an already terminal session is a no-op; an unknown id is ErrNotFound.
func (r *Registry) Cancel(id string) error {
	sess, err := r.Lookup(id)
	if err != nil {
		return err
	}
	// Outside the lock: cancellation confirmation is the session's business
	// and must not block unrelated registry operations.
	sess.Cancel()
	return nil
}

// AwaitTerminal blocks until the session reaches a terminal state.
func (r *Registry) AwaitTerminal(ctx context.Context, id string) (State, error) {
	sess, err := r.Lookup(id)
	if err != nil {
		return StatePending, err
	}
	return sess.AwaitTerminal(ctx)
}

// Acknowledge tells the registry that the interested observer has collected
// the session's result, allowing immediate eviction instead of waiting out
// the retention window. The session must be terminal.
func (r *Registry) Acknowledge(id string) error {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !entry.session.State().Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("session %s is not terminal", id)
	}
	if entry.evict != nil {
		entry.evict.Stop()
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	r.logger.Debug("session evicted after acknowledgement", zap.String("session_id", id))
	return nil
}

// RunningCount returns the number of sessions that have not reached a
// terminal state.
func (r *Registry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Len returns the number of sessions currently held, terminal or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close cancels every live session and waits, bounded by ctx, for them to
// reach a terminal state. Further Create calls fail with ErrRegistryClosed.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions))
	for _, entry := range r.sessions {
		if !entry.session.State().Terminal() {
			live = append(live, entry.session)
		}
	}
	r.mu.Unlock()

	for _, sess := range live {
		sess.Cancel()
	}
	for _, sess := range live {
		if _, err := sess.AwaitTerminal(ctx); err != nil {
			return fmt.Errorf("waiting for session %s: %w", sess.ID(), err)
		}
	}
	return nil
}

// sessionTerminal runs once per session, right after its terminal event.
// It frees the session's capacity slot and schedules eviction.
func (r *Registry) sessionTerminal(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running--
	entry, ok := r.sessions[sess.ID()]
	if !ok {
		return
	}
	entry.evict = time.AfterFunc(r.cfg.Retention, func() {
		r.evict(sess.ID())
	})
}

// evict removes a session after its retention window.
func (r *Registry) evict(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if ok {
		r.logger.Debug("session evicted after retention window", zap.String("session_id", id))
	}
}
