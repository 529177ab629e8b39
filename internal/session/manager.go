package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrResourceExhausted is returned when the concurrent-session limit is
	// reached. Callers surface it directly; there is nothing to retry.
	ErrResourceExhausted = errors.New("session limit reached")

	// ErrSessionNotFound is returned for unknown session identifiers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed is returned when an operation races a close.
	ErrSessionClosed = errors.New("session closed")
)

// Config tunes the session registry. All thresholds are configuration, not
// hard-coded policy.
type Config struct {
	MaxSessions int           // concurrent open sessions; beyond it Create fails
	IdleTimeout time.Duration // sessions idle longer than this get swept
	CloseGrace  time.Duration // how long Close waits for an in-flight step
	NewBrowser  func() (Browser, error)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 4,
		IdleTimeout: 10 * time.Minute,
		CloseGrace:  5 * time.Second,
	}
}

// Manager owns the session registry: creation, history appends, teardown
// and the idle sweep. Registry mutations are serialized; closed sessions
// stay registered so their history remains readable.
type Manager struct {
	cfg    Config
	store  *Store
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	reserved int // slots held by in-flight Create calls
}

// NewManager creates a session registry. store may be nil for in-memory
// only operation.
func NewManager(cfg Config, store *Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultConfig().CloseGrace
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		logger:   logger.With(zap.String("component", "session_manager")),
		sessions: make(map[string]*Session),
	}
}

// Create allocates a new session with a fresh browser. The slot is
// reserved before the slow browser launch so concurrent creates cannot
// both pass the capacity check.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.openLocked()+m.reserved >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrResourceExhausted
	}
	m.reserved++
	m.mu.Unlock()

	// Launching a browser is slow; do it outside the registry lock.
	b, err := m.cfg.NewBrowser()
	if err != nil {
		m.mu.Lock()
		m.reserved--
		m.mu.Unlock()
		return nil, err
	}

	s := newSession(uuid.NewString(), b)

	m.mu.Lock()
	m.reserved--
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", s.ID))
	return s, nil
}

// openLocked counts non-closed sessions. Caller holds m.mu.
func (m *Manager) openLocked() int {
	open := 0
	for _, s := range m.sessions {
		if s.Status() != StatusClosed {
			open++
		}
	}
	return open
}

// Get looks up a session by identifier.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Append atomically records a completed step in the session history and
// mirrors it to the persistent store. Prior steps are never reordered or
// removed.
func (m *Manager) Append(s *Session, step *Step) {
	step.SessionID = s.ID
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	s.append(step)

	if m.store != nil {
		if err := m.store.AppendStep(*step); err != nil {
			m.logger.Error("step persistence failed",
				zap.String("session_id", s.ID),
				zap.String("step_id", step.ID),
				zap.Error(err))
		}
	}
}

// Close releases the session's browser and marks it closed. Closing an
// already-closed session is a no-op. An in-flight step gets CloseGrace to
// finish or abort before the browser is forcibly released.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if s.Status() == StatusClosed {
		return nil
	}

	// Abort the in-flight step, then wait up to the grace period for the
	// step slot so no step is torn down mid-record.
	s.cancel()
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-time.After(m.cfg.CloseGrace):
		m.logger.Warn("close grace expired, forcing browser release",
			zap.String("session_id", id))
	}

	s.browser.Close()
	s.markClosed()
	m.logger.Info("session closed", zap.String("session_id", id))
	return nil
}

// ExpireIdle closes sessions whose most recent step (or creation, if no
// step yet) is older than the threshold. It returns how many were closed.
// Run it from a background sweep, not the request path.
func (m *Manager) ExpireIdle(threshold time.Duration) int {
	m.mu.Lock()
	var stale []string
	now := time.Now()
	for id, s := range m.sessions {
		if s.Status() == StatusClosed {
			continue
		}
		last := s.LastStepAt()
		if last.IsZero() {
			last = s.CreatedAt
		}
		if now.Sub(last) > threshold {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Close(id); err != nil {
			m.logger.Error("idle expiry close failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		m.logger.Info("expired idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// CloseAll tears down every open session, used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

// IdleTimeout exposes the configured sweep threshold.
func (m *Manager) IdleTimeout() time.Duration { return m.cfg.IdleTimeout }
