package session

import (
	"context"
	"sync"
	"time"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/browser"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusIdle   Status = "idle"
	StatusError  Status = "error"
	StatusClosed Status = "closed"
)

// Browser is the capability interface a session owns exclusively. Exactly
// one live browser belongs to exactly one session.
type Browser interface {
	Capture(ctx context.Context) (*browser.Snapshot, error)
	Execute(ctx context.Context, v action.Validated) browser.ExecutionResult
	Bounds() (width, height int)
	Close()
}

// SnapshotMeta is the part of a snapshot a step keeps in history. The raw
// screenshot bytes stay on the session (last capture only) so history stays
// cheap to persist.
type SnapshotMeta struct {
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	TakenAt time.Time `json:"taken_at"`
	Bytes   int       `json:"bytes"`
}

// StepResult is the execution outcome of a step.
type StepResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Step is one observe-plan-validate-execute-record iteration. Steps are
// immutable once appended and never reference state from another session.
type Step struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Snapshot  SnapshotMeta     `json:"snapshot"`
	Proposal  action.Proposal  `json:"proposal"`
	Validated action.Validated `json:"validated"`
	Result    StepResult       `json:"result"`
	At        time.Time        `json:"at"`
}

// Session is one isolated browsing context: its own browser, its own
// append-only step history, its own retry budgets.
type Session struct {
	ID        string
	CreatedAt time.Time

	browser Browser

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{} // serializes steps within the session

	mu         sync.Mutex
	status     Status
	steps      []Step
	failure    string
	finished   bool
	failures   int // consecutive rejected or failed steps
	focused    bool
	lastPNG    []byte
	lastStepAt time.Time
}

func newSession(id string, b Browser) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		browser:   b,
		ctx:       ctx,
		cancel:    cancel,
		sem:       make(chan struct{}, 1),
		status:    StatusActive,
	}
}

// Browser returns the session's exclusive browser controller.
func (s *Session) Browser() Browser { return s.browser }

// Context is canceled when the session is closed; in-flight steps must
// abort when it fires.
func (s *Session) Context() context.Context { return s.ctx }

// BeginStep acquires the session's step slot so no two steps interleave.
func (s *Session) BeginStep(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// EndStep releases the step slot.
func (s *Session) EndStep() {
	select {
	case <-s.sem:
	default:
	}
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// FailureReason is the verbatim reason a session entered its failed state,
// empty otherwise.
func (s *Session) FailureReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Steps returns a copy of the ordered history.
func (s *Session) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// LastStepAt is the timestamp of the most recent step (zero if none).
func (s *Session) LastStepAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStepAt
}

// LastScreenshot returns the most recent capture, for the read-only
// screenshot query. Nil until the first observation.
func (s *Session) LastScreenshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPNG
}

// RecordCapture stores the latest screenshot bytes.
func (s *Session) RecordCapture(png []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPNG = png
}

// Focused reports whether a click succeeded since the last navigation,
// i.e. whether a type action has somewhere to go.
func (s *Session) Focused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

// SetFocused updates focus tracking after an executed action.
func (s *Session) SetFocused(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused = v
}

// Failures returns the consecutive-failure count.
func (s *Session) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// SetFailures overrides the consecutive-failure counter. Budgets are
// explicit per-session state so tests can inject values directly.
func (s *Session) SetFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// NoteFailure bumps the consecutive-failure counter and returns it.
func (s *Session) NoteFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.failures
}

// ResetFailures clears the counter after a successful step.
func (s *Session) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// Fail moves the session to its terminal failed state. The browser is not
// released here; that is an explicit Manager.Close.
func (s *Session) Fail(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	s.failure = reason
	s.status = StatusError
}

// MarkFinished records that the goal completed. The session stays readable
// until explicitly closed.
func (s *Session) MarkFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return
	}
	s.finished = true
	s.status = StatusIdle
}

// Finished reports whether an executed finish action completed the goal.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Terminal reports whether the session accepts further steps.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusClosed || s.finished || s.failure != ""
}

// append adds a completed step under the session lock, keeping timestamps
// nondecreasing and deriving the status invariant: error iff the most
// recent step failed and nothing has recovered since.
func (s *Session) append(step *Step) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := time.Now()
	if at.Before(s.lastStepAt) {
		at = s.lastStepAt
	}
	step.At = at

	s.steps = append(s.steps, *step)
	s.lastStepAt = at

	if s.status == StatusClosed || s.finished || s.failure != "" {
		return
	}
	if step.Result.OK {
		s.status = StatusActive
	} else {
		s.status = StatusError
	}
}

// markClosed finalizes the session state after the browser is released.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusClosed
}
