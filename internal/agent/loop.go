package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/browser"
	"github.com/v0xg/webpilot/internal/planner"
	"github.com/v0xg/webpilot/internal/session"
)

// Failure reasons surfaced verbatim on the session when a budget runs out.
const (
	FailureCapture         = "CAPTURE_FAILED"
	FailurePlannerGone     = "PLANNER_UNAVAILABLE"
	FailureMaxRejections   = "MAX_REJECTIONS_EXCEEDED"
	FailureMaxExecFailures = "MAX_FAILURES_EXCEEDED"
)

// ErrSessionTerminal is returned when a step is requested on a session
// that already finished, failed or closed.
var ErrSessionTerminal = errors.New("session is in a terminal state")

// Hard ceilings the loop enforces regardless of configured timeouts.
const (
	maxCaptureTimeout = 30 * time.Second
	maxPlanTimeout    = 2 * time.Minute
	maxExecTimeout    = 60 * time.Second
)

// Config tunes the loop. Retry budgets and timeouts are deliberately
// configuration, not constants.
type Config struct {
	CaptureTimeout time.Duration
	PlanTimeout    time.Duration
	ExecTimeout    time.Duration

	MaxPlannerRetries        int           // attempts after the first Plan call
	BackoffBase              time.Duration // doubled per retry
	MaxConsecutiveRejections int           // rejected or failed steps in a row before the session fails
	MaxSteps                 int           // Run safety limit
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CaptureTimeout:           10 * time.Second,
		PlanTimeout:              45 * time.Second,
		ExecTimeout:              30 * time.Second,
		MaxPlannerRetries:        3,
		BackoffBase:              500 * time.Millisecond,
		MaxConsecutiveRejections: 5,
		MaxSteps:                 25,
	}
}

func (c Config) withCeilings() Config {
	d := DefaultConfig()
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = d.CaptureTimeout
	}
	if c.PlanTimeout <= 0 {
		c.PlanTimeout = d.PlanTimeout
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = d.ExecTimeout
	}
	c.CaptureTimeout = min(c.CaptureTimeout, maxCaptureTimeout)
	c.PlanTimeout = min(c.PlanTimeout, maxPlanTimeout)
	c.ExecTimeout = min(c.ExecTimeout, maxExecTimeout)
	if c.MaxPlannerRetries <= 0 {
		c.MaxPlannerRetries = d.MaxPlannerRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.MaxConsecutiveRejections <= 0 {
		c.MaxConsecutiveRejections = d.MaxConsecutiveRejections
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	return c
}

// Loop orchestrates the observe-plan-validate-execute-record cycle. It
// composes the browser, planner, validator and session registry and is the
// only place that advances session state.
type Loop struct {
	cfg      Config
	planner  planner.Planner
	sessions *session.Manager
	logger   *zap.Logger
}

// New creates an agent loop.
func New(p planner.Planner, mgr *session.Manager, cfg Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:      cfg.withCeilings(),
		planner:  p,
		sessions: mgr,
		logger:   logger.With(zap.String("component", "agent_loop")),
	}
}

// Step runs one full pass of the state machine for the given instruction
// and appends the resulting step to the session history. Rejected and
// failed actions are recorded as failed steps; the session fails only once
// its consecutive-failure budget is spent. Budgets live on the session, so
// they span Step calls.
func (l *Loop) Step(ctx context.Context, sess *session.Session, instruction string) (*session.Step, error) {
	if sess.Terminal() {
		return nil, ErrSessionTerminal
	}
	if err := sess.BeginStep(ctx); err != nil {
		return nil, err
	}
	defer sess.EndStep()

	// Closing the session mid-step must abort in-flight work.
	ctx, cancel := mergeDone(ctx, sess.Context())
	defer cancel()

	log := l.logger.With(zap.String("session_id", sess.ID))

	// OBSERVING
	snap, err := l.observe(ctx, sess)
	if err != nil {
		reason := fmt.Sprintf("%s: %v", FailureCapture, err)
		sess.Fail(reason)
		log.Error("capture failed, session terminated", zap.Error(err))
		return nil, err
	}
	sess.RecordCapture(snap.PNG)

	// PLANNING, with bounded backoff on service-level failure only.
	proposal, err := l.plan(ctx, sess, snap, instruction)
	if err != nil {
		reason := fmt.Sprintf("%s: %v", FailurePlannerGone, err)
		sess.Fail(reason)
		log.Error("planner retries exhausted, session terminated", zap.Error(err))
		return nil, err
	}

	// VALIDATING
	w, h := sess.Browser().Bounds()
	validated := action.Validate(*proposal, action.Env{
		Width:    w,
		Height:   h,
		HasFocus: sess.Focused(),
	})

	step := &session.Step{
		Snapshot: session.SnapshotMeta{
			URL:     snap.Page.URL,
			Title:   snap.Page.Title,
			TakenAt: snap.TakenAt,
			Bytes:   len(snap.PNG),
		},
		Proposal:  *proposal,
		Validated: validated,
	}

	if !validated.OK {
		// Record the rejection and hand control back to observation; the
		// model gets another chance until the budget is spent.
		step.Result = session.StepResult{OK: false, Reason: string(validated.Reason)}
		l.sessions.Append(sess, step)
		l.noteFailure(sess, FailureMaxRejections, log.With(
			zap.String("kind", string(proposal.Kind)),
			zap.String("rejection", string(validated.Reason))))
		return step, nil
	}

	// EXECUTING
	ectx, ecancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	result := sess.Browser().Execute(ectx, validated)
	ecancel()

	if !result.OK {
		step.Result = session.StepResult{OK: false, Reason: result.Reason}
		l.sessions.Append(sess, step)
		l.noteFailure(sess, FailureMaxExecFailures, log.With(
			zap.String("kind", string(validated.Kind)),
			zap.String("reason", result.Reason)))
		return step, nil
	}

	// RECORDING
	step.Result = session.StepResult{OK: true}
	l.sessions.Append(sess, step)
	sess.ResetFailures()

	switch validated.Kind {
	case action.KindClick:
		sess.SetFocused(true)
	case action.KindNavigate:
		sess.SetFocused(false)
	case action.KindFinish:
		sess.MarkFinished()
		log.Info("goal finished", zap.Int("steps", len(sess.Steps())))
	}

	log.Debug("step recorded",
		zap.String("kind", string(validated.Kind)),
		zap.Bool("ok", true))
	return step, nil
}

// Run drives Step until the goal finishes, the session fails, or the step
// cap is hit.
func (l *Loop) Run(ctx context.Context, sess *session.Session, instruction string) error {
	for i := 0; i < l.cfg.MaxSteps; i++ {
		if _, err := l.Step(ctx, sess, instruction); err != nil {
			return err
		}
		if sess.Finished() {
			return nil
		}
		if reason := sess.FailureReason(); reason != "" {
			return fmt.Errorf("session failed: %s", reason)
		}
	}
	l.logger.Warn("step limit reached", zap.String("session_id", sess.ID))
	return fmt.Errorf("step limit reached after %d steps", l.cfg.MaxSteps)
}

// Seed navigates a session to its starting URL through the same
// validate-execute-record path as planned actions, so the history holds
// every page mutation.
func (l *Loop) Seed(ctx context.Context, sess *session.Session, url string) (*session.Step, error) {
	if sess.Terminal() {
		return nil, ErrSessionTerminal
	}
	if err := sess.BeginStep(ctx); err != nil {
		return nil, err
	}
	defer sess.EndStep()

	ctx, cancel := mergeDone(ctx, sess.Context())
	defer cancel()

	w, h := sess.Browser().Bounds()
	validated := action.Validate(action.Proposal{
		Kind:      action.KindNavigate,
		URL:       url,
		Rationale: "session start URL",
	}, action.Env{Width: w, Height: h})

	step := &session.Step{Proposal: validated.Proposal, Validated: validated}

	if !validated.OK {
		step.Result = session.StepResult{OK: false, Reason: string(validated.Reason)}
		l.sessions.Append(sess, step)
		return step, fmt.Errorf("invalid start URL %q: %s", url, validated.Reason)
	}

	ectx, ecancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	result := sess.Browser().Execute(ectx, validated)
	ecancel()

	step.Result = session.StepResult{OK: result.OK, Reason: result.Reason}
	l.sessions.Append(sess, step)
	if !result.OK {
		return step, fmt.Errorf("navigation to %q failed: %s", url, result.Reason)
	}
	sess.SetFocused(false)
	return step, nil
}

// observe captures a snapshot within the capture timeout.
func (l *Loop) observe(ctx context.Context, sess *session.Session) (*browser.Snapshot, error) {
	cctx, cancel := context.WithTimeout(ctx, l.cfg.CaptureTimeout)
	defer cancel()
	return sess.Browser().Capture(cctx)
}

// plan queries the vision planner, retrying service-level failures with
// exponential backoff. Malformed content is not an error here; it comes
// back as an unknown proposal and is the validator's problem.
func (l *Loop) plan(ctx context.Context, sess *session.Session, snap *browser.Snapshot, instruction string) (*action.Proposal, error) {
	prior := summarizeSteps(sess.Steps())

	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxPlannerRetries; attempt++ {
		if attempt > 0 {
			backoff := l.cfg.BackoffBase << (attempt - 1)
			l.logger.Warn("planner unavailable, backing off",
				zap.String("session_id", sess.ID),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		pctx, cancel := context.WithTimeout(ctx, l.cfg.PlanTimeout)
		proposal, err := l.planner.Plan(pctx, snap, instruction, prior)
		cancel()
		if err == nil {
			return proposal, nil
		}

		var unavailable *planner.UnavailableError
		if !errors.As(err, &unavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// noteFailure bumps the session's consecutive-failure counter and fails
// the session once the budget is spent.
func (l *Loop) noteFailure(sess *session.Session, budgetReason string, log *zap.Logger) {
	count := sess.NoteFailure()
	log.Warn("step failed", zap.Int("consecutive_failures", count))
	if count >= l.cfg.MaxConsecutiveRejections {
		sess.Fail(budgetReason)
		log.Error("failure budget exhausted, session terminated",
			zap.String("reason", budgetReason))
	}
}

// summarizeSteps renders recent history for the planner's prior-action
// context, most recent last.
func summarizeSteps(steps []session.Step) string {
	const maxContext = 10
	if len(steps) > maxContext {
		steps = steps[len(steps)-maxContext:]
	}

	var lines []string
	for i, s := range steps {
		outcome := "ok"
		if !s.Result.OK {
			outcome = "failed: " + s.Result.Reason
		}
		switch s.Proposal.Kind {
		case action.KindType:
			lines = append(lines, fmt.Sprintf("%d. typed %q (%s)", i+1, s.Proposal.Text, outcome))
		case action.KindClick:
			lines = append(lines, fmt.Sprintf("%d. clicked (%d,%d) %s (%s)", i+1, s.Proposal.X, s.Proposal.Y, s.Proposal.Target, outcome))
		case action.KindNavigate:
			lines = append(lines, fmt.Sprintf("%d. navigated to %s (%s)", i+1, s.Proposal.URL, outcome))
		case action.KindScroll:
			lines = append(lines, fmt.Sprintf("%d. scrolled by (%d,%d) (%s)", i+1, s.Proposal.X, s.Proposal.Y, outcome))
		case action.KindWait:
			lines = append(lines, fmt.Sprintf("%d. waited %dms (%s)", i+1, s.Proposal.WaitMS, outcome))
		default:
			lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, s.Proposal.Kind, outcome))
		}
	}
	return strings.Join(lines, "\n")
}

// mergeDone derives a context canceled when either parent fires.
func mergeDone(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-other.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged, cancel
}
