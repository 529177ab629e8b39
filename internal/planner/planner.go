package planner

import (
	"context"
	"fmt"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/browser"
)

// Planner asks a vision-capable model for the next browser action.
//
// Plan never fails on malformed model content: anything the parser cannot
// recognize comes back as an unknown-kind proposal with the raw text
// preserved, and validation rejects it downstream. An error is returned
// only for transport or service-level failure.
type Planner interface {
	Plan(ctx context.Context, snap *browser.Snapshot, instruction, priorContext string) (*action.Proposal, error)
}

// UnavailableError indicates the vision service could not be reached.
// It is the one planner failure the agent loop retries with backoff.
type UnavailableError struct {
	Provider string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s planner unavailable: %v", e.Provider, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// New creates a planner for the named provider.
func New(name, model string) (Planner, error) {
	switch name {
	case "claude", "anthropic":
		return NewClaudePlanner(model)
	case "openai", "gpt":
		return NewOpenAIPlanner(model)
	default:
		return nil, fmt.Errorf("unknown provider: %s (supported: claude, openai)", name)
	}
}
