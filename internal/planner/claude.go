package planner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/browser"
)

// ClaudePlanner implements Planner using Anthropic's Claude vision models.
type ClaudePlanner struct {
	client *anthropic.Client
	model  string
}

// NewClaudePlanner creates a new Claude planner.
func NewClaudePlanner(model string) (*ClaudePlanner, error) {
	apiKey := os.Getenv("WEBPILOT_ANTHROPIC_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("WEBPILOT_ANTHROPIC_KEY or ANTHROPIC_API_KEY environment variable required")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudePlanner{
		client: &client,
		model:  model,
	}, nil
}

// Plan sends the snapshot and instruction to Claude and parses the reply
// into a single action proposal.
func (p *ClaudePlanner) Plan(ctx context.Context, snap *browser.Snapshot, instruction, priorContext string) (*action.Proposal, error) {
	imageData := base64.StdEncoding.EncodeToString(preparePNG(snap.PNG))
	userPrompt := buildUserPrompt(snap, instruction, priorContext)

	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", imageData),
				anthropic.NewTextBlock(userPrompt),
			),
		},
	})
	if err != nil {
		return nil, &UnavailableError{Provider: "claude", Err: err}
	}

	// Extract text content
	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}

	return ParseProposal(responseText), nil
}
