package planner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/browser"
)

// OpenAIPlanner implements Planner using OpenAI vision models.
type OpenAIPlanner struct {
	client *openai.Client
	model  string
}

// NewOpenAIPlanner creates a new OpenAI planner.
func NewOpenAIPlanner(model string) (*OpenAIPlanner, error) {
	apiKey := os.Getenv("WEBPILOT_OPENAI_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("WEBPILOT_OPENAI_KEY or OPENAI_API_KEY environment variable required")
	}

	client := openai.NewClient(apiKey)

	if model == "" {
		model = "gpt-4o"
	}

	return &OpenAIPlanner{
		client: client,
		model:  model,
	}, nil
}

// Plan sends the snapshot and instruction to OpenAI and parses the reply
// into a single action proposal.
func (p *OpenAIPlanner) Plan(ctx context.Context, snap *browser.Snapshot, instruction, priorContext string) (*action.Proposal, error) {
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(preparePNG(snap.PNG))
	userPrompt := buildUserPrompt(snap, instruction, priorContext)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: userPrompt,
					},
				},
			},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, &UnavailableError{Provider: "openai", Err: err}
	}

	if len(resp.Choices) == 0 {
		return ParseProposal(""), nil
	}

	return ParseProposal(resp.Choices[0].Message.Content), nil
}
