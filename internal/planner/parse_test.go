package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/webpilot/internal/action"
)

func TestParseProposalCleanJSON(t *testing.T) {
	p := ParseProposal(`{"action":"click","target":"login button","x":120,"y":80,"confidence":0.9,"rationale":"visible button"}`)
	require.NotNil(t, p)
	assert.Equal(t, action.KindClick, p.Kind)
	assert.Equal(t, "login button", p.Target)
	assert.Equal(t, 120, p.X)
	assert.Equal(t, 80, p.Y)
	assert.True(t, p.HasCoords)
	assert.InDelta(t, 0.9, p.Confidence, 0.001)
}

func TestParseProposalFencedJSON(t *testing.T) {
	raw := "Here is the next action:\n```json\n{\"action\": \"type\", \"text\": \"hello\"}\n```\nGood luck!"
	p := ParseProposal(raw)
	assert.Equal(t, action.KindType, p.Kind)
	assert.Equal(t, "hello", p.Text)
	assert.False(t, p.HasCoords)
}

func TestParseProposalTypeFieldAlias(t *testing.T) {
	p := ParseProposal(`{"type":"navigate","url":"https://example.com"}`)
	assert.Equal(t, action.KindNavigate, p.Kind)
	assert.Equal(t, "https://example.com", p.URL)
}

func TestParseProposalNestedBraces(t *testing.T) {
	p := ParseProposal(`{"action":"click","x":5,"y":6,"rationale":"text with {braces} inside"}`)
	assert.Equal(t, action.KindClick, p.Kind)
	assert.Equal(t, "text with {braces} inside", p.Rationale)
}

func TestParseProposalMalformedPreservesRaw(t *testing.T) {
	raw := "I think you should probably click around the top left somewhere?"
	p := ParseProposal(raw)
	assert.Equal(t, action.KindUnknown, p.Kind)
	assert.Equal(t, raw, p.Rationale)
}

func TestParseProposalUnrecognizedKind(t *testing.T) {
	raw := `{"action":"teleport","x":1,"y":2}`
	p := ParseProposal(raw)
	assert.Equal(t, action.KindUnknown, p.Kind)
	// Raw text kept so the rejection step carries full context.
	assert.Contains(t, p.Rationale, "teleport")
}

func TestParseProposalEmpty(t *testing.T) {
	p := ParseProposal("")
	assert.Equal(t, action.KindUnknown, p.Kind)
}

func TestParseProposalFinish(t *testing.T) {
	p := ParseProposal(`{"action":"finish","rationale":"form submitted"}`)
	assert.Equal(t, action.KindFinish, p.Kind)
}

func TestParseProposalCoordsRequireBoth(t *testing.T) {
	p := ParseProposal(`{"action":"click","x":42}`)
	assert.Equal(t, action.KindClick, p.Kind)
	assert.False(t, p.HasCoords)
}
