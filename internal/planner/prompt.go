package planner

import (
	"encoding/json"
	"fmt"

	"github.com/v0xg/webpilot/internal/browser"
)

const systemPrompt = `You are a browser automation agent. You are shown a screenshot of the current page plus a structural summary, and a user instruction describing the goal. Decide the SINGLE next action to take.

Output one JSON object with these fields:
- "action": one of "click", "type", "scroll", "navigate", "wait", "finish"
- "target": short description of the element you are acting on (for click/type)
- "x", "y": pixel coordinates within the viewport (required for click; scroll deltas for scroll)
- "text": text to type (required for type; only type after a click has focused a field)
- "url": destination URL (required for navigate)
- "wait_ms": milliseconds to wait (for wait)
- "confidence": 0.0-1.0, how sure you are this is the right action
- "rationale": one sentence explaining the choice

Guidelines:
- Use the element hints in the page summary to aim clicks precisely at element centers.
- Coordinates must lie inside the viewport shown in the summary.
- To enter text: first click the field, then on the next turn type into it.
- When the instruction has been fulfilled, respond with {"action": "finish"}.
- Do not repeat an action that the prior-action log shows already failed the same way.

Respond ONLY with the JSON object, no explanation or markdown.`

// buildUserPrompt assembles the per-turn message sent alongside the screenshot.
func buildUserPrompt(snap *browser.Snapshot, instruction, priorContext string) string {
	pageJSON, err := json.MarshalIndent(snap.Page, "", "  ")
	if err != nil {
		pageJSON = []byte("{}")
	}

	msg := fmt.Sprintf("Page summary:\n%s\n\nInstruction: %s", pageJSON, instruction)
	if priorContext != "" {
		msg += "\n\nActions so far:\n" + priorContext
	}
	return msg
}
