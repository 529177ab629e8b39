package planner

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/v0xg/webpilot/internal/action"
)

// ParseProposal turns free-form model output into a proposal. It never
// fails: if no recognizable action can be extracted, it returns an
// unknown-kind proposal carrying the raw text so validation can reject it
// with full context.
func ParseProposal(raw string) *action.Proposal {
	jsonStr := extractObject(raw)
	if jsonStr == "" || !gjson.Valid(jsonStr) {
		return unknownProposal(raw)
	}

	doc := gjson.Parse(jsonStr)
	kindStr := doc.Get("action").String()
	if kindStr == "" {
		kindStr = doc.Get("type").String() // some models use "type" for the verb
	}
	kind := action.ParseKind(kindStr)
	if kind == action.KindUnknown {
		return unknownProposal(raw)
	}

	p := &action.Proposal{
		Kind:       kind,
		Target:     doc.Get("target").String(),
		Text:       doc.Get("text").String(),
		URL:        doc.Get("url").String(),
		WaitMS:     int(doc.Get("wait_ms").Int()),
		Confidence: doc.Get("confidence").Float(),
		Rationale:  doc.Get("rationale").String(),
	}
	if doc.Get("x").Exists() && doc.Get("y").Exists() {
		p.X = int(doc.Get("x").Int())
		p.Y = int(doc.Get("y").Int())
		p.HasCoords = true
	}
	return p
}

func unknownProposal(raw string) *action.Proposal {
	return &action.Proposal{
		Kind:      action.KindUnknown,
		Rationale: strings.TrimSpace(raw),
	}
}

// extractObject finds the first balanced JSON object in a response that may
// contain surrounding text or markdown fences.
func extractObject(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}
