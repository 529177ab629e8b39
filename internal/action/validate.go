package action

import (
	"net/url"
	"strings"
)

// Env carries the page context a proposal is validated against.
type Env struct {
	Width  int
	Height int
	// HasFocus is true when a click succeeded since the last navigation,
	// meaning an element can receive typed text.
	HasFocus bool
}

// Validate maps a raw proposal into an executable action or a rejection.
// It is a pure function: no I/O, no clock, no browser access.
//
// When a proposal carries both coordinates and a target description the
// coordinates win; the description is kept only as metadata.
func Validate(p Proposal, env Env) Validated {
	v := Validated{Proposal: p}

	switch p.Kind {
	case KindClick, KindScroll:
		if !p.HasCoords {
			return reject(v, ReasonNoTarget)
		}
		if p.X < 0 || p.X >= env.Width || p.Y < 0 || p.Y >= env.Height {
			return reject(v, ReasonOutOfBounds)
		}

	case KindType:
		if strings.TrimSpace(p.Text) == "" {
			return reject(v, ReasonNoTarget)
		}
		if !env.HasFocus {
			return reject(v, ReasonNoTarget)
		}

	case KindNavigate:
		u, err := url.ParseRequestURI(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return reject(v, ReasonInvalidURL)
		}

	case KindWait:
		if p.WaitMS < 0 {
			v.WaitMS = 0
		}

	case KindFinish:
		// Always valid; signals the loop to stop.

	default:
		return reject(v, ReasonUnrecognized)
	}

	v.OK = true
	return v
}

func reject(v Validated, r Reason) Validated {
	v.OK = false
	v.Reason = r
	return v
}
