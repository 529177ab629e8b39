package browser

import "time"

// Snapshot is an immutable capture of page state at a point in time.
type Snapshot struct {
	PNG     []byte    `json:"-"`
	TakenAt time.Time `json:"taken_at"`
	Page    PageInfo  `json:"page"`
}

// PageInfo is the lightweight structural descriptor attached to a snapshot.
type PageInfo struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Hints  []Hint `json:"hints,omitempty"`
}

// Hint describes a visible interactive element, with the center coordinate
// the planner can aim a click at.
type Hint struct {
	Type string `json:"type"` // button, input, link, select
	Text string `json:"text,omitempty"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}
