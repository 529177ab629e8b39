package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func env() Env {
	return Env{Width: 800, Height: 600, HasFocus: false}
}

func TestValidateClick(t *testing.T) {
	tests := []struct {
		name   string
		p      Proposal
		ok     bool
		reason Reason
	}{
		{"inside bounds", Proposal{Kind: KindClick, X: 120, Y: 80, HasCoords: true}, true, ""},
		{"origin corner", Proposal{Kind: KindClick, X: 0, Y: 0, HasCoords: true}, true, ""},
		{"x at width", Proposal{Kind: KindClick, X: 800, Y: 80, HasCoords: true}, false, ReasonOutOfBounds},
		{"y at height", Proposal{Kind: KindClick, X: 120, Y: 600, HasCoords: true}, false, ReasonOutOfBounds},
		{"negative x", Proposal{Kind: KindClick, X: -1, Y: 80, HasCoords: true}, false, ReasonOutOfBounds},
		{"no coordinates", Proposal{Kind: KindClick, Target: "the login button"}, false, ReasonNoTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.p, env())
			assert.Equal(t, tt.ok, v.OK)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}
}

func TestValidateScrollUsesBounds(t *testing.T) {
	v := Validate(Proposal{Kind: KindScroll, X: 0, Y: 400, HasCoords: true}, env())
	assert.True(t, v.OK)

	v = Validate(Proposal{Kind: KindScroll, X: 0, Y: 4000, HasCoords: true}, env())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonOutOfBounds, v.Reason)
}

func TestValidateType(t *testing.T) {
	focused := env()
	focused.HasFocus = true

	v := Validate(Proposal{Kind: KindType, Text: "hello"}, focused)
	assert.True(t, v.OK)

	// No focused element means nowhere for the text to go.
	v = Validate(Proposal{Kind: KindType, Text: "hello"}, env())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonNoTarget, v.Reason)

	v = Validate(Proposal{Kind: KindType, Text: "   "}, focused)
	assert.False(t, v.OK)
	assert.Equal(t, ReasonNoTarget, v.Reason)
}

func TestValidateNavigate(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/login", true},
		{"http://localhost:3000", true},
		{"example.com", false},
		{"javascript:alert(1)", false},
		{"file:///etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		v := Validate(Proposal{Kind: KindNavigate, URL: tt.url}, env())
		assert.Equal(t, tt.ok, v.OK, "url %q", tt.url)
		if !tt.ok {
			assert.Equal(t, ReasonInvalidURL, v.Reason)
		}
	}
}

func TestValidateUnknownAlwaysRejected(t *testing.T) {
	v := Validate(Proposal{Kind: KindUnknown, Rationale: "garbled model output"}, env())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonUnrecognized, v.Reason)

	v = Validate(Proposal{Kind: Kind("teleport")}, env())
	assert.False(t, v.OK)
	assert.Equal(t, ReasonUnrecognized, v.Reason)
}

func TestValidateFinishAlwaysValid(t *testing.T) {
	v := Validate(Proposal{Kind: KindFinish}, Env{})
	assert.True(t, v.OK)
}

func TestValidateWaitClampsNegative(t *testing.T) {
	v := Validate(Proposal{Kind: KindWait, WaitMS: -100}, env())
	assert.True(t, v.OK)
	assert.Equal(t, 0, v.WaitMS)
}

func TestCoordinatesWinOverTarget(t *testing.T) {
	// A conflicting description does not stop a well-bounded coordinate
	// click; the planner's most concrete signal is trusted.
	v := Validate(Proposal{Kind: KindClick, X: 10, Y: 10, HasCoords: true, Target: "somewhere else entirely"}, env())
	assert.True(t, v.OK)
	assert.Equal(t, 10, v.X)
	assert.Equal(t, 10, v.Y)
}
