package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/webpilot/internal/action"
	"github.com/v0xg/webpilot/internal/agent"
	"github.com/v0xg/webpilot/internal/browser"
	"github.com/v0xg/webpilot/internal/session"
)

type fakeBrowser struct{}

func (f *fakeBrowser) Capture(ctx context.Context) (*browser.Snapshot, error) {
	return &browser.Snapshot{
		PNG:     []byte("fake-png"),
		TakenAt: time.Now(),
		Page:    browser.PageInfo{URL: "https://example.com", Title: "Example", Width: 800, Height: 600},
	}, nil
}

func (f *fakeBrowser) Execute(ctx context.Context, v action.Validated) browser.ExecutionResult {
	return browser.ExecutionResult{OK: true}
}

func (f *fakeBrowser) Bounds() (int, int) { return 800, 600 }

func (f *fakeBrowser) Close() {}

// scriptedPlanner always proposes the same action.
type scriptedPlanner struct {
	mu       sync.Mutex
	proposal action.Proposal
}

func (p *scriptedPlanner) Plan(ctx context.Context, snap *browser.Snapshot, instruction, prior string) (*action.Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prop := p.proposal
	return &prop, nil
}

func newTestServer(t *testing.T, maxSessions int) (*httptest.Server, *scriptedPlanner, *session.Manager) {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.MaxSessions = maxSessions
	cfg.CloseGrace = 100 * time.Millisecond
	cfg.NewBrowser = func() (session.Browser, error) { return &fakeBrowser{}, nil }
	mgr := session.NewManager(cfg, nil, nil)

	p := &scriptedPlanner{proposal: action.Proposal{Kind: action.KindClick, X: 120, Y: 80, HasCoords: true}}
	loop := agent.New(p, mgr, agent.DefaultConfig(), nil)

	ts := httptest.NewServer(New(loop, mgr, nil).Router())
	t.Cleanup(ts.Close)
	return ts, p, mgr
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var out map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCreateAndStatus(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	id := createSession(t, ts)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(session.StatusActive), body["status"])
	assert.Equal(t, float64(0), body["steps"])
}

func TestCreateOverLimit(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	createSession(t, ts)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCreateWithStartURL(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]string{"url": "https://example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["steps"], "seed navigation recorded in history")
}

func TestCreateWithBadStartURLFreesSlot(t *testing.T) {
	ts, _, mgr := newTestServer(t, 1)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions",
		map[string]string{"url": "ftp://example.com"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// The failed session is disclosed and already closed.
	sess := body["session"].(map[string]any)
	assert.Equal(t, string(session.StatusClosed), sess["status"])

	got, err := mgr.Get(sess["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, session.StatusClosed, got.Status())

	// Its slot is free again.
	createSession(t, ts)
}

func TestStepRecordsHistory(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	id := createSession(t, ts)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/steps",
		map[string]string{"instruction": "click the login button"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	step := body["step"].(map[string]any)
	result := step["result"].(map[string]any)
	assert.Equal(t, true, result["ok"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := body["steps"].([]any)
	assert.Len(t, steps, 1)
}

func TestStepRequiresInstruction(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	id := createSession(t, ts)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/steps", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSessionIs404(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	for _, path := range []string{
		"/api/sessions/nope",
		"/api/sessions/nope/history",
		"/api/sessions/nope/screenshot",
	} {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestScreenshotLifecycle(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	id := createSession(t, ts)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+id+"/screenshot", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no capture before the first step")

	_, _ = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/steps",
		map[string]string{"instruction": "click"})

	resp2, err := http.Get(ts.URL + "/api/sessions/" + id + "/screenshot")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "image/png", resp2.Header.Get("Content-Type"))
}

func TestCloseIsIdempotentOverHTTP(t *testing.T) {
	ts, _, _ := newTestServer(t, 1)
	id := createSession(t, ts)

	for i := 0; i < 2; i++ {
		resp, body := doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, fmt.Sprintf("close attempt %d", i+1))
		assert.Equal(t, string(session.StatusClosed), body["status"])
	}

	// Stepping a closed session conflicts rather than erroring opaquely.
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/steps",
		map[string]string{"instruction": "click"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFinishSurfacesInStatus(t *testing.T) {
	ts, p, _ := newTestServer(t, 1)
	p.mu.Lock()
	p.proposal = action.Proposal{Kind: action.KindFinish}
	p.mu.Unlock()

	id := createSession(t, ts)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+id+"/steps",
		map[string]string{"instruction": "stop"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sess := body["session"].(map[string]any)
	assert.Equal(t, true, sess["finished"])
	assert.Equal(t, string(session.StatusIdle), sess["status"])
}
