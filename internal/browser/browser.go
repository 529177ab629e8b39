package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/webpilot/internal/action"
)

// Options configures a browser controller.
type Options struct {
	Width      int
	Height     int
	ProfileDir string // Chrome/Chromium profile directory for authenticated sessions
}

// DefaultOptions returns the default viewport configuration.
func DefaultOptions() Options {
	return Options{Width: 1280, Height: 720}
}

// CaptureError indicates the page or its render surface is unreachable.
// It is fatal to the owning session.
type CaptureError struct {
	Reason string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capture failed: %s", e.Reason)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ExecutionResult reports the outcome of one primitive browser operation.
// Browser-side failures never escape as panics or errors; they all
// normalize into a failed result.
type ExecutionResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Controller owns one browser page and is the only component permitted to
// mutate live page state. One controller belongs to exactly one session.
type Controller struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
	logger  *zap.Logger
}

// New launches a headless browser with a blank page.
func New(opts Options, logger *zap.Logger) (*Controller, error) {
	if opts.Width == 0 || opts.Height == 0 {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var b *rod.Browser
	var page *rod.Page
	err := rod.Try(func() {
		path, _ := launcher.LookPath()
		l := launcher.New().Bin(path).Headless(true)
		if opts.ProfileDir != "" {
			l = l.UserDataDir(opts.ProfileDir)
		}
		u := l.MustLaunch()
		b = rod.New().ControlURL(u).MustConnect()
		page = b.MustPage()
		page.MustSetViewport(opts.Width, opts.Height, 1, false)
	})
	if err != nil {
		if b != nil {
			b.Close()
		}
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}

	logger.Debug("browser launched",
		zap.Int("width", opts.Width),
		zap.Int("height", opts.Height))

	return &Controller{
		browser: b,
		page:    page,
		opts:    opts,
		logger:  logger.With(zap.String("component", "browser")),
	}, nil
}

// Bounds returns the current viewport size.
func (c *Controller) Bounds() (width, height int) {
	return c.opts.Width, c.opts.Height
}

// Capture reflects page state at call time: a PNG screenshot plus the
// lightweight page descriptor. A failure here means the page is gone and
// the caller must terminate or restart the session.
func (c *Controller) Capture(ctx context.Context) (*Snapshot, error) {
	page := c.page.Context(ctx)

	var data []byte
	err := rod.Try(func() {
		quality := 90
		var serr error
		data, serr = page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format:  proto.PageCaptureScreenshotFormatPng,
			Quality: &quality,
		})
		if serr != nil {
			panic(serr)
		}
	})
	if err != nil {
		return nil, &CaptureError{Reason: "render surface unavailable", Err: err}
	}

	info, err := c.describePage(page)
	if err != nil {
		return nil, &CaptureError{Reason: "page unreachable", Err: err}
	}

	return &Snapshot{
		PNG:     data,
		TakenAt: time.Now(),
		Page:    *info,
	}, nil
}

// Execute performs exactly one primitive browser operation. navigate and
// finish are idempotent; click/type/scroll are not and must not be retried
// without re-observing the page.
func (c *Controller) Execute(ctx context.Context, v action.Validated) ExecutionResult {
	if !v.OK {
		return ExecutionResult{OK: false, Reason: "action not validated"}
	}

	page := c.page.Context(ctx)

	var err error
	switch v.Kind {
	case action.KindNavigate:
		err = rod.Try(func() {
			page.MustNavigate(v.URL)
			page.MustWaitLoad()
			// Settle network without hanging on persistent connections.
			page.Timeout(5 * time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
		})

	case action.KindClick:
		err = rod.Try(func() {
			page.Mouse.MustMoveTo(float64(v.X), float64(v.Y))
			page.Mouse.MustClick(proto.InputMouseButtonLeft)
		})

	case action.KindType:
		err = rod.Try(func() {
			for _, char := range v.Text {
				page.Keyboard.MustType(input.Key(char))
			}
		})

	case action.KindScroll:
		err = rod.Try(func() {
			page.Mouse.MustScroll(float64(v.X), float64(v.Y))
		})

	case action.KindWait:
		select {
		case <-time.After(time.Duration(v.WaitMS) * time.Millisecond):
		case <-ctx.Done():
			err = ctx.Err()
		}

	case action.KindFinish:
		// No browser-side effect; the loop interprets finish.

	default:
		return ExecutionResult{OK: false, Reason: fmt.Sprintf("unsupported action kind: %s", v.Kind)}
	}

	if err != nil {
		c.logger.Debug("execution failed",
			zap.String("kind", string(v.Kind)),
			zap.Error(err))
		return ExecutionResult{OK: false, Reason: err.Error()}
	}
	return ExecutionResult{OK: true}
}

// Close releases the page and browser process.
func (c *Controller) Close() {
	if c.page != nil {
		c.page.Close()
	}
	if c.browser != nil {
		c.browser.Close()
	}
}

// describePage extracts URL, title and visible interactive-element hints
// from the live page.
func (c *Controller) describePage(page *rod.Page) (*PageInfo, error) {
	info := &PageInfo{Width: c.opts.Width, Height: c.opts.Height}

	err := rod.Try(func() {
		info.URL = page.MustEval(`() => window.location.href`).String()
		info.Title = page.MustEval(`() => document.title`).String()
		info.Hints = extractHints(page)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// extractHints finds visible interactive elements and their center points.
func extractHints(page *rod.Page) []Hint {
	result := page.MustEval(`() => {
		const hints = [];
		const push = (el, type) => {
			if (!el.offsetParent) return; // Not visible
			const r = el.getBoundingClientRect();
			if (r.width === 0 || r.height === 0) return;
			hints.push({
				type: type,
				text: (el.textContent || el.value || el.placeholder || '').trim().slice(0, 50),
				x: Math.round(r.left + r.width / 2),
				y: Math.round(r.top + r.height / 2)
			});
		};

		document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]')
			.forEach(el => push(el, 'button'));
		document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea')
			.forEach(el => push(el, 'input'));
		document.querySelectorAll('a[href]').forEach(el => {
			const href = el.getAttribute('href');
			if (href.startsWith('#') || href.startsWith('javascript:')) return;
			push(el, 'link');
		});
		document.querySelectorAll('select').forEach(el => push(el, 'select'));

		return hints.slice(0, 100);
	}`)

	var hints []Hint
	for _, v := range result.Arr() {
		hints = append(hints, Hint{
			Type: v.Get("type").String(),
			Text: v.Get("text").String(),
			X:    v.Get("x").Int(),
			Y:    v.Get("y").Int(),
		})
	}
	return hints
}
