package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodRenderer renders JS-heavy pages with a headless Chromium instance. A
// browser is launched per call; the rendered path only runs for the small
// fraction of pages that fail the fast-path quality gate.
type RodRenderer struct {
	timeout time.Duration
	idle    time.Duration
}

// NewRodRenderer creates a renderer with the given navigation timeout.
func NewRodRenderer(timeout time.Duration) *RodRenderer {
	return &RodRenderer{
		timeout: timeout,
		idle:    500 * time.Millisecond,
	}
}

// Render navigates to the URL, waits for load plus network idle, and
// returns the rendered DOM as HTML.
func (r *RodRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	l := launcher.New().Headless(true).NoSandbox(true)
	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}
	page = page.Timeout(r.timeout)

	if err := page.Navigate(pageURL); err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("page load failed for %s: %w", pageURL, err)
	}
	wait := page.WaitRequestIdle(r.idle, nil, nil, nil)
	wait()

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read rendered DOM: %w", err)
	}
	return html, nil
}
