// Package browser provides shared chromedp configuration with anti-bot-detection measures.
package browser

import (
	"context"

	"github.com/chromedp/chromedp"

	"github.com/ibeckermayer/xhscollect/internal/config"
)

// DefaultUserAgent is a realistic Chrome user agent
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Options returns chromedp allocator options with anti-bot-detection measures.
// All browser instances should use this to ensure consistent stealth configuration.
func Options(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	w, h := cfg.WindowWidth, cfg.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),

		// Prevent navigator.webdriver = true detection
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.UserAgent(ua),
		chromedp.WindowSize(w, h),

		// Disable automation-related extensions and features
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("lang", "zh-CN"),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	return opts
}

// NewContext starts a browser with Options and returns a tab context. The
// cancel function closes the tab and the browser.
func NewContext(parent context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, Options(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	return tabCtx, func() {
		tabCancel()
		allocCancel()
	}
}
