package livepage

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/xhscollect/internal/auth"
	"github.com/ibeckermayer/xhscollect/internal/browser"
	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

// Open starts a browser with the shared options, injects cookies and returns
// a page on its first tab. The cancel function closes the browser.
func Open(parent context.Context, cfg config.BrowserConfig, cookies []*network.Cookie, set selectors.Set, log zerolog.Logger, opts ...Option) (*Page, context.CancelFunc, error) {
	tab, cancel := browser.NewContext(parent, cfg)

	// Starts the browser.
	if err := chromedp.Run(tab); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if len(cookies) > 0 {
		if err := auth.InjectCookies(tab, cookies); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to inject cookies: %w", err)
		}
	}

	return New(tab, set, log, opts...), cancel, nil
}
