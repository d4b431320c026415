package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/xhscollect/internal/browser"
	"github.com/ibeckermayer/xhscollect/internal/config"
)

// LoginURL is where the user signs in.
const LoginURL = "https://www.xiaohongshu.com/explore"

// loginPanel is shown while the visitor is not signed in.
const loginPanel = `.login-container`

// Manager handles xiaohongshu authentication
type Manager struct {
	cookieStore *CookieStore
	browser     config.BrowserConfig
	log         zerolog.Logger
}

// NewManager creates a new auth manager
func NewManager(cookieStore *CookieStore, cfg config.BrowserConfig, log zerolog.Logger) *Manager {
	return &Manager{cookieStore: cookieStore, browser: cfg, log: log}
}

// IsAuthenticated checks if we have valid stored credentials
func (m *Manager) IsAuthenticated() bool {
	return m.cookieStore.IsValid()
}

// Login opens a visible browser window for the user to sign in, then stores
// the session cookies.
func (m *Manager) Login(ctx context.Context) error {
	cfg := m.browser
	cfg.Headless = false

	browserCtx, cancel := browser.NewContext(ctx, cfg)
	defer cancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(LoginURL)); err != nil {
		return fmt.Errorf("failed to navigate to login page: %w", err)
	}

	m.log.Info().Msg("waiting for login in the browser window")
	if err := m.waitForLogin(browserCtx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	cookies, err := extractCookies(browserCtx)
	if err != nil {
		return fmt.Errorf("failed to extract cookies: %w", err)
	}

	if err := m.cookieStore.Save(cookies); err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}

	m.log.Info().Int("cookies", len(cookies)).Msg("login saved")
	return nil
}

// waitForLogin polls until the login panel is gone and the session cookie is set
func (m *Manager) waitForLogin(ctx context.Context) error {
	timeout := time.After(5 * time.Minute) // Give user 5 minutes to log in
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return errors.New("login timeout exceeded")
		case <-ticker.C:
			var panel bool
			if err := chromedp.Run(ctx,
				chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, loginPanel), &panel),
			); err != nil || panel {
				continue
			}

			cookies, err := extractCookies(ctx)
			if err != nil {
				continue
			}
			if HasSession(cookies) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extractCookies gets all cookies from the browser
func extractCookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
	)

	return cookies, err
}

// Logout clears stored credentials
func (m *Manager) Logout() error {
	return m.cookieStore.Clear()
}

// GetCookies returns the stored cookies for injection
func (m *Manager) GetCookies() ([]*network.Cookie, error) {
	return m.cookieStore.SiteCookies()
}

// InjectCookies sets cookies in the browser context
func InjectCookies(ctx context.Context, cookies []*network.Cookie) error {
	return chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range cookies {
				err := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithSameSite(c.SameSite).
					Do(ctx)

				if err != nil {
					return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
				}
			}
			return nil
		}),
	)
}
