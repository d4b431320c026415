package auth

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/xhscollect/internal/config"
)

// SessionCookie is the cookie that carries a logged-in xiaohongshu session.
const SessionCookie = "web_session"

// SiteDomain is the cookie domain suffix kept for injection.
const SiteDomain = "xiaohongshu.com"

// requiredCookies must all be present for a stored session to be usable.
var requiredCookies = []string{SessionCookie, "a1"}

// CookieStore handles storage of xiaohongshu session cookies
type CookieStore struct {
	path string
	now  func() time.Time
}

// StoredCookies represents the persisted cookie data
type StoredCookies struct {
	Cookies    []*network.Cookie `json:"cookies"`
	CapturedAt time.Time         `json:"captured_at"`
	// ExpiresAt is zero when every required cookie is a session cookie.
	ExpiresAt time.Time `json:"expires_at"`
}

// NewCookieStore creates a cookie store at the given path
func NewCookieStore(path string) *CookieStore {
	return &CookieStore{path: path, now: time.Now}
}

// DefaultCookieStorePath returns the default path for cookie storage
func DefaultCookieStorePath() (string, error) {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cookies.json"), nil
}

// Save persists cookies to disk
// TODO: Encrypt cookies at rest
func (cs *CookieStore) Save(cookies []*network.Cookie) error {
	dir := filepath.Dir(cs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Find the earliest expiration among the required cookies
	var earliestExpiry time.Time
	for _, c := range cookies {
		if !isRequired(c.Name) || c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if earliestExpiry.IsZero() || exp.Before(earliestExpiry) {
			earliestExpiry = exp
		}
	}

	stored := StoredCookies{
		Cookies:    cookies,
		CapturedAt: cs.now(),
		ExpiresAt:  earliestExpiry,
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(cs.path, data, 0600)
}

// Load retrieves cookies from disk
func (cs *CookieStore) Load() (*StoredCookies, error) {
	data, err := os.ReadFile(cs.path)
	if err != nil {
		return nil, err
	}

	var stored StoredCookies
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}

	return &stored, nil
}

// IsValid checks if stored cookies are still valid
func (cs *CookieStore) IsValid() bool {
	stored, err := cs.Load()
	if err != nil {
		return false
	}

	if !stored.ExpiresAt.IsZero() && cs.now().After(stored.ExpiresAt) {
		return false
	}

	return HasSession(stored.Cookies)
}

// HasSession reports whether cookies hold every required, non-empty cookie.
func HasSession(cookies []*network.Cookie) bool {
	found := make(map[string]bool)
	for _, c := range cookies {
		if c.Value != "" {
			found[c.Name] = true
		}
	}
	for _, name := range requiredCookies {
		if !found[name] {
			return false
		}
	}
	return true
}

// Clear removes stored cookies. Clearing an empty store is not an error.
func (cs *CookieStore) Clear() error {
	err := os.Remove(cs.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// SiteCookies returns only the xiaohongshu cookies for injection
func (cs *CookieStore) SiteCookies() ([]*network.Cookie, error) {
	stored, err := cs.Load()
	if err != nil {
		return nil, err
	}

	var site []*network.Cookie
	for _, c := range stored.Cookies {
		if strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), SiteDomain) {
			site = append(site, c)
		}
	}

	return site, nil
}

func isRequired(name string) bool {
	for _, r := range requiredCookies {
		if r == name {
			return true
		}
	}
	return false
}
