package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCookies(expires time.Time) []*network.Cookie {
	return []*network.Cookie{
		{Name: SessionCookie, Value: "s", Domain: ".xiaohongshu.com", Path: "/", Expires: float64(expires.Unix())},
		{Name: "a1", Value: "x", Domain: ".xiaohongshu.com", Path: "/", Expires: float64(expires.Add(time.Hour).Unix())},
		{Name: "other", Value: "y", Domain: ".example.com", Path: "/"},
	}
}

func TestCookieStore_RoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cs := NewCookieStore(filepath.Join(t.TempDir(), "auth", "cookies.json"))
	cs.now = func() time.Time { return now }

	expiry := now.Add(24 * time.Hour)
	require.NoError(t, cs.Save(sessionCookies(expiry)))

	stored, err := cs.Load()
	require.NoError(t, err)
	assert.Equal(t, expiry.Unix(), stored.ExpiresAt.Unix(), "earliest required cookie wins")
	assert.True(t, cs.IsValid())

	site, err := cs.SiteCookies()
	require.NoError(t, err)
	assert.Len(t, site, 2)

	cs.now = func() time.Time { return expiry.Add(time.Minute) }
	assert.False(t, cs.IsValid(), "expired")
}

func TestCookieStore_SessionCookiesNeverExpire(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, cs.Save([]*network.Cookie{
		{Name: SessionCookie, Value: "s", Domain: "www.xiaohongshu.com", Expires: -1},
		{Name: "a1", Value: "x", Domain: "www.xiaohongshu.com", Expires: -1},
	}))

	stored, err := cs.Load()
	require.NoError(t, err)
	assert.True(t, stored.ExpiresAt.IsZero())
	assert.True(t, cs.IsValid())
}

func TestCookieStore_MissingSession(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	assert.False(t, cs.IsValid(), "nothing stored")

	require.NoError(t, cs.Save([]*network.Cookie{{Name: "a1", Value: "x", Domain: ".xiaohongshu.com"}}))
	assert.False(t, cs.IsValid())
}

func TestCookieStore_Clear(t *testing.T) {
	cs := NewCookieStore(filepath.Join(t.TempDir(), "cookies.json"))
	require.NoError(t, cs.Save(sessionCookies(time.Now().Add(time.Hour))))

	require.NoError(t, cs.Clear())
	_, err := cs.Load()
	assert.Error(t, err)
	assert.NoError(t, cs.Clear(), "clearing twice is fine")
}

func TestHasSession(t *testing.T) {
	assert.False(t, HasSession(nil))
	assert.False(t, HasSession([]*network.Cookie{{Name: SessionCookie}, {Name: "a1", Value: "x"}}), "empty value")
	assert.True(t, HasSession(sessionCookies(time.Now())))
}
