package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "db", "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestComments(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	last, err := s.LastComments(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)

	first := []types.Comment{{ID: 1, Username: "a", Content: "hi", Pictures: []string{}}}
	require.NoError(t, s.SaveComments(ctx, first))

	second := []types.Comment{{ID: 2, Username: "b", Content: "yo", Pictures: []string{"p.jpg"}}}
	require.NoError(t, s.SaveComments(ctx, second))

	last, err = s.LastComments(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, last, "a new run overwrites the previous records")
}

func TestSettings(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	settings, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultSettings(), settings)

	require.NoError(t, s.SaveSettings(ctx, types.Settings{AutoScroll: false, ExportCSV: true}))
	settings, err = s.Settings(ctx)
	require.NoError(t, err)
	assert.False(t, settings.AutoScroll)
	assert.True(t, settings.ExportCSV)
}

func TestSessions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		require.NoError(t, s.RecordSession(ctx, SessionRecord{
			ID:         id,
			URL:        "https://www.xiaohongshu.com/explore/abc",
			Outcome:    "completed",
			Collected:  10 + i,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}))
	}

	// updating an existing row keeps one entry
	require.NoError(t, s.RecordSession(ctx, SessionRecord{
		ID:         "new",
		Outcome:    "partial",
		Status:     "partial (7/40, stalled)",
		StopReason: "stalled",
		Collected:  7,
		StartedAt:  base.Add(time.Hour),
		FinishedAt: base.Add(time.Hour + 2*time.Minute),
	}))

	records, err := s.RecentSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "partial", records[0].Outcome)
	assert.Equal(t, 7, records[0].Collected)
	assert.Equal(t, "stalled", records[0].StopReason)
	assert.Equal(t, "partial (7/40, stalled)", records[0].Status)
	assert.Equal(t, "https://www.xiaohongshu.com/explore/abc", records[0].URL, "url kept from the first insert")
	assert.Equal(t, "old", records[1].ID)

	records, err = s.RecentSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestCache_Snapshots(t *testing.T) {
	c := NewCache(t.TempDir())

	_, _, err := c.LatestSnapshot()
	assert.ErrorIs(t, err, ErrNoCache)

	tick := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	_, err = c.SaveSnapshot(Snapshot{URL: "u1", HTML: "<div>1</div>"})
	require.NoError(t, err)
	path, err := c.SaveSnapshot(Snapshot{URL: "u2", HTML: "<div>2</div>", Expected: 3})
	require.NoError(t, err)

	snap, latest, err := c.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, path, latest)
	assert.Equal(t, "u2", snap.URL)
	assert.Equal(t, 3, snap.Expected)
	assert.False(t, snap.CapturedAt.IsZero())
}

func TestCache_Text(t *testing.T) {
	c := NewCache(t.TempDir())

	path, err := c.SaveText(KindReports, "hello", ".txt")
	require.NoError(t, err)
	assert.Equal(t, ".txt", filepath.Ext(path))

	latest, err := c.Latest(KindReports)
	require.NoError(t, err)
	assert.Equal(t, path, latest)
}

func TestMigrate_AddsStopReason(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := New(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`ALTER TABLE sessions DROP COLUMN stop_reason`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.RecordSession(ctx, SessionRecord{ID: "x", Outcome: "partial", StopReason: "stalled", StartedAt: time.Now(), FinishedAt: time.Now()}))
	records, err := s.RecentSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "stalled", records[0].StopReason)
}
