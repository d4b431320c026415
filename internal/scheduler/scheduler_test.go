package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Mars/Olympus", time.Minute, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid timezone")
}

func TestAddJob(t *testing.T) {
	s, err := New("Asia/Shanghai", time.Minute, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, s.AddJob("collect", "0 */6 * * *", noop))
	assert.Error(t, s.AddJob("bad", "not a schedule", noop))

	// re-adding replaces the entry
	require.NoError(t, s.AddJob("collect", "30 * * * *", noop))

	s.Start()
	defer s.Stop()

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "collect", jobs[0].Name)
	assert.False(t, jobs[0].NextRun.IsZero())
	assert.Equal(t, 30, jobs[0].NextRun.Minute())

	s.RemoveJob("collect")
	assert.Empty(t, s.ListJobs())
}

func TestRunNow(t *testing.T) {
	s, err := New("UTC", 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	var deadline bool
	require.NoError(t, s.RunNow("check", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	}))
	assert.True(t, deadline, "runs are bounded")

	boom := errors.New("boom")
	assert.ErrorIs(t, s.RunNow("fail", func(context.Context) error { return boom }), boom)

	err = s.RunNow("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
