package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

// fakePage is an in-memory page whose growth is scripted by callbacks.
type fakePage struct {
	count    int
	end      bool
	extent   int
	controls []probe.Control

	scrolls int
	clicks  int
	actions []string

	onScroll func(p *fakePage)
	onClick  func(p *fakePage, i int)
}

func (p *fakePage) Probe(context.Context) (probe.Snapshot, error) {
	return probe.Snapshot{Count: p.count, End: p.end}, nil
}

func (p *fakePage) Controls(context.Context) ([]probe.Control, error) {
	return p.controls, nil
}

func (p *fakePage) CenterControl(context.Context, int) (bool, error) {
	p.actions = append(p.actions, "center")
	return true, nil
}

func (p *fakePage) ClickControl(_ context.Context, i int) error {
	p.clicks++
	p.actions = append(p.actions, "click")
	if p.onClick != nil {
		p.onClick(p, i)
	}
	return nil
}

func (p *fakePage) ScrollExtent(context.Context) (int, error) {
	return p.extent, nil
}

func (p *fakePage) ScrollToEnd(context.Context) error {
	p.scrolls++
	p.actions = append(p.actions, "scroll")
	if p.onScroll != nil {
		p.onScroll(p)
	}
	return nil
}

func (p *fakePage) ScrollToComments(context.Context) (bool, error) {
	p.actions = append(p.actions, "section")
	return true, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newDriver(rec *sleepRecorder, opts ...Option) *Driver {
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return New(selectors.Default(), zerolog.Nop(), opts...)
}

func TestRun_TotalReached(t *testing.T) {
	page := &fakePage{
		onScroll: func(p *fakePage) {
			p.count = min(p.count+10, 72)
			p.extent += 100
		},
	}

	var reports []Progress
	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 72, nil, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Equal(t, Completed, out.State)
	assert.Equal(t, ReasonTotalReached, out.Reason)
	assert.Equal(t, 72, out.Count)
	assert.Equal(t, 8, page.scrolls)

	last := reports[len(reports)-1]
	pct, ok := last.Percent()
	assert.True(t, ok)
	assert.Equal(t, 100, pct)
	assert.Equal(t, "72/72", last.String())
}

func TestRun_EndMarkerWithUnknownTotal(t *testing.T) {
	page := &fakePage{count: 5, end: true}

	var reports []Progress
	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, nil, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Equal(t, ReasonEndMarker, out.Reason)
	assert.Equal(t, 1, out.Iterations)
	assert.Zero(t, page.scrolls)

	require.Len(t, reports, 1)
	_, ok := reports[0].Percent()
	assert.False(t, ok, "no percentage without an expected total")
	assert.Equal(t, "5/?", reports[0].String())
}

func TestRun_StallsAtCeiling(t *testing.T) {
	page := &fakePage{count: 3}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 100, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, Completed, out.State)
	assert.True(t, out.Stalled())
	assert.Equal(t, DefaultMaxStalls, out.Stalls)
	assert.Equal(t, DefaultMaxStalls, page.scrolls)
}

func TestRun_GrowthResetsStallCounter(t *testing.T) {
	page := &fakePage{}
	page.onScroll = func(p *fakePage) {
		if p.scrolls == 30 {
			p.extent += 500
		}
	}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, nil, nil)
	require.NoError(t, err)

	assert.True(t, out.Stalled())
	// 29 stalls, one growth that resets to zero, then a full run of 50
	assert.Equal(t, 30+DefaultMaxStalls, page.scrolls)
}

func TestRun_ExpansionTakesPriorityAndResetsStalls(t *testing.T) {
	page := &fakePage{}
	page.onScroll = func(p *fakePage) {
		if p.scrolls == 20 {
			p.controls = []probe.Control{{Text: "展开 3 条回复", Visible: true}}
		}
	}
	page.onClick = func(p *fakePage, i int) {
		p.controls = nil
		p.count += 3
	}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, page.clicks)
	assert.Equal(t, 1, out.Expansions)
	assert.Equal(t, 20+DefaultMaxStalls, page.scrolls)
	assert.Equal(t, 3, out.Count)

	// the control that appeared after scroll 20 is handled before scroll 21
	assert.Equal(t, "scroll", page.actions[20])
	assert.Equal(t, "center", page.actions[21])
	assert.Equal(t, "click", page.actions[22])
	assert.Equal(t, "scroll", page.actions[23])
}

func TestRun_InvisibleControlsIgnored(t *testing.T) {
	page := &fakePage{
		controls: []probe.Control{
			{Text: "展开更多回复", Visible: false},
			{Text: "收起", Visible: true},
		},
	}

	out, err := newDriver(&sleepRecorder{}, WithMaxStalls(5)).Run(context.Background(), page, 0, nil, nil)
	require.NoError(t, err)

	assert.Zero(t, page.clicks)
	assert.Equal(t, 5, page.scrolls)
	assert.True(t, out.Stalled())
}

func TestRun_ExpansionWaits(t *testing.T) {
	rec := &sleepRecorder{}
	page := &fakePage{controls: []probe.Control{{Text: "展开", Visible: true}}}
	page.onClick = func(p *fakePage, i int) { p.end = true }

	_, err := newDriver(rec).Run(context.Background(), page, 0, nil, nil)
	require.NoError(t, err)

	tm := DefaultTiming()
	assert.Equal(t, []time.Duration{tm.Settle, tm.Section, tm.Center, tm.PreClick, tm.Load}, rec.waits)
}

func TestRun_Cancellation(t *testing.T) {
	page := &fakePage{}
	polls := 0
	stop := func() bool {
		polls++
		return polls > 4
	}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, stop, nil)
	require.NoError(t, err)

	assert.Equal(t, Stopping, out.State)
	assert.Equal(t, ReasonCancelled, out.Reason)
	// settle and section checks, then two iterations before the flag is seen
	assert.Equal(t, 2, page.scrolls)
}

func TestRun_CancelledAfterSection(t *testing.T) {
	page := &fakePage{}
	polls := 0
	stop := func() bool {
		polls++
		return polls > 1
	}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, stop, nil)
	require.NoError(t, err)

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Equal(t, []string{"section"}, page.actions)
	assert.Zero(t, out.Iterations)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	page := &fakePage{}

	out, err := newDriver(&sleepRecorder{}).Run(context.Background(), page, 0, func() bool { return true }, nil)
	require.NoError(t, err)

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Empty(t, page.actions)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newDriver(&sleepRecorder{}).Run(ctx, &fakePage{}, 0, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestStateAndReasonStrings(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "stalled", ReasonStalled.String())
	assert.Equal(t, "total reached", ReasonTotalReached.String())
}
