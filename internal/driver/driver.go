// Package driver runs the scroll/expand loop that reveals lazily loaded
// comments until the end marker shows, the advertised total is reached, the
// page stops growing or the caller asks to stop.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

// DefaultMaxStalls is the number of consecutive fruitless scrolls after which
// the loop gives up.
const DefaultMaxStalls = 50

// Page is the live page as seen by the loop. Implementations perform the
// action and return; the loop owns every wait.
type Page interface {
	// Probe reads the expected total, rendered count and end marker.
	Probe(ctx context.Context) (probe.Snapshot, error)
	// Controls lists every "show more" element with its visibility.
	Controls(ctx context.Context) ([]probe.Control, error)
	// CenterControl scrolls control i into the middle of the scroller and
	// reports whether a scroll was needed.
	CenterControl(ctx context.Context, i int) (bool, error)
	// ClickControl activates control i.
	ClickControl(ctx context.Context, i int) error
	// ScrollExtent returns the scroller's scrollable height.
	ScrollExtent(ctx context.Context) (int, error)
	// ScrollToEnd scrolls the scroller to its current bottom.
	ScrollToEnd(ctx context.Context) error
	// ScrollToComments brings the comment region into view, or scrolls to 70%
	// of the scroller when no region is found. It reports whether a region
	// was found.
	ScrollToComments(ctx context.Context) (bool, error)
}

// Timing holds the fixed pauses that stand in for unobservable rendering.
type Timing struct {
	Settle   time.Duration
	Section  time.Duration
	Center   time.Duration
	PreClick time.Duration
	Load     time.Duration
	Scroll   time.Duration
	Stall    time.Duration
}

// DefaultTiming returns the pauses tuned for the site.
func DefaultTiming() Timing {
	return Timing{
		Settle:   500 * time.Millisecond,
		Section:  1500 * time.Millisecond,
		Center:   800 * time.Millisecond,
		PreClick: 500 * time.Millisecond,
		Load:     2000 * time.Millisecond,
		Scroll:   1200 * time.Millisecond,
		Stall:    1000 * time.Millisecond,
	}
}

// State is the loop's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Stopping
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason records why the loop ended.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonEndMarker
	ReasonTotalReached
	ReasonStalled
	ReasonCancelled
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEndMarker:
		return "end marker"
	case ReasonTotalReached:
		return "total reached"
	case ReasonStalled:
		return "stalled"
	case ReasonCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Progress is reported once per iteration.
type Progress struct {
	Count    int
	Expected int
}

// Percent returns the completion percentage; ok is false when the expected
// total is unknown.
func (p Progress) Percent() (int, bool) {
	return probe.Percent(p.Count, p.Expected)
}

func (p Progress) String() string {
	if p.Expected > 0 {
		return fmt.Sprintf("%d/%d", p.Count, p.Expected)
	}
	return fmt.Sprintf("%d/?", p.Count)
}

// Outcome summarizes one run of the loop.
type Outcome struct {
	State      State
	Reason     Reason
	Count      int
	Stalls     int
	Expansions int
	Scrolls    int
	Iterations int
}

// Stalled reports whether the loop gave up on a page that stopped growing.
func (o Outcome) Stalled() bool {
	return o.Reason == ReasonStalled
}

// Driver runs the loop against a Page.
type Driver struct {
	set       selectors.Set
	timing    Timing
	maxStalls int
	sleep     func(context.Context, time.Duration) error
	log       zerolog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithTiming replaces the default pauses.
func WithTiming(t Timing) Option {
	return func(d *Driver) { d.timing = t }
}

// WithMaxStalls replaces the consecutive-stall ceiling.
func WithMaxStalls(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.maxStalls = n
		}
	}
}

// WithSleep replaces the pause implementation.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// New creates a driver.
func New(set selectors.Set, log zerolog.Logger, opts ...Option) *Driver {
	d := &Driver{
		set:       set,
		timing:    DefaultTiming(),
		maxStalls: DefaultMaxStalls,
		sleep:     Sleep,
		log:       log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run drives page until a terminal condition. expected is the total the page
// advertised when the session started, 0 when unknown. stop is polled after
// the initial settle and section waits, at the top of every iteration and
// before clicks; pauses already in progress finish
// first. Cancelling ctx aborts immediately with ctx's error.
func (d *Driver) Run(ctx context.Context, page Page, expected int, stop func() bool, progress func(Progress)) (Outcome, error) {
	out := Outcome{State: Running}
	stopped := func() bool { return stop != nil && stop() }
	cancelled := func() (Outcome, error) {
		out.State, out.Reason = Stopping, ReasonCancelled
		d.log.Info().Int("count", out.Count).Msg("collection stopped, loading interrupted")
		return out, nil
	}

	if err := d.sleep(ctx, d.timing.Settle); err != nil {
		return out, err
	}
	if stopped() {
		return cancelled()
	}

	found, err := page.ScrollToComments(ctx)
	if err != nil {
		return out, fmt.Errorf("failed to scroll to comments: %w", err)
	}
	if !found {
		d.log.Debug().Msg("comment region not found, scrolled to lower part of the modal")
	}
	if err := d.sleep(ctx, d.timing.Section); err != nil {
		return out, err
	}
	if stopped() {
		return cancelled()
	}

	stalls := 0
	for {
		if stopped() {
			return cancelled()
		}
		out.Iterations++

		snap, err := page.Probe(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to probe page: %w", err)
		}
		out.Count = snap.Count
		if progress != nil {
			progress(Progress{Count: snap.Count, Expected: expected})
		}

		if snap.End {
			d.log.Info().Int("count", snap.Count).Msg("end marker found, stop loading")
			out.State, out.Reason = Completed, ReasonEndMarker
			return out, nil
		}
		if expected > 0 && snap.Count >= expected {
			d.log.Info().Int("count", snap.Count).Int("expected", expected).Msg("expected total reached, stop loading")
			out.State, out.Reason = Completed, ReasonTotalReached
			return out, nil
		}

		controls, err := page.Controls(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to list show-more controls: %w", err)
		}

		if idx := probe.Expandable(controls, d.set); len(idx) > 0 {
			target := idx[0]
			d.log.Debug().Int("visible", len(idx)).Msg("expanding replies")

			moved, err := page.CenterControl(ctx, target)
			if err != nil {
				return out, fmt.Errorf("failed to scroll to control: %w", err)
			}
			if moved {
				if err := d.sleep(ctx, d.timing.Center); err != nil {
					return out, err
				}
			}
			if err := d.sleep(ctx, d.timing.PreClick); err != nil {
				return out, err
			}
			if stopped() {
				return cancelled()
			}

			if err := page.ClickControl(ctx, target); err != nil {
				return out, fmt.Errorf("failed to click control: %w", err)
			}
			out.Expansions++
			if err := d.sleep(ctx, d.timing.Load); err != nil {
				return out, err
			}

			stalls = 0
			out.Stalls = stalls
			continue
		}

		before, err := page.ScrollExtent(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to read scroll extent: %w", err)
		}
		if err := page.ScrollToEnd(ctx); err != nil {
			return out, fmt.Errorf("failed to scroll: %w", err)
		}
		out.Scrolls++
		if err := d.sleep(ctx, d.timing.Scroll); err != nil {
			return out, err
		}
		after, err := page.ScrollExtent(ctx)
		if err != nil {
			return out, fmt.Errorf("failed to read scroll extent: %w", err)
		}

		if before == after {
			stalls++
			d.log.Debug().Int("stalls", stalls).Msg("scrolled to bottom without new content")
			if err := d.sleep(ctx, d.timing.Stall); err != nil {
				return out, err
			}
		} else {
			stalls = 0
		}
		out.Stalls = stalls

		if stalls >= d.maxStalls {
			d.log.Warn().Int("stalls", stalls).Int("count", out.Count).Msg("maximum consecutive failures reached, loading stopped")
			out.State, out.Reason = Completed, ReasonStalled
			return out, nil
		}
	}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
