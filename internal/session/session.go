// Package session owns one collection run at a time: it probes the modal,
// drives the loader, extracts records, grades the result and reports it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ibeckermayer/xhscollect/internal/driver"
	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/extract"
	"github.com/ibeckermayer/xhscollect/internal/notifier"
	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// ErrAlreadyRunning is returned by Collect while another run is in progress.
var ErrAlreadyRunning = errors.New("a collection is already running")

// Page is a live note page.
type Page interface {
	driver.Page
	// Root returns a fresh snapshot of the note modal, or probe.ErrNoModal.
	Root(ctx context.Context) (*goquery.Selection, error)
	Meta(ctx context.Context) (types.PageMeta, error)
}

// Outcome is how a run ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomePartial
	OutcomeStopped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomePartial:
		return "partial"
	case OutcomeStopped:
		return "stopped"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Session is the observable state of the current or last run.
type Session struct {
	ID        string
	Expected  int
	Comments  []types.Comment
	Running   bool
	Cancelled bool
	State     driver.State
	Status    string
}

// Result is everything a finished run produced.
type Result struct {
	SessionID string
	Outcome   Outcome
	Page      types.PageMeta
	Comments  []types.Comment
	Expected  int
	// Actual and HasEnd come from the probe taken after extraction.
	Actual int
	HasEnd bool
	Loop   driver.Outcome
	Report export.Report

	Started  time.Time
	Finished time.Time
	Err      error
}

// Exportable reports whether the run produced records worth writing out.
func (r Result) Exportable() bool {
	return (r.Outcome == OutcomeCompleted || r.Outcome == OutcomePartial) && len(r.Comments) > 0
}

// Collector runs collection sessions against a page.
type Collector struct {
	set       selectors.Set
	driver    *driver.Driver
	extractor *extract.Extractor
	sink      notifier.Sink
	log       zerolog.Logger

	cancel atomic.Bool

	mu           sync.Mutex
	settings     types.Settings
	sess         Session
	open         bool
	resetPending bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithSink sends session events to s.
func WithSink(s notifier.Sink) Option {
	return func(c *Collector) { c.sink = s }
}

// WithSettings replaces the default user settings.
func WithSettings(s types.Settings) Option {
	return func(c *Collector) { c.settings = s }
}

// New creates a collector.
func New(set selectors.Set, d *driver.Driver, x *extract.Extractor, log zerolog.Logger, opts ...Option) *Collector {
	c := &Collector{
		set:       set,
		driver:    d,
		extractor: x,
		log:       log,
		settings:  types.DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resetLocked()
	return c
}

// SetSettings replaces the user settings used by the next run.
func (c *Collector) SetSettings(s types.Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// Settings returns the current user settings.
func (c *Collector) Settings() types.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Session returns a copy of the session state.
func (c *Collector) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sess
	s.Comments = append([]types.Comment(nil), c.sess.Comments...)
	return s
}

// Status returns the host-readable status line.
func (c *Collector) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Status
}

// Running reports whether a run is in progress.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.Running
}

// Stop asks the running collection to stop at its next checkpoint. It
// reports whether a run was in progress.
func (c *Collector) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sess.Running {
		return false
	}
	c.requestStopLocked()
	return true
}

// Toggle stops a running collection, or starts one in the background. When a
// run is started the returned channel receives its result; it is nil when
// Toggle stopped a run.
func (c *Collector) Toggle(ctx context.Context, page Page) <-chan Result {
	if c.Stop() {
		return nil
	}

	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		res, err := c.Collect(ctx, page)
		if errors.Is(err, ErrAlreadyRunning) {
			res.Outcome, res.Err = OutcomeFailed, err
		}
		ch <- res
	}()
	return ch
}

// Presence reports whether the note modal is on the page. A newly opened modal
// resets the session. A closed modal stops any run and resets once it
// returns.
func (c *Collector) Presence(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.open
	c.open = open
	if open == was {
		return
	}

	if !open && c.sess.Running {
		c.log.Info().Msg("modal closed, stopping collection")
		c.requestStopLocked()
	}
	if c.sess.Running {
		c.resetPending = true
		return
	}
	c.resetLocked()
}

// Collect runs one session to completion. Failures are reported through the
// result, the status line and the sink; the returned error mirrors
// Result.Err. Stopping is not an error.
func (c *Collector) Collect(ctx context.Context, page Page) (Result, error) {
	c.mu.Lock()
	if c.sess.Running {
		c.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	c.resetLocked()
	c.cancel.Store(false)
	c.sess.ID = uuid.NewString()
	c.sess.Running = true
	c.sess.State = driver.Running
	c.sess.Status = "collecting (0/?)"
	settings := c.settings
	res := Result{SessionID: c.sess.ID, Started: time.Now()}
	c.mu.Unlock()

	log := c.log.With().Str("session", res.SessionID).Logger()

	defer func() {
		c.mu.Lock()
		c.sess.Running = false
		if c.resetPending {
			c.resetLocked()
		}
		c.mu.Unlock()
	}()

	if err := c.run(ctx, page, settings, &res, log); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
	}
	res.Finished = time.Now()

	c.finish(context.WithoutCancel(ctx), res, log)
	return res, res.Err
}

func (c *Collector) run(ctx context.Context, page Page, settings types.Settings, res *Result, log zerolog.Logger) error {
	meta, err := page.Meta(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read page metadata")
	}
	res.Page = meta

	root, err := page.Root(ctx)
	if err != nil {
		return fmt.Errorf("failed to read modal: %w", err)
	}
	res.Expected = probe.ExpectedTotal(root, c.set)

	c.mu.Lock()
	c.sess.Expected = res.Expected
	c.sess.Status = fmt.Sprintf("collecting (%s)", driver.Progress{Expected: res.Expected})
	c.mu.Unlock()

	log.Info().Int("expected", res.Expected).Str("url", meta.URL).Msg("collection started")

	if settings.AutoScroll {
		loop, err := c.driver.Run(ctx, page, res.Expected, c.stopRequested, func(p driver.Progress) {
			c.progress(ctx, res, p)
		})
		res.Loop = loop
		if err != nil {
			return fmt.Errorf("failed to load comments: %w", err)
		}
		if loop.Reason == driver.ReasonCancelled {
			res.Outcome = OutcomeStopped
			return nil
		}
		log.Info().Stringer("reason", loop.Reason).Int("count", loop.Count).Msg("loading finished")
	} else {
		log.Info().Msg("auto-scroll disabled, extracting rendered comments only")
	}

	if c.stopRequested() {
		res.Outcome = OutcomeStopped
		return nil
	}

	root, err = page.Root(ctx)
	if err != nil {
		return fmt.Errorf("failed to read modal: %w", err)
	}
	items, err := c.extractor.Items(root)
	if err != nil {
		return err
	}

	res.Comments = c.extractor.Extract(ctx, items, c.stopRequested, func(p extract.Progress) {
		log.Debug().Int("valid", p.Valid).Int("processed", p.Processed).Int("total", p.Total).Msg("extracting")
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.stopRequested() {
		res.Outcome = OutcomeStopped
		return nil
	}

	final := probe.Take(root, c.set)
	res.Actual, res.HasEnd = final.Count, final.End
	res.Report = export.BuildReport(res.Comments, export.Meta{
		URL:      meta.URL,
		Title:    meta.Title,
		Expected: res.Expected,
		Actual:   final.Count,
		HasEnd:   final.End,
		Time:     time.Now(),
	})

	if res.Report.IsComplete {
		res.Outcome = OutcomeCompleted
	} else {
		res.Outcome = OutcomePartial
	}
	return nil
}

func (c *Collector) progress(ctx context.Context, res *Result, p driver.Progress) {
	c.mu.Lock()
	if !c.sess.Cancelled {
		c.sess.Status = fmt.Sprintf("collecting (%s)", p)
	}
	c.mu.Unlock()

	c.notify(ctx, notifier.Event{
		Kind:      notifier.KindProgress,
		SessionID: res.SessionID,
		Page:      res.Page,
		Count:     p.Count,
		Expected:  p.Expected,
	})
}

// finish publishes the result to the session state and the sink.
func (c *Collector) finish(ctx context.Context, res Result, log zerolog.Logger) {
	c.mu.Lock()
	c.sess.Comments = res.Comments
	c.sess.Status = StatusLine(res)
	if res.Outcome == OutcomeStopped {
		c.sess.State = driver.Stopping
	} else {
		c.sess.State = driver.Completed
	}
	c.mu.Unlock()

	ev := notifier.Event{
		SessionID: res.SessionID,
		Page:      res.Page,
		Count:     len(res.Comments),
		Expected:  res.Expected,
	}

	switch {
	case res.Outcome == OutcomeFailed:
		log.Error().Err(res.Err).Msg("collection failed")
		ev.Kind, ev.Message = notifier.KindError, res.Err.Error()
	case res.Outcome == OutcomeStopped:
		log.Info().Int("comments", len(res.Comments)).Msg("collection stopped")
		return
	case len(res.Comments) == 0:
		log.Warn().Msg("no comment data found")
		ev.Kind, ev.Message = notifier.KindError, "no comment data found"
	default:
		log.Info().
			Stringer("outcome", res.Outcome).
			Int("comments", len(res.Comments)).
			Int("expected", res.Expected).
			Int("actual", res.Actual).
			Bool("end", res.HasEnd).
			Msg("collection finished")
		report := res.Report
		ev.Kind, ev.Comments, ev.Report = notifier.KindComplete, res.Comments, &report
	}
	c.notify(ctx, ev)
}

func (c *Collector) notify(ctx context.Context, ev notifier.Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Notify(ctx, ev); err != nil {
		c.log.Warn().Err(err).Str("event", string(ev.Kind)).Msg("failed to deliver event")
	}
}

func (c *Collector) stopRequested() bool {
	return c.cancel.Load()
}

func (c *Collector) requestStopLocked() {
	c.cancel.Store(true)
	c.sess.Cancelled = true
	c.sess.State = driver.Stopping
	c.sess.Status = "stopping"
}

func (c *Collector) resetLocked() {
	c.sess = Session{State: driver.Idle, Status: "idle"}
	c.resetPending = false
}

// StatusLine renders the status of a finished run.
func StatusLine(res Result) string {
	n := len(res.Comments)
	switch res.Outcome {
	case OutcomeCompleted:
		return fmt.Sprintf("completed (%d)", n)
	case OutcomePartial:
		progress := driver.Progress{Count: n, Expected: res.Expected}
		if res.Loop.Stalled() {
			return fmt.Sprintf("partial (%s, stalled)", progress)
		}
		return fmt.Sprintf("partial (%s)", progress)
	case OutcomeStopped:
		return fmt.Sprintf("stopped (%d)", n)
	case OutcomeFailed:
		if res.Err != nil {
			return "failed: " + res.Err.Error()
		}
		return "failed"
	default:
		return "idle"
	}
}
