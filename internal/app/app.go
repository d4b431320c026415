package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/xhscollect/internal/auth"
	"github.com/ibeckermayer/xhscollect/internal/config"
	"github.com/ibeckermayer/xhscollect/internal/driver"
	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/extract"
	"github.com/ibeckermayer/xhscollect/internal/livepage"
	"github.com/ibeckermayer/xhscollect/internal/logger"
	"github.com/ibeckermayer/xhscollect/internal/notifier"
	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/scheduler"
	"github.com/ibeckermayer/xhscollect/internal/session"
	"github.com/ibeckermayer/xhscollect/internal/store"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// Command is an inbound request from the UI binding.
type Command string

const (
	CommandStart Command = "startCollecting"
	CommandStop  Command = "stopCollecting"
)

var (
	// ErrNotInteractive is returned by Handle when no interactive session is open.
	ErrNotInteractive = errors.New("no interactive session")
	// ErrNoExport is returned when no finished session has written a report.
	ErrNoExport = errors.New("no exported report")
)

// App holds the application state.
type App struct {
	mu          sync.RWMutex
	authManager *auth.Manager // immutable after creation
	store       *store.Store
	cache       *store.Cache
	notifier    *notifier.Notifier
	log         zerolog.Logger

	// Mutable fields - use getSnapshot() for concurrent access.
	config *config.Config

	imu         sync.Mutex
	interactive *interactive
}

// snapshot holds fields that may be replaced by ReloadConfig.
// Use getSnapshot() to obtain a consistent, point-in-time copy.
type snapshot struct {
	config *config.Config
}

// interactive is the page and collector of a running Interactive call.
type interactive struct {
	ctx       context.Context
	page      *livepage.Page
	collector *session.Collector
	results   chan session.Result
}

// getSnapshot returns a snapshot of mutable fields under read lock.
func (a *App) getSnapshot() snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return snapshot{config: a.config}
}

// New creates a new App instance. A nil notifier only logs.
func New(cfg *config.Config, authManager *auth.Manager, st *store.Store, cache *store.Cache, n *notifier.Notifier, log zerolog.Logger) *App {
	if n == nil {
		n = notifier.New(log, notifier.LogSink{Log: log})
	}
	return &App{
		config:      cfg,
		authManager: authManager,
		store:       st,
		cache:       cache,
		notifier:    n,
		log:         log,
	}
}

// IsAuthenticated checks if site credentials are stored.
func (a *App) IsAuthenticated() bool {
	return a.authManager.IsAuthenticated()
}

// TriggerLogin starts the interactive login flow.
func (a *App) TriggerLogin(ctx context.Context) error {
	a.log.Info().Msg("login triggered, opening browser")
	if err := a.authManager.Login(ctx); err != nil {
		a.log.Error().Err(err).Msg("login failed")
		return err
	}
	a.log.Info().Msg("login successful, cookies saved")
	return nil
}

// TriggerLogout clears stored credentials.
func (a *App) TriggerLogout() error {
	if err := a.authManager.Logout(); err != nil {
		a.log.Error().Err(err).Msg("logout failed")
		return err
	}
	a.log.Info().Msg("logout successful, cookies cleared")
	return nil
}

// Settings returns the persisted user toggles.
func (a *App) Settings(ctx context.Context) (types.Settings, error) {
	return a.store.Settings(ctx)
}

// SaveSettings persists the user toggles. A running interactive collector
// picks them up for its next run.
func (a *App) SaveSettings(ctx context.Context, s types.Settings) error {
	if err := a.store.SaveSettings(ctx, s); err != nil {
		return err
	}
	a.imu.Lock()
	if a.interactive != nil {
		a.interactive.collector.SetSettings(s)
	}
	a.imu.Unlock()
	return nil
}

// settings returns the stored toggles, falling back to the defaults.
func (a *App) settings(ctx context.Context) types.Settings {
	s, err := a.store.Settings(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load settings, using defaults")
		return types.DefaultSettings()
	}
	return s
}

// Timing converts the collector config into driver pauses.
func Timing(c config.CollectorConfig) driver.Timing {
	return driver.Timing{
		Settle:   config.Ms(c.SettleDelayMs),
		Section:  config.Ms(c.SectionWaitMs),
		Center:   config.Ms(c.CenterWaitMs),
		PreClick: config.Ms(c.PreClickWaitMs),
		Load:     config.Ms(c.LoadWaitMs),
		Scroll:   config.Ms(c.ScrollWaitMs),
		Stall:    config.Ms(c.StallWaitMs),
	}
}

func (a *App) newExtractor(cfg *config.Config) *extract.Extractor {
	return extract.New(cfg.SelectorSet(), cfg.Collector.ProgressEvery, logger.Component("extract"))
}

func (a *App) newCollector(cfg *config.Config, settings types.Settings) *session.Collector {
	set := cfg.SelectorSet()
	d := driver.New(set, logger.Component("driver"),
		driver.WithTiming(Timing(cfg.Collector)),
		driver.WithMaxStalls(cfg.Collector.MaxStalls),
	)
	return session.New(set, d, a.newExtractor(cfg), logger.Component("session"),
		session.WithSink(a.notifier),
		session.WithSettings(settings),
	)
}

// cookies returns the stored login cookies, or none when signed out.
func (a *App) cookies() []*network.Cookie {
	if !a.authManager.IsAuthenticated() {
		a.log.Warn().Msg("not logged in, some comments may be hidden")
		return nil
	}
	cookies, err := a.authManager.GetCookies()
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to load cookies")
		return nil
	}
	return cookies
}

func (a *App) openPage(ctx context.Context, cfg *config.Config, bc config.BrowserConfig) (*livepage.Page, context.CancelFunc, error) {
	return livepage.Open(ctx, bc, a.cookies(), cfg.SelectorSet(), logger.Component("livepage"),
		livepage.WithRate(cfg.Collector.ActionsPerSecond))
}

func timeout(cfg *config.Config) time.Duration {
	if cfg.Collector.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(cfg.Collector.TimeoutMinutes) * time.Minute
}

// CollectURL opens url in a fresh browser, collects the note's comments and
// exports them.
func (a *App) CollectURL(ctx context.Context, url string) (store.SessionRecord, error) {
	cfg := a.getSnapshot().config
	settings := a.settings(ctx)
	log := a.log.With().Str("url", url).Logger()

	page, closeBrowser, err := a.openPage(ctx, cfg, cfg.Browser)
	if err != nil {
		return store.SessionRecord{}, err
	}
	defer closeBrowser()

	if err := page.Navigate(ctx, url); err != nil {
		return store.SessionRecord{}, err
	}
	if err := page.WaitModal(ctx); err != nil {
		return store.SessionRecord{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout(cfg))
	defer cancel()

	log.Info().Bool("autoScroll", settings.AutoScroll).Msg("collecting")
	res, _ := a.newCollector(cfg, settings).Collect(runCtx, page)

	rec, err := a.finishRun(ctx, cfg, settings, page, res)
	if err != nil {
		return rec, err
	}
	return rec, res.Err
}

// finishRun writes the exports of a finished run, caches its snapshot and
// report and records it in the session history. page may be nil.
func (a *App) finishRun(ctx context.Context, cfg *config.Config, settings types.Settings, page *livepage.Page, res session.Result) (store.SessionRecord, error) {
	ctx = context.WithoutCancel(ctx)
	log := a.log.With().Str("session", res.SessionID).Logger()

	rec := store.SessionRecord{
		ID:         res.SessionID,
		URL:        res.Page.URL,
		Title:      res.Page.Title,
		Outcome:    res.Outcome.String(),
		Status:     session.StatusLine(res),
		Expected:   res.Expected,
		Actual:     res.Actual,
		Collected:  len(res.Comments),
		HasEnd:     res.HasEnd,
		Rate:       res.Report.CompletionRate,
		StopReason: res.Loop.Reason.String(),
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	var errs []error
	if res.Exportable() {
		paths, err := export.Files(cfg.OutputDir(), res.Report, settings.ExportCSV, export.ParseLayout(cfg.Export.CSVLayout))
		rec.JSONPath, rec.CSVPath = paths.JSON, paths.CSV
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to export: %w", err))
		} else {
			log.Info().Str("json", paths.JSON).Str("csv", paths.CSV).Msg("exported")
		}

		if path, err := store.SaveJSON(a.cache, store.KindReports, res.Report); err != nil {
			log.Warn().Err(err).Msg("failed to cache report")
		} else {
			log.Debug().Str("path", path).Msg("cached report")
		}
	}

	if page != nil && cfg.Export.SaveSnapshots && res.Outcome != session.OutcomeStopped {
		a.saveSnapshot(ctx, page, res, log)
	}

	if err := a.store.RecordSession(ctx, rec); err != nil {
		errs = append(errs, fmt.Errorf("failed to record session: %w", err))
	}
	return rec, errors.Join(errs...)
}

func (a *App) saveSnapshot(ctx context.Context, page *livepage.Page, res session.Result, log zerolog.Logger) {
	html, err := page.HTML(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("no modal to snapshot")
		return
	}
	path, err := a.cache.SaveSnapshot(store.Snapshot{
		SessionID: res.SessionID,
		URL:       res.Page.URL,
		Title:     res.Page.Title,
		Expected:  res.Expected,
		HTML:      html,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to cache snapshot")
		return
	}
	log.Debug().Str("path", path).Msg("cached snapshot")
}

// Interactive opens a visible browser on url and collects whenever a
// command asks for it. The note modal is watched so that closing it stops a
// run. It returns when ctx is done or the browser window closes.
func (a *App) Interactive(ctx context.Context, url string, commands <-chan Command) error {
	cfg := a.getSnapshot().config
	settings := a.settings(ctx)
	if url == "" {
		url = cfg.Browser.StartURL
	}

	bc := cfg.Browser
	bc.Headless = false
	page, closeBrowser, err := a.openPage(ctx, cfg, bc)
	if err != nil {
		return err
	}
	defer closeBrowser()

	if err := page.Navigate(ctx, url); err != nil {
		return err
	}

	it := &interactive{
		ctx:       ctx,
		page:      page,
		collector: a.newCollector(cfg, settings),
		results:   make(chan session.Result, 1),
	}
	a.imu.Lock()
	a.interactive = it
	a.imu.Unlock()
	defer func() {
		a.imu.Lock()
		a.interactive = nil
		a.imu.Unlock()
	}()

	presence := page.WatchModal(ctx, config.Ms(cfg.Collector.ModalPollInterval))
	a.log.Info().Str("url", url).Msg("interactive session ready")

	for {
		select {
		case <-ctx.Done():
			it.collector.Stop()
			return nil
		case open, ok := <-presence:
			if !ok {
				it.collector.Stop()
				if livepage.IsGone(page.Tab().Err()) {
					a.log.Info().Msg("browser window closed")
				}
				return nil
			}
			a.log.Debug().Bool("open", open).Msg("note modal presence changed")
			it.collector.Presence(open)
		case cmd, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if err := a.Handle(cmd); err != nil {
				a.log.Warn().Err(err).Str("command", string(cmd)).Msg("command failed")
			}
		case res := <-it.results:
			if _, err := a.finishRun(ctx, cfg, it.collector.Settings(), page, res); err != nil {
				a.log.Error().Err(err).Msg("failed to finish run")
			}
		}
	}
}

// Handle applies a command to the interactive session.
func (a *App) Handle(cmd Command) error {
	a.imu.Lock()
	it := a.interactive
	a.imu.Unlock()
	if it == nil {
		return ErrNotInteractive
	}

	switch cmd {
	case CommandStart:
		if it.collector.Running() {
			return session.ErrAlreadyRunning
		}
		ch := it.collector.Toggle(it.ctx, it.page)
		if ch == nil {
			return nil
		}
		go func() {
			res, ok := <-ch
			if !ok {
				return
			}
			select {
			case it.results <- res:
			case <-it.ctx.Done():
			}
		}()
		return nil
	case CommandStop:
		if !it.collector.Stop() {
			a.log.Debug().Msg("stop requested with nothing running")
		}
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// Collecting reports whether the interactive session has a run in progress.
func (a *App) Collecting() bool {
	a.imu.Lock()
	defer a.imu.Unlock()
	return a.interactive != nil && a.interactive.collector.Running()
}

// Status returns the interactive session's status line.
func (a *App) Status() string {
	a.imu.Lock()
	defer a.imu.Unlock()
	if a.interactive == nil {
		return "idle"
	}
	return a.interactive.collector.Status()
}

// ExtractSnapshot re-runs extraction on saved modal HTML and exports the
// result. path may name a cached snapshot (.json) or a raw HTML file; an
// empty path selects the latest cached snapshot.
func (a *App) ExtractSnapshot(ctx context.Context, path string) (export.Report, export.Paths, error) {
	cfg := a.getSnapshot().config
	set := cfg.SelectorSet()

	var (
		snap store.Snapshot
		err  error
	)
	switch {
	case path == "":
		snap, path, err = a.cache.LatestSnapshot()
	case strings.EqualFold(filepath.Ext(path), ".json"):
		snap, err = store.LoadJSON[store.Snapshot](path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		snap = store.Snapshot{HTML: string(data)}
	}
	if err != nil {
		return export.Report{}, export.Paths{}, err
	}
	a.log.Info().Str("path", path).Msg("extracting from snapshot")

	root, err := livepage.ParseModal(snap.HTML, set)
	if err != nil {
		return export.Report{}, export.Paths{}, err
	}

	x := a.newExtractor(cfg)
	items, err := x.Items(root)
	if err != nil {
		return export.Report{}, export.Paths{}, err
	}
	comments := x.Extract(ctx, items, nil, nil)
	if len(comments) == 0 {
		return export.Report{}, export.Paths{}, errors.New("no comment data found")
	}

	p := probe.Take(root, set)
	expected := p.Expected
	if expected == 0 {
		expected = snap.Expected
	}
	report := export.BuildReport(comments, export.Meta{
		URL:      snap.URL,
		Title:    snap.Title,
		Expected: expected,
		Actual:   p.Count,
		HasEnd:   p.End,
		Time:     time.Now(),
	})

	settings := a.settings(ctx)
	paths, err := export.Files(cfg.OutputDir(), report, settings.ExportCSV, export.ParseLayout(cfg.Export.CSVLayout))
	if err != nil {
		return report, paths, err
	}
	return report, paths, nil
}

// CollectAll collects urls with at most watch.parallel browsers at a time.
// It returns the first failure after every url has been tried.
func (a *App) CollectAll(ctx context.Context, urls []string) error {
	cfg := a.getSnapshot().config

	var g errgroup.Group
	g.SetLimit(max(1, cfg.Watch.Parallel))
	for _, u := range urls {
		g.Go(func() error {
			rec, err := a.CollectURL(ctx, u)
			if err != nil {
				a.log.Error().Err(err).Str("url", u).Msg("collection failed")
				return fmt.Errorf("%s: %w", u, err)
			}
			a.log.Info().Str("url", u).Str("status", rec.Status).Msg("note collected")
			return nil
		})
	}
	return g.Wait()
}

// Watch re-collects the configured notes on the watch schedule until ctx is
// done. With now set the notes are collected once before waiting.
func (a *App) Watch(ctx context.Context, now bool) error {
	cfg := a.getSnapshot().config
	notes := cfg.Watch.Notes
	if len(notes) == 0 {
		return errors.New("watch.notes is empty")
	}

	sched, err := scheduler.New(cfg.Watch.Timezone, timeout(cfg)*time.Duration(len(notes)), logger.Component("scheduler"))
	if err != nil {
		return err
	}

	job := func(jctx context.Context) error {
		jctx, cancel := context.WithCancel(jctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return a.CollectAll(jctx, notes)
	}

	if err := sched.AddJob("watch", cfg.Watch.Schedule, job); err != nil {
		return err
	}
	if now {
		if err := sched.RunNow("watch", job); err != nil {
			a.log.Error().Err(err).Msg("initial collection failed")
		}
	}

	sched.Start()
	for _, j := range sched.ListJobs() {
		a.log.Info().Str("job", j.Name).Time("next", j.NextRun).Msg("waiting")
	}
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

// Last returns up to n recent sessions, newest first.
func (a *App) Last(ctx context.Context, n int) ([]store.SessionRecord, error) {
	return a.store.RecentSessions(ctx, n)
}

// LastComments returns the records of the last completed collection.
func (a *App) LastComments(ctx context.Context) ([]types.Comment, error) {
	return a.store.LastComments(ctx)
}

// LastExport returns the JSON report path of the most recent exported session.
func (a *App) LastExport(ctx context.Context) (string, error) {
	records, err := a.store.RecentSessions(ctx, 50)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if r.JSONPath != "" {
			return r.JSONPath, nil
		}
	}
	return "", ErrNoExport
}

// ViewLastExport opens the most recent report.
func (a *App) ViewLastExport(ctx context.Context) error {
	path, err := a.LastExport(ctx)
	if err != nil {
		return err
	}
	a.log.Info().Str("path", path).Msg("opening report")
	return browser.OpenFile(path)
}

// ReloadConfig reloads the configuration from disk.
func (a *App) ReloadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	a.mu.Lock()
	a.config = cfg
	a.mu.Unlock()

	a.log.Info().Msg("configuration reloaded")
	return nil
}
