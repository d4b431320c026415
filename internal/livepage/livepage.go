// Package livepage implements the collector's page interface on a Chrome tab
// driven over the DevTools protocol.
//
// Layout-dependent work (visibility, scroll extents, scrolling, clicking)
// runs as JavaScript in the tab. Everything else is answered from an
// outerHTML snapshot of the modal, parsed with goquery, so it shares code
// with offline extraction.
package livepage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// centerTolerance is the offset in pixels below which a control counts as
// already centered.
const centerTolerance = 10

// Page is a note page open in a browser tab.
type Page struct {
	tab     context.Context
	set     selectors.Set
	limiter *rate.Limiter
	log     zerolog.Logger
}

// Option configures a Page.
type Option func(*Page)

// WithRate limits page interactions to perSecond actions with no burst.
// Zero or negative disables pacing.
func WithRate(perSecond float64) Option {
	return func(p *Page) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
		}
	}
}

// New wraps a chromedp tab context.
func New(tab context.Context, set selectors.Set, log zerolog.Logger, opts ...Option) *Page {
	p := &Page{
		tab:     tab,
		set:     set,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tab returns the chromedp context of the page.
func (p *Page) Tab() context.Context {
	return p.tab
}

// Navigate loads url and waits for the body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

// WaitModal waits until the note modal is attached.
func (p *Page) WaitModal(ctx context.Context) error {
	if err := p.run(ctx, chromedp.WaitReady(p.set.Modal, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed waiting for note modal: %w", err)
	}
	return nil
}

// Meta returns the current URL and document title.
func (p *Page) Meta(ctx context.Context) (types.PageMeta, error) {
	var m types.PageMeta
	if err := p.run(ctx,
		chromedp.Location(&m.URL),
		chromedp.Title(&m.Title),
	); err != nil {
		return m, fmt.Errorf("failed to read page metadata: %w", err)
	}
	return m, nil
}

// HTML returns the outerHTML of the modal, or probe.ErrNoModal.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	js := fmt.Sprintf(`(() => { const m = document.querySelector(%s); return m ? m.outerHTML : ""; })()`, quote(p.set.Modal))
	if err := p.run(ctx, chromedp.Evaluate(js, &html)); err != nil {
		return "", fmt.Errorf("failed to read modal: %w", err)
	}
	if html == "" {
		return "", probe.ErrNoModal
	}
	return html, nil
}

// Root parses a fresh snapshot of the modal.
func (p *Page) Root(ctx context.Context) (*goquery.Selection, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return ParseModal(html, p.set)
}

// ParseModal parses modal HTML into the modal selection.
func ParseModal(html string, set selectors.Set) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse modal: %w", err)
	}
	modal, ok := probe.Modal(doc, set)
	if !ok {
		return nil, probe.ErrNoModal
	}
	return modal, nil
}

// Present reports whether the note modal is attached.
func (p *Page) Present(ctx context.Context) (bool, error) {
	var ok bool
	js := fmt.Sprintf(`document.querySelector(%s) !== null`, quote(p.set.Modal))
	if err := p.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

// Probe reads the expected total, rendered count and end marker.
func (p *Page) Probe(ctx context.Context) (probe.Snapshot, error) {
	root, err := p.Root(ctx)
	if err != nil {
		return probe.Snapshot{}, err
	}
	return probe.Take(root, p.set), nil
}

// Controls lists the modal's "show more" elements with their visibility.
func (p *Page) Controls(ctx context.Context) ([]probe.Control, error) {
	var controls []probe.Control
	js := p.script(`
		return Array.from(modal.querySelectorAll(%s)).map(el => ({
			text: (el.textContent || "").trim(),
			visible: el.offsetParent !== null && el.style.display !== "none",
		}));`, quote(p.set.ShowMore))
	if err := p.run(ctx, chromedp.Evaluate(js, &controls)); err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	return controls, nil
}

// CenterControl scrolls control i to the middle of the scroller.
func (p *Page) CenterControl(ctx context.Context, i int) (bool, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}
	var moved bool
	js := p.script(`
		const el = modal.querySelectorAll(%s)[%d];
		if (!el) return false;
		const box = el.getBoundingClientRect();
		const frame = scroller.getBoundingClientRect();
		const offset = box.top - frame.top - frame.height / 2;
		if (Math.abs(offset) <= %d) return false;
		scroller.scrollBy({ top: offset, behavior: "smooth" });
		return true;`, quote(p.set.ShowMore), i, centerTolerance)
	if err := p.run(ctx, chromedp.Evaluate(js, &moved)); err != nil {
		return false, fmt.Errorf("failed to center control: %w", err)
	}
	return moved, nil
}

// ClickControl clicks control i.
func (p *Page) ClickControl(ctx context.Context, i int) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	var ok bool
	js := p.script(`
		const el = modal.querySelectorAll(%s)[%d];
		if (!el) return false;
		el.click();
		return true;`, quote(p.set.ShowMore), i)
	if err := p.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("failed to click control: %w", err)
	}
	if !ok {
		return fmt.Errorf("control %d is gone", i)
	}
	return nil
}

// ScrollExtent returns the scroller's scrollHeight.
func (p *Page) ScrollExtent(ctx context.Context) (int, error) {
	var h int
	if err := p.run(ctx, chromedp.Evaluate(p.script(`return scroller.scrollHeight;`), &h)); err != nil {
		return 0, fmt.Errorf("failed to read scroll extent: %w", err)
	}
	return h, nil
}

// ScrollToEnd scrolls the scroller to its current bottom.
func (p *Page) ScrollToEnd(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	js := p.script(`scroller.scrollTo({ top: scroller.scrollHeight, behavior: "smooth" }); return true;`)
	if err := p.run(ctx, chromedp.Evaluate(js, nil)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// ScrollToComments brings the first comment region into view, or scrolls to
// 70% of the scroller when none is found.
func (p *Page) ScrollToComments(ctx context.Context) (bool, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}
	var found bool
	js := p.script(`
		for (const sel of %s) {
			const section = modal.querySelector(sel);
			if (section) {
				scroller.scrollTop = section.offsetTop;
				return true;
			}
		}
		scroller.scrollTop = scroller.scrollHeight * 0.7;
		return false;`, quoteList(p.set.CommentSection))
	if err := p.run(ctx, chromedp.Evaluate(js, &found)); err != nil {
		return false, fmt.Errorf("failed to scroll to comments: %w", err)
	}
	return found, nil
}

// ModalKey identifies the attached note modal by the page path and the
// modal's note id, or returns "" when no modal is attached.
func (p *Page) ModalKey(ctx context.Context) (string, error) {
	var key string
	js := fmt.Sprintf(`(() => {
		const m = document.querySelector(%s);
		if (!m) return "";
		return location.pathname + "#" + (m.getAttribute("note-id") || m.getAttribute("data-note-id") || m.id || "");
	})()`, quote(p.set.Modal))
	if err := p.run(ctx, chromedp.Evaluate(js, &key)); err != nil {
		return "", err
	}
	return key, nil
}

// WatchModal polls the modal key every interval and sends each change of
// presence, starting with the initial state. A different note replacing the
// open one between polls is sent as a close followed by an open. The channel
// closes when ctx is done or the tab goes away.
func (p *Page) WatchModal(ctx context.Context, interval time.Duration) <-chan bool {
	ch := make(chan bool, 2)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		first, last := true, ""
		for {
			key, err := p.ModalKey(ctx)
			switch {
			case err != nil && (ctx.Err() != nil || p.tab.Err() != nil):
				return
			case err != nil:
				p.log.Debug().Err(err).Msg("modal presence check failed")
			default:
				for _, open := range presenceChanges(last, key, first) {
					select {
					case ch <- open:
					case <-ctx.Done():
						return
					}
				}
				first, last = false, key
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ch
}

// presenceChanges returns the presence transitions between two modal keys.
func presenceChanges(prev, cur string, first bool) []bool {
	switch {
	case first:
		return []bool{cur != ""}
	case prev == cur:
		return nil
	case prev != "" && cur != "":
		return []bool{false, true}
	default:
		return []bool{cur != ""}
	}
}

// script wraps body in a function that binds modal and scroller. The body is
// formatted with args.
func (p *Page) script(body string, args ...any) string {
	return fmt.Sprintf(`(() => {
		const modal = document.querySelector(%s);
		if (!modal) throw new Error("note modal not found");
		const scroller = %s.map(s => modal.querySelector(s)).find(Boolean) || modal;
		%s
	})()`, quote(p.set.Modal), quoteList(p.set.Scrollers), fmt.Sprintf(body, args...))
}

// run executes actions on the tab. ctx is used directly when it already
// carries the tab; otherwise the tab context is used and ctx only bounds the
// wait.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if chromedp.FromContext(ctx) != nil {
		return chromedp.Run(ctx, actions...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(p.tab, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func quoteList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// IsGone reports whether err means the browser or tab has closed.
func IsGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, chromedp.ErrInvalidContext)
}
