// Package extract maps rendered comment elements to flat comment records.
package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/ibeckermayer/xhscollect/internal/selectors"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// ErrNoElements is returned when no candidate comment elements survive every
// selector and the text heuristic.
var ErrNoElements = errors.New("no comment elements found, the page layout may have changed or comments have not loaded")

// minHeuristicText is the text length above which a fallback candidate counts
// as a comment even without an image.
const minHeuristicText = 10

var countPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(万|千|[wWkK])?`)

// Progress is reported while extracting.
type Progress struct {
	Valid     int
	Processed int
	Total     int
}

// Extractor turns comment elements into records.
type Extractor struct {
	set   selectors.Set
	every int
	log   zerolog.Logger
}

// New creates an extractor reporting progress every `every` elements.
func New(set selectors.Set, every int, log zerolog.Logger) *Extractor {
	if every <= 0 {
		every = 10
	}
	return &Extractor{set: set, every: every, log: log}
}

// Items finds the comment elements under root. The item selectors are tried
// in priority order; when none match, any div that reads like a comment is
// used instead.
func (e *Extractor) Items(root *goquery.Selection) (*goquery.Selection, error) {
	for _, sel := range e.set.Items {
		items := root.Find(sel)
		if items.Length() > 0 {
			e.log.Debug().Str("selector", sel).Int("count", items.Length()).Msg("found comment elements")
			return items, nil
		}
	}

	candidates := root.Find("div").FilterFunction(func(_ int, div *goquery.Selection) bool {
		text := div.Text()
		if !containsAny(text, e.set.Vocab.FallbackWords) {
			return false
		}
		return div.Find("img").Length() > 0 || utf8.RuneCountInString(text) > minHeuristicText
	})
	if candidates.Length() == 0 {
		return nil, ErrNoElements
	}

	e.log.Info().Int("count", candidates.Length()).Msg("found potential comment elements by text search")
	return candidates, nil
}

// Extract maps every element of items to a record. Elements that fail are
// logged and skipped; records with neither text nor pictures are dropped.
// stop is polled before each element and ends extraction early when it
// reports true.
func (e *Extractor) Extract(ctx context.Context, items *goquery.Selection, stop func() bool, progress func(Progress)) []types.Comment {
	total := items.Length()
	comments := make([]types.Comment, 0, total)

	processed := 0
	for i := 0; i < total; i++ {
		if ctx.Err() != nil || (stop != nil && stop()) {
			e.log.Info().Int("processed", processed).Msg("extraction interrupted")
			break
		}

		c, err := e.comment(items.Eq(i), i)
		processed++
		if err != nil {
			e.log.Warn().Err(err).Int("index", i+1).Msg("failed to extract comment")
		} else if c.Keep() {
			comments = append(comments, c)
		}

		if progress != nil && (processed%e.every == 0 || processed == total) {
			progress(Progress{Valid: len(comments), Processed: processed, Total: total})
		}
	}

	e.log.Info().
		Int("processed", processed).
		Int("valid", len(comments)).
		Msg("extraction finished")

	return comments
}

// comment builds one record. A panic while walking a malformed element is
// turned into an error so the batch can continue.
func (e *Extractor) comment(el *goquery.Selection, index int) (c types.Comment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("element %d: %v", index+1, r)
		}
	}()

	set := e.set
	c = types.Comment{
		ID:           index + 1,
		IsSubComment: set.NestedClass != "" && el.HasClass(set.NestedClass),
		CommentID:    el.AttrOr("id", ""),
		Pictures:     []string{},
	}

	c.Username = firstText(el, set.Author)
	c.Content = e.content(el)
	c.Time = firstText(el, set.Time)
	c.Location = firstText(el, set.Location)
	c.Likes = ParseCount(firstText(el, set.Likes), set.Vocab.LikePlaceholder)
	c.Replies = ParseCount(firstText(el, set.Replies), set.Vocab.ReplyPlaceholder)

	if src, ok := el.Find(set.Avatar).First().Attr("src"); ok {
		c.Avatar = src
	}

	el.Find(set.Pictures).Each(func(_ int, img *goquery.Selection) {
		if src := img.AttrOr("src", ""); src != "" {
			c.Pictures = append(c.Pictures, src)
		}
	})

	return c, nil
}

// content walks the structured text region in document order. Text nodes and
// spans contribute their text and emoji images contribute the placeholder.
// Without a structured region the flattened fallback text is used.
func (e *Extractor) content(el *goquery.Selection) string {
	var b strings.Builder

	region := el.Find(e.set.Content).First()
	region.Contents().Each(func(_ int, child *goquery.Selection) {
		node := child.Get(0)
		switch {
		case node.Type == html.TextNode:
			b.WriteString(node.Data)
		case node.Type != html.ElementNode:
		case child.Is("span"):
			b.WriteString(child.Text())
		case child.Is(e.set.Emoji):
			b.WriteString(e.set.Vocab.EmojiToken)
		}
	})

	if text := strings.TrimSpace(b.String()); text != "" {
		return text
	}

	fallback := el.Find(e.set.ContentFallback).First()
	if fallback.Length() == 0 {
		return ""
	}
	return collapse(fallback.Text())
}

// ParseCount converts a count cell such as "12", "1.2万", "3k" or "999+" to an
// integer. Placeholder words and anything without a leading number yield 0.
func ParseCount(text string, placeholders ...string) int {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0
	}
	for _, p := range placeholders {
		if p != "" && s == p {
			return 0
		}
	}

	s = strings.ReplaceAll(s, ",", "")
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}

	switch m[2] {
	case "万", "w", "W":
		return int(math.Round(value * 10000))
	case "千", "k", "K":
		return int(math.Round(value * 1000))
	}

	return int(value)
}

func firstText(el *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return strings.TrimSpace(el.Find(sel).First().Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
