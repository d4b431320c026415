// Package probe answers read-only questions about a snapshot of the note
// modal: how many comments the site claims, how many are rendered, whether the
// end marker is showing and which "show more" controls are worth clicking.
package probe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

// Heuristic bounds for a bare number that might be the comment total.
const (
	minBareTotal = 10
	maxBareTotal = 100000
)

// ErrNoModal is returned when the note modal is not on the page.
var ErrNoModal = errors.New("note modal not found")

var (
	// "共 72 条评论", "72条", "72"
	totalPattern = regexp.MustCompile(`共?[\s\p{Zs}]*(\d+)[\s\p{Zs}]*条?`)
	// "共 905 条评论", "905 条回复"
	phrasePattern = regexp.MustCompile(`共?[\s\p{Zs}]*(\d+)[\s\p{Zs}]*条`)
	bareNumber    = regexp.MustCompile(`^\d+$`)
)

// Snapshot is the result of probing the modal once.
type Snapshot struct {
	Expected int
	Count    int
	End      bool
}

// Control is a "show more" element as measured by the live page.
type Control struct {
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// Modal returns the note modal inside doc, if present.
func Modal(doc *goquery.Document, set selectors.Set) (*goquery.Selection, bool) {
	modal := doc.Find(set.Modal).First()
	return modal, modal.Length() > 0
}

// Take probes root for all three values at once.
func Take(root *goquery.Selection, set selectors.Set) Snapshot {
	return Snapshot{
		Expected: ExpectedTotal(root, set),
		Count:    CurrentCount(root, set),
		End:      ReachedEnd(root, set),
	}
}

// ExpectedTotal returns the comment total the page advertises, or 0 when it
// cannot be determined. 0 means unknown, not empty.
func ExpectedTotal(root *goquery.Selection, set selectors.Set) int {
	for _, sel := range set.Total {
		el := root.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if n, ok := matchCount(totalPattern, el.Text()); ok {
			return n
		}
	}

	all := root.Find("*")

	total, found := 0, false
	all.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := el.Text()
		if !containsAny(text, set.Vocab.TotalPhrases) {
			return true
		}
		total, found = matchCount(phrasePattern, text)
		return !found
	})
	if found {
		return total
	}

	all.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text := strings.TrimSpace(el.Text())
		if !bareNumber.MatchString(text) {
			return true
		}
		n, err := strconv.Atoi(text)
		if err != nil || n < minBareTotal || n > maxBareTotal {
			return true
		}
		parent := el.Parent()
		if parent.Length() > 0 && containsAny(parent.Text(), set.Vocab.CountWords) {
			total = n
			return false
		}
		return true
	})

	return total
}

// CurrentCount returns the number of top-level and nested comments rendered.
func CurrentCount(root *goquery.Selection, set selectors.Set) int {
	return root.Find(set.TopLevel).Length() + root.Find(set.Nested).Length()
}

// ReachedEnd reports whether an end-of-list marker is showing. Only the first
// match of each marker selector is inspected, mirroring querySelector.
func ReachedEnd(root *goquery.Selection, set selectors.Set) bool {
	candidates := append([]string{set.EndContainer}, set.EndMarkers...)
	for _, sel := range candidates {
		if sel == "" {
			continue
		}
		el := root.Find(sel).First()
		if el.Length() > 0 && containsAny(el.Text(), set.Vocab.EndPhrases) {
			return true
		}
	}
	return false
}

// Expandable returns the indexes of controls that are visible and whose text
// suggests clicking them reveals more replies.
func Expandable(controls []Control, set selectors.Set) []int {
	var idx []int
	for i, c := range controls {
		if !c.Visible {
			continue
		}
		if containsAny(strings.TrimSpace(c.Text), set.Vocab.ExpandWords) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Percent returns count as a rounded percentage of expected. ok is false when
// expected is unknown.
func Percent(count, expected int) (pct int, ok bool) {
	if expected <= 0 {
		return 0, false
	}
	return (count*200 + expected) / (expected * 2), true
}

func matchCount(re *regexp.Regexp, text string) (int, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
