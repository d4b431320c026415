// Package export builds the collection report and writes it as JSON and CSV.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ibeckermayer/xhscollect/internal/types"
)

// FallbackTitle is used when the page title has nothing usable left after
// sanitizing.
const FallbackTitle = "小红书评论"

const bom = "\ufeff"

// Layout selects the CSV column set.
type Layout int

const (
	// LayoutFull has six columns including the reply count.
	LayoutFull Layout = iota
	// LayoutCompact drops the reply count.
	LayoutCompact
)

// ParseLayout maps a config value to a Layout. Unknown values select
// LayoutFull.
func ParseLayout(s string) Layout {
	if strings.EqualFold(strings.TrimSpace(s), "compact") {
		return LayoutCompact
	}
	return LayoutFull
}

var headers = map[Layout][]string{
	LayoutFull:    {"序号", "用户名", "评论内容", "时间", "点赞数", "回复数"},
	LayoutCompact: {"序号", "用户名", "评论内容", "时间", "点赞数"},
}

// Meta describes the page at export time.
type Meta struct {
	URL      string
	Title    string
	Expected int
	// Actual is the rendered count from the final probe.
	Actual int
	HasEnd bool
	Time   time.Time
}

// Statistics summarizes the records.
type Statistics struct {
	MainComments         int `json:"mainComments"`
	SubComments          int `json:"subComments"`
	CommentsWithPictures int `json:"commentsWithPictures"`
	TotalLikes           int `json:"totalLikes"`
	AvgLikes             int `json:"avgLikes"`
}

// Report is the JSON export document.
type Report struct {
	ExportTime        string          `json:"exportTime"`
	PageURL           string          `json:"pageUrl"`
	PageTitle         string          `json:"pageTitle"`
	CollectedComments int             `json:"collectedComments"`
	ExpectedTotal     int             `json:"expectedTotal"`
	ActualTotal       int             `json:"actualTotal"`
	CompletionRate    int             `json:"completionRate"`
	IsComplete        bool            `json:"isComplete"`
	HasEndMarker      bool            `json:"hasEndMarker"`
	Status            string          `json:"status"`
	Statistics        Statistics      `json:"statistics"`
	Comments          []types.Comment `json:"comments"`
}

// Complete reports whether a collection of collected records is complete given
// the expected total, the rendered count and the end marker.
func Complete(collected, expected, actual int, hasEnd bool) bool {
	return (expected > 0 && collected >= expected) || (hasEnd && collected >= actual)
}

// Rate returns the rounded completion percentage, 0 when expected is unknown.
func Rate(collected, expected int) int {
	if expected <= 0 {
		return 0
	}
	return int(math.Round(float64(collected) / float64(expected) * 100))
}

// BuildReport assembles the export document.
func BuildReport(comments []types.Comment, meta Meta) Report {
	if comments == nil {
		comments = []types.Comment{}
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now()
	}

	var stats Statistics
	for _, c := range comments {
		if c.IsSubComment {
			stats.SubComments++
		} else {
			stats.MainComments++
		}
		if len(c.Pictures) > 0 {
			stats.CommentsWithPictures++
		}
		stats.TotalLikes += c.Likes
	}
	if len(comments) > 0 {
		stats.AvgLikes = int(math.Round(float64(stats.TotalLikes) / float64(len(comments))))
	}

	complete := Complete(len(comments), meta.Expected, meta.Actual, meta.HasEnd)
	status := "partial"
	if complete {
		status = "complete"
	}

	return Report{
		ExportTime:        meta.Time.UTC().Format("2006-01-02T15:04:05.000Z"),
		PageURL:           meta.URL,
		PageTitle:         meta.Title,
		CollectedComments: len(comments),
		ExpectedTotal:     meta.Expected,
		ActualTotal:       meta.Actual,
		CompletionRate:    Rate(len(comments), meta.Expected),
		IsComplete:        complete,
		HasEndMarker:      meta.HasEnd,
		Status:            status,
		Statistics:        stats,
		Comments:          comments,
	}
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteCSV writes the records as a BOM-prefixed table. Text cells are always
// quoted; numeric cells never are.
func WriteCSV(w io.Writer, comments []types.Comment, layout Layout) error {
	cols, ok := headers[layout]
	if !ok {
		cols = headers[LayoutFull]
	}

	lines := make([]string, 0, len(comments)+1)
	lines = append(lines, strings.Join(cols, ","))
	for _, c := range comments {
		row := []string{
			strconv.Itoa(c.ID),
			quote(c.Username),
			quote(c.Content),
			quote(c.Time),
			strconv.Itoa(c.Likes),
		}
		if layout != LayoutCompact {
			row = append(row, strconv.Itoa(c.Replies))
		}
		lines = append(lines, strings.Join(row, ","))
	}

	if _, err := io.WriteString(w, bom+strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// FileBase returns the file name stem for an export of a page titled title on
// day.
func FileBase(title string, day time.Time) string {
	name := strings.Join(strings.Fields(Sanitize(title)), " ")
	if name == "" {
		name = FallbackTitle
	}
	return fmt.Sprintf("%s_评论_%s", name, day.Format("2006-01-02"))
}

// Sanitize keeps letters, digits, underscores and spaces.
func Sanitize(title string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == ' ' {
			return r
		}
		return -1
	}, title)
}

// Paths are the files written by Files.
type Paths struct {
	JSON string
	CSV  string
}

// Files writes the JSON report, and the CSV table when withCSV is set, into
// dir. Existing exports are never overwritten. The CSV path is empty when it was not written.
func Files(dir string, r Report, withCSV bool, layout Layout) (Paths, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Paths{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	day := time.Now()
	if t, err := time.Parse(time.RFC3339, r.ExportTime); err == nil {
		day = t.Local()
	}
	base := freeBase(filepath.Join(dir, FileBase(r.PageTitle, day)), day)

	var p Paths
	p.JSON = base + ".json"
	if err := writeFile(p.JSON, func(w io.Writer) error { return WriteJSON(w, r) }); err != nil {
		return p, err
	}

	if withCSV {
		p.CSV = base + ".csv"
		if err := writeFile(p.CSV, func(w io.Writer) error { return WriteCSV(w, r.Comments, layout) }); err != nil {
			return p, err
		}
	}
	return p, nil
}

// freeBase returns base, or base with a time-of-day suffix and then a counter
// when an earlier export already uses it.
func freeBase(base string, t time.Time) string {
	taken := func(b string) bool {
		for _, ext := range []string{".json", ".csv"} {
			if _, err := os.Stat(b + ext); err == nil {
				return true
			}
		}
		return false
	}
	if !taken(base) {
		return base
	}

	timed := base + "_" + t.Format("150405")
	candidate := timed
	for n := 2; taken(candidate); n++ {
		candidate = fmt.Sprintf("%s_%d", timed, n)
	}
	return candidate
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
