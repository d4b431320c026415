package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"time"

	"github.com/ibeckermayer/xhscollect/internal/export"
	"github.com/ibeckermayer/xhscollect/internal/types"
)

// Builder creates summary emails from finished collections
type Builder struct {
	maxComments int
	template    *template.Template
}

// New creates a new digest builder
func New(maxComments int) (*Builder, error) {
	if maxComments <= 0 {
		maxComments = 10
	}

	tmpl, err := template.New("digest").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{
		maxComments: maxComments,
		template:    tmpl,
	}, nil
}

// Digest represents a compiled summary ready for sending
type Digest struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	CreatedAt time.Time
}

// DigestData is the template data structure
type DigestData struct {
	Title    string
	Date     string
	URL      string
	Status   string
	Progress string
	Comments []CommentData
	Stats    export.Statistics
}

// CommentData represents a comment in the digest template
type CommentData struct {
	Username string
	Content  string
	Time     string
	Likes    int
	Replies  int
	Pictures int
	Sub      bool
}

// Build creates a summary of a report, listing its most liked comments
func (b *Builder) Build(r export.Report) (*Digest, error) {
	if r.CollectedComments == 0 {
		return nil, fmt.Errorf("no comments to include in digest")
	}

	top := make([]types.Comment, len(r.Comments))
	copy(top, r.Comments)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Likes > top[j].Likes
	})
	if len(top) > b.maxComments {
		top = top[:b.maxComments]
	}

	title := r.PageTitle
	if title == "" {
		title = export.FallbackTitle
	}

	now := time.Now()
	data := DigestData{
		Title:    title,
		Date:     now.Format("2006-01-02 15:04"),
		URL:      r.PageURL,
		Status:   r.Status,
		Progress: progress(r),
		Comments: make([]CommentData, len(top)),
		Stats:    r.Statistics,
	}
	for i, c := range top {
		data.Comments[i] = CommentData{
			Username: c.Username,
			Content:  truncate(c.Content, 140),
			Time:     c.Time,
			Likes:    c.Likes,
			Replies:  c.Replies,
			Pictures: len(c.Pictures),
			Sub:      c.IsSubComment,
		}
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Digest{
		Subject:   fmt.Sprintf("评论采集 %s - %s (%s)", r.Status, title, progress(r)),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		CreatedAt: now,
	}, nil
}

func progress(r export.Report) string {
	if r.ExpectedTotal > 0 {
		return fmt.Sprintf("%d/%d, %d%%", r.CollectedComments, r.ExpectedTotal, r.CompletionRate)
	}
	return fmt.Sprintf("%d/?", r.CollectedComments)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}

func buildPlainText(data DigestData) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%s\n%s\n\n", data.Title, data.Date, data.URL)
	fmt.Fprintf(&buf, "status: %s (%s)\n", data.Status, data.Progress)
	fmt.Fprintf(&buf, "main %d · replies %d · with pictures %d · likes %d\n\n",
		data.Stats.MainComments, data.Stats.SubComments, data.Stats.CommentsWithPictures, data.Stats.TotalLikes)

	for i, c := range data.Comments {
		fmt.Fprintf(&buf, "%d. %s (%d 赞): %s\n", i+1, c.Username, c.Likes, c.Content)
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #ff2442; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .status { margin-bottom: 15px; }
        .comment { border-bottom: 1px solid #eee; padding: 12px 0; }
        .comment:last-child { border-bottom: none; }
        .sub { padding-left: 20px; }
        .author { font-weight: bold; color: #333; }
        .time { color: #999; font-size: 12px; }
        .content { margin: 8px 0; line-height: 1.4; }
        .metrics { color: #666; font-size: 13px; }
        .link { color: #ff2442; text-decoration: none; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>
        <div class="status">{{.Status}} · {{.Progress}}</div>

        {{range .Comments}}
        <div class="comment{{if .Sub}} sub{{end}}">
            <div class="author">{{.Username}} <span class="time">{{.Time}}</span></div>
            <div class="content">{{.Content}}</div>
            <div class="metrics">{{.Likes}} 赞 · {{.Replies}} 回复{{if .Pictures}} · {{.Pictures}} 图{{end}}</div>
        </div>
        {{end}}

        {{if .URL}}<a href="{{.URL}}" class="link">查看笔记 →</a>{{end}}
        <div class="footer">
            {{.Stats.MainComments}} comments · {{.Stats.SubComments}} replies · {{.Stats.TotalLikes}} likes · Generated by xhscollect
        </div>
    </div>
</body>
</html>`
