package probe

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

func modal(t *testing.T, inner string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div class="note-detail-mask">` + inner + `</div></body></html>`))
	require.NoError(t, err)
	root, ok := Modal(doc, selectors.Default())
	require.True(t, ok)
	return root
}

func TestModal_Missing(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><body><p>feed</p></body></html>`))
	require.NoError(t, err)

	_, ok := Modal(doc, selectors.Default())
	assert.False(t, ok)
}

func TestExpectedTotal(t *testing.T) {
	set := selectors.Default()

	tests := []struct {
		name string
		html string
		want int
	}{
		{
			name: "total element with full phrase",
			html: `<div class="total">共 72 条评论</div>`,
			want: 72,
		},
		{
			name: "class containing total",
			html: `<span class="comments-total-count">共905条</span>`,
			want: 905,
		},
		{
			name: "bare phrase without 共",
			html: `<div class="header"><span>905 条评论</span></div>`,
			want: 905,
		},
		{
			name: "reply phrase",
			html: `<p>12条回复</p>`,
			want: 12,
		},
		{
			name: "bare number next to comment vocabulary",
			html: `<div class="stats"><span>评论</span><span>348</span></div>`,
			want: 348,
		},
		{
			name: "bare number below heuristic range",
			html: `<div class="stats"><span>评论</span><span>7</span></div>`,
			want: 0,
		},
		{
			name: "bare number without vocabulary",
			html: `<div class="stats"><span>likes</span><span>348</span></div>`,
			want: 0,
		},
		{
			name: "nothing",
			html: `<div class="comment-item">hello</div>`,
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpectedTotal(modal(t, tt.html), set))
		})
	}
}

func TestCurrentCount(t *testing.T) {
	root := modal(t, `
		<div class="list-container">
			<div class="comment-item">a</div>
			<div class="comment-item">b
				<div class="comment-item comment-item-sub">b1</div>
				<div class="comment-item comment-item-sub">b2</div>
			</div>
			<div class="comment-item">c</div>
		</div>`)

	assert.Equal(t, 5, CurrentCount(root, selectors.Default()))
}

func TestReachedEnd(t *testing.T) {
	set := selectors.Default()

	tests := []struct {
		name string
		html string
		want bool
	}{
		{"end container", `<div class="end-container">- THE END -</div>`, true},
		{"chinese end marker", `<div class="end-container">- 到底了 -</div>`, true},
		{"no more marker", `<div class="list-bottom">没有更多了</div>`, true},
		{"loading", `<div class="end-container">加载中</div>`, false},
		{"absent", `<div class="comment-item">到底了吗</div>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReachedEnd(modal(t, tt.html), set))
		})
	}
}

func TestReachedEnd_UnknownTotal(t *testing.T) {
	root := modal(t, `<div class="comment-item">x</div><div class="end-container">- 到底了 -</div>`)
	snap := Take(root, selectors.Default())

	assert.Equal(t, 0, snap.Expected)
	assert.True(t, snap.End)
	assert.Equal(t, 1, snap.Count)
}

func TestExpandable(t *testing.T) {
	controls := []Control{
		{Text: "展开 5 条回复", Visible: true},
		{Text: "展开更多", Visible: false},
		{Text: "收起", Visible: true},
		{Text: " 回复 ", Visible: true},
	}

	assert.Equal(t, []int{0, 3}, Expandable(controls, selectors.Default()))
	assert.Empty(t, Expandable(nil, selectors.Default()))
}

func TestPercent(t *testing.T) {
	pct, ok := Percent(72, 72)
	assert.True(t, ok)
	assert.Equal(t, 100, pct)

	pct, ok = Percent(1, 3)
	assert.True(t, ok)
	assert.Equal(t, 33, pct)

	pct, ok = Percent(2, 3)
	assert.True(t, ok)
	assert.Equal(t, 67, pct)

	pct, ok = Percent(40, 0)
	assert.False(t, ok)
	assert.Equal(t, 0, pct)
}
