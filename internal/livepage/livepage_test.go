package livepage

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/xhscollect/internal/probe"
	"github.com/ibeckermayer/xhscollect/internal/selectors"
)

func TestParseModal(t *testing.T) {
	root, err := ParseModal(`<div class="note-detail-mask"><div class="comment-item">x</div></div>`, selectors.Default())
	require.NoError(t, err)
	assert.Equal(t, 1, root.Find(".comment-item").Length())

	_, err = ParseModal(`<div class="other"></div>`, selectors.Default())
	assert.ErrorIs(t, err, probe.ErrNoModal)
}

func TestScript(t *testing.T) {
	p := New(context.Background(), selectors.Default(), zerolog.Nop())

	js := p.script(`return modal.querySelectorAll(%s)[%d];`, quote(`.show-more`), 2)
	assert.Contains(t, js, `document.querySelector(".note-detail-mask")`)
	assert.Contains(t, js, `[".note-scroller",".interaction-container"]`)
	assert.Contains(t, js, `querySelectorAll(".show-more")[2]`)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"[class*=\"end\"]"`, quote(`[class*="end"]`))
	assert.Equal(t, `[]`, quoteList(nil))
	assert.Equal(t, `["a","b"]`, quoteList([]string{"a", "b"}))
}

func TestRunWithoutBrowserHonoursContext(t *testing.T) {
	p := New(context.Background(), selectors.Default(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Present(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPresenceChanges(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur string
		first     bool
		want      []bool
	}{
		{"initially closed", "", "", true, []bool{false}},
		{"initially open", "", "/explore/a#a", true, []bool{true}},
		{"unchanged", "/explore/a#a", "/explore/a#a", false, nil},
		{"still closed", "", "", false, nil},
		{"opened", "", "/explore/a#a", false, []bool{true}},
		{"closed", "/explore/a#a", "", false, []bool{false}},
		{"replaced between polls", "/explore/a#a", "/explore/b#b", false, []bool{false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, presenceChanges(tt.prev, tt.cur, tt.first))
		})
	}
}
