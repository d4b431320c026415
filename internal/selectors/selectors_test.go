package selectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, NoteModal, s.Modal)
	assert.Equal(t, `.total`, s.Total[0])
	assert.Contains(t, s.Vocab.EndPhrases, "到底了")
	assert.Equal(t, "[表情]", s.Vocab.EmojiToken)
}

func TestMerge(t *testing.T) {
	base := Default()

	merged := base.Merge(Set{
		Modal: `#noteContainer`,
		Items: []string{`.comment`},
		Vocab: Vocabulary{EmojiToken: "[emoji]"},
	})

	assert.Equal(t, `#noteContainer`, merged.Modal)
	assert.Equal(t, []string{`.comment`}, merged.Items)
	assert.Equal(t, "[emoji]", merged.Vocab.EmojiToken)

	// untouched fields keep their defaults
	assert.Equal(t, base.Author, merged.Author)
	assert.Equal(t, base.Vocab.EndPhrases, merged.Vocab.EndPhrases)

	// the receiver is not modified
	assert.Equal(t, NoteModal, base.Modal)
}
