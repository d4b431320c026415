// Package selectors holds the DOM selector tables and vocabulary used to find
// comments inside the note modal.
//
// These are isolated here because the site changes its DOM frequently.
// Update these when collection breaks.
package selectors

// Modal and scroll containers
const (
	NoteModal         = `.note-detail-mask`
	NoteScroller      = `.note-scroller`
	InteractionColumn = `.interaction-container`
)

// Comment item selectors
const (
	CommentItem    = `.comment-item`
	TopLevelItem   = `.comment-item:not(.comment-item-sub)`
	NestedItem     = `.comment-item-sub`
	NestedClass    = `comment-item-sub`
	ShowMoreButton = `.show-more`
	EndContainer   = `.end-container`
)

// Comment field selectors, relative to a comment item
const (
	AuthorName      = `.right .author .name`
	ContentText     = `.content .note-text`
	ContentFallback = `.content`
	EmojiImage      = `img.note-content-emoji`
	DateText        = `.info .date span`
	DateLocation    = `.info .date .location`
	LikeCount       = `.interactions .like .count`
	ReplyCount      = `.interactions .reply .count`
	AvatarImage     = `.avatar img`
	PictureImage    = `.comment-picture img`
)

// Vocabulary matched against element text
const (
	EmojiToken       = "[表情]"
	LikePlaceholder  = "赞"
	ReplyPlaceholder = "回复"
)

// Set is a complete selector table. Priority lists are tried in order and the
// first match wins.
type Set struct {
	Modal          string   `toml:"modal,omitempty"`
	Scrollers      []string `toml:"scrollers,omitempty"`
	CommentSection []string `toml:"comment_section,omitempty"`
	Total          []string `toml:"total,omitempty"`
	TopLevel       string   `toml:"top_level,omitempty"`
	Nested         string   `toml:"nested,omitempty"`
	NestedClass    string   `toml:"nested_class,omitempty"`
	ShowMore       string   `toml:"show_more,omitempty"`
	EndContainer   string   `toml:"end_container,omitempty"`
	EndMarkers     []string `toml:"end_markers,omitempty"`
	Items          []string `toml:"items,omitempty"`

	Author          string `toml:"author,omitempty"`
	Content         string `toml:"content,omitempty"`
	ContentFallback string `toml:"content_fallback,omitempty"`
	Emoji           string `toml:"emoji,omitempty"`
	Time            string `toml:"time,omitempty"`
	Location        string `toml:"location,omitempty"`
	Likes           string `toml:"likes,omitempty"`
	Replies         string `toml:"replies,omitempty"`
	Avatar          string `toml:"avatar,omitempty"`
	Pictures        string `toml:"pictures,omitempty"`

	Vocab Vocabulary `toml:"vocab,omitempty"`
}

// Vocabulary holds the phrases the probe and extractor look for.
type Vocabulary struct {
	TotalPhrases     []string `toml:"total_phrases,omitempty"`
	CountWords       []string `toml:"count_words,omitempty"`
	ExpandWords      []string `toml:"expand_words,omitempty"`
	EndPhrases       []string `toml:"end_phrases,omitempty"`
	FallbackWords    []string `toml:"fallback_words,omitempty"`
	EmojiToken       string   `toml:"emoji_token,omitempty"`
	LikePlaceholder  string   `toml:"like_placeholder,omitempty"`
	ReplyPlaceholder string   `toml:"reply_placeholder,omitempty"`
}

// Default returns the selector table for the current site layout.
func Default() Set {
	return Set{
		Modal:     NoteModal,
		Scrollers: []string{NoteScroller, InteractionColumn},
		CommentSection: []string{
			`.comments-el`,
			`.interaction-container .comments-el`,
			`.note-scroller .comments-el`,
			`.comments-container`,
			`.comment-list`,
			`.list-container`,
		},
		Total: []string{
			`.total`,
			`[class*="total"]`,
			`.comment-count`,
			`.comments-count`,
			`.total-comments`,
			`[class*="comment-count"]`,
		},
		TopLevel:     TopLevelItem,
		Nested:       NestedItem,
		NestedClass:  NestedClass,
		ShowMore:     ShowMoreButton,
		EndContainer: EndContainer,
		EndMarkers: []string{
			`[class*="end"]`,
			`[class*="bottom"]`,
			`[class*="finish"]`,
			`[class*="complete"]`,
		},
		Items: []string{
			`.comments-el .list-container .comment-item`,
			`.list-container .comment-item`,
			CommentItem,
			`.parent-comment .comment-item`,
			`.comments-container .comment-item`,
		},

		Author:          AuthorName,
		Content:         ContentText,
		ContentFallback: ContentFallback,
		Emoji:           EmojiImage,
		Time:            DateText,
		Location:        DateLocation,
		Likes:           LikeCount,
		Replies:         ReplyCount,
		Avatar:          AvatarImage,
		Pictures:        PictureImage,

		Vocab: Vocabulary{
			TotalPhrases:     []string{"条评论", "条回复"},
			CountWords:       []string{"评论", "回复"},
			ExpandWords:      []string{"展开", "条回复", "回复"},
			EndPhrases:       []string{"THE END", "到底了", "没有更多"},
			FallbackWords:    []string{"回复", "赞", "小时前", "天前", "分钟前"},
			EmojiToken:       EmojiToken,
			LikePlaceholder:  LikePlaceholder,
			ReplyPlaceholder: ReplyPlaceholder,
		},
	}
}

// Merge returns s with every non-empty field of override applied on top.
func (s Set) Merge(override Set) Set {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	list := func(dst *[]string, v []string) {
		if len(v) > 0 {
			*dst = v
		}
	}

	str(&s.Modal, override.Modal)
	list(&s.Scrollers, override.Scrollers)
	list(&s.CommentSection, override.CommentSection)
	list(&s.Total, override.Total)
	str(&s.TopLevel, override.TopLevel)
	str(&s.Nested, override.Nested)
	str(&s.NestedClass, override.NestedClass)
	str(&s.ShowMore, override.ShowMore)
	str(&s.EndContainer, override.EndContainer)
	list(&s.EndMarkers, override.EndMarkers)
	list(&s.Items, override.Items)

	str(&s.Author, override.Author)
	str(&s.Content, override.Content)
	str(&s.ContentFallback, override.ContentFallback)
	str(&s.Emoji, override.Emoji)
	str(&s.Time, override.Time)
	str(&s.Location, override.Location)
	str(&s.Likes, override.Likes)
	str(&s.Replies, override.Replies)
	str(&s.Avatar, override.Avatar)
	str(&s.Pictures, override.Pictures)

	v := override.Vocab
	list(&s.Vocab.TotalPhrases, v.TotalPhrases)
	list(&s.Vocab.CountWords, v.CountWords)
	list(&s.Vocab.ExpandWords, v.ExpandWords)
	list(&s.Vocab.EndPhrases, v.EndPhrases)
	list(&s.Vocab.FallbackWords, v.FallbackWords)
	str(&s.Vocab.EmojiToken, v.EmojiToken)
	str(&s.Vocab.LikePlaceholder, v.LikePlaceholder)
	str(&s.Vocab.ReplyPlaceholder, v.ReplyPlaceholder)

	return s
}
