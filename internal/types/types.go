package types

// Comment represents one scraped comment or nested reply
type Comment struct {
	ID           int      `json:"id"`
	Username     string   `json:"username"`
	Content      string   `json:"content"`
	Time         string   `json:"time"`
	Likes        int      `json:"likes"`
	Replies      int      `json:"replies"`
	Avatar       string   `json:"avatar"`
	Location     string   `json:"location"`
	IsSubComment bool     `json:"isSubComment"`
	CommentID    string   `json:"commentId"`
	Pictures     []string `json:"pictures"`
}

// Keep reports whether the comment carries anything worth exporting.
func (c Comment) Keep() bool {
	return c.Content != "" || len(c.Pictures) > 0
}

// Settings are the two user toggles persisted between runs
type Settings struct {
	AutoScroll bool `json:"autoScroll"`
	ExportCSV  bool `json:"exportCsv"`
}

// DefaultSettings enables both toggles.
func DefaultSettings() Settings {
	return Settings{AutoScroll: true, ExportCSV: true}
}

// PageMeta identifies the page a session collected from
type PageMeta struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
