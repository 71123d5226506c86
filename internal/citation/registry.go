// Package citation tracks the web sources cited during a run and renders
// bibliographies in several styles.
package citation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Citation describes one cited source. IDs are unique within a run.
type Citation struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	AccessedDate    time.Time `json:"accessed_date"`
	Authors         []string  `json:"authors,omitempty"`
	PublicationDate string    `json:"publication_date,omitempty"`
	SourceType      string    `json:"source_type"`
}

// Registry assigns sequential citation ids and owns the run's citation set.
// It is mutated only by the Grounder's retrieval pass, which runs
// sequentially, so no locking is needed.
type Registry struct {
	byID  map[string]Citation
	byURL map[string]string
	next  int
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byID:  map[string]Citation{},
		byURL: map[string]string{},
		next:  1,
		now:   time.Now,
	}
}

// Register records a source and returns its citation id. Re-registering a URL
// returns the existing id instead of minting a new one.
func (r *Registry) Register(title, url, sourceType string) string {
	if url != "" {
		if id, ok := r.byURL[url]; ok {
			return id
		}
	}
	id := fmt.Sprintf("cite%d", r.next)
	r.next++
	r.byID[id] = Citation{
		ID:           id,
		Title:        title,
		URL:          url,
		AccessedDate: r.now().UTC(),
		SourceType:   sourceType,
	}
	if url != "" {
		r.byURL[url] = id
	}
	return id
}

// Get returns the citation for an id.
func (r *Registry) Get(id string) (Citation, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns the citations ordered by id sequence.
func (r *Registry) All() []Citation {
	out := make([]Citation, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return citationSeq(out[i].ID) < citationSeq(out[j].ID)
	})
	return out
}

// Len returns the number of registered citations.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Validate reports citations missing a title or URL. A clean registry
// returns nil.
func (r *Registry) Validate() []string {
	var problems []string
	for _, c := range r.All() {
		if c.Title == "" {
			problems = append(problems, fmt.Sprintf("%s: missing title", c.ID))
		}
		if c.URL == "" {
			problems = append(problems, fmt.Sprintf("%s: missing url", c.ID))
		}
	}
	return problems
}

// Style selects a bibliography format.
type Style string

const (
	StyleAPA   Style = "apa"
	StyleIEEE  Style = "ieee"
	StyleMLA   Style = "mla"
	StylePlain Style = "plain"
)

// Bibliography renders all citations in the requested style, one entry per
// line, in registration order.
func (r *Registry) Bibliography(style Style) string {
	citations := r.All()
	if len(citations) == 0 {
		return ""
	}
	lines := make([]string, 0, len(citations))
	for i, c := range citations {
		lines = append(lines, formatEntry(i+1, c, style))
	}
	return strings.Join(lines, "\n")
}

func formatEntry(n int, c Citation, style Style) string {
	title := c.Title
	if title == "" {
		title = "Untitled"
	}
	accessed := c.AccessedDate.Format("January 2, 2006")

	switch style {
	case StyleAPA:
		author := joinAuthors(c.Authors)
		if author == "" {
			author = title + "."
			return fmt.Sprintf("%s Retrieved %s, from %s", author, accessed, c.URL)
		}
		return fmt.Sprintf("%s %s. Retrieved %s, from %s", author, title, accessed, c.URL)
	case StyleIEEE:
		return fmt.Sprintf("[%d] \"%s,\" %s (accessed %s).", n, title, c.URL, c.AccessedDate.Format("Jan. 2, 2006"))
	case StyleMLA:
		return fmt.Sprintf("\"%s.\" Web. %s. <%s>.", title, accessed, c.URL)
	default:
		return fmt.Sprintf("[%s] %s - %s (accessed %s)", c.ID, title, c.URL, c.AccessedDate.Format("2006-01-02"))
	}
}

func joinAuthors(authors []string) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0] + "."
	case 2:
		return authors[0] + " & " + authors[1] + "."
	default:
		return authors[0] + " et al."
	}
}

// InlineMarker returns the [Source N] label used in prompts and artifact
// text for the 1-based position n within a question's evidence list.
func InlineMarker(n int) string {
	return fmt.Sprintf("[Source %d]", n)
}

func citationSeq(id string) int {
	var n int
	_, err := fmt.Sscanf(id, "cite%d", &n)
	if err != nil {
		return 0
	}
	return n
}
