package types

// BookStub is the listing-derived identity of a book, before detail enrichment.
type BookStub struct {
	Rank       int               `json:"rank"`
	Title      string            `json:"title"`
	Author     string            `json:"author"`
	CoverImage string            `json:"coverImage"`
	DetailLink string            `json:"detailLink"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// BookDetail holds the long-form fields of a detail page, keyed by the
// source site's own field names (contents, writerInfo, publisherReview, ...).
type BookDetail map[string]string

// Get returns the value for key, or "" when absent.
func (d BookDetail) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// BookRecord is the public, normalized book record persisted per site.
type BookRecord struct {
	Image       string `json:"image"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	WriterInfo  string `json:"writerInfo"`
	Description string `json:"description"`
	Other       string `json:"other"`
}

// Columns returns the record as an ordered row:
// image, link, title, author, writerInfo, description, other.
func (r BookRecord) Columns() []string {
	return []string{r.Image, r.Link, r.Title, r.Author, r.WriterInfo, r.Description, r.Other}
}

// RecordFromColumns builds a record from an ordered row. Missing trailing
// columns are left empty.
func RecordFromColumns(cols []string) BookRecord {
	get := func(i int) string {
		if i < len(cols) {
			return cols[i]
		}
		return ""
	}
	return BookRecord{
		Image:       get(0),
		Link:        get(1),
		Title:       get(2),
		Author:      get(3),
		WriterInfo:  get(4),
		Description: get(5),
		Other:       get(6),
	}
}
