package crawler

import (
	"strings"
	"time"
)

// SourceLink is a detail page URL paired with its listing position.
type SourceLink struct {
	Rank int    `json:"rank"`
	URL  string `json:"url"`
}

// ExtractionResult holds the fields extracted from one detail page. A missing
// element yields an empty string.
type ExtractionResult struct {
	Rank        int    `json:"rank"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// Usable reports whether at least one extracted field is non-empty.
func (r ExtractionResult) Usable() bool {
	for _, v := range []string{r.Title, r.Author, r.ISBN, r.Description, r.ImageURL} {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// CrawlOutcome is the rank-ordered set of retained results for one run.
type CrawlOutcome []ExtractionResult

// Ranks returns the ranks present in the outcome, in order.
func (o CrawlOutcome) Ranks() []int {
	ranks := make([]int, 0, len(o))
	for _, r := range o {
		ranks = append(ranks, r.Rank)
	}
	return ranks
}

// TaskOutcome is the resolution of a single extraction task.
type TaskOutcome struct {
	Link   SourceLink
	Result ExtractionResult
	OK     bool
	Err    error
}

// PageRange is an inclusive range of listing page numbers.
type PageRange struct {
	First   int
	Last    int
	PerPage int
}

// BookRecord is the persisted form of a retained result.
type BookRecord struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	Description   string `json:"description"`
	ImageURL      string `json:"image_url"`
	Ranking       int    `json:"ranking"`
	FavoriteCount int    `json:"favorite_count"`
}

// ToBookRecords converts an outcome into records ready for the ranking store.
func ToBookRecords(outcome CrawlOutcome) []BookRecord {
	records := make([]BookRecord, 0, len(outcome))
	for _, r := range outcome {
		records = append(records, BookRecord{
			Title:       r.Title,
			Author:      r.Author,
			ISBN:        r.ISBN,
			Description: r.Description,
			ImageURL:    r.ImageURL,
			Ranking:     r.Rank,
		})
	}
	return records
}

// StoredBook is a book row read back from the ranking store.
type StoredBook struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn,omitempty"`
	Description   string `json:"description"`
	ImageURL      string `json:"image_url"`
	Ranking       *int   `json:"ranking,omitempty"`
	FavoriteCount int64  `json:"favorite_count"`
}

// RunReport summarizes a pipeline run.
type RunReport struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Discovered  int       `json:"discovered"`
	Retained    int       `json:"retained"`
	Dropped     int       `json:"dropped"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
}

// RefreshEvent is published after a successful handoff.
type RefreshEvent struct {
	RunID       string    `json:"run_id"`
	Count       int       `json:"count"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Readiness selects the navigation event that counts as "page loaded".
type Readiness string

// Supported readiness strategies.
const (
	ReadinessLoad             Readiness = "load"
	ReadinessDOMContentLoaded Readiness = "domcontentloaded"
	ReadinessNetworkIdle      Readiness = "networkidle"
	ReadinessCommit           Readiness = "commit"
)

// Valid reports whether r is a known strategy.
func (r Readiness) Valid() bool {
	switch r {
	case ReadinessLoad, ReadinessDOMContentLoaded, ReadinessNetworkIdle, ReadinessCommit:
		return true
	default:
		return false
	}
}

// Detail page field names.
const (
	FieldTitle       = "title"
	FieldAuthor      = "author"
	FieldISBN        = "isbn"
	FieldDescription = "description"
	FieldImage       = "image"
)

// FieldSpec describes how to read one field from a page. An empty Attribute
// reads the element's trimmed inner text.
type FieldSpec struct {
	Name      string
	Selector  string
	Attribute string
}
