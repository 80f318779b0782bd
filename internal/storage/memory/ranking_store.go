package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
)

// RankingStore mirrors the Postgres ranking table in memory.
type RankingStore struct {
	mu     sync.RWMutex
	books  []crawler.StoredBook
	nextID int64
	// failOn, when set, makes SaveBestsellers fail for that rank.
	failOn func(crawler.BookRecord) error
}

// NewRankingStore constructs an empty RankingStore.
func NewRankingStore() *RankingStore {
	return &RankingStore{nextID: 1}
}

// FailOn installs a hook that can reject individual records. The batch is
// discarded when the hook returns an error.
func (s *RankingStore) FailOn(fn func(crawler.BookRecord) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

// SaveBestsellers clears every ranking and applies the batch. Books are
// matched by ISBN; a record without one is always inserted. Nothing changes
// when any record is rejected.
func (s *RankingStore) SaveBestsellers(_ context.Context, records []crawler.BookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]crawler.StoredBook, len(s.books))
	copy(staged, s.books)
	nextID := s.nextID
	for i := range staged {
		staged[i].Ranking = nil
	}

	byISBN := make(map[string]int, len(staged))
	for i, b := range staged {
		if b.ISBN != "" {
			byISBN[b.ISBN] = i
		}
	}

	for _, rec := range records {
		if s.failOn != nil {
			if err := s.failOn(rec); err != nil {
				return err
			}
		}
		rank := rec.Ranking
		isbn := strings.TrimSpace(rec.ISBN)
		if idx, ok := byISBN[isbn]; ok && isbn != "" {
			staged[idx].Ranking = &rank
			continue
		}
		staged = append(staged, crawler.StoredBook{
			ID:            nextID,
			Title:         rec.Title,
			Author:        rec.Author,
			ISBN:          isbn,
			Description:   rec.Description,
			ImageURL:      rec.ImageURL,
			Ranking:       &rank,
			FavoriteCount: int64(rec.FavoriteCount),
		})
		if isbn != "" {
			byISBN[isbn] = len(staged) - 1
		}
		nextID++
	}

	s.books = staged
	s.nextID = nextID
	return nil
}

// ListRanked returns every book that currently holds a ranking, ascending.
func (s *RankingStore) ListRanked(_ context.Context) ([]crawler.StoredBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ranked []crawler.StoredBook
	for _, b := range s.books {
		if b.Ranking == nil {
			continue
		}
		r := *b.Ranking
		b.Ranking = &r
		ranked = append(ranked, b)
	}
	sort.Slice(ranked, func(i, j int) bool { return *ranked[i].Ranking < *ranked[j].Ranking })
	return ranked, nil
}

// Len reports the total number of stored books, ranked or not.
func (s *RankingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
