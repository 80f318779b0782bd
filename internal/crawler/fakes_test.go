package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

type fakePage struct {
	links      []string
	fields     map[string]string
	failFirst  int
	alwaysFail bool
	panics     bool
	// loadingFor makes WaitFor time out on the first loadingFor navigations.
	loadingFor int
	waited     []string
}

type fakeBrowser struct {
	mu          sync.Mutex
	pages       map[string]*fakePage
	navigations map[string]int
	opened      int
	closed      int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:       make(map[string]*fakePage),
		navigations: make(map[string]int),
	}
}

func (b *fakeBrowser) add(url string, page *fakePage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = page
}

func (b *fakeBrowser) attempts(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.navigations[url]
}

func (b *fakeBrowser) waits(url string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.pages[url].waited...)
}

func (b *fakeBrowser) sessions() (opened, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened, b.closed
}

func (b *fakeBrowser) Open(context.Context) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened++
	return &fakeSession{browser: b}, nil
}

type fakeSession struct {
	browser *fakeBrowser
	page    *fakePage
	nav     int
}

func (s *fakeSession) Navigate(_ context.Context, rawURL string, _ Readiness) error {
	s.browser.mu.Lock()
	s.browser.navigations[rawURL]++
	n := s.browser.navigations[rawURL]
	page, ok := s.browser.pages[rawURL]
	s.browser.mu.Unlock()
	if !ok {
		return errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	}
	if page.panics {
		panic("renderer crashed")
	}
	if page.alwaysFail || n <= page.failFirst {
		return fmt.Errorf("navigation timeout: %w", context.DeadlineExceeded)
	}
	s.page = page
	s.nav = n
	return nil
}

func (s *fakeSession) WaitFor(_ context.Context, selector string) error {
	if s.page == nil || (len(s.page.links) == 0 && s.page.fields == nil) {
		return fmt.Errorf("%q: %w", selector, ErrSelectorNotFound)
	}
	s.browser.mu.Lock()
	s.page.waited = append(s.page.waited, selector)
	s.browser.mu.Unlock()
	if s.nav <= s.page.loadingFor {
		return fmt.Errorf("%q: %w: %w", selector, ErrSelectorNotFound, context.DeadlineExceeded)
	}
	return nil
}

func (s *fakeSession) Fields(_ context.Context, specs []FieldSpec) (map[string]string, error) {
	if s.page == nil {
		return nil, errors.New("no document")
	}
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		out[spec.Name] = s.page.fields[spec.Name]
	}
	return out, nil
}

func (s *fakeSession) Links(context.Context, string) ([]string, error) {
	if s.page == nil {
		return nil, errors.New("no document")
	}
	return append([]string(nil), s.page.links...), nil
}

func (s *fakeSession) Close() error {
	s.browser.mu.Lock()
	defer s.browser.mu.Unlock()
	s.browser.closed++
	return nil
}

type recordingStore struct {
	mu      sync.Mutex
	calls   int
	records []BookRecord
	err     error
}

func (s *recordingStore) SaveBestsellers(_ context.Context, records []BookRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.records = append([]BookRecord(nil), records...)
	return nil
}

func (s *recordingStore) ListRanked(context.Context) ([]StoredBook, error) {
	return nil, nil
}

type recordingBlobStore struct {
	mu   sync.Mutex
	objs map[string][]byte
	err  error
}

func (s *recordingBlobStore) PutObject(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if s.objs == nil {
		s.objs = make(map[string][]byte)
	}
	s.objs[path] = data
	return "memory://" + path, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("msg-%d", len(p.payloads)), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticIDs struct{ id string }

func (g staticIDs) NewID() (string, error) { return g.id, nil }

const testListingTemplate = "https://books.example.test/bestseller?page={page}&per={per}"

func detailURL(rank int) string {
	return fmt.Sprintf("https://books.example.test/detail/%d", rank)
}

func fullFields(rank int) map[string]string {
	return map[string]string{
		FieldTitle:       fmt.Sprintf("Title %d", rank),
		FieldAuthor:      fmt.Sprintf("Author %d", rank),
		FieldISBN:        fmt.Sprintf("97800000%05d", rank),
		FieldDescription: "A book.",
		FieldImage:       fmt.Sprintf("https://img.example.test/%d.jpg", rank),
	}
}

// seedListing registers pages*perPage detail pages on b behind listing pages.
// Links on even pages are relative to exercise href resolution.
func seedListing(b *fakeBrowser, cfg ListingConfig, pages, perPage int) {
	rank := 0
	for page := 1; page <= pages; page++ {
		links := make([]string, 0, perPage)
		for i := 0; i < perPage; i++ {
			rank++
			if page%2 == 0 {
				links = append(links, fmt.Sprintf("/detail/%d", rank))
			} else {
				links = append(links, detailURL(rank))
			}
			b.add(detailURL(rank), &fakePage{fields: fullFields(rank)})
		}
		b.add(cfg.ListingURL(page, perPage), &fakePage{links: links})
	}
}

func testListingConfig() ListingConfig {
	return ListingConfig{
		URLTemplate:       testListingTemplate,
		FirstPage:         1,
		LastPage:          2,
		PerPage:           50,
		LinkSelector:      "div.ml-4 > .prod_link",
		Readiness:         ReadinessLoad,
		NavigationTimeout: time.Second,
		SelectorTimeout:   time.Second,
	}
}

func testDetailConfig() DetailConfig {
	return DetailConfig{
		TitleSelector:       ".prod_title",
		AuthorSelector:      ".author",
		ISBNSelector:        ".isbn",
		DescriptionSelector: ".intro_bottom",
		ImageSelector:       ".portrait_img_box img",
		ImageAttribute:      "src",
		Readiness:           ReadinessCommit,
		NavigationTimeout:   time.Second,
		SelectorTimeout:     time.Second,
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Multiplier: 1}
}
