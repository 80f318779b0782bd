package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/gocolly/colly/v2"
)

const detailHTML = `<html><body>
<h1 class="prod_title">  The Go Programming Language </h1>
<div class="author">Donovan, Kernighan</div>
<div id="scrollSpyProdInfo"><div class="product_detail_area basic_info"><table><tbody>
<tr><td>9780134190440</td></tr><tr><td>380 pages</td></tr>
</tbody></table></div></div>
<div class="portrait_img_box"><img src="/img/gopl.jpg"></div>
</body></html>`

const listingHTML = `<html><body>
<div class="ml-4"><a class="prod_link" href="/detail/1">one</a></div>
<div class="ml-4"><a class="prod_link">no href</a></div>
<div class="ml-4"><a class="prod_link" href="https://other.example/detail/2">two</a></div>
<div class="ml-5"><a class="prod_link" href="/detail/ignored">ignored</a></div>
</body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/detail/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "yes" {
			http.Error(w, "missing header", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, detailHTML)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingHTML)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, detailHTML)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func detailSpecs() []crawler.FieldSpec {
	return []crawler.FieldSpec{
		{Name: crawler.FieldTitle, Selector: ".prod_title"},
		{Name: crawler.FieldAuthor, Selector: ".author"},
		{Name: crawler.FieldISBN, Selector: "#scrollSpyProdInfo .product_detail_area.basic_info table tbody tr:nth-child(1) td"},
		{Name: crawler.FieldDescription, Selector: ".intro_bottom"},
		{Name: crawler.FieldImage, Selector: ".portrait_img_box img", Attribute: "src"},
	}
}

func TestSessionExtractsDetailFields(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	b := New(Config{Headers: http.Header{"X-Trace": {"yes"}}, Timeout: time.Second})
	s, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	// Navigating twice mirrors a retry of the same URL.
	for i := 0; i < 2; i++ {
		if err := s.Navigate(context.Background(), srv.URL+"/detail/1", crawler.ReadinessCommit); err != nil {
			t.Fatalf("Navigate() attempt %d error = %v", i+1, err)
		}
	}
	fields, err := s.Fields(context.Background(), detailSpecs())
	if err != nil {
		t.Fatalf("Fields() error = %v", err)
	}
	want := map[string]string{
		crawler.FieldTitle:       "The Go Programming Language",
		crawler.FieldAuthor:      "Donovan, Kernighan",
		crawler.FieldISBN:        "9780134190440",
		crawler.FieldDescription: "",
		crawler.FieldImage:       "/img/gopl.jpg",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, fields[k], v)
		}
	}
}

func TestSessionListsLinksInDocumentOrder(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, err := New(Config{}).Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Navigate(context.Background(), srv.URL+"/listing", crawler.ReadinessNetworkIdle); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if err := s.WaitFor(context.Background(), "div.ml-4 > .prod_link"); err != nil {
		t.Fatalf("WaitFor() error = %v", err)
	}
	links, err := s.Links(context.Background(), "div.ml-4 > .prod_link")
	if err != nil {
		t.Fatalf("Links() error = %v", err)
	}
	if len(links) != 2 || links[0] != "/detail/1" || links[1] != "https://other.example/detail/2" {
		t.Fatalf("unexpected links: %v", links)
	}
	if err := s.WaitFor(context.Background(), ".missing"); !errors.Is(err, crawler.ErrSelectorNotFound) {
		t.Fatalf("expected ErrSelectorNotFound, got %v", err)
	}
	if err := s.WaitFor(context.Background(), "div[[x"); !crawler.IsPermanent(err) {
		t.Fatalf("expected permanent error for invalid selector, got %v", err)
	}
}

func TestSessionHTTPErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, _ := New(Config{}).Open(context.Background())
	err := s.Navigate(context.Background(), srv.URL+"/missing", crawler.ReadinessLoad)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if crawler.IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if _, err := s.Fields(context.Background(), detailSpecs()); !errors.Is(err, errNoDocument) {
		t.Fatalf("expected errNoDocument, got %v", err)
	}
}

func TestSessionNavigateHonorsDeadline(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s, _ := New(Config{}).Open(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Navigate(ctx, srv.URL+"/slow", crawler.ReadinessLoad)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSessionRejectsUnknownReadiness(t *testing.T) {
	t.Parallel()

	s, _ := New(Config{}).Open(context.Background())
	err := s.Navigate(context.Background(), "http://127.0.0.1:1/", crawler.Readiness("eventually"))
	if !crawler.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestOpenCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(Config{}).Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	b := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	b.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("X-Trace") != "yes" {
		t.Fatalf("expected header propagation, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/final"),
		},
	})
	if result.url != "https://example.com/final" || string(result.body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	if fetchErr == nil || fetchErr.Error() != "status 502: Bad Gateway" {
		t.Fatalf("expected status in fetchErr, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
