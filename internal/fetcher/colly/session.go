package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

var errNoDocument = errors.New("no document loaded")

// session holds one fetched document. Readiness has no effect: the document
// is complete once the body has been read.
type session struct {
	browser *Browser
	doc     *goquery.Document
}

func (s *session) Navigate(ctx context.Context, rawURL string, readiness crawler.Readiness) error {
	if !readiness.Valid() {
		return crawler.Permanent(fmt.Errorf("unknown readiness %q", readiness))
	}
	p, err := s.browser.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.body))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if u, err := url.Parse(p.url); err == nil {
		doc.Url = u
	}
	s.doc = doc
	return nil
}

func (s *session) find(selector string) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, errNoDocument
	}
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return nil, crawler.Permanent(fmt.Errorf("invalid selector %q: %w", selector, err))
	}
	return s.doc.FindMatcher(compiled), nil
}

func (s *session) WaitFor(_ context.Context, selector string) error {
	sel, err := s.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("%q: %w", selector, crawler.ErrSelectorNotFound)
	}
	return nil
}

func (s *session) Fields(_ context.Context, specs []crawler.FieldSpec) (map[string]string, error) {
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		sel, err := s.find(spec.Selector)
		if err != nil {
			return nil, err
		}
		sel = sel.First()
		var v string
		switch {
		case sel.Length() == 0:
		case spec.Attribute != "":
			v = sel.AttrOr(spec.Attribute, "")
		default:
			v = sel.Text()
		}
		out[spec.Name] = strings.TrimSpace(v)
	}
	return out, nil
}

func (s *session) Links(_ context.Context, selector string) ([]string, error) {
	sel, err := s.find(selector)
	if err != nil {
		return nil, err
	}
	hrefs := make([]string, 0, sel.Length())
	sel.Each(func(_ int, el *goquery.Selection) {
		if href, ok := el.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs, nil
}

func (s *session) Close() error {
	s.doc = nil
	return nil
}
