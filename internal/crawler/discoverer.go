package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ListingConfig describes the paginated listing source.
type ListingConfig struct {
	URLTemplate       string        `mapstructure:"url_template"`
	FirstPage         int           `mapstructure:"first_page"`
	LastPage          int           `mapstructure:"last_page"`
	PerPage           int           `mapstructure:"per_page"`
	LinkSelector      string        `mapstructure:"link_selector"`
	Readiness         Readiness     `mapstructure:"readiness"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout"`
}

// Pages returns the configured page range.
func (c ListingConfig) Pages() PageRange {
	return PageRange{First: c.FirstPage, Last: c.LastPage, PerPage: c.PerPage}
}

// Validate checks the listing configuration.
func (c ListingConfig) Validate() error {
	if !strings.Contains(c.URLTemplate, "{page}") {
		return errors.New("listing.url_template must contain {page}")
	}
	if err := c.Pages().Validate(); err != nil {
		return err
	}
	if err := validateSelector("listing.link_selector", c.LinkSelector); err != nil {
		return err
	}
	if !c.Readiness.Valid() {
		return fmt.Errorf("listing.readiness %q is not one of load, domcontentloaded, networkidle, commit", c.Readiness)
	}
	if c.NavigationTimeout <= 0 {
		return errors.New("listing.navigation_timeout must be > 0")
	}
	if c.SelectorTimeout <= 0 {
		return errors.New("listing.selector_timeout must be > 0")
	}
	return nil
}

// Validate checks that 1 <= First <= Last.
func (r PageRange) Validate() error {
	if r.First < 1 {
		return fmt.Errorf("listing.first_page must be >= 1, got %d", r.First)
	}
	if r.Last < r.First {
		return fmt.Errorf("listing.last_page (%d) must be >= listing.first_page (%d)", r.Last, r.First)
	}
	if r.PerPage < 1 {
		return fmt.Errorf("listing.per_page must be >= 1, got %d", r.PerPage)
	}
	return nil
}

// ListingURL expands the template for a page number.
func (c ListingConfig) ListingURL(page, perPage int) string {
	return strings.NewReplacer(
		"{page}", strconv.Itoa(page),
		"{per}", strconv.Itoa(perPage),
	).Replace(c.URLTemplate)
}

// ListingDiscoverer walks listing pages in order and numbers every detail
// link it finds with one running rank counter.
type ListingDiscoverer struct {
	browser Browser
	cfg     ListingConfig
	logger  *zap.Logger
}

// NewListingDiscoverer validates cfg and builds a discoverer.
func NewListingDiscoverer(browser Browser, cfg ListingConfig, logger *zap.Logger) (*ListingDiscoverer, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("listing config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingDiscoverer{browser: browser, cfg: cfg, logger: logger}, nil
}

// Discover returns the detail links for pages, ranked from 1. Any failure is
// fatal and wraps ErrDiscovery.
func (d *ListingDiscoverer) Discover(ctx context.Context, pages PageRange) ([]SourceLink, error) {
	if err := pages.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, Permanent(err))
	}
	links := make([]SourceLink, 0, (pages.Last-pages.First+1)*pages.PerPage)
	rank := 0
	for page := pages.First; page <= pages.Last; page++ {
		listingURL := d.cfg.ListingURL(page, pages.PerPage)
		hrefs, err := d.listPage(ctx, listingURL)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %w", ErrDiscovery, page, err)
		}
		base, err := url.Parse(listingURL)
		if err != nil {
			return nil, fmt.Errorf("%w: parse listing url: %w", ErrDiscovery, err)
		}
		found := 0
		for _, href := range hrefs {
			href = strings.TrimSpace(href)
			if href == "" {
				continue
			}
			ref, err := url.Parse(href)
			if err != nil {
				d.logger.Warn("skipping malformed detail link", zap.Int("page", page), zap.String("href", href), zap.Error(err))
				continue
			}
			rank++
			found++
			links = append(links, SourceLink{Rank: rank, URL: base.ResolveReference(ref).String()})
		}
		d.logger.Info("listing page discovered",
			zap.Int("page", page),
			zap.Int("links", found),
			zap.String("url", listingURL),
		)
	}
	return links, nil
}

func (d *ListingDiscoverer) listPage(ctx context.Context, listingURL string) ([]string, error) {
	session, err := d.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			d.logger.Debug("close session failed", zap.Error(cerr))
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	err = session.Navigate(navCtx, listingURL, d.cfg.Readiness)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", listingURL, err)
	}

	selCtx, cancel := context.WithTimeout(ctx, d.cfg.SelectorTimeout)
	defer cancel()
	if err := session.WaitFor(selCtx, d.cfg.LinkSelector); err != nil {
		return nil, fmt.Errorf("wait for %q: %w", d.cfg.LinkSelector, err)
	}
	hrefs, err := session.Links(selCtx, d.cfg.LinkSelector)
	if err != nil {
		return nil, fmt.Errorf("read links: %w", err)
	}
	return hrefs, nil
}
