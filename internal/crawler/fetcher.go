package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/metrics"
	"go.uber.org/zap"
)

// DetailConfig controls how detail pages are loaded and read. ReadySelector
// must match before any field is read; it defaults to "body".
type DetailConfig struct {
	TitleSelector       string        `mapstructure:"title_selector"`
	AuthorSelector      string        `mapstructure:"author_selector"`
	ISBNSelector        string        `mapstructure:"isbn_selector"`
	DescriptionSelector string        `mapstructure:"description_selector"`
	ImageSelector       string        `mapstructure:"image_selector"`
	ImageAttribute      string        `mapstructure:"image_attribute"`
	ReadySelector       string        `mapstructure:"ready_selector"`
	Readiness           Readiness     `mapstructure:"readiness"`
	NavigationTimeout   time.Duration `mapstructure:"navigation_timeout"`
	SelectorTimeout     time.Duration `mapstructure:"selector_timeout"`
	SettleDelay         time.Duration `mapstructure:"settle_delay"`
}

// Validate checks that every selector is set and the timing values are sane.
func (c DetailConfig) Validate() error {
	for key, sel := range map[string]string{
		"detail.title_selector":       c.TitleSelector,
		"detail.author_selector":      c.AuthorSelector,
		"detail.isbn_selector":        c.ISBNSelector,
		"detail.description_selector": c.DescriptionSelector,
		"detail.image_selector":       c.ImageSelector,
	} {
		if err := validateSelector(key, sel); err != nil {
			return err
		}
	}
	if c.ReadySelector != "" {
		if err := validateSelector("detail.ready_selector", c.ReadySelector); err != nil {
			return err
		}
	}
	if !c.Readiness.Valid() {
		return fmt.Errorf("detail.readiness %q is not one of load, domcontentloaded, networkidle, commit", c.Readiness)
	}
	if c.NavigationTimeout <= 0 {
		return errors.New("detail.navigation_timeout must be > 0")
	}
	if c.SelectorTimeout <= 0 {
		return errors.New("detail.selector_timeout must be > 0")
	}
	if c.SettleDelay < 0 {
		return errors.New("detail.settle_delay must be >= 0")
	}
	return nil
}

// FieldSpecs returns the extraction plan for a detail page.
func (c DetailConfig) FieldSpecs() []FieldSpec {
	attr := c.ImageAttribute
	if attr == "" {
		attr = "src"
	}
	return []FieldSpec{
		{Name: FieldTitle, Selector: c.TitleSelector},
		{Name: FieldAuthor, Selector: c.AuthorSelector},
		{Name: FieldISBN, Selector: c.ISBNSelector},
		{Name: FieldDescription, Selector: c.DescriptionSelector},
		{Name: FieldImage, Selector: c.ImageSelector, Attribute: attr},
	}
}

// PageFetcher loads a detail page in an isolated session and extracts the
// configured fields, retrying transient failures per its RetryPolicy.
type PageFetcher struct {
	browser Browser
	cfg     DetailConfig
	specs   []FieldSpec
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewPageFetcher validates its configuration and builds a PageFetcher.
func NewPageFetcher(browser Browser, cfg DetailConfig, retry RetryPolicy, logger *zap.Logger) (*PageFetcher, error) {
	if browser == nil {
		return nil, errors.New("browser is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detail config: %w", err)
	}
	if err := retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageFetcher{
		browser: browser,
		cfg:     cfg,
		specs:   cfg.FieldSpecs(),
		retry:   retry,
		logger:  logger,
	}, nil
}

// Fetch extracts link. An exhausted retry budget or a page without any usable
// field yields ok=false with a nil error; err is only set for permanent
// failures and cancellation of ctx.
func (f *PageFetcher) Fetch(ctx context.Context, link SourceLink) (ExtractionResult, bool, error) {
	if link.URL == "" {
		metrics.ObserveFetchAttempt(link.URL, metrics.AttemptPermanent)
		return ExtractionResult{}, false, Permanent(fmt.Errorf("rank %d: empty url", link.Rank))
	}
	logger := f.logger.With(zap.Int("rank", link.Rank), zap.String("url", link.URL))

	for attempt := 1; ; attempt++ {
		result, err := f.attempt(ctx, link)
		if err == nil {
			metrics.ObserveFetchAttempt(link.URL, metrics.AttemptSuccess)
			if !result.Usable() {
				logger.Debug("detail page yielded no usable fields", zap.Int("attempt", attempt))
				return ExtractionResult{}, false, nil
			}
			return result, true, nil
		}
		if IsPermanent(err) {
			metrics.ObserveFetchAttempt(link.URL, metrics.AttemptPermanent)
			return ExtractionResult{}, false, err
		}
		metrics.ObserveFetchAttempt(link.URL, metrics.AttemptTransient)
		if ctx.Err() != nil {
			return ExtractionResult{}, false, fmt.Errorf("fetch rank %d: %w", link.Rank, ctx.Err())
		}
		if !f.retry.ShouldRetry(err, attempt) {
			logger.Warn("detail page retries exhausted", zap.Int("attempts", attempt), zap.Error(err))
			return ExtractionResult{}, false, nil
		}
		delay := f.retry.Delay(attempt)
		logger.Info("retrying detail page",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return ExtractionResult{}, false, fmt.Errorf("fetch rank %d: %w", link.Rank, err)
		}
	}
}

func (f *PageFetcher) readySelector() string {
	if f.cfg.ReadySelector == "" {
		return "body"
	}
	return f.cfg.ReadySelector
}

func (f *PageFetcher) attempt(ctx context.Context, link SourceLink) (ExtractionResult, error) {
	session, err := f.browser.Open(ctx)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			f.logger.Debug("close session failed", zap.Int("rank", link.Rank), zap.Error(cerr))
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	err = session.Navigate(navCtx, link.URL, f.cfg.Readiness)
	cancel()
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("navigate: %w", err)
	}

	if err := sleepCtx(ctx, f.cfg.SettleDelay); err != nil {
		return ExtractionResult{}, err
	}

	selCtx, cancel := context.WithTimeout(ctx, f.cfg.SelectorTimeout)
	defer cancel()
	if err := session.WaitFor(selCtx, f.readySelector()); err != nil {
		return ExtractionResult{}, fmt.Errorf("wait for document: %w", err)
	}
	fields, err := session.Fields(selCtx, f.specs)
	if err != nil {
		return ExtractionResult{}, fmt.Errorf("extract fields: %w", err)
	}

	return ExtractionResult{
		Rank:        link.Rank,
		Title:       fields[FieldTitle],
		Author:      fields[FieldAuthor],
		ISBN:        fields[FieldISBN],
		Description: fields[FieldDescription],
		ImageURL:    fields[FieldImage],
	}, nil
}
