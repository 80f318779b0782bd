// Package collyfetcher implements crawler.Browser over plain HTTP using gocolly
// and goquery, for sites that render their markup on the server.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Headers       http.Header   `mapstructure:"-"`
}

// Browser implements crawler.Browser using the Colly collector. Sessions
// share one HTTP transport.
type Browser struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Browser.
func New(cfg Config) *Browser {
	// Retries revisit the same URL, so the visited-set must not block them.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)

	return &Browser{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Open returns a fresh session. No network activity happens until Navigate.
func (b *Browser) Open(ctx context.Context) (crawler.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &session{browser: b}, nil
}

type page struct {
	url  string
	body []byte
}

func (b *Browser) fetch(ctx context.Context, rawURL string) (page, error) {
	var (
		result   page
		fetchErr error
	)
	collector := b.baseCollector.Clone()
	collector.Context = ctx
	b.configureCollectorHooks(collector, &result, &fetchErr)
	if err := runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return page{}, err
	}
	if result.body == nil {
		return page{}, errors.New("colly returned no response")
	}
	return result, nil
}

func (b *Browser) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range b.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			url:  r.Request.URL.String(),
			body: append([]byte{}, r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
