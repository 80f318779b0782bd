// Package headless implements crawler.Browser on a shared headless Chrome
// instance driven by chromedp. Each session is a separate tab.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Config controls the behavior of the headless browser.
type Config struct {
	// MaxTabs caps concurrently open tabs; 0 means unlimited.
	MaxTabs     int           `mapstructure:"max_tabs"`
	UserAgent   string        `mapstructure:"user_agent"`
	ExecPath    string        `mapstructure:"exec_path"`
	NoSandbox   bool          `mapstructure:"no_sandbox"`
	StartupWait time.Duration `mapstructure:"startup_timeout"`
	Headers     http.Header   `mapstructure:"-"`
}

// Browser implements crawler.Browser using chromedp and headless Chrome.
type Browser struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedp creates a browser backed by chromedp. Chrome is launched lazily
// on the first Open.
func NewChromedp(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxTabs < 0 {
		return nil, errors.New("max tabs must be >= 0")
	}
	if cfg.StartupWait <= 0 {
		cfg.StartupWait = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxTabs > 0 {
		limiter = make(chan struct{}, cfg.MaxTabs)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts down Chrome. Open sessions are invalidated.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.browserCtx != nil {
		err = chromedp.Cancel(b.browserCtx)
		b.browserCancel()
		b.browserCtx, b.browserCancel = nil, nil
	}
	b.allocCancel()
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// start launches Chrome on first use and returns the browser context. The
// first Run must not carry a deadline: chromedp binds the Chrome process to
// it. StartupWait is enforced by cancelling the browser instead. A failed
// start is retried by the next Open.
func (b *Browser) start() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browserCtx != nil {
		return b.browserCtx, nil
	}
	if err := b.allocator.Err(); err != nil {
		return nil, fmt.Errorf("start chrome: browser closed: %w", err)
	}

	browserCtx, browserCancel := chromedp.NewContext(b.allocator,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Errorf),
	)
	timer := time.AfterFunc(b.cfg.StartupWait, browserCancel)
	err := chromedp.Run(browserCtx)
	if !timer.Stop() {
		browserCancel()
		return nil, fmt.Errorf("start chrome: no response within %s", b.cfg.StartupWait)
	}
	if err != nil {
		browserCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	b.browserCtx, b.browserCancel = browserCtx, browserCancel
	b.logger.Info("headless chrome started")
	return browserCtx, nil
}

// Open creates a new tab in the shared browser.
func (b *Browser) Open(ctx context.Context) (crawler.Session, error) {
	if err := b.acquire(ctx); err != nil {
		return nil, err
	}
	browserCtx, err := b.start()
	if err != nil {
		b.release()
		return nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	s := &session{
		tab:       tabCtx,
		cancelTab: tabCancel,
		release:   b.release,
	}
	// The tab's event loop lives as long as the context of its first Run, so
	// that Run uses tabCtx itself. ctx only aborts the setup by closing the tab.
	stop := context.AfterFunc(ctx, tabCancel)
	err = chromedp.Run(tabCtx, b.setupAction())
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("open tab: %w", ctxErr)
		}
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return s, nil
}

func (b *Browser) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(b.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(b.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
