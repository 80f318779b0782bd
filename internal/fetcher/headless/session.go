package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/bestseller-crawler/internal/crawler"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Lifecycle event names reported by Page.lifecycleEvent.
const (
	lifecycleDOMContentLoaded = "DOMContentLoaded"
	lifecycleNetworkIdle      = "networkIdle"
)

type session struct {
	tab       context.Context
	cancelTab context.CancelFunc
	release   func()
	closeOnce sync.Once
}

// run executes actions on the tab, bounded by ctx. Cancelling a context
// derived from the tab aborts the actions without closing the tab.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("chromedp run: %w", ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, rawURL string, readiness crawler.Readiness) error {
	switch readiness {
	case crawler.ReadinessLoad:
		return s.run(ctx, chromedp.Navigate(rawURL))
	case crawler.ReadinessCommit:
		return s.run(ctx, navigateCommit(rawURL))
	case crawler.ReadinessDOMContentLoaded:
		return s.navigateLifecycle(ctx, rawURL, lifecycleDOMContentLoaded)
	case crawler.ReadinessNetworkIdle:
		return s.navigateLifecycle(ctx, rawURL, lifecycleNetworkIdle)
	default:
		return crawler.Permanent(fmt.Errorf("unknown readiness %q", readiness))
	}
}

// navigateCommit returns as soon as the browser accepted the navigation.
func navigateCommit(rawURL string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errText != "" {
			return fmt.Errorf("page load error %s", errText)
		}
		return nil
	}
}

// navigateLifecycle navigates and waits for the named lifecycle event of the
// new document.
func (s *session) navigateLifecycle(ctx context.Context, rawURL, event string) error {
	listenCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	loaders := make(chan cdp.LoaderID, 32)
	chromedp.ListenTarget(listenCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == event {
			select {
			case loaders <- e.LoaderID:
			default:
			}
		}
	})

	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		_, loaderID, errText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errText != "" {
			return fmt.Errorf("page load error %s", errText)
		}
		for {
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait for %s: %w", event, ctx.Err())
			case id := <-loaders:
				// Same-document navigations report no new loader.
				if loaderID == "" || id == loaderID {
					return nil
				}
			}
		}
	}))
}

func (s *session) WaitFor(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%q: %w: %w", selector, crawler.ErrSelectorNotFound, err)
	}
	return nil
}

type fieldQuery struct {
	Name      string `json:"name"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute,omitempty"`
}

const fieldsScript = `(() => {
	const specs = %s;
	const out = {};
	for (const s of specs) {
		const el = document.querySelector(s.selector);
		let v = '';
		if (el) {
			v = s.attribute ? el.getAttribute(s.attribute) : el.innerText;
		}
		out[s.name] = (v || '').trim();
	}
	return out;
})()`

func (s *session) Fields(ctx context.Context, specs []crawler.FieldSpec) (map[string]string, error) {
	queries := make([]fieldQuery, 0, len(specs))
	for _, spec := range specs {
		queries = append(queries, fieldQuery{Name: spec.Name, Selector: spec.Selector, Attribute: spec.Attribute})
	}
	encoded, err := json.Marshal(queries)
	if err != nil {
		return nil, crawler.Permanent(fmt.Errorf("encode field specs: %w", err))
	}
	out := map[string]string{}
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(fieldsScript, encoded), &out)); err != nil {
		return nil, err
	}
	return out, nil
}

const linksScript = `Array.from(document.querySelectorAll(%s)).map(e => e.getAttribute('href'))`

func (s *session) Links(ctx context.Context, selector string) ([]string, error) {
	encoded, err := json.Marshal(selector)
	if err != nil {
		return nil, crawler.Permanent(fmt.Errorf("encode selector: %w", err))
	}
	var hrefs []*string
	if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf(linksScript, encoded), &hrefs)); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		if href == nil {
			continue
		}
		out = append(out, *href)
	}
	return out, nil
}

// Close closes the tab and frees its slot. It is idempotent.
func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(s.tab); cerr != nil {
			err = fmt.Errorf("close tab: %w", cerr)
		}
		s.cancelTab()
		if s.release != nil {
			s.release()
		}
	})
	return err
}
