package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/bookstalk/internal/config"
	"github.com/IshaanNene/bookstalk/internal/types"
)

const waitSelectorTimeout = 10 * time.Second

const pageCloseTimeout = 5 * time.Second

// BrowserFetcher implements Fetcher using a headless browser via Rod. One
// browser is shared by every caller; each Fetch opens its own page and
// closes it before returning, on every path.
type BrowserFetcher struct {
	browser    *rod.Browser
	cfg        *config.Config
	logger     *slog.Logger
	userAgents *userAgents
}

// NewBrowserFetcher launches a browser and connects to it. Failures wrap
// types.ErrBrowserLaunch.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:        cfg,
		logger:     logger.With("component", "browser_fetcher"),
		userAgents: &userAgents{list: cfg.Engine.UserAgents},
	}

	launchURL, err := bf.launchBrowser()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrBrowserLaunch, err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connect: %w", types.ErrBrowserLaunch, err)
	}
	bf.browser = browser

	bf.logger.Info("browser fetcher ready",
		"headless", cfg.Browser.Headless,
		"stealth", cfg.Browser.Stealth,
	)

	return bf, nil
}

// launchBrowser starts a Chromium instance with appropriate flags.
func (bf *BrowserFetcher) launchBrowser() (string, error) {
	l := launcher.New().
		Headless(bf.cfg.Browser.Headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled")

	if bf.cfg.Browser.NoSandbox {
		l = l.Set("no-sandbox").Set("disable-setuid-sandbox")
	}
	if bf.cfg.Browser.Bin != "" {
		l = l.Bin(bf.cfg.Browser.Bin)
	}
	if bf.cfg.Browser.WindowSize != "" {
		l = l.Set("window-size", bf.cfg.Browser.WindowSize)
	}

	return l.Launch()
}

// Fetch navigates to a URL, settles the page and returns the rendered HTML.
func (bf *BrowserFetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	start := time.Now()
	url := req.URLString()

	page, err := bf.newPage(req)
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: fmt.Errorf("open page: %w", err), Retryable: true}
	}
	defer bf.closePage(page, url)

	page = page.Context(ctx)

	ua := req.Headers.Get("User-Agent")
	if ua == "" {
		ua = bf.userAgents.next()
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		bf.logger.Warn("failed to set user agent", "error", err)
	}

	timeout := req.EffectiveTimeout(bf.cfg.Engine.RequestTimeout)

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return nil, navigationError(url, err)
	}

	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return nil, navigationError(url, ctx.Err())
		}
		bf.logger.Warn("page load timeout, continuing", "url", url, "error", err)
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Debug("page stability timeout, continuing", "url", url, "error", err)
	}

	if err := bf.settle(ctx, page, req.Settle); err != nil {
		return nil, navigationError(url, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: url, Err: err, Retryable: true}
	}

	finalURL := url
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	bf.logger.Debug("browser fetch complete",
		"url", url,
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)

	return types.NewBrowserResponse(req, html, finalURL, duration), nil
}

// closePage closes the tab through the handle returned by newPage, which is
// not bound to the request context, so a cancelled request still closes it.
func (bf *BrowserFetcher) closePage(page *rod.Page, url string) {
	p := page.Timeout(pageCloseTimeout)
	defer p.CancelTimeout()
	if err := p.Close(); err != nil {
		bf.logger.Debug("page close failed", "url", url, "error", err)
	}
}

func (bf *BrowserFetcher) newPage(req *types.Request) (*rod.Page, error) {
	if req.Stealth || bf.cfg.Browser.Stealth {
		return stealth.Page(bf.browser)
	}
	return bf.browser.Page(proto.TargetCreateTarget{})
}

// settle runs the bounded wait-and-scroll sequence so lazily rendered
// content is present. Only cancellation is reported; script and selector
// failures are logged.
func (bf *BrowserFetcher) settle(ctx context.Context, page *rod.Page, s types.Settle) error {
	if err := Sleep(ctx, s.Wait); err != nil {
		return err
	}

	if s.ScrollRatio > 0 {
		if _, err := page.Eval(`(r) => window.scrollTo(0, document.body.scrollHeight * r)`, s.ScrollRatio); err != nil {
			bf.logger.Debug("scroll failed", "error", err)
		}
		if err := Sleep(ctx, s.ScrollPause); err != nil {
			return err
		}
	}

	if s.SecondScroll {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			bf.logger.Debug("scroll failed", "error", err)
		}
		if err := Sleep(ctx, s.ScrollPause); err != nil {
			return err
		}
	}

	if s.WaitSelector != "" {
		if _, err := page.Timeout(waitSelectorTimeout).Element(s.WaitSelector); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bf.logger.Warn("wait selector timeout", "selector", s.WaitSelector, "error", err)
		}
	}

	return nil
}

// navigationError classifies a failed navigation. Cancellation is final;
// deadlines become types.ErrTimeout and may be retried.
func navigationError(url string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &types.FetchError{URL: url, Err: err, Retryable: false}
	case errors.Is(err, context.DeadlineExceeded):
		return &types.FetchError{URL: url, Err: fmt.Errorf("%w: %w", types.ErrTimeout, err), Retryable: true}
	default:
		return &types.FetchError{URL: url, Err: err, Retryable: true}
	}
}

// Close shuts down the browser.
func (bf *BrowserFetcher) Close() error {
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return TypeBrowser
}
