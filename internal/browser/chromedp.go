package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpDriver launches one Chrome process per session through chromedp.
type ChromedpDriver struct {
	opts    Options
	langs   LanguageResolver
	proxies ProxySource
}

func (d *ChromedpDriver) Open(ctx context.Context, locale string) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(d.opts.UserAgent),
		chromedp.WindowSize(d.opts.WindowWidth, d.opts.WindowHeight),
	)
	if d.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(d.opts.ExecPath))
	}
	if p := proxyFor(d.proxies); p != "" {
		opts = append(opts, chromedp.ProxyServer(p))
	}

	// The browser outlives individual calls; Close tears it down.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &chromedpSession{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		navTimeout:  d.opts.NavigationTimeout,
	}

	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": acceptLanguage(d.langs, locale),
		}),
	)
	stop()
	if err != nil {
		_ = s.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return s, nil
}

type chromedpSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	navTimeout  time.Duration

	closeOnce sync.Once
	closeErr  error
}

// bind derives a run context from the tab that is also cancelled with ctx.
// Cancelling the derived context aborts the action without closing the tab.
func (s *chromedpSession) bind(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout <= 0 {
		return runCtx, func() { stop(); cancel() }
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	return timeoutCtx, func() {
		stop()
		cancelTimeout()
		cancel()
	}
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bind(ctx, s.navTimeout)
	defer cancel()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		return navigationError(url, err)
	}
	if resp != nil && resp.Status >= 400 {
		return statusError(url, resp.Status)
	}
	return nil
}

func (s *chromedpSession) HasElement(ctx context.Context, selector string) (bool, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var found bool
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector)), &found),
	)
	return found, err
}

func (s *chromedpSession) ScrollHalfViewport(ctx context.Context) error {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var y float64
	return chromedp.Run(runCtx, chromedp.Evaluate(scrollHalfViewportJS, &y))
}

func (s *chromedpSession) HTML(ctx context.Context) (string, error) {
	runCtx, cancel := s.bind(ctx, 0)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = chromedp.Cancel(s.ctx)
		s.cancelTab()
		s.cancelAlloc()
	})
	return s.closeErr
}
