package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
)

// RodDriver launches one Chromium process per session through go-rod, with
// the stealth page patches applied.
type RodDriver struct {
	opts    Options
	langs   LanguageResolver
	proxies ProxySource
}

func (d *RodDriver) Open(ctx context.Context, locale string) (Session, error) {
	l := launcher.New().
		Headless(d.opts.Headless).
		NoSandbox(true)
	if d.opts.ExecPath != "" {
		l = l.Bin(d.opts.ExecPath)
	}
	if p := proxyFor(d.proxies); p != "" {
		l = l.Proxy(p)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	s := &rodSession{launcher: l, navTimeout: d.opts.NavigationTimeout}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	s.browser = b

	page, err := stealth.Page(s.browser)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	s.page = page

	lang := acceptLanguage(d.langs, locale)
	setup := page.Context(ctx)
	err = proto.NetworkSetUserAgentOverride{
		UserAgent:      d.opts.UserAgent,
		AcceptLanguage: lang,
	}.Call(setup)
	if err == nil {
		err = proto.NetworkSetExtraHTTPHeaders{
			Headers: proto.NetworkHeaders{"Accept-Language": gson.New(lang)},
		}.Call(setup)
	}
	if err == nil {
		err = setup.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             d.opts.WindowWidth,
			Height:            d.opts.WindowHeight,
			DeviceScaleFactor: 1,
		})
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("configure page: %w", err)
	}
	return s, nil
}

type rodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	p := s.page.Context(navCtx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return navigationError(url, err)
	}
	wait()
	if err := navCtx.Err(); err != nil {
		return navigationError(url, err)
	}

	res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`)
	if err == nil {
		if status := res.Value.Int(); status >= 400 {
			return statusError(url, int64(status))
		}
	}
	return nil
}

func (s *rodSession) HasElement(ctx context.Context, selector string) (bool, error) {
	res, err := s.page.Context(ctx).Eval(`(sel) => document.querySelector(sel) !== null`, selector)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (s *rodSession) ScrollHalfViewport(ctx context.Context) error {
	_, err := s.page.Context(ctx).Eval(`() => (` + scrollHalfViewportJS + `)`)
	return err
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
