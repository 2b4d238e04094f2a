package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultUserAgent is sent by every session unless overridden in config.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// ErrNavigation marks failures to reach the target page: network or DNS
// errors and HTTP error statuses.
var ErrNavigation = errors.New("navigation failed")

// Session is one isolated browser with a single page. A session is owned by
// exactly one locale fetch.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HasElement(ctx context.Context, selector string) (bool, error)
	ScrollHalfViewport(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	// Close releases the browser. Calling it more than once is a no-op.
	Close() error
}

// Driver opens sessions configured for a locale.
type Driver interface {
	Open(ctx context.Context, locale string) (Session, error)
}

// LanguageResolver maps a locale to the Accept-Language header value.
type LanguageResolver interface {
	AcceptLanguage(locale string) string
}

// ProxySource hands out the proxy for the next session; "" means direct.
type ProxySource interface {
	GetProxy() string
}

type Options struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
}

func DefaultOptions() Options {
	return Options{
		Headless:          true,
		UserAgent:         DefaultUserAgent,
		NavigationTimeout: 60 * time.Second,
		WindowWidth:       1920,
		WindowHeight:      1080,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.UserAgent == "" {
		o.UserAgent = d.UserAgent
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = d.NavigationTimeout
	}
	if o.WindowWidth <= 0 || o.WindowHeight <= 0 {
		o.WindowWidth, o.WindowHeight = d.WindowWidth, d.WindowHeight
	}
	if o.ExecPath == "" {
		o.ExecPath = FindChromeBinary()
	}
	return o
}

// New returns the driver for engine. proxies may be nil.
func New(engine string, opts Options, langs LanguageResolver, proxies ProxySource) (Driver, error) {
	opts = opts.withDefaults()
	switch engine {
	case "", EngineChromedp:
		return &ChromedpDriver{opts: opts, langs: langs, proxies: proxies}, nil
	case EngineRod:
		return &RodDriver{opts: opts, langs: langs, proxies: proxies}, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", engine)
	}
}

// FindChromeBinary locates a Chrome or Chromium executable. It returns ""
// when none is found and the engine should use its own lookup.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func navigationError(url string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
}

func statusError(url string, status int64) error {
	return fmt.Errorf("%w: %s: HTTP %d", ErrNavigation, url, status)
}

func proxyFor(p ProxySource) string {
	if p == nil {
		return ""
	}
	return p.GetProxy()
}

func acceptLanguage(l LanguageResolver, locale string) string {
	if l == nil {
		return "en-US,en;q=0.9"
	}
	return l.AcceptLanguage(locale)
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// scrollHalfViewportJS nudges lazily rendered sections into view.
const scrollHalfViewportJS = `window.scrollBy(0, Math.floor(window.innerHeight / 2)), window.scrollY`
