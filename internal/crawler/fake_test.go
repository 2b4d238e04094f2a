package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/user/iap-service/internal/browser"
	"github.com/user/iap-service/internal/domain"
)

type fakeSession struct {
	html        string
	markerAfter int // HasElement calls before the marker shows; negative means never
	checkErrs   int // leading HasElement calls that fail
	navErr      error
	navDelay    time.Duration
	blockNav    bool
	panicOnHTML bool

	onClose func()

	mu      sync.Mutex
	visited []string
	checks  atomic.Int32
	scrolls atomic.Int32
	closes  atomic.Int32
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.visited = append(s.visited, url)
	s.mu.Unlock()

	if s.blockNav {
		<-ctx.Done()
		return fmt.Errorf("%w: %s: %w", browser.ErrNavigation, url, ctx.Err())
	}
	if s.navDelay > 0 {
		if err := sleepCtx(ctx, s.navDelay); err != nil {
			return err
		}
	}
	return s.navErr
}

func (s *fakeSession) HasElement(_ context.Context, selector string) (bool, error) {
	n := int(s.checks.Add(1))
	if n <= s.checkErrs {
		return false, errors.New("execution context was destroyed")
	}
	if s.markerAfter < 0 {
		return false, nil
	}
	return n > s.markerAfter && selector == MarkerSelector, nil
}

func (s *fakeSession) ScrollHalfViewport(context.Context) error {
	s.scrolls.Add(1)
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.panicOnHTML {
		panic("renderer crashed")
	}
	return s.html, nil
}

func (s *fakeSession) Close() error {
	if s.closes.Add(1) == 1 && s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *fakeSession) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// fakeDriver hands out the preconfigured session for a locale, or a fresh
// session rendering fallback when none is configured.
type fakeDriver struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	openErrs map[string]error
	fallback string
	opened   []string

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		sessions: map[string]*fakeSession{},
		openErrs: map[string]error{},
		fallback: storePage("Languages"),
	}
}

func (d *fakeDriver) Open(_ context.Context, locale string) (browser.Session, error) {
	d.mu.Lock()
	d.opened = append(d.opened, locale)
	err := d.openErrs[locale]
	s, ok := d.sessions[locale]
	if !ok && err == nil {
		s = &fakeSession{html: d.fallback, navDelay: 20 * time.Millisecond}
		d.sessions[locale] = s
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	n := d.active.Add(1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	s.onClose = func() { d.active.Add(-1) }
	return s, nil
}

func (d *fakeDriver) openedLocales() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveSnapshots(ctx context.Context, snaps []domain.Snapshot) error {
	args := m.Called(ctx, snaps)
	return args.Error(0)
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string][]domain.ListingItem
	sets  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]domain.ListingItem{}}
}

func (c *memoryCache) key(productID, locale, slug string) string {
	return productID + "|" + locale + "|" + slug
}

func (c *memoryCache) GetListing(_ context.Context, productID, locale, slug string) ([]domain.ListingItem, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.items[c.key(productID, locale, slug)]
	return items, ok, nil
}

func (c *memoryCache) SetListing(_ context.Context, productID, locale, slug string, items []domain.ListingItem, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[c.key(productID, locale, slug)] = items
	c.sets++
	return nil
}

type listingRow struct {
	title, price string
}

// storePage renders an app page whose information list has a "Languages"
// section followed by a section headed heading holding rows.
func storePage(heading string, rows ...listingRow) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>App</title></head><body><section><dl class="information-list">`)
	b.WriteString(`<div class="information-list__item"><dt class="information-list__item__term">Languages</dt><dd>English</dd></div>`)
	b.WriteString(`<div class="information-list__item"><dt class="information-list__item__term">`)
	b.WriteString(heading)
	b.WriteString(`</dt><dd><ol class="list-with-numbers">`)
	for _, r := range rows {
		b.WriteString(`<li class="list-with-numbers__item">`)
		if r.title != "" {
			fmt.Fprintf(&b, `<span class="list-with-numbers__item__title"><span class="truncate-single-line">%s</span></span>`, r.title)
		}
		if r.price != "" {
			fmt.Fprintf(&b, `<span class="list-with-numbers__item__price medium-show-tablecell">%s</span>`, r.price)
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ol></dd></div></dl></section></body></html>`)
	return b.String()
}
