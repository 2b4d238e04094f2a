package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/iap-service/internal/browser"
	"github.com/user/iap-service/internal/domain"
	"github.com/user/iap-service/internal/locale"
	"github.com/user/iap-service/internal/monitoring"
)

// ResultCache stores successful locale listings between requests.
type ResultCache interface {
	GetListing(ctx context.Context, productID, locale, slug string) ([]domain.ListingItem, bool, error)
	SetListing(ctx context.Context, productID, locale, slug string, items []domain.ListingItem, ttl time.Duration) error
}

// SnapshotStore records successful extractions.
type SnapshotStore interface {
	SaveSnapshots(ctx context.Context, snaps []domain.Snapshot) error
}

type Options struct {
	Host           string
	Workers        int
	LocaleTimeout  time.Duration
	Wait           WaitOptions
	SettleDelay    time.Duration
	CloseGrace     time.Duration
	CacheTTL       time.Duration
	PersistTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Host:           "apps.apple.com",
		Workers:        1,
		LocaleTimeout:  30 * time.Second,
		Wait:           DefaultWaitOptions(),
		SettleDelay:    500 * time.Millisecond,
		CloseGrace:     5 * time.Second,
		CacheTTL:       time.Hour,
		PersistTimeout: 5 * time.Second,
	}
}

// Crawler runs locale fetches against the storefront. cache and store are
// optional; pass nil to disable them.
type Crawler struct {
	opts    Options
	driver  browser.Driver
	catalog *locale.Catalog
	cache   ResultCache
	store   SnapshotStore
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

func NewCrawler(opts Options, d browser.Driver, cat *locale.Catalog, cache ResultCache, store SnapshotStore, m *monitoring.Metrics, l *zap.Logger) *Crawler {
	def := DefaultOptions()
	if opts.Host == "" {
		opts.Host = def.Host
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LocaleTimeout <= 0 {
		opts.LocaleTimeout = def.LocaleTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = def.CloseGrace
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = def.PersistTimeout
	}
	if cat == nil {
		cat = locale.NewCatalog()
	}
	return &Crawler{
		opts:    opts,
		driver:  d,
		catalog: cat,
		cache:   cache,
		store:   store,
		metrics: m,
		logger:  l,
	}
}

type fetchOutcome struct {
	items []domain.ListingItem
	err   error
}

// errLocaleDeadline is the cancellation cause set when a locale's own
// timeout fires, as opposed to the caller's context ending.
var errLocaleDeadline = errors.New("locale deadline exceeded")

// FetchLocale extracts one locale under timeout. It never returns an error:
// every failure becomes the Err of the result. When the timeout wins, the
// in-flight fetch is cancelled and FetchLocale waits up to CloseGrace for its
// session to close. A ctx that is already done fails the locale without
// opening a session.
func (c *Crawler) FetchLocale(ctx context.Context, req domain.ExtractionRequest, timeout time.Duration) domain.LocaleResult {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		res := domain.Failed(c.classify(ctx, err, timeout))
		c.observe(req, res, 0)
		return res
	}

	ctx, cancel := context.WithTimeoutCause(ctx, timeout, errLocaleDeadline)
	defer cancel()

	done := make(chan fetchOutcome, 1)
	go func() {
		items, err := c.runLocale(ctx, req)
		done <- fetchOutcome{items: items, err: err}
	}()

	var out fetchOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		grace := time.NewTimer(c.opts.CloseGrace)
		select {
		case <-done:
		case <-grace.C:
			c.logger.Warn("session teardown exceeded grace period",
				zap.String("locale", req.Locale), zap.Duration("grace", c.opts.CloseGrace))
			c.metrics.IncErrorsTotal("teardown_overrun")
		}
		grace.Stop()
		out = fetchOutcome{err: ctx.Err()}
	}

	var res domain.LocaleResult
	if out.err == nil {
		res = domain.Succeeded(out.items)
	} else {
		res = domain.Failed(c.classify(ctx, out.err, timeout))
	}
	c.observe(req, res, time.Since(start))
	return res
}

func (c *Crawler) runLocale(ctx context.Context, req domain.ExtractionRequest) (items []domain.ListingItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during extraction: %v", r)
		}
	}()

	session, err := c.driver.Open(ctx, req.Locale)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	c.metrics.ActiveSessions.Inc()
	defer func() {
		if cerr := session.Close(); cerr != nil {
			c.logger.Warn("failed to close browser session", zap.String("locale", req.Locale), zap.Error(cerr))
			c.metrics.IncErrorsTotal("session_close")
		}
		c.metrics.ActiveSessions.Dec()
	}()

	url := req.URL(c.opts.Host)
	c.logger.Debug("navigating", zap.String("locale", req.Locale), zap.String("url", url))
	if err := session.Navigate(ctx, url); err != nil {
		return nil, err
	}

	if !AwaitMarker(ctx, session, MarkerSelector, c.opts.Wait) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.logger.Info("readiness marker not found", zap.String("locale", req.Locale), zap.String("url", url))
	}
	if err := sleepCtx(ctx, c.opts.SettleDelay); err != nil {
		return nil, err
	}

	return Extract(ctx, session, c.catalog.LabelsFor(req.Locale), c.logger.With(zap.String("locale", req.Locale)))
}

func (c *Crawler) classify(ctx context.Context, err error, timeout time.Duration) *domain.FetchError {
	switch {
	case errors.Is(context.Cause(ctx), errLocaleDeadline):
		return domain.NewFetchError(domain.KindTimeout, fmt.Sprintf("fetch timed out after %s", timeout), nil)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.NewFetchError(domain.KindTimeout, "request deadline exceeded", nil)
	case ctx.Err() != nil:
		return domain.NewFetchError(domain.KindUnexpected, "fetch cancelled", ctx.Err())
	case errors.Is(err, browser.ErrNavigation):
		return domain.NewFetchError(domain.KindNavigation, "", err)
	default:
		return domain.NewFetchError(domain.KindUnexpected, "", err)
	}
}

func (c *Crawler) observe(req domain.ExtractionRequest, res domain.LocaleResult, elapsed time.Duration) {
	outcome := "success"
	switch {
	case res.Err != nil:
		outcome = string(res.Err.Kind)
		c.logger.Warn("locale fetch failed",
			zap.String("product_id", string(req.ProductID)),
			zap.String("locale", req.Locale),
			zap.String("kind", outcome),
			zap.Error(res.Err),
			zap.Duration("elapsed", elapsed))
	case len(res.Items) == 0:
		outcome = "empty"
		c.logger.Info("no in-app purchase section",
			zap.String("product_id", string(req.ProductID)), zap.String("locale", req.Locale))
	default:
		c.logger.Info("locale fetched",
			zap.String("product_id", string(req.ProductID)),
			zap.String("locale", req.Locale),
			zap.Int("items", len(res.Items)),
			zap.Duration("elapsed", elapsed))
	}
	c.metrics.ObserveLocaleFetch(outcome, elapsed.Seconds())
	c.metrics.AddItems(len(res.Items))
}

// FetchAll fetches every locale, each under its own LocaleTimeout, with at
// most Workers sessions open at once. Codes are matched case-insensitively:
// the result holds one entry per distinct locale, in request order, keyed by
// the first spelling the caller used. Fetches, cache entries and snapshots
// use the lower-cased code.
func (c *Crawler) FetchAll(ctx context.Context, productID domain.ProductID, locales []string, slug string) *domain.AggregateResult {
	targets := dedupeLocales(locales)
	codes := make([]string, len(targets))
	for i, t := range targets {
		codes[i] = t.code
	}
	runID := uuid.NewString()
	logger := c.logger.With(zap.String("run_id", runID), zap.String("product_id", string(productID)))
	logger.Info("starting multi-locale fetch", zap.Strings("locales", codes), zap.Int("workers", c.opts.Workers))

	results := make([]domain.LocaleResult, len(targets))
	fresh := make([]bool, len(targets))

	// A plain Group: one locale failing must not cancel the others.
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, code := range codes {
		req := domain.ExtractionRequest{ProductID: productID, Locale: code, Slug: slug}
		g.Go(func() error {
			results[i], fresh[i] = c.fetchCached(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	agg := domain.NewAggregateResult(len(targets))
	var snaps []domain.Snapshot
	now := time.Now().UTC()
	for i, t := range targets {
		agg.Set(t.key, results[i])
		if fresh[i] && results[i].OK() {
			snaps = append(snaps, domain.Snapshot{
				RunID:      runID,
				ProductID:  string(productID),
				Locale:     t.code,
				URL:        domain.ExtractionRequest{ProductID: productID, Locale: t.code, Slug: slug}.URL(c.opts.Host),
				Items:      results[i].Items,
				CapturedAt: now,
			})
		}
	}
	c.persist(ctx, logger, snaps)
	return agg
}

// fetchCached serves from the cache when possible. The bool reports whether
// the result came from a browser fetch.
func (c *Crawler) fetchCached(ctx context.Context, req domain.ExtractionRequest) (domain.LocaleResult, bool) {
	pid := string(req.ProductID)
	if c.cache != nil && ctx.Err() == nil {
		items, ok, err := c.cache.GetListing(ctx, pid, req.Locale, req.Slug)
		switch {
		case err != nil:
			c.logger.Warn("cache read failed", zap.String("locale", req.Locale), zap.Error(err))
			c.metrics.IncErrorsTotal("cache_read")
		case ok:
			c.metrics.CacheHits.Inc()
			return domain.Succeeded(items), false
		}
	}

	res := c.FetchLocale(ctx, req, c.opts.LocaleTimeout)

	// Empty listings are not cached; the section may simply not have rendered.
	if c.cache != nil && res.OK() && len(res.Items) > 0 {
		if err := c.cache.SetListing(ctx, pid, req.Locale, req.Slug, res.Items, c.opts.CacheTTL); err != nil {
			c.logger.Warn("cache write failed", zap.String("locale", req.Locale), zap.Error(err))
			c.metrics.IncErrorsTotal("cache_write")
		}
	}
	return res, true
}

func (c *Crawler) persist(ctx context.Context, logger *zap.Logger, snaps []domain.Snapshot) {
	if c.store == nil || len(snaps) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PersistTimeout)
	defer cancel()
	if err := c.store.SaveSnapshots(ctx, snaps); err != nil {
		logger.Error("failed to save snapshots", zap.Int("count", len(snaps)), zap.Error(err))
		c.metrics.IncErrorsTotal("snapshot_save")
	}
}

type localeTarget struct {
	key  string // caller's spelling, trimmed
	code string // lower-cased
}

func dedupeLocales(locales []string) []localeTarget {
	seen := make(map[string]struct{}, len(locales))
	out := make([]localeTarget, 0, len(locales))
	for _, l := range locales {
		key := strings.TrimSpace(l)
		code := strings.ToLower(key)
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, localeTarget{key: key, code: code})
	}
	return out
}
