package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/iap-service/internal/config"
	"github.com/user/iap-service/internal/domain"
	"github.com/user/iap-service/internal/monitoring"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchAll(ctx context.Context, productID domain.ProductID, locales []string, slug string) *domain.AggregateResult {
	args := m.Called(ctx, productID, locales, slug)
	return args.Get(0).(*domain.AggregateResult)
}

type panickingFetcher struct{}

func (panickingFetcher) FetchAll(context.Context, domain.ProductID, []string, string) *domain.AggregateResult {
	panic("driver exploded")
}

type stubSnapshots struct {
	snap *domain.Snapshot
	err  error
}

func (s stubSnapshots) LatestSnapshot(context.Context, string, string) (*domain.Snapshot, error) {
	return s.snap, s.err
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:     "0",
		CrawlWorkers:   1,
		LocaleTimeout:  30,
		CloseGrace:     5,
		RequestTimeout: 30,
		MaxLocales:     3,
		AllowedOrigins: "*",
	}
}

func newTestServer(cfg *config.Config, f Fetcher, snaps SnapshotReader, deps map[string]Pinger) *Server {
	return NewServer(cfg, f, snaps, deps, monitoring.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleFetchRejectsInvalidLocales(t *testing.T) {
	f := &mockFetcher{}
	s := newTestServer(testConfig(), f, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"productId":"1","countries":["usa","1x"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "usa")
	assert.Contains(t, body["error"], "1x")
	f.AssertNotCalled(t, "FetchAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleFetchRejectsStructuralErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"missing product", `{"locales":["us"]}`, "productId is required"},
		{"missing locales", `{"productId":"1"}`, "locales must be a non-empty list"},
		{"empty locales", `{"appId":"1","countries":[]}`, "locales must be a non-empty list"},
		{"malformed json", `{"productId":`, "invalid request body"},
		{"locales not a list", `{"productId":"1","locales":"us"}`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mockFetcher{}
			s := newTestServer(testConfig(), f, nil, nil)

			rec := do(t, s.Handler(), http.MethodPost, "/api/v1/iap", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["error"])
			f.AssertNotCalled(t, "FetchAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestHandleFetchSuccess(t *testing.T) {
	agg := domain.NewAggregateResult(2)
	agg.Set("us", domain.Succeeded([]domain.ListingItem{
		{Name: "Gem Pack", Price: "$0.99"},
		{Name: "Coin Pack", Price: "$4.99"},
	}))
	agg.Set("cn", domain.Succeeded(nil))

	f := &mockFetcher{}
	f.On("FetchAll", mock.Anything, domain.ProductID("284882215"), []string{"us", "cn"}, "").Return(agg).Once()
	s := newTestServer(testConfig(), f, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"productId":"284882215","locales":["us","cn"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"success":true,"data":{"us":[{"name":"Gem Pack","price":"$0.99"},{"name":"Coin Pack","price":"$4.99"}],"cn":[]}}`,
		rec.Body.String())
	f.AssertExpectations(t)
}

func TestHandleFetchAcceptsAlternateFieldNames(t *testing.T) {
	agg := domain.NewAggregateResult(1)
	agg.Set("jp", domain.Failed(domain.NewFetchError(domain.KindTimeout, "fetch timed out after 30s", nil)))

	f := &mockFetcher{}
	f.On("FetchAll", mock.Anything, domain.ProductID("42"), []string{"JP"}, "my-game").Return(agg).Once()
	s := newTestServer(testConfig(), f, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"appId":42,"countries":["JP"],"pathSlug":"my-game"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":{"jp":{"error":"fetch timed out after 30s"}}}`, rec.Body.String())
	f.AssertExpectations(t)
}

func TestHandleFetchDeadlineCoversEveryLocale(t *testing.T) {
	agg := domain.NewAggregateResult(2)
	agg.Set("us", domain.Succeeded(nil))
	agg.Set("gb", domain.Succeeded(nil))

	// Two sequential locales at 30s plus 5s grace each, above the 30s floor.
	want := testConfig().FetchDeadline(2)
	require.Greater(t, want, testConfig().RequestTimeoutDuration())

	hasDeadline := mock.MatchedBy(func(ctx context.Context) bool {
		dl, ok := ctx.Deadline()
		left := time.Until(dl)
		return ok && left > want-5*time.Second && left <= want
	})
	f := &mockFetcher{}
	f.On("FetchAll", hasDeadline, domain.ProductID("1"), []string{"us", "gb"}, "").Return(agg).Once()
	s := newTestServer(testConfig(), f, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"productId":"1","locales":["us","gb"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.AssertExpectations(t)
}

func TestHandleFetchRejectsTooManyLocales(t *testing.T) {
	f := &mockFetcher{}
	s := newTestServer(testConfig(), f, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"productId":"1","locales":["us","gb","fr","de"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "at most 3 locales per request, got 4", decode(t, rec)["error"])
	f.AssertNotCalled(t, "FetchAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(&domain.ValidationError{Message: "productId is required"}))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("boom")))
}

func TestHandleFetchPanicBecomesJSON500(t *testing.T) {
	s := newTestServer(testConfig(), panickingFetcher{}, nil, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/iap", `{"productId":"1","locales":["us"]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "internal server error", body["error"])
}

func TestHandleRoot(t *testing.T) {
	s := newTestServer(testConfig(), &mockFetcher{}, nil, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
}

func TestHandleHealthCheck(t *testing.T) {
	healthy := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	s := newTestServer(testConfig(), &mockFetcher{}, nil, map[string]Pinger{"redis": healthy})
	rec := do(t, s.Handler(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["redis"])

	s = newTestServer(testConfig(), &mockFetcher{}, nil, map[string]Pinger{"redis": healthy, "postgres": down})
	rec = do(t, s.Handler(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["postgres"])
}

func TestHandleLatestSnapshot(t *testing.T) {
	snap := &domain.Snapshot{
		RunID:      "run-1",
		ProductID:  "284882215",
		Locale:     "us",
		URL:        "https://apps.apple.com/us/app/id284882215",
		Items:      []domain.ListingItem{{Name: "Gem Pack", Price: "$0.99"}},
		CapturedAt: time.Date(2025, 4, 28, 12, 0, 0, 0, time.UTC),
	}

	s := newTestServer(testConfig(), &mockFetcher{}, nil, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/v1/iap/284882215/us/latest", "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	s = newTestServer(testConfig(), &mockFetcher{}, stubSnapshots{snap: snap}, nil)
	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/iap/284882215/US/latest", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "run-1", body["run_id"])
	assert.Len(t, body["items"], 1)

	s = newTestServer(testConfig(), &mockFetcher{}, stubSnapshots{err: domain.ErrNotFound}, nil)
	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/iap/1/us/latest", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/api/v1/iap/1/usa/latest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitedFetch(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1

	agg := domain.NewAggregateResult(1)
	agg.Set("us", domain.Succeeded(nil))
	f := &mockFetcher{}
	f.On("FetchAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(agg)
	s := newTestServer(cfg, f, nil, nil)
	defer s.Shutdown(context.Background())

	body := `{"productId":"1","locales":["us"]}`
	first := do(t, s.Handler(), http.MethodPost, "/iap", body)
	second := do(t, s.Handler(), http.MethodPost, "/iap", body)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, false, decode(t, second)["success"])

	// The root route is not limited.
	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/", "").Code)
}
