package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"coinview/config"
	"coinview/internal/auth"
	"coinview/internal/metrics"
	"coinview/internal/refresh"
	"coinview/internal/view"
	"coinview/logger"
	"coinview/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                               "0.0.0.0:8080",
		"  :9090  ":                      "0.0.0.0:9090",
		"localhost":                      "localhost:8080",
		"0.0.0.0:80":                     "0.0.0.0:80",
		"[::1]:443":                      "[::1]:443",
		"::1":                            "[::1]:8080",
		"*:8080":                         "0.0.0.0:8080",
		"http://13.200.112.203:8080":     "13.200.112.203:8080",
		"https://13.200.112.203":         "13.200.112.203:8080",
		"http://:7070":                   "0.0.0.0:7070",
		"tcp://localhost:5050":           "localhost:5050",
		"https://dashboard.example.com/": "dashboard.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabledReturnsNil(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, Deps{}, logger.Logger())
	require.NoError(t, err)
	require.Nil(t, srv)
	require.NoError(t, srv.Run(context.Background()))
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(config.DashboardConfig{Enabled: true}, Deps{}, logger.Logger())
	require.Error(t, err)
}

func TestNewServerNormalizesConfiguredAddress(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, Deps{Store: view.NewStore(view.Options{})}, logger.Logger())
	require.NoError(t, err)
	t.Cleanup(srv.cleanup)
	assert.Equal(t, "0.0.0.0:9000", srv.Address())
}

type fakeRefresher struct {
	mu    sync.Mutex
	err   error
	calls int
	store *view.Store
	snap  models.Snapshot
}

func (f *fakeRefresher) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if errors.Is(f.err, refresh.ErrRefreshInProgress) {
		return f.err
	}
	if f.err != nil {
		f.store.RecordFailure(f.err)
		return f.err
	}
	f.store.ApplySnapshot(f.snap)
	return nil
}

func (f *fakeRefresher) Fetching() bool { return false }

func records(n int) []models.MarketRecord {
	out := make([]models.MarketRecord, n)
	for i := range out {
		out[i] = models.MarketRecord{
			ID:            fmt.Sprintf("coin-%03d", i),
			Name:          fmt.Sprintf("Coin %d", i),
			Symbol:        fmt.Sprintf("c%d", i),
			CurrentPrice:  float64((i * 37) % 101),
			MarketCapRank: i + 1,
			Sparkline:     []float64{1, 3, 2},
		}
	}
	return out
}

type testAPI struct {
	srv       *Server
	router    *gin.Engine
	store     *view.Store
	refresher *fakeRefresher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := view.NewStore(view.Options{PageSize: 50})
	store.ApplySnapshot(models.Snapshot{CycleID: "c1", Source: "coingecko", Records: records(120)})

	refresher := &fakeRefresher{store: store, snap: models.Snapshot{CycleID: "c2", Source: "coingecko", Records: records(60)}}
	authSvc := auth.NewService(auth.NewMemoryUserStore(), auth.NewMemorySessionStore(), auth.Options{BcryptCost: bcrypt.MinCost})
	prom := metrics.NewPrometheus()

	srv, err := NewServer(config.DashboardConfig{Enabled: true, LogHistory: 10}, Deps{
		Store:     store,
		Refresher: refresher,
		Auth:      authSvc,
		Metrics:   prom.Handler(),
	}, logger.Logger())
	require.NoError(t, err)
	t.Cleanup(srv.cleanup)

	router, err := srv.buildRouter()
	require.NoError(t, err)
	return &testAPI{srv: srv, router: router, store: store, refresher: refresher}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	a.router.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out), res.Body.String())
	return out
}

func TestMarketsPaging(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodGet, "/api/markets", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	page := decode[view.Page](t, res)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Records, 50)

	res = api.do(t, http.MethodGet, "/api/markets?page=3", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	page = decode[view.Page](t, res)
	assert.Equal(t, 3, page.Page)
	assert.Len(t, page.Records, 20)

	res = api.do(t, http.MethodGet, "/api/markets?page=99", nil, "")
	assert.Equal(t, 3, decode[view.Page](t, res).Page)

	res = api.do(t, http.MethodGet, "/api/markets?page=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestSortToggle(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/api/markets/sort", sortRequest{Key: "current_price"}, "")
	require.Equal(t, http.StatusOK, res.Code)
	page := decode[view.Page](t, res)
	assert.Equal(t, models.SortCurrentPrice, page.SortKey)
	assert.Equal(t, float64(100), page.Records[0].CurrentPrice)

	res = api.do(t, http.MethodPost, "/api/markets/sort", sortRequest{Key: "current_price"}, "")
	page = decode[view.Page](t, res)
	assert.Equal(t, models.SortNone, page.SortKey)
	assert.Equal(t, "coin-000", page.Records[0].ID)

	res = api.do(t, http.MethodPost, "/api/markets/sort", sortRequest{Key: "volume"}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestSearch(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodGet, "/api/markets/search?q=coin%2011", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	result := decode[view.SearchResult](t, res)
	assert.True(t, result.Active)
	assert.Len(t, result.Records, 11) // Coin 11, Coin 110..119

	res = api.do(t, http.MethodGet, "/api/markets/search?q=", nil, "")
	result = decode[view.SearchResult](t, res)
	assert.False(t, result.Active)
	assert.Empty(t, result.Records)
}

func TestRefreshOutcomes(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodPost, "/api/refresh", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, 60, decode[view.Page](t, res).TotalRecords)

	api.refresher.err = fmt.Errorf("coingecko: %w", models.ErrRateLimited)
	res = api.do(t, http.MethodPost, "/api/refresh", nil, "")
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Contains(t, res.Body.String(), string(models.NoticeRateLimited))
	assert.Equal(t, 60, api.store.View().TotalRecords)

	api.refresher.err = refresh.ErrRefreshInProgress
	res = api.do(t, http.MethodPost, "/api/refresh", nil, "")
	assert.Equal(t, http.StatusConflict, res.Code)

	api.refresher.err = fmt.Errorf("coingecko: %w", models.ErrFetchFailed)
	res = api.do(t, http.MethodPost, "/api/refresh", nil, "")
	assert.Equal(t, http.StatusBadGateway, res.Code)

	res = api.do(t, http.MethodGet, "/api/notices", nil, "")
	body := decode[struct {
		Notices []models.Notice `json:"notices"`
	}](t, res)
	require.Len(t, body.Notices, 2)
	assert.Equal(t, models.NoticeRateLimited, body.Notices[0].Kind)
}

func TestSelectionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	res := api.do(t, http.MethodGet, "/api/selection", nil, "")
	assert.JSONEq(t, `{"visible":false}`, res.Body.String())

	res = api.do(t, http.MethodPut, "/api/selection/coin-007", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	body := decode[struct {
		Visible bool       `json:"visible"`
		Chart   view.Chart `json:"chart"`
	}](t, res)
	assert.True(t, body.Visible)
	assert.Equal(t, "C7", body.Chart.Symbol)
	assert.Equal(t, float64(1), body.Chart.Low)
	assert.Equal(t, float64(3), body.Chart.High)

	res = api.do(t, http.MethodPut, "/api/selection/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = api.do(t, http.MethodDelete, "/api/selection", nil, "")
	assert.Equal(t, http.StatusNoContent, res.Code)
	_, ok := api.store.Selected()
	assert.False(t, ok)
}

func TestAuthRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	creds := credentials{Email: "Trader@Example.com", Password: "hunter22"}

	res := api.do(t, http.MethodPost, "/api/auth/register", creds, "")
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	assert.NotContains(t, res.Body.String(), "hunter22")

	res = api.do(t, http.MethodPost, "/api/auth/register", creds, "")
	assert.Equal(t, http.StatusConflict, res.Code)

	res = api.do(t, http.MethodPost, "/api/auth/signin", credentials{Email: creds.Email, Password: "wrong-pass"}, "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Contains(t, res.Body.String(), "Wrong email or password")

	res = api.do(t, http.MethodPost, "/api/auth/signin", creds, "")
	require.Equal(t, http.StatusOK, res.Code)
	session := decode[auth.Session](t, res)
	require.NotEmpty(t, session.Token)
	assert.Equal(t, "trader@example.com", session.Email)

	res = api.do(t, http.MethodGet, "/api/auth/session", nil, session.Token)
	assert.Equal(t, http.StatusOK, res.Code)

	res = api.do(t, http.MethodPost, "/api/auth/signout", nil, session.Token)
	assert.Equal(t, http.StatusNoContent, res.Code)

	res = api.do(t, http.MethodGet, "/api/auth/session", nil, session.Token)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = api.do(t, http.MethodPost, "/api/auth/register", credentials{Email: "not-an-email", Password: "hunter22"}, "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRegisterOverlongPasswordIsBadRequest(t *testing.T) {
	api := newTestAPI(t)
	creds := credentials{Email: "long@example.com", Password: strings.Repeat("p", 73)}

	res := api.do(t, http.MethodPost, "/api/auth/register", creds, "")
	assert.Equal(t, http.StatusBadRequest, res.Code, res.Body.String())
}

func TestOperationalEndpoints(t *testing.T) {
	api := newTestAPI(t)

	metrics.EmitMetric(logger.Logger(), "refresh_scheduler", metrics.MetricFetchSuccess, 1, "counter", logger.Fields{"source": "coingecko"})
	res := api.do(t, http.MethodGet, "/api/metrics", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), metrics.MetricFetchSuccess)

	res = api.do(t, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"records":120`)

	res = api.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "go_goroutines")

	api.srv.log.WithComponent("dashboard").Info("hello from test")
	res = api.do(t, http.MethodGet, "/api/logs", nil, "")
	assert.Contains(t, res.Body.String(), "hello from test")

	res = api.do(t, http.MethodGet, "/api/resources", nil, "")
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestWebsocketStreamsStoreEvents(t *testing.T) {
	api := newTestAPI(t)
	ts := httptest.NewServer(api.router)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first view.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, view.EventSnapshotApplied, first.Type)
	require.NotNil(t, first.Page)
	assert.Equal(t, 120, first.Page.TotalRecords)

	require.Eventually(t, func() bool { return api.srv.hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)
	api.store.ToggleSort(models.SortMarketCapRank)

	var next view.Event
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, view.EventSortChanged, next.Type)
	assert.Equal(t, models.SortMarketCapRank, next.Page.SortKey)

	api.srv.hub.close()
	require.Eventually(t, func() bool {
		_, _, err := conn.ReadMessage()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
