package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"sigbridge/config"
	"sigbridge/market"
	"sigbridge/signal"
	"sigbridge/trader"
)

// stubExchange 固定价格的交易所假实现
type stubExchange struct {
	price float64
}

func (f *stubExchange) Name() string { return "stub" }
func (f *stubExchange) Price(ctx context.Context, inst market.Instrument) (float64, error) {
	return f.price, nil
}
func (f *stubExchange) SetLeverage(ctx context.Context, inst market.Instrument, leverage int) error {
	return nil
}
func (f *stubExchange) PlaceMarketOrder(ctx context.Context, inst market.Instrument, side signal.Side, contracts int, reduceOnly bool) (string, error) {
	return "stub-order-1", nil
}

func testServer(t *testing.T) *Server {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		WebhookSecret:     "s3cret",
		MaxMessageAge:     5 * time.Minute,
		PositionUSDT:      20,
		Cooldown:          5 * time.Minute,
		TPPercent:         2.0,
		SLPercent:         1.0,
		APIPort:           8080,
		AdminPasswordHash: string(hash),
		JWTSecret:         "jwt-secret",
	}

	store := trader.NewPositionStore()
	engine := trader.NewEngine(cfg, &stubExchange{price: 2000}, store, signal.NewGate(nil), nil)
	metrics := NewMetrics(store)
	engine.OnResult = metrics.RecordResult

	return NewServer(cfg, engine, store, nil, metrics)
}

func doRequest(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func alertBody(secret, side, symbol string, bar time.Time) string {
	return fmt.Sprintf(`{"secret":%q,"side":%q,"symbol_tv":%q,"bar_ts":%q}`,
		secret, side, symbol, bar.UTC().Format(time.RFC3339))
}

func TestWebhookAccepted(t *testing.T) {
	s := testServer(t)

	w := doRequest(s, "POST", "/tv", alertBody("s3cret", "long", "ETHUSDT", time.Now()), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res trader.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, signal.OutcomeOK, res.Status)
	require.Equal(t, "ETH/USDT:USDT", res.Symbol)
	require.Equal(t, 1, res.Contracts)
}

func TestWebhookDuplicate(t *testing.T) {
	s := testServer(t)
	body := alertBody("s3cret", "long", "ETHUSDT", time.Now().Truncate(time.Second))

	first := doRequest(s, "POST", "/tv", body, nil)
	require.Equal(t, http.StatusOK, first.Code)

	// 同一报文重发：同键，HTTP 仍是 200
	second := doRequest(s, "POST", "/tv", body, nil)
	require.Equal(t, http.StatusOK, second.Code)

	var res trader.Result
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &res))
	require.Equal(t, signal.OutcomeDuplicateIgnored, res.Status)
}

func TestWebhookBadSecret(t *testing.T) {
	s := testServer(t)
	w := doRequest(s, "POST", "/tv", alertBody("wrong", "long", "ETHUSDT", time.Now()), nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookStale(t *testing.T) {
	s := testServer(t)
	w := doRequest(s, "POST", "/tv", alertBody("s3cret", "long", "ETHUSDT", time.Now().Add(-10*time.Minute)), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var res trader.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, signal.OutcomeStale, res.Status)
}

func TestWebhookMalformed(t *testing.T) {
	s := testServer(t)

	for _, body := range []string{
		"",
		"not json",
		`{"secret":"s3cret","side":"sideways","symbol_tv":"ETHUSDT","bar_ts":"2026-08-23T10:00:00Z"}`,
		`{"secret":"s3cret","side":"long","bar_ts":"2026-08-23T10:00:00Z"}`,
	} {
		w := doRequest(s, "POST", "/tv", body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, "body=%q", body)
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	w := doRequest(s, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, "stub", resp["exchange"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := testServer(t)

	for _, path := range []string{"/api/positions", "/api/dedup", "/api/report", "/api/debug/ETHUSDT"} {
		w := doRequest(s, "GET", path, "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// 坏token也拦
	w := doRequest(s, "GET", "/api/positions", "", map[string]string{"Authorization": "Bearer not.a.jwt"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginAndAccess(t *testing.T) {
	s := testServer(t)

	// 错密码
	w := doRequest(s, "POST", "/api/login", `{"password":"nope"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// 对密码拿token
	w = doRequest(s, "POST", "/api/login", `{"password":"admin-pass"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var loginResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loginResp))
	require.NotEmpty(t, loginResp.Token)

	headers := map[string]string{"Authorization": "Bearer " + loginResp.Token}

	w = doRequest(s, "GET", "/api/positions", "", headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, "GET", "/api/dedup", "", headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, "GET", "/api/debug/MEXC:ETHUSDT", "", headers)
	require.Equal(t, http.StatusOK, w.Code)

	var debugResp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &debugResp))
	require.Equal(t, "ETH/USDT:USDT", debugResp["canonical"])

	// 未映射的交易对
	w = doRequest(s, "GET", "/api/debug/DOGEUSDT", "", headers)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t)

	doRequest(s, "POST", "/tv", alertBody("s3cret", "long", "ETHUSDT", time.Now()), nil)

	w := doRequest(s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "sigbridge_signals_total")
	require.Contains(t, w.Body.String(), `origin="webhook"`)
	require.Contains(t, w.Body.String(), "sigbridge_open_positions 1")
}
