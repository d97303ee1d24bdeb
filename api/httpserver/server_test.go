package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fenrir/auth"
	"fenrir/domain/engine"
	"fenrir/infra/sequence"
	"fenrir/infra/wal"
	"fenrir/service"
)

type testEnv struct {
	handler http.Handler
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	w, err := wal.Open(wal.Config{Dir: t.TempDir(), SegmentSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New()
	svc := service.NewOrderService(eng, sequence.New(0), w, nil, nil, logger)
	t.Cleanup(svc.Close)

	authn := auth.New("test-secret", time.Hour)
	require.NoError(t, authn.Register("alice", "password123"))
	token, err := authn.Login("alice", "password123")
	require.NoError(t, err)

	srv := New(svc, authn, nil, 0, 0, "*", logger)
	return &testEnv{handler: srv.Routes(), token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestPlaceOrderEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "sell", "type": "limit",
		"price": 10000, "quantity": 2,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "buy", "type": "limit",
		"price": 10000, "quantity": 1,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
	order := body["order"].(map[string]any)
	require.Equal(t, "filled", order["status"])
	require.Equal(t, "alice", order["user_id"])
}

func TestPlaceOrderRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "buy", "type": "limit",
		"price": 100, "quantity": 1,
	}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t)

	// bad side
	rec := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "hold", "type": "limit",
		"price": 100, "quantity": 1,
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// bad symbol
	rec = env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC/USD!", "side": "buy", "type": "limit",
		"price": 100, "quantity": 1,
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// engine-level rejection surfaces as unprocessable
	rec = env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "buy", "type": "limit",
		"price": 2000000, "quantity": 1,
	}, true)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "buy", "type": "limit",
		"price": 100, "quantity": 5,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := uint64(decodeBody(t, rec)["order"].(map[string]any)["id"].(float64))

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/orders/%d", id), map[string]any{
		"price": 101, "quantity": 5,
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d", id), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d", id), nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderBookEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for _, o := range []map[string]any{
		{"symbol": "BTC-USD", "side": "buy", "type": "limit", "price": 100, "quantity": 5},
		{"symbol": "BTC-USD", "side": "buy", "type": "limit", "price": 99, "quantity": 3},
		{"symbol": "BTC-USD", "side": "sell", "type": "limit", "price": 101, "quantity": 4},
	} {
		rec := env.do(t, http.MethodPost, "/api/orders", o, true)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/orderbook/BTC-USD?depth=5", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, float64(100), body["best_bid"])
	require.Equal(t, float64(101), body["best_ask"])
	require.Equal(t, float64(1), body["spread"])
	require.Len(t, body["bids"].([]any), 2)
	require.Len(t, body["asks"].([]any), 1)
}

func TestUserAndStatsEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/orders", map[string]any{
		"symbol": "BTC-USD", "side": "buy", "type": "limit",
		"price": 100, "quantity": 5,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/orders/user/alice", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["orders"].([]any), 1)

	rec = env.do(t, http.MethodGet, "/api/stats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decodeBody(t, rec)["total_orders"])

	rec = env.do(t, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	for _, o := range []map[string]any{
		{"symbol": "BTC-USD", "side": "buy", "type": "limit", "price": 99, "quantity": 5},
		{"symbol": "BTC-USD", "side": "sell", "type": "limit", "price": 101, "quantity": 5},
	} {
		rec := env.do(t, http.MethodPost, "/api/orders", o, true)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/metrics/BTC-USD", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decodeBody(t, rec)["average_spread"])
}

func TestRegisterAndLoginEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/register", map[string]any{
		"username": "bob", "password": "hunter2hunter2",
	}, false)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/register", map[string]any{
		"username": "bob", "password": "hunter2hunter2",
	}, false)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/login", map[string]any{
		"username": "bob", "password": "hunter2hunter2",
	}, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, decodeBody(t, rec)["token"])

	rec = env.do(t, http.MethodPost, "/api/login", map[string]any{
		"username": "bob", "password": "wrong-password",
	}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
