package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/controlplane/stream"
	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/mock"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/executor"
	"github.com/betbot/goexec/internal/oms"
	"github.com/betbot/goexec/internal/position"
	"github.com/betbot/goexec/internal/risk"
	"github.com/betbot/goexec/internal/venue"
)

type harness struct {
	venue   *mock.Adapter
	reg     *venue.Registry
	exec    *executor.Executor
	handler http.Handler
}

func newHarness(t *testing.T, token string) harness {
	t.Helper()
	m := mock.NewAdapter("okx")
	m.Account = domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000}

	reg := venue.MustRegistry(m)
	sender := execution.NewOrderSender(reg)
	locks := execution.NewKeyLocker(8)
	e, err := executor.New(executor.Deps{
		Venues:    reg,
		Sender:    sender,
		Orders:    oms.NewOrderManager(reg),
		Risk:      risk.NewRiskManager(reg, risk.DefaultConfig()),
		Positions: position.NewPositionManager(reg, sender, locks),
		Locks:     locks,
		Breaker:   risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: 3}),
	})
	require.NoError(t, err)

	srv, err := New(Config{Token: token}, e, reg)
	require.NoError(t, err)
	return harness{venue: m, reg: reg, exec: e, handler: srv.Router()}
}

func (h harness) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
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
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = h.do(t, http.MethodGet, "/debug/vars", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "signals_received")
}

func TestAuth(t *testing.T) {
	h := newHarness(t, "s3cret")

	rec, _ := h.do(t, http.MethodGet, "/api/venues", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/api/venues", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := h.do(t, http.MethodGet, "/api/venues", nil, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"okx"}, body["venues"])

	rec, _ = h.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is not authenticated")
}

func TestSignalFlow(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/signals/okx/BTC-USDT", map[string]any{
		"action": "BUY", "amount": 1, "price": 50,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	orderID, _ := body["order_id"].(string)
	require.NotEmpty(t, orderID)

	rec, body = h.do(t, http.MethodGet, "/api/orders?exchange=okx&open=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	rec, body = h.do(t, http.MethodGet, "/api/orders/okx/"+orderID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	order := body["order"].(map[string]any)
	assert.Equal(t, "pending", order["status"])
	assert.Equal(t, "BTC-USDT", order["symbol"])

	h.venue.Statuses[orderID] = domain.OrderSummary{OrderID: orderID, Symbol: "BTC-USDT", Status: domain.OrderStatusFilled, Amount: 1, Filled: 1}
	rec, body = h.do(t, http.MethodPost, "/api/orders/okx/"+orderID+"/refresh", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "filled", body["order"].(map[string]any)["status"])

	rec, _ = h.do(t, http.MethodGet, "/api/orders/okx/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalErrors(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/signals/okx/BTC-USDT", map[string]any{
		"action": "buy", "amount": 1, "price": 500,
	}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(domain.KindRiskRejection), body["kind"])

	rec, _ = h.do(t, http.MethodPost, "/api/signals/okx/BTC-USDT", map[string]any{"action": "hold", "amount": 1}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/signals/kraken/BTC-USDT", map[string]any{"action": "buy", "amount": 1, "price": 1}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.venue.FailNext[mock.MethodPlaceLimit] = "timeout"
	rec, body = h.do(t, http.MethodPost, "/api/signals/okx/BTC-USDT", map[string]any{"action": "buy", "amount": 1, "price": 10}, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "timeout", body["message"])

	req := httptest.NewRequest(http.MethodPost, "/api/signals/okx/BTC-USDT", bytes.NewBufferString("{"))
	r := httptest.NewRecorder()
	h.handler.ServeHTTP(r, req)
	assert.Equal(t, http.StatusBadRequest, r.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodPost, "/api/breaker/halt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["open"])

	rec, _ = h.do(t, http.MethodPost, "/api/signals/okx/BTC-USDT", map[string]any{"action": "buy", "amount": 1, "price": 10}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = h.do(t, http.MethodPost, "/api/breaker/resume", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["open"])
}

func TestCancelAndSync(t *testing.T) {
	h := newHarness(t, "")
	h.venue.OpenOrders = []domain.OrderSummary{
		{OrderID: "a", Symbol: "BTC-USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 1, Price: 10, Status: domain.OrderStatusPending},
		{OrderID: "b", Symbol: "ETH-USDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Amount: 2, Price: 20, Status: domain.OrderStatusPending},
	}

	rec, body := h.do(t, http.MethodPost, "/api/orders/okx/sync", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), body["added"])

	rec, body = h.do(t, http.MethodPost, "/api/orders/okx/cancel", map[string]any{"symbol": "BTC-USDT", "order_id": "a"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "a", body["order_id"])
	assert.Equal(t, domain.OrderStatusCancelled, h.exec.Orders().Lookup("okx", "a").Order.Status)

	h.venue.CancelFailures["b"] = "order already filled"
	rec, body = h.do(t, http.MethodPost, "/api/orders/okx/cancel", nil, "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Equal(t, float64(0), body["cancelled_count"])

	rec, _ = h.do(t, http.MethodPost, "/api/orders/kraken/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionEndpoints(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodGet, "/api/positions/okx/BTC-USDT", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", body["side"])

	rec, _ = h.do(t, http.MethodPost, "/api/positions/okx/BTC-USDT/close", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 0, h.venue.SendCount())

	rec, body = h.do(t, http.MethodPost, "/api/positions/okx/BTC-USDT/increase", map[string]any{"side": "long", "amount": 0.5}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "buy", body["side"])
	assert.Equal(t, "market", body["type"])

	rec, _ = h.do(t, http.MethodPost, "/api/positions/okx/BTC-USDT/increase", map[string]any{"side": "none", "amount": 0.5}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.venue.Positions = []domain.Position{{Symbol: "BTC-USDT", Side: domain.PositionLong, Size: 0.5}}
	rec, body = h.do(t, http.MethodPost, "/api/positions/okx/BTC-USDT/decrease", map[string]any{"amount": 0.2, "price": 30}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sell", body["side"])

	rec, body = h.do(t, http.MethodPost, "/api/positions/okx/BTC-USDT/close", map[string]any{}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.5, body["amount"])
	assert.Equal(t, 3, h.exec.Orders().Len())
}

func TestRiskEndpoints(t *testing.T) {
	h := newHarness(t, "")

	rec, body := h.do(t, http.MethodGet, "/api/risk/okx", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "safe", body["risk_level"])

	rec, _ = h.do(t, http.MethodGet, "/api/risk/kraken", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.venue.Account = domain.AccountInfo{TotalEquity: 1000, UsedMargin: 950}
	rec, body = h.do(t, http.MethodPost, "/api/risk/okx/monitor", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, body["signal"])
	assert.Nil(t, body["liquidation"], "auto liquidation is off")

	h.venue.OpenOrders = []domain.OrderSummary{{OrderID: "x", Symbol: "BTC-USDT"}}
	rec, body = h.do(t, http.MethodPost, "/api/risk/liquidate", map[string]any{"exchange": "okx"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["partial"])
	assert.Equal(t, float64(1), body["cancelled_count"])

	rec, _ = h.do(t, http.MethodPost, "/api/risk/liquidate", map[string]any{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderStream(t *testing.T) {
	h := newHarness(t, "secret")
	hub := stream.NewHub(stream.Config{Snapshot: h.exec.Orders().Snapshot})
	h.exec.Orders().OnOrderUpdate(hub)

	srv, err := New(Config{Token: "secret", Stream: hub}, h.exec, h.reg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream/orders"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer secret"}})
	require.NoError(t, err)
	defer conn.Close()

	var ev stream.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.EventSnapshot, ev.Type)
	assert.Empty(t, ev.Orders)

	price := 100.0
	res := h.exec.ExecuteSignal(context.Background(), "okx", "BTC-USDT",
		domain.Signal{Action: domain.ActionBuy, Amount: 0.1, Price: &price})
	require.True(t, res.Success, res.Message)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, stream.EventOrderUpdate, ev.Type)
	require.NotNil(t, ev.Order)
	assert.Equal(t, res.OrderID, ev.Order.OrderID)
	assert.Equal(t, domain.OrderStatusPending, ev.Order.Status)
}
