package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/domain"
)

type recorded struct {
	method string
	path   string
	query  string
	body   map[string]string
	header http.Header
}

type fakeOKX struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]string // "METHOD path" -> response body
}

func (f *fakeOKX) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, header: r.Header.Clone()}
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &rec.body))
		}
		f.mu.Lock()
		f.requests = append(f.requests, rec)
		resp, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"404","msg":"no route"}`))
			return
		}
		_, _ = w.Write([]byte(resp))
	}
}

func (f *fakeOKX) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestAdapter(t *testing.T, routes map[string]string) (*Adapter, *fakeOKX) {
	t.Helper()
	f := &fakeOKX{routes: routes}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	a, err := New(Config{BaseURL: srv.URL, APIKey: "key", SecretKey: "secret", Passphrase: "pass"})
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 123e6, time.UTC) }
	return a, f
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APIKey: "k", SecretKey: "s"})
	require.Error(t, err)
}

func TestPlaceLimitOrderSignsRequest(t *testing.T) {
	a, f := newTestAdapter(t, map[string]string{
		"POST /api/v5/trade/order": `{"code":"0","msg":"","data":[{"ordId":"312269865356374016","sCode":"0","sMsg":""}]}`,
	})

	r := a.PlaceLimitOrder(context.Background(), "BTC-USDT", domain.SideBuy, 0.01, 50000)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "312269865356374016", r.OrderID)
	assert.Equal(t, domain.OrderTypeLimit, r.Type)
	require.NotNil(t, r.Price)
	assert.Equal(t, 50000.0, *r.Price)

	req := f.last()
	assert.Equal(t, map[string]string{
		"instId": "BTC-USDT", "tdMode": "cross", "side": "buy", "ordType": "limit", "sz": "0.01", "px": "50000",
	}, req.body)

	ts := "2024-05-01T12:00:00.123Z"
	assert.Equal(t, ts, req.header.Get("OK-ACCESS-TIMESTAMP"))
	assert.Equal(t, "key", req.header.Get("OK-ACCESS-KEY"))
	assert.Equal(t, "pass", req.header.Get("OK-ACCESS-PASSPHRASE"))

	body, _ := json.Marshal(map[string]string{
		"instId": "BTC-USDT", "tdMode": "cross", "side": "buy", "ordType": "limit", "sz": "0.01", "px": "50000",
	})
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(ts + "POST" + "/api/v5/trade/order" + string(body)))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), req.header.Get("OK-ACCESS-SIGN"))
}

func TestPlaceMarketOrderOmitsPrice(t *testing.T) {
	a, f := newTestAdapter(t, map[string]string{
		"POST /api/v5/trade/order": `{"code":"0","data":[{"ordId":"1","sCode":"0"}]}`,
	})
	r := a.PlaceMarketOrder(context.Background(), "ETH-USDT", domain.SideSell, 2)
	require.True(t, r.Success)
	assert.Nil(t, r.Price)
	_, hasPx := f.last().body["px"]
	assert.False(t, hasPx)
	assert.Equal(t, "market", f.last().body["ordType"])
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]string{
		"POST /api/v5/trade/order": `{"code":"1","msg":"Operation failed.","data":[{"ordId":"","sCode":"51008","sMsg":"Insufficient balance"}]}`,
	})
	r := a.PlaceLimitOrder(context.Background(), "BTC-USDT", domain.SideBuy, 1, 100)
	assert.False(t, r.Success)
	assert.True(t, r.Is(domain.KindAdapter))
	assert.Contains(t, r.Message, "Insufficient balance")
}

func TestCancelOrder(t *testing.T) {
	a, f := newTestAdapter(t, map[string]string{
		"POST /api/v5/trade/cancel-order": `{"code":"0","data":[{"ordId":"9","sCode":"0"}]}`,
	})
	r := a.CancelOrder(context.Background(), "BTC-USDT", "9")
	require.True(t, r.Success)
	assert.Equal(t, "9", r.OrderID)
	assert.Equal(t, map[string]string{"instId": "BTC-USDT", "ordId": "9"}, f.last().body)
}

func TestGetOrderStatusNormalises(t *testing.T) {
	a, f := newTestAdapter(t, map[string]string{
		"GET /api/v5/trade/order": `{"code":"0","data":[{"ordId":"9","instId":"BTC-USDT","state":"live","side":"buy","ordType":"limit","sz":"1","accFillSz":"0","px":"100"}]}`,
	})
	r := a.GetOrderStatus(context.Background(), "BTC-USDT", "9")
	require.True(t, r.Success)
	assert.Equal(t, domain.OrderSummary{
		OrderID: "9", Symbol: "BTC-USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Amount: 1, Filled: 0, Price: 100, Status: domain.OrderStatusPending,
	}, r.Order)
	assert.Equal(t, "instId=BTC-USDT&ordId=9", f.last().query)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, domain.OrderStatusPending, orderStatus("live"))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, orderStatus("partially_filled"))
	assert.Equal(t, domain.OrderStatusFilled, orderStatus("filled"))
	assert.Equal(t, domain.OrderStatusCancelled, orderStatus("canceled"))
	assert.Equal(t, domain.OrderStatusError, orderStatus("weird"))
}

func TestCancelAllPartial(t *testing.T) {
	f := &fakeOKX{routes: map[string]string{
		"GET /api/v5/trade/orders-pending": `{"code":"0","data":[
			{"ordId":"1","instId":"BTC-USDT","state":"live","side":"buy","ordType":"limit","sz":"1","px":"1"},
			{"ordId":"2","instId":"BTC-USDT","state":"live","side":"buy","ordType":"limit","sz":"1","px":"1"}]}`,
	}}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v5/trade/cancel-order" {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			defer mu.Unlock()
			if body["ordId"] == "2" {
				_, _ = w.Write([]byte(`{"code":"1","msg":"failed","data":[{"ordId":"2","sCode":"51400","sMsg":"Order does not exist"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"code":"0","data":[{"ordId":"1","sCode":"0"}]}`))
			return
		}
		f.handler(t)(w, r)
	}))
	t.Cleanup(srv.Close)
	a, err := New(Config{BaseURL: srv.URL, APIKey: "k", SecretKey: "s", Passphrase: "p"})
	require.NoError(t, err)

	r := a.CancelAllOrders(context.Background(), "BTC-USDT")
	assert.False(t, r.Success)
	assert.True(t, r.Is(domain.KindPartialBatch))
	assert.Equal(t, 1, r.CancelledCount)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0], "Order does not exist")
}

func TestGetAccountInfo(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]string{
		"GET /api/v5/account/balance": `{"code":"0","data":[{"totalEq":"1000.5","imr":"120","upl":"-3.5",
			"details":[{"ccy":"USDT","availBal":"870","frozenBal":"10","upl":"-3.5"}]}]}`,
	})
	r := a.GetAccountInfo(context.Background())
	require.True(t, r.Success)
	assert.Equal(t, domain.AccountInfo{TotalEquity: 1000.5, AvailableBalance: 870, UsedMargin: 120, UnrealizedPnL: -3.5}, r.Account)
}

func TestGetPositionsNetMode(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]string{
		"GET /api/v5/account/positions": `{"code":"0","data":[
			{"instId":"BTC-USDT-SWAP","posSide":"net","pos":"-2","avgPx":"100","markPx":"90","upl":"20","lever":"5"},
			{"instId":"ETH-USDT-SWAP","posSide":"long","pos":"0","avgPx":"","markPx":"","upl":"0","lever":"3"}]}`,
	})
	r := a.GetPositions(context.Background(), "")
	require.True(t, r.Success)
	require.Len(t, r.Positions, 1)
	p := r.Positions[0]
	assert.Equal(t, domain.PositionShort, p.Side)
	assert.Equal(t, 2.0, p.Size)
	assert.Equal(t, 5.0, p.Leverage)
	assert.Equal(t, "okx", p.Exchange)
}

func TestHTTPErrorCarriesVenueMessage(t *testing.T) {
	a, _ := newTestAdapter(t, map[string]string{})
	r := a.GetOpenOrders(context.Background(), "")
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "no route")
}
