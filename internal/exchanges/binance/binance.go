// Package binance Binance 现货 REST 适配器（/api/v3）。
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/venueutil"
	"github.com/betbot/goexec/internal/ports"
	"github.com/betbot/goexec/pkg/ratelimit"
	sdkhttp "github.com/betbot/goexec/pkg/sdk/http"
)

var log = logrus.WithField("component", "binance")

const (
	DefaultBaseURL = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
	Name           = "binance"

	limitOrder  = "order"
	qtyPlaces   = 8
	quoteAsset  = "USDT"
	defaultRecv = 5000
)

// 现货账户里视为现金的币种，不算持仓
var stableAssets = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "FDUSD": true, "TUSD": true, "DAI": true,
}

// Config Binance 适配器配置
type Config struct {
	Name       string
	BaseURL    string
	APIKey     string
	SecretKey  string
	RecvWindow int // 毫秒，默认 5000
	Timeout    time.Duration
	RetryCount int
}

// Adapter Binance 现货适配器
type Adapter struct {
	name   string
	client *sdkhttp.Client
	now    func() time.Time
}

// New 创建适配器
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("binance: api key and secret key are required")
	}
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecv
	}

	a := &Adapter{name: cfg.Name, now: time.Now}
	// 权重 1200/分钟；下单 10 次/秒
	limiter := ratelimit.NewManager(ratelimit.NewSlidingWindow(1200, time.Minute)).
		Set(limitOrder, ratelimit.NewTokenBucket(10, time.Second))
	a.client = sdkhttp.NewClient(sdkhttp.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		Limiter:    limiter,
		Signer:     a.signer(cfg.APIKey, cfg.SecretKey, cfg.RecvWindow),
	})
	return a, nil
}

var _ ports.ExchangeAdapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

// signer 追加 timestamp/recvWindow，对排序后的查询串做 HMAC-SHA256(hex)，signature 放在最后
func (a *Adapter) signer(apiKey, secret string, recvWindow int) sdkhttp.Signer {
	return func(r *sdkhttp.SignRequest) error {
		q, err := url.ParseQuery(r.RawQuery)
		if err != nil {
			return errors.Wrap(err, "parse query")
		}
		q.Set("timestamp", strconv.FormatInt(a.now().UnixMilli(), 10))
		q.Set("recvWindow", strconv.Itoa(recvWindow))
		payload := q.Encode()

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(payload))
		mac.Write(r.Body)
		r.RawQuery = payload + "&signature=" + hex.EncodeToString(mac.Sum(nil))
		r.Header.Set("X-MBX-APIKEY", apiKey)
		return nil
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// call 所有参数都放在查询串里（POST/DELETE 也一样），签名覆盖整个查询串
func (a *Adapter) call(ctx context.Context, method, path string, params map[string]any, limitKey string, out any) error {
	resp, err := a.client.Do(ctx, method, path, &sdkhttp.RequestOptions{
		Params:   params,
		Signed:   true,
		LimitKey: limitKey,
	}, out)
	if err != nil {
		var e apiError
		if resp != nil && json.Unmarshal(resp.Body(), &e) == nil && e.Msg != "" {
			return errors.Errorf("binance %s: %s (code %d)", path, e.Msg, e.Code)
		}
		return err
	}
	return nil
}

type orderReply struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	OrigQty     string `json:"origQty"`
	ExecutedQty string `json:"executedQty"`
	Price       string `json:"price"`
}

func (o orderReply) summary() domain.OrderSummary {
	side, _ := domain.ParseSide(o.Side)
	return domain.OrderSummary{
		OrderID: strconv.FormatInt(o.OrderID, 10),
		Symbol:  o.Symbol,
		Side:    side,
		Type:    orderType(o.Type),
		Amount:  venueutil.ParseNumber(o.OrigQty),
		Filled:  venueutil.ParseNumber(o.ExecutedQty),
		Price:   venueutil.ParseNumber(o.Price),
		Status:  orderStatus(o.Status),
	}
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	p := price
	return a.place(ctx, symbol, side, domain.OrderTypeLimit, amount, &p)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	return a.place(ctx, symbol, side, domain.OrderTypeMarket, amount, nil)
}

func (a *Adapter) place(ctx context.Context, symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	params := map[string]any{
		"symbol":   symbol,
		"side":     strings.ToUpper(string(side)),
		"type":     strings.ToUpper(string(typ)),
		"quantity": venueutil.FormatDecimal(amount, qtyPlaces),
	}
	if price != nil {
		params["timeInForce"] = "GTC"
		params["price"] = venueutil.FormatDecimal(*price, qtyPlaces)
	}

	var reply orderReply
	if err := a.call(ctx, "POST", "/api/v3/order", params, limitOrder, &reply); err != nil {
		log.Errorf("❌ 下单失败: symbol=%s side=%s type=%s err=%v", symbol, side, typ, err)
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, err)
	}
	if reply.OrderID == 0 {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, errors.New("binance: empty order response"))
	}
	return venueutil.OrderPlaced(strconv.FormatInt(reply.OrderID, 10), symbol, side, typ, amount, price)
}

func (a *Adapter) AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	return venueutil.Adjust(ctx, a, symbol, side, amount, price)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) domain.CancelResult {
	if symbol == "" {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindValidation, "binance cancel requires a symbol"), OrderID: orderID}
	}
	params := map[string]any{"symbol": symbol, "orderId": orderID}
	if err := a.call(ctx, "DELETE", "/api/v3/order", params, limitOrder, nil); err != nil {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err), OrderID: orderID}
	}
	return domain.CancelResult{Outcome: domain.Ok("order cancelled"), OrderID: orderID}
}

// CancelAllOrders 现货接口只能按交易对撤销
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) domain.BatchCancelResult {
	if symbol == "" {
		return domain.BatchCancelResult{Outcome: domain.Fail(domain.KindValidation, "binance cancel_all requires a symbol")}
	}
	var replies []orderReply
	if err := a.call(ctx, "DELETE", "/api/v3/openOrders", map[string]any{"symbol": symbol}, limitOrder, &replies); err != nil {
		return domain.BatchCancelResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	return domain.BatchCancelResult{
		Outcome:        domain.Ok("cancelled " + strconv.Itoa(len(replies)) + " orders"),
		CancelledCount: len(replies),
	}
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) domain.OrderStatusResult {
	if symbol == "" {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindValidation, "binance order query requires a symbol")}
	}
	var reply orderReply
	params := map[string]any{"symbol": symbol, "orderId": orderID}
	if err := a.call(ctx, "GET", "/api/v3/order", params, "", &reply); err != nil {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	return domain.OrderStatusResult{Outcome: domain.Ok("ok"), Order: reply.summary()}
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) domain.OpenOrdersResult {
	var replies []orderReply
	if err := a.call(ctx, "GET", "/api/v3/openOrders", map[string]any{"symbol": symbol}, "", &replies); err != nil {
		return domain.OpenOrdersResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	orders := make([]domain.OrderSummary, 0, len(replies))
	for _, r := range replies {
		orders = append(orders, r.summary())
	}
	return domain.OpenOrdersResult{Outcome: domain.Ok("ok"), Orders: orders}
}

type accountReply struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

func (a *Adapter) account(ctx context.Context) (accountReply, error) {
	var reply accountReply
	err := a.call(ctx, "GET", "/api/v3/account", nil, "", &reply)
	return reply, err
}

// GetAccountInfo 现货没有保证金：权益 = USDT free+locked，可用 = USDT free
func (a *Adapter) GetAccountInfo(ctx context.Context) domain.AccountResult {
	reply, err := a.account(ctx)
	if err != nil {
		return domain.AccountResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	var info domain.AccountInfo
	for _, b := range reply.Balances {
		if b.Asset != quoteAsset {
			continue
		}
		free := venueutil.ParseNumber(b.Free)
		info.AvailableBalance = free
		info.TotalEquity = free + venueutil.ParseNumber(b.Locked)
	}
	return domain.AccountResult{Outcome: domain.Ok("ok"), Account: info}
}

// GetPositions 非稳定币余额视为 <ASSET>USDT 多头，杠杆 1
func (a *Adapter) GetPositions(ctx context.Context, symbol string) domain.PositionsResult {
	reply, err := a.account(ctx)
	if err != nil {
		return domain.PositionsResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	positions := make([]domain.Position, 0)
	for _, b := range reply.Balances {
		if stableAssets[b.Asset] {
			continue
		}
		size := venueutil.ParseNumber(b.Free) + venueutil.ParseNumber(b.Locked)
		if size <= 0 {
			continue
		}
		sym := b.Asset + quoteAsset
		if symbol != "" && sym != symbol {
			continue
		}
		positions = append(positions, domain.Position{
			Exchange: a.name,
			Symbol:   sym,
			Side:     domain.PositionLong,
			Size:     size,
			Leverage: 1,
		})
	}
	return domain.PositionsResult{Outcome: domain.Ok("ok"), Positions: positions}
}

func orderStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "PENDING_NEW":
		return domain.OrderStatusPending
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusError
	}
}

func orderType(t string) domain.OrderType {
	switch {
	case t == "MARKET":
		return domain.OrderTypeMarket
	case strings.HasPrefix(t, "STOP_LOSS"):
		return domain.OrderTypeStop
	case strings.HasPrefix(t, "TAKE_PROFIT"):
		return domain.OrderTypeTakeProfit
	default:
		return domain.OrderTypeLimit
	}
}
