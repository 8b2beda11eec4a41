// Package okx OKX v5 REST 适配器（现货/合约统一账户，全仓模式）。
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math"
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

var log = logrus.WithField("component", "okx")

const (
	DefaultBaseURL = "https://www.okx.com"
	Name           = "okx"

	limitTrade   = "trade"
	limitAccount = "account"
	pxPlaces     = 12
)

// Config OKX 适配器配置
type Config struct {
	Name       string // 注册名，默认 okx
	BaseURL    string
	APIKey     string
	SecretKey  string
	Passphrase string
	Simulated  bool   // 模拟盘（x-simulated-trading: 1）
	TdMode     string // 默认 cross
	Timeout    time.Duration
	RetryCount int
}

// Adapter OKX 适配器
type Adapter struct {
	name   string
	tdMode string
	client *sdkhttp.Client
	now    func() time.Time
}

// New 创建适配器；缺少任何一项凭证都会报错
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" || cfg.Passphrase == "" {
		return nil, errors.New("okx: api key, secret key and passphrase are required")
	}
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TdMode == "" {
		cfg.TdMode = "cross"
	}

	a := &Adapter{name: cfg.Name, tdMode: cfg.TdMode, now: time.Now}
	// 下单/撤单 60 次/2s，其余 20 次/2s
	limiter := ratelimit.NewManager(ratelimit.NewTokenBucket(20, 2*time.Second)).
		Set(limitTrade, ratelimit.NewTokenBucket(60, 2*time.Second))
	a.client = sdkhttp.NewClient(sdkhttp.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		Limiter:    limiter,
		Signer:     a.signer(cfg.APIKey, cfg.SecretKey, cfg.Passphrase, cfg.Simulated),
	})
	return a, nil
}

var _ ports.ExchangeAdapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

// signer 签名串：timestamp + METHOD + requestPath(含 ?query) + body，HMAC-SHA256 后 base64
func (a *Adapter) signer(apiKey, secret, passphrase string, simulated bool) sdkhttp.Signer {
	return func(r *sdkhttp.SignRequest) error {
		ts := a.now().UTC().Format("2006-01-02T15:04:05.000Z")
		path := r.Path
		if r.RawQuery != "" {
			path += "?" + r.RawQuery
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(ts + r.Method + path + string(r.Body)))

		r.Header.Set("OK-ACCESS-KEY", apiKey)
		r.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
		r.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		r.Header.Set("OK-ACCESS-PASSPHRASE", passphrase)
		if simulated {
			r.Header.Set("x-simulated-trading", "1")
		}
		return nil
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ackItem 下单/撤单回报
type ackItem struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

// call 发送签名请求，code != "0" 视为失败；data 解析到 out（数组）
func (a *Adapter) call(ctx context.Context, method, path string, params map[string]any, body any, limitKey string, out any) error {
	var env envelope
	resp, err := a.client.Do(ctx, method, path, &sdkhttp.RequestOptions{
		Params:   params,
		Data:     body,
		Signed:   true,
		LimitKey: limitKey,
	}, &env)
	if err != nil {
		// 非 2xx 时 OKX 仍返回 {code,msg}
		if resp != nil && json.Unmarshal(resp.Body(), &env) == nil && env.Msg != "" {
			return errors.Errorf("okx %s: %s (code %s)", path, env.Msg, env.Code)
		}
		return err
	}
	if env.Code != "0" {
		// 批量类接口的具体原因在 data[0].sMsg
		var acks []ackItem
		if json.Unmarshal(env.Data, &acks) == nil && len(acks) > 0 && acks[0].SMsg != "" {
			return errors.Errorf("okx %s: %s (code %s)", path, acks[0].SMsg, acks[0].SCode)
		}
		return errors.Errorf("okx %s: %s (code %s)", path, env.Msg, env.Code)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "decode okx %s", path)
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	p := price
	return a.place(ctx, symbol, side, domain.OrderTypeLimit, amount, &p)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	return a.place(ctx, symbol, side, domain.OrderTypeMarket, amount, nil)
}

func (a *Adapter) place(ctx context.Context, symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	body := map[string]string{
		"instId":  symbol,
		"tdMode":  a.tdMode,
		"side":    string(side),
		"ordType": string(typ),
		"sz":      venueutil.FormatDecimal(amount, pxPlaces),
	}
	if price != nil {
		body["px"] = venueutil.FormatDecimal(*price, pxPlaces)
	}

	var acks []ackItem
	if err := a.call(ctx, "POST", "/api/v5/trade/order", nil, body, limitTrade, &acks); err != nil {
		log.Errorf("❌ 下单失败: instId=%s side=%s type=%s err=%v", symbol, side, typ, err)
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, err)
	}
	if len(acks) == 0 || acks[0].OrdID == "" {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, errors.New("okx: empty order response"))
	}
	if acks[0].SCode != "" && acks[0].SCode != "0" {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, errors.Errorf("okx: %s (code %s)", acks[0].SMsg, acks[0].SCode))
	}
	return venueutil.OrderPlaced(acks[0].OrdID, symbol, side, typ, amount, price)
}

func (a *Adapter) AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	return venueutil.Adjust(ctx, a, symbol, side, amount, price)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) domain.CancelResult {
	body := map[string]string{"instId": symbol, "ordId": orderID}
	var acks []ackItem
	if err := a.call(ctx, "POST", "/api/v5/trade/cancel-order", nil, body, limitTrade, &acks); err != nil {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err), OrderID: orderID}
	}
	if len(acks) == 0 || acks[0].SCode != "0" {
		msg := "empty cancel response"
		if len(acks) > 0 {
			msg = acks[0].SMsg
		}
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "okx: %s", msg), OrderID: orderID}
	}
	return domain.CancelResult{Outcome: domain.Ok("order cancelled"), OrderID: orderID}
}

// CancelAllOrders OKX 没有一次性撤销全部的接口：先查挂单再逐个撤销
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) domain.BatchCancelResult {
	open := a.GetOpenOrders(ctx, symbol)
	if !open.Success {
		return domain.BatchCancelResult{Outcome: open.Outcome}
	}
	res := venueutil.CancelEach(ctx, a, open.Orders)
	if !res.Success {
		log.Warnf("⚠️ 批量撤单部分失败: cancelled=%d/%d err=%s", res.CancelledCount, len(open.Orders), res.Message)
	}
	return res
}

type orderItem struct {
	OrdID     string `json:"ordId"`
	InstID    string `json:"instId"`
	State     string `json:"state"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	Px        string `json:"px"`
}

func (o orderItem) summary() domain.OrderSummary {
	side, _ := domain.ParseSide(o.Side)
	return domain.OrderSummary{
		OrderID: o.OrdID,
		Symbol:  o.InstID,
		Side:    side,
		Type:    orderType(o.OrdType),
		Amount:  venueutil.ParseNumber(o.Sz),
		Filled:  venueutil.ParseNumber(o.AccFillSz),
		Price:   venueutil.ParseNumber(o.Px),
		Status:  orderStatus(o.State),
	}
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) domain.OrderStatusResult {
	params := map[string]any{"instId": symbol, "ordId": orderID}
	var items []orderItem
	if err := a.call(ctx, "GET", "/api/v5/trade/order", params, nil, limitAccount, &items); err != nil {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	if len(items) == 0 {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "okx: order %s not found", orderID)}
	}
	return domain.OrderStatusResult{Outcome: domain.Ok("ok"), Order: items[0].summary()}
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) domain.OpenOrdersResult {
	params := map[string]any{"instId": symbol}
	var items []orderItem
	if err := a.call(ctx, "GET", "/api/v5/trade/orders-pending", params, nil, limitAccount, &items); err != nil {
		return domain.OpenOrdersResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	orders := make([]domain.OrderSummary, 0, len(items))
	for _, it := range items {
		orders = append(orders, it.summary())
	}
	return domain.OpenOrdersResult{Outcome: domain.Ok("ok"), Orders: orders}
}

type balanceItem struct {
	TotalEq string `json:"totalEq"`
	Imr     string `json:"imr"`
	Upl     string `json:"upl"`
	Details []struct {
		Ccy       string `json:"ccy"`
		AvailBal  string `json:"availBal"`
		FrozenBal string `json:"frozenBal"`
		OrdFrozen string `json:"ordFrozen"`
		Upl       string `json:"upl"`
	} `json:"details"`
}

// GetAccountInfo 权益取 totalEq；可用余额取 USDT；占用保证金优先取账户 imr，
// 单币种模式下 imr 为空时退回 USDT 冻结余额
func (a *Adapter) GetAccountInfo(ctx context.Context) domain.AccountResult {
	var items []balanceItem
	if err := a.call(ctx, "GET", "/api/v5/account/balance", nil, nil, limitAccount, &items); err != nil {
		return domain.AccountResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	if len(items) == 0 {
		return domain.AccountResult{Outcome: domain.Fail(domain.KindAdapter, "okx: empty balance response")}
	}
	b := items[0]
	info := domain.AccountInfo{
		TotalEquity:   venueutil.ParseNumber(b.TotalEq),
		UsedMargin:    venueutil.ParseNumber(b.Imr),
		UnrealizedPnL: venueutil.ParseNumber(b.Upl),
	}
	var frozen, upl float64
	for _, d := range b.Details {
		frozen += venueutil.ParseNumber(d.FrozenBal)
		upl += venueutil.ParseNumber(d.Upl)
		if d.Ccy == "USDT" {
			info.AvailableBalance = venueutil.ParseNumber(d.AvailBal)
		}
	}
	if b.Imr == "" {
		info.UsedMargin = frozen
	}
	if b.Upl == "" {
		info.UnrealizedPnL = upl
	}
	return domain.AccountResult{Outcome: domain.Ok("ok"), Account: info}
}

type positionItem struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	MarkPx  string `json:"markPx"`
	Upl     string `json:"upl"`
	Lever   string `json:"lever"`
}

func (a *Adapter) GetPositions(ctx context.Context, symbol string) domain.PositionsResult {
	params := map[string]any{"instId": symbol}
	var items []positionItem
	if err := a.call(ctx, "GET", "/api/v5/account/positions", params, nil, limitAccount, &items); err != nil {
		return domain.PositionsResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	positions := make([]domain.Position, 0, len(items))
	for _, it := range items {
		pos := venueutil.ParseNumber(it.Pos)
		if pos == 0 {
			continue
		}
		side := domain.PositionSide(it.PosSide)
		if !side.Valid() {
			// net 模式用数量正负表示方向
			side = domain.PositionLong
			if pos < 0 {
				side = domain.PositionShort
			}
		}
		lever := venueutil.ParseNumber(it.Lever)
		if lever <= 0 {
			lever = 1
		}
		positions = append(positions, domain.Position{
			Exchange:      a.name,
			Symbol:        it.InstID,
			Side:          side,
			Size:          math.Abs(pos),
			EntryPrice:    venueutil.ParseNumber(it.AvgPx),
			MarkPrice:     venueutil.ParseNumber(it.MarkPx),
			UnrealizedPnL: venueutil.ParseNumber(it.Upl),
			Leverage:      lever,
		})
	}
	return domain.PositionsResult{Outcome: domain.Ok("ok"), Positions: positions}
}

func orderStatus(state string) domain.OrderStatus {
	switch strings.ToLower(state) {
	case "live":
		return domain.OrderStatusPending
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusError
	}
}

func orderType(t string) domain.OrderType {
	switch strings.ToLower(t) {
	case "market", "optimal_limit_ioc":
		return domain.OrderTypeMarket
	default:
		return domain.OrderTypeLimit
	}
}
