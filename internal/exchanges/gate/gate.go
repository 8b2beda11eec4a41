// Package gate Gate.io USDT 永续合约 REST 适配器（/api/v4/futures/usdt）。
//
// 下单数量以张为单位：张数 = 数量 / quanto_multiplier（向零取整），卖出为负数。
package gate

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/venueutil"
	"github.com/betbot/goexec/internal/ports"
	"github.com/betbot/goexec/pkg/ratelimit"
	sdkhttp "github.com/betbot/goexec/pkg/sdk/http"
)

var log = logrus.WithField("component", "gate")

const (
	DefaultBaseURL = "https://api.gateio.ws"
	Name           = "gate"

	limitOrder = "order"
	pxPlaces   = 8
)

// DefaultMultiplier 未配置合约的默认面值
const DefaultMultiplier = 0.0001

var defaultMultipliers = map[string]float64{
	"BTC_USDT": 0.0001,
	"ETH_USDT": 0.01,
}

// Config Gate 适配器配置
type Config struct {
	Name        string
	BaseURL     string
	APIKey      string
	SecretKey   string
	Settle      string             // 结算币种，默认 usdt
	Multipliers map[string]float64 // 合约面值覆盖，例如 {"SOL_USDT": 1}
	Timeout     time.Duration
	RetryCount  int
}

// Adapter Gate 合约适配器
type Adapter struct {
	name        string
	prefix      string
	multipliers map[string]float64
	client      *sdkhttp.Client
	now         func() time.Time
}

// New 创建适配器
func New(cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("gate: api key and secret key are required")
	}
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Settle == "" {
		cfg.Settle = "usdt"
	}

	mult := make(map[string]float64, len(defaultMultipliers)+len(cfg.Multipliers))
	for k, v := range defaultMultipliers {
		mult[k] = v
	}
	for k, v := range cfg.Multipliers {
		if v <= 0 {
			return nil, errors.Errorf("gate: multiplier for %s must be positive", k)
		}
		mult[k] = v
	}

	a := &Adapter{
		name:        cfg.Name,
		prefix:      "/api/v4/futures/" + strings.ToLower(cfg.Settle),
		multipliers: mult,
		now:         time.Now,
	}
	// 下单/撤单 100 次/秒，其余 200 次/10s
	limiter := ratelimit.NewManager(ratelimit.NewTokenBucket(200, 10*time.Second)).
		Set(limitOrder, ratelimit.NewTokenBucket(100, time.Second))
	a.client = sdkhttp.NewClient(sdkhttp.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		RetryCount: cfg.RetryCount,
		Limiter:    limiter,
		Signer:     a.signer(cfg.APIKey, cfg.SecretKey),
	})
	return a, nil
}

var _ ports.ExchangeAdapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

// signer 签名串：METHOD\npath\nquery\nsha512hex(body)\ntimestamp，HMAC-SHA512(hex)
func (a *Adapter) signer(apiKey, secret string) sdkhttp.Signer {
	return func(r *sdkhttp.SignRequest) error {
		ts := strconv.FormatInt(a.now().Unix(), 10)
		bodyHash := sha512.Sum512(r.Body)
		payload := strings.Join([]string{r.Method, r.Path, r.RawQuery, hex.EncodeToString(bodyHash[:]), ts}, "\n")

		mac := hmac.New(sha512.New, []byte(secret))
		mac.Write([]byte(payload))
		r.Header.Set("KEY", apiKey)
		r.Header.Set("Timestamp", ts)
		r.Header.Set("SIGN", hex.EncodeToString(mac.Sum(nil)))
		return nil
	}
}

// Multiplier 合约面值（每张对应的基础币数量）
func (a *Adapter) Multiplier(contract string) float64 {
	if m, ok := a.multipliers[contract]; ok {
		return m
	}
	return DefaultMultiplier
}

// contracts 数量 → 张数（向零取整），卖出为负
func (a *Adapter) contracts(contract string, side domain.Side, amount float64) (int64, error) {
	mult := decimal.NewFromFloat(a.Multiplier(contract))
	size := decimal.NewFromFloat(amount).Div(mult).Truncate(0).IntPart()
	if size == 0 {
		return 0, errors.Errorf("amount %v is below one contract (%v) of %s", amount, a.Multiplier(contract), contract)
	}
	if side == domain.SideSell {
		size = -size
	}
	return size, nil
}

// amount 张数 → 数量
func (a *Adapter) amount(contract string, size int64) float64 {
	if size < 0 {
		size = -size
	}
	return decimal.NewFromInt(size).Mul(decimal.NewFromFloat(a.Multiplier(contract))).InexactFloat64()
}

type apiError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

func (a *Adapter) call(ctx context.Context, method, path string, params map[string]any, body any, limitKey string, out any) error {
	path = a.prefix + path
	resp, err := a.client.Do(ctx, method, path, &sdkhttp.RequestOptions{
		Params:   params,
		Data:     body,
		Signed:   true,
		LimitKey: limitKey,
	}, out)
	if err != nil {
		var e apiError
		if resp != nil && json.Unmarshal(resp.Body(), &e) == nil && (e.Label != "" || e.Message != "") {
			return errors.Errorf("gate %s: %s %s", path, e.Label, e.Message)
		}
		return err
	}
	return nil
}

type orderRequest struct {
	Contract string `json:"contract"`
	Size     int64  `json:"size"`
	Price    string `json:"price"`
	Tif      string `json:"tif"`
}

type orderReply struct {
	ID       int64  `json:"id"`
	Contract string `json:"contract"`
	Size     int64  `json:"size"`
	Left     int64  `json:"left"`
	Price    string `json:"price"`
	Status   string `json:"status"`
	FinishAs string `json:"finish_as"`
	Tif      string `json:"tif"`
}

func (a *Adapter) summary(o orderReply) domain.OrderSummary {
	side := domain.SideBuy
	if o.Size < 0 {
		side = domain.SideSell
	}
	typ := domain.OrderTypeLimit
	if o.Tif == "ioc" {
		typ = domain.OrderTypeMarket
	}
	size, left := abs(o.Size), abs(o.Left)
	return domain.OrderSummary{
		OrderID: strconv.FormatInt(o.ID, 10),
		Symbol:  o.Contract,
		Side:    side,
		Type:    typ,
		Amount:  a.amount(o.Contract, size),
		Filled:  a.amount(o.Contract, size-left),
		Price:   venueutil.ParseNumber(o.Price),
		Status:  orderStatus(o.Status, o.FinishAs, size, left),
	}
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	p := price
	return a.place(ctx, symbol, side, domain.OrderTypeLimit, amount, &p)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	return a.place(ctx, symbol, side, domain.OrderTypeMarket, amount, nil)
}

// place 市价单 price=0 + ioc
func (a *Adapter) place(ctx context.Context, symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	size, err := a.contracts(symbol, side, amount)
	if err != nil {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindValidation, err)
	}
	// 实际发送的数量（整张）
	sent := a.amount(symbol, size)
	req := orderRequest{Contract: symbol, Size: size, Price: "0", Tif: "ioc"}
	if price != nil {
		req.Price = venueutil.FormatDecimal(*price, pxPlaces)
		req.Tif = "gtc"
	}

	var reply orderReply
	if err := a.call(ctx, "POST", "/orders", nil, req, limitOrder, &reply); err != nil {
		log.Errorf("❌ 下单失败: contract=%s size=%d err=%v", symbol, size, err)
		return venueutil.OrderFailure(symbol, side, typ, sent, price, domain.KindAdapter, err)
	}
	if reply.ID == 0 {
		return venueutil.OrderFailure(symbol, side, typ, sent, price, domain.KindAdapter, errors.New("gate: empty order response"))
	}
	return venueutil.OrderPlaced(strconv.FormatInt(reply.ID, 10), symbol, side, typ, sent, price)
}

func (a *Adapter) AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	return venueutil.Adjust(ctx, a, symbol, side, amount, price)
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) domain.CancelResult {
	if err := a.call(ctx, "DELETE", "/orders/"+orderID, nil, nil, limitOrder, nil); err != nil {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err), OrderID: orderID}
	}
	return domain.CancelResult{Outcome: domain.Ok("order cancelled"), OrderID: orderID}
}

// CancelAllOrders 指定合约时一次撤销；未指定时逐个撤销所有挂单
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) domain.BatchCancelResult {
	if symbol == "" {
		open := a.GetOpenOrders(ctx, "")
		if !open.Success {
			return domain.BatchCancelResult{Outcome: open.Outcome}
		}
		return venueutil.CancelEach(ctx, a, open.Orders)
	}
	var replies []orderReply
	if err := a.call(ctx, "DELETE", "/orders", map[string]any{"contract": symbol}, nil, limitOrder, &replies); err != nil {
		return domain.BatchCancelResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	return domain.BatchCancelResult{
		Outcome:        domain.Ok("cancelled " + strconv.Itoa(len(replies)) + " orders"),
		CancelledCount: len(replies),
	}
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) domain.OrderStatusResult {
	var reply orderReply
	if err := a.call(ctx, "GET", "/orders/"+orderID, nil, nil, "", &reply); err != nil {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	return domain.OrderStatusResult{Outcome: domain.Ok("ok"), Order: a.summary(reply)}
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) domain.OpenOrdersResult {
	var replies []orderReply
	params := map[string]any{"status": "open", "contract": symbol}
	if err := a.call(ctx, "GET", "/orders", params, nil, "", &replies); err != nil {
		return domain.OpenOrdersResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	orders := make([]domain.OrderSummary, 0, len(replies))
	for _, r := range replies {
		orders = append(orders, a.summary(r))
	}
	return domain.OpenOrdersResult{Outcome: domain.Ok("ok"), Orders: orders}
}

type accountReply struct {
	Total          string `json:"total"`
	Available      string `json:"available"`
	PositionMargin string `json:"position_margin"`
	OrderMargin    string `json:"order_margin"`
	UnrealisedPnL  string `json:"unrealised_pnl"`
}

// GetAccountInfo total 不含未实现盈亏，权益 = total + unrealised_pnl
func (a *Adapter) GetAccountInfo(ctx context.Context) domain.AccountResult {
	var r accountReply
	if err := a.call(ctx, "GET", "/accounts", nil, nil, "", &r); err != nil {
		return domain.AccountResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	upl := venueutil.ParseNumber(r.UnrealisedPnL)
	return domain.AccountResult{Outcome: domain.Ok("ok"), Account: domain.AccountInfo{
		TotalEquity:      venueutil.ParseNumber(r.Total) + upl,
		AvailableBalance: venueutil.ParseNumber(r.Available),
		UsedMargin:       venueutil.ParseNumber(r.PositionMargin) + venueutil.ParseNumber(r.OrderMargin),
		UnrealizedPnL:    upl,
	}}
}

type positionReply struct {
	Contract           string `json:"contract"`
	Size               int64  `json:"size"`
	EntryPrice         string `json:"entry_price"`
	MarkPrice          string `json:"mark_price"`
	UnrealisedPnL      string `json:"unrealised_pnl"`
	Leverage           string `json:"leverage"`
	CrossLeverageLimit string `json:"cross_leverage_limit"`
}

func (a *Adapter) GetPositions(ctx context.Context, symbol string) domain.PositionsResult {
	var replies []positionReply
	if err := a.call(ctx, "GET", "/positions", nil, nil, "", &replies); err != nil {
		return domain.PositionsResult{Outcome: domain.Fail(domain.KindAdapter, "%v", err)}
	}
	positions := make([]domain.Position, 0, len(replies))
	for _, p := range replies {
		if p.Size == 0 || (symbol != "" && p.Contract != symbol) {
			continue
		}
		side := domain.PositionLong
		if p.Size < 0 {
			side = domain.PositionShort
		}
		// leverage 为 0 表示全仓
		lever := venueutil.ParseNumber(p.Leverage)
		if lever <= 0 {
			lever = venueutil.ParseNumber(p.CrossLeverageLimit)
		}
		if lever <= 0 {
			lever = 1
		}
		positions = append(positions, domain.Position{
			Exchange:      a.name,
			Symbol:        p.Contract,
			Side:          side,
			Size:          a.amount(p.Contract, p.Size),
			EntryPrice:    venueutil.ParseNumber(p.EntryPrice),
			MarkPrice:     venueutil.ParseNumber(p.MarkPrice),
			UnrealizedPnL: venueutil.ParseNumber(p.UnrealisedPnL),
			Leverage:      lever,
		})
	}
	return domain.PositionsResult{Outcome: domain.Ok("ok"), Positions: positions}
}

// orderStatus open → pending；finished 按 finish_as 区分，ioc 等其它结束原因按剩余张数判断
func orderStatus(status, finishAs string, size, left int64) domain.OrderStatus {
	switch status {
	case "open":
		if left < size {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusPending
	case "finished":
		switch finishAs {
		case "filled":
			return domain.OrderStatusFilled
		case "cancelled":
			return domain.OrderStatusCancelled
		}
		if left == 0 {
			return domain.OrderStatusFilled
		}
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusError
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
