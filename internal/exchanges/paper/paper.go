// Package paper 模拟交易所（dry run）：内存账户，不发出任何网络请求。
//
// 按保证金账户记账：现金只随已实现盈亏变化，持仓按交易对净额合并。
// 市价单按标记价格立即成交；限价单可成交时按限价成交，否则挂单，
// 等 SetMarkPrice 推动价格穿越后成交。
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/venueutil"
	"github.com/betbot/goexec/internal/ports"
)

var log = logrus.WithField("component", "paper")

const Name = "paper"

// Config 模拟账户配置
type Config struct {
	Name           string
	InitialBalance float64            // 初始现金（USDT）
	Leverage       float64            // 默认 1
	MarkPrices     map[string]float64 // 初始标记价格
}

type order struct {
	id     string
	symbol string
	side   domain.Side
	typ    domain.OrderType
	amount decimal.Decimal
	filled decimal.Decimal
	price  decimal.Decimal // 市价单为成交价
	status domain.OrderStatus
	seq    int64
}

func (o *order) summary() domain.OrderSummary {
	return domain.OrderSummary{
		OrderID: o.id,
		Symbol:  o.symbol,
		Side:    o.side,
		Type:    o.typ,
		Amount:  o.amount.InexactFloat64(),
		Filled:  o.filled.InexactFloat64(),
		Price:   o.price.InexactFloat64(),
		Status:  o.status,
	}
}

// position 带符号的净持仓：qty > 0 多头，< 0 空头
type position struct {
	qty   decimal.Decimal
	entry decimal.Decimal
}

// Adapter 模拟交易所
type Adapter struct {
	mu        sync.Mutex
	name      string
	leverage  decimal.Decimal
	cash      decimal.Decimal
	marks     map[string]decimal.Decimal
	orders    map[string]*order
	positions map[string]*position
	seq       int64
	newID     func() string
}

// New 创建模拟账户
func New(cfg Config) (*Adapter, error) {
	if cfg.Name == "" {
		cfg.Name = Name
	}
	if cfg.InitialBalance < 0 {
		return nil, errors.New("paper: initial balance must not be negative")
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	a := &Adapter{
		name:      cfg.Name,
		leverage:  decimal.NewFromFloat(cfg.Leverage),
		cash:      decimal.NewFromFloat(cfg.InitialBalance),
		marks:     make(map[string]decimal.Decimal),
		orders:    make(map[string]*order),
		positions: make(map[string]*position),
		newID:     func() string { return uuid.NewString() },
	}
	for sym, p := range cfg.MarkPrices {
		if p <= 0 {
			return nil, errors.Errorf("paper: mark price for %s must be positive", sym)
		}
		a.marks[sym] = decimal.NewFromFloat(p)
	}
	return a, nil
}

var _ ports.ExchangeAdapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

// SetMarkPrice 更新标记价格，并撮合已穿价的挂单
func (a *Adapter) SetMarkPrice(symbol string, price float64) error {
	if price <= 0 {
		return errors.Errorf("paper: mark price for %s must be positive", symbol)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	mark := decimal.NewFromFloat(price)
	a.marks[symbol] = mark

	for _, o := range a.sortedOrders() {
		if o.symbol != symbol || !o.status.IsOpen() || !marketable(o.side, o.price, mark) {
			continue
		}
		a.fill(o, o.price)
		log.Infof("📝 挂单成交: id=%s symbol=%s side=%s price=%s", o.id, o.symbol, o.side, o.price)
	}
	return nil
}

func marketable(side domain.Side, limit, mark decimal.Decimal) bool {
	if side == domain.SideBuy {
		return limit.GreaterThanOrEqual(mark)
	}
	return limit.LessThanOrEqual(mark)
}

func (a *Adapter) PlaceLimitOrder(_ context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	p := price
	return a.place(symbol, side, domain.OrderTypeLimit, amount, &p)
}

func (a *Adapter) PlaceMarketOrder(_ context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	return a.place(symbol, side, domain.OrderTypeMarket, amount, nil)
}

func (a *Adapter) place(symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	if amount <= 0 || !side.Valid() {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindValidation, errors.New("paper: invalid side or amount"))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	mark, hasMark := a.marks[symbol]
	a.seq++
	o := &order{
		seq:    a.seq,
		id:     a.newID(),
		symbol: symbol,
		side:   side,
		typ:    typ,
		amount: decimal.NewFromFloat(amount),
		status: domain.OrderStatusPending,
	}
	if price != nil {
		o.price = decimal.NewFromFloat(*price)
	} else {
		if !hasMark {
			return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter, errors.Errorf("paper: no mark price for %s", symbol))
		}
		o.price = mark
	}

	if need := a.marginRequired(o); need.GreaterThan(a.available()) {
		return venueutil.OrderFailure(symbol, side, typ, amount, price, domain.KindAdapter,
			errors.Errorf("paper: insufficient available balance: need %s, have %s", need.StringFixed(2), a.available().StringFixed(2)))
	}

	a.orders[o.id] = o
	if typ == domain.OrderTypeMarket || (hasMark && marketable(side, o.price, mark)) {
		a.fill(o, o.price)
	}
	log.Infof("📝 模拟下单: id=%s symbol=%s side=%s type=%s amount=%s price=%s status=%s",
		o.id, symbol, side, typ, o.amount, o.price, o.status)
	return venueutil.OrderPlaced(o.id, symbol, side, typ, amount, price)
}

// marginRequired 减仓部分不占保证金
func (a *Adapter) marginRequired(o *order) decimal.Decimal {
	qty := o.amount
	if p, ok := a.positions[o.symbol]; ok && !p.qty.IsZero() {
		reducing := (p.qty.IsPositive() && o.side == domain.SideSell) || (p.qty.IsNegative() && o.side == domain.SideBuy)
		if reducing {
			qty = decimal.Max(decimal.Zero, qty.Sub(p.qty.Abs()))
		}
	}
	return qty.Mul(o.price).Div(a.leverage)
}

// fill 全部成交并更新净持仓，调用方持有锁
func (a *Adapter) fill(o *order, px decimal.Decimal) {
	o.filled = o.amount
	o.price = px
	o.status = domain.OrderStatusFilled

	delta := o.amount
	if o.side == domain.SideSell {
		delta = delta.Neg()
	}
	p, ok := a.positions[o.symbol]
	if !ok {
		p = &position{qty: decimal.Zero, entry: decimal.Zero}
		a.positions[o.symbol] = p
	}

	switch {
	case p.qty.IsZero() || p.qty.Sign() == delta.Sign():
		// 加仓：加权平均开仓价
		total := p.qty.Add(delta)
		p.entry = p.qty.Abs().Mul(p.entry).Add(delta.Abs().Mul(px)).Div(total.Abs())
		p.qty = total
	default:
		// 减仓/反手：平掉部分结算已实现盈亏
		closing := decimal.Min(p.qty.Abs(), delta.Abs())
		pnl := px.Sub(p.entry).Mul(closing)
		if p.qty.IsNegative() {
			pnl = pnl.Neg()
		}
		a.cash = a.cash.Add(pnl)
		p.qty = p.qty.Add(delta)
		switch {
		case p.qty.IsZero():
			p.entry = decimal.Zero
		case p.qty.Sign() == delta.Sign():
			p.entry = px
		}
	}
	if _, ok := a.marks[o.symbol]; !ok {
		a.marks[o.symbol] = px
	}
}

func (a *Adapter) AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	return venueutil.Adjust(ctx, a, symbol, side, amount, price)
}

func (a *Adapter) CancelOrder(_ context.Context, _ string, orderID string) domain.CancelResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "paper: order %s not found", orderID), OrderID: orderID}
	}
	if !o.status.IsOpen() {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "paper: order %s is %s", orderID, o.status), OrderID: orderID}
	}
	o.status = domain.OrderStatusCancelled
	return domain.CancelResult{Outcome: domain.Ok("order cancelled"), OrderID: orderID}
}

func (a *Adapter) CancelAllOrders(_ context.Context, symbol string) domain.BatchCancelResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.orders {
		if o.status.IsOpen() && (symbol == "" || o.symbol == symbol) {
			o.status = domain.OrderStatusCancelled
			n++
		}
	}
	return domain.BatchCancelResult{Outcome: domain.Ok(fmt.Sprintf("cancelled %d orders", n)), CancelledCount: n}
}

func (a *Adapter) GetOrderStatus(_ context.Context, _ string, orderID string) domain.OrderStatusResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[orderID]
	if !ok {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "paper: order %s not found", orderID)}
	}
	return domain.OrderStatusResult{Outcome: domain.Ok("ok"), Order: o.summary()}
}

func (a *Adapter) GetOpenOrders(_ context.Context, symbol string) domain.OpenOrdersResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.OrderSummary, 0)
	for _, o := range a.sortedOrders() {
		if o.status.IsOpen() && (symbol == "" || o.symbol == symbol) {
			out = append(out, o.summary())
		}
	}
	return domain.OpenOrdersResult{Outcome: domain.Ok("ok"), Orders: out}
}

// sortedOrders 按下单顺序排列，调用方持有锁
func (a *Adapter) sortedOrders() []*order {
	out := make([]*order, 0, len(a.orders))
	for _, o := range a.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// 以下几个统计函数调用方持有锁

func (a *Adapter) unrealized() decimal.Decimal {
	total := decimal.Zero
	for sym, p := range a.positions {
		if mark, ok := a.marks[sym]; ok && !p.qty.IsZero() {
			total = total.Add(mark.Sub(p.entry).Mul(p.qty))
		}
	}
	return total
}

func (a *Adapter) usedMargin() decimal.Decimal {
	total := decimal.Zero
	for sym, p := range a.positions {
		if mark, ok := a.marks[sym]; ok {
			total = total.Add(p.qty.Abs().Mul(mark).Div(a.leverage))
		}
	}
	return total
}

func (a *Adapter) orderMargin() decimal.Decimal {
	total := decimal.Zero
	for _, o := range a.orders {
		if o.status.IsOpen() {
			total = total.Add(o.amount.Sub(o.filled).Mul(o.price).Div(a.leverage))
		}
	}
	return total
}

func (a *Adapter) available() decimal.Decimal {
	return a.cash.Add(a.unrealized()).Sub(a.usedMargin()).Sub(a.orderMargin())
}

func (a *Adapter) GetAccountInfo(_ context.Context) domain.AccountResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	upl := a.unrealized()
	return domain.AccountResult{Outcome: domain.Ok("ok"), Account: domain.AccountInfo{
		TotalEquity:      a.cash.Add(upl).InexactFloat64(),
		AvailableBalance: decimal.Max(decimal.Zero, a.available()).InexactFloat64(),
		UsedMargin:       a.usedMargin().Add(a.orderMargin()).InexactFloat64(),
		UnrealizedPnL:    upl.InexactFloat64(),
	}}
}

func (a *Adapter) GetPositions(_ context.Context, symbol string) domain.PositionsResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	syms := make([]string, 0, len(a.positions))
	for sym, p := range a.positions {
		if !p.qty.IsZero() && (symbol == "" || sym == symbol) {
			syms = append(syms, sym)
		}
	}
	sort.Strings(syms)

	out := make([]domain.Position, 0, len(syms))
	for _, sym := range syms {
		p := a.positions[sym]
		side := domain.PositionLong
		if p.qty.IsNegative() {
			side = domain.PositionShort
		}
		mark := a.marks[sym]
		out = append(out, domain.Position{
			Exchange:      a.name,
			Symbol:        sym,
			Side:          side,
			Size:          p.qty.Abs().InexactFloat64(),
			EntryPrice:    p.entry.InexactFloat64(),
			MarkPrice:     mark.InexactFloat64(),
			UnrealizedPnL: mark.Sub(p.entry).Mul(p.qty).InexactFloat64(),
			Leverage:      a.leverage.InexactFloat64(),
		})
	}
	return domain.PositionsResult{Outcome: domain.Ok("ok"), Positions: out}
}
