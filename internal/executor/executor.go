package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/metrics"
	"github.com/betbot/goexec/internal/oms"
	"github.com/betbot/goexec/internal/position"
	"github.com/betbot/goexec/internal/risk"
)

var log = logrus.WithField("component", "executor")

// Sender 下单/撤单路由（execution.OrderSender 实现）
type Sender interface {
	Send(ctx context.Context, req execution.OrderRequest) domain.OrderResult
	Cancel(ctx context.Context, exchange, symbol, orderID string) domain.CancelResult
	CancelAll(ctx context.Context, exchange, symbol string) domain.BatchCancelResult
}

// Deps 显式注入的依赖，生命周期由装配方（cmd）负责
type Deps struct {
	Venues    execution.VenueResolver
	Sender    Sender
	Orders    *oms.OrderManager
	Risk      *risk.RiskManager
	Positions *position.PositionManager
	Locks     *execution.KeyLocker // 与 PositionManager 共用同一个实例
	Breaker   *risk.CircuitBreaker // 可选
	// AutoLiquidate 为 true 时 MonitorAccount 在 danger 时自动执行清仓信号
	AutoLiquidate bool
}

// Result 信号执行结果
type Result struct {
	domain.Outcome
	OrderID string            `json:"order_id,omitempty"`
	Action  domain.Action     `json:"action"`
	Risk    *risk.CheckResult `json:"risk,omitempty"` // 仅在做过下单前风控时存在
}

// RiskSignalResult 风险信号处理结果
type RiskSignalResult struct {
	domain.Outcome
	OrderID        string `json:"order_id,omitempty"`
	CancelledCount int    `json:"cancelled_count"`
	// Partial 清仓全部时只撤销了挂单，没有逐个平仓
	Partial bool `json:"partial"`
}

// MonitorResult 账户监控结果
type MonitorResult struct {
	Check       risk.AccountCheck         `json:"check"`
	Signal      *domain.LiquidationSignal `json:"signal,omitempty"`
	Liquidation *RiskSignalResult         `json:"liquidation,omitempty"`
}

// Executor 串起 信号 → 风控 → 下单 → 记账。
// 账本只由 Executor 写入；同一 (exchange, symbol) 的变更操作串行执行。
type Executor struct {
	venues        execution.VenueResolver
	sender        Sender
	orders        *oms.OrderManager
	risk          *risk.RiskManager
	positions     *position.PositionManager
	locks         *execution.KeyLocker
	breaker       *risk.CircuitBreaker
	autoLiquidate bool
}

// New 创建执行器
func New(d Deps) (*Executor, error) {
	switch {
	case d.Venues == nil:
		return nil, fmt.Errorf("executor: venues is required")
	case d.Sender == nil:
		return nil, fmt.Errorf("executor: sender is required")
	case d.Orders == nil:
		return nil, fmt.Errorf("executor: order manager is required")
	case d.Risk == nil:
		return nil, fmt.Errorf("executor: risk manager is required")
	case d.Positions == nil:
		return nil, fmt.Errorf("executor: position manager is required")
	}
	return &Executor{
		venues:        d.Venues,
		sender:        d.Sender,
		orders:        d.Orders,
		risk:          d.Risk,
		positions:     d.Positions,
		locks:         d.Locks,
		breaker:       d.Breaker,
		autoLiquidate: d.AutoLiquidate,
	}, nil
}

func (e *Executor) Venues() execution.VenueResolver { return e.venues }

func (e *Executor) Orders() *oms.OrderManager { return e.orders }

func (e *Executor) Risk() *risk.RiskManager { return e.risk }

func (e *Executor) Positions() *position.PositionManager { return e.positions }

func (e *Executor) Breaker() *risk.CircuitBreaker { return e.breaker }

// ExecuteSignal 执行策略信号。
//
// buy/sell 带价格时先做下单前风控，拒绝则不发单；不带价格的市价单不做价值校验
// （需要估价，交给账户级风控兜底）。close 走 PositionManager 平仓，不做风控、不受熔断限制。
func (e *Executor) ExecuteSignal(ctx context.Context, exchange, symbol string, sig domain.Signal) Result {
	metrics.SignalsReceived.Add(1)
	res := Result{Action: sig.Action}

	switch sig.Action {
	case domain.ActionClose:
		return e.closePosition(ctx, exchange, symbol, sig.Price, res)
	case domain.ActionBuy, domain.ActionSell:
	default:
		res.Outcome = domain.Fail(domain.KindValidation, "unsupported action: %q", sig.Action)
		return res
	}

	side, _ := sig.Side()
	req := execution.OrderRequest{
		Exchange: exchange,
		Symbol:   symbol,
		Side:     side,
		Type:     sig.EffectiveOrderType(),
		Amount:   sig.Amount,
		Price:    sig.Price,
	}
	if out, ok := req.Validate(); !ok {
		res.Outcome = out
		return res
	}
	if _, ok := e.venues.Get(exchange); !ok {
		res.Outcome = domain.Fail(domain.KindUnsupportedVenue, "unsupported exchange: %s", exchange)
		return res
	}
	if err := e.breaker.AllowTrading(); err != nil {
		metrics.CircuitBlocked.Add(1)
		log.Warnf("⛔ 熔断中，拒绝信号: exchange=%s symbol=%s action=%s", exchange, symbol, sig.Action)
		res.Outcome = domain.Fail(domain.KindCircuitOpen, "%v", err)
		return res
	}

	unlock := e.locks.Lock(execution.PairKey(exchange, symbol))
	defer unlock()

	if sig.Price != nil {
		check := e.risk.CheckOrderRisk(ctx, exchange, symbol, side, sig.Amount, *sig.Price)
		res.Risk = &check
		if !check.Allowed {
			res.Outcome = domain.Fail(domain.KindRiskRejection, "risk check failed: %s", check.Reason)
			return res
		}
	}

	placed := e.sender.Send(ctx, req)
	e.recordBreaker(placed.Outcome)
	res.Outcome = placed.Outcome
	res.OrderID = placed.OrderID
	if placed.Success && placed.OrderID != "" {
		// 以交易所实际接收的数量为准（如 Gate 按整张合约取整）
		amount := placed.Amount
		if amount <= 0 {
			amount = req.Amount
		}
		e.record(exchange, symbol, placed.OrderID, side, req.Type, amount, req.Price)
	}
	return res
}

func (e *Executor) closePosition(ctx context.Context, exchange, symbol string, price *float64, res Result) Result {
	placed := e.positions.ClosePosition(ctx, exchange, symbol, price)
	res.Outcome = placed.Outcome
	res.OrderID = placed.OrderID
	if placed.Success && placed.OrderID != "" {
		e.record(exchange, symbol, placed.OrderID, placed.Side, placed.Type, placed.Amount, price)
	}
	return res
}

// IncreasePosition 手动加仓（受熔断限制），成功后记账
func (e *Executor) IncreasePosition(ctx context.Context, exchange, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	if err := e.breaker.AllowTrading(); err != nil {
		metrics.CircuitBlocked.Add(1)
		return domain.OrderResult{Outcome: domain.Fail(domain.KindCircuitOpen, "%v", err), Symbol: symbol, Amount: amount, Price: price}
	}
	placed := e.positions.IncreasePosition(ctx, exchange, symbol, side, amount, price)
	e.recordBreaker(placed.Outcome)
	e.recordPlaced(exchange, placed)
	return placed
}

// DecreasePosition 手动减仓，成功后记账
func (e *Executor) DecreasePosition(ctx context.Context, exchange, symbol string, amount float64, price *float64) domain.OrderResult {
	placed := e.positions.DecreasePosition(ctx, exchange, symbol, amount, price)
	e.recordPlaced(exchange, placed)
	return placed
}

// ClosePosition 手动平仓，成功后记账
func (e *Executor) ClosePosition(ctx context.Context, exchange, symbol string, price *float64) domain.OrderResult {
	placed := e.positions.ClosePosition(ctx, exchange, symbol, price)
	e.recordPlaced(exchange, placed)
	return placed
}

func (e *Executor) recordPlaced(exchange string, placed domain.OrderResult) {
	if placed.Success && placed.OrderID != "" {
		e.record(exchange, placed.Symbol, placed.OrderID, placed.Side, placed.Type, placed.Amount, placed.Price)
	}
}

// record 写入 pending 记录；账本失败只记日志，不影响下单结果
func (e *Executor) record(exchange, symbol, orderID string, side domain.Side, typ domain.OrderType, amount float64, price *float64) {
	if typ == "" {
		typ = domain.OrderTypeLimit
	}
	// 市价单价格为空
	if typ == domain.OrderTypeMarket {
		price = nil
	}
	r := e.orders.AddOrder(domain.Order{
		OrderID:  orderID,
		Exchange: exchange,
		Symbol:   symbol,
		Side:     side,
		Type:     typ,
		Amount:   amount,
		Price:    price,
		Status:   domain.OrderStatusPending,
	})
	if !r.Success {
		log.Errorf("❌ 订单记账失败: exchange=%s orderID=%s err=%s", exchange, orderID, r.Message)
	}
}

// recordBreaker 只有交易所侧失败才计入熔断
func (e *Executor) recordBreaker(out domain.Outcome) {
	switch {
	case out.Success:
		e.breaker.OnSuccess()
	case out.Kind == domain.KindAdapter:
		e.breaker.OnError()
	}
}

// HandleRiskSignal 处理风险信号，目前只支持 liquidate：
//   - 指定 symbol：平掉该交易对持仓
//   - 未指定：撤销该交易所全部挂单（逐个平仓尚未实现，结果标记 Partial）
func (e *Executor) HandleRiskSignal(ctx context.Context, sig domain.LiquidationSignal) RiskSignalResult {
	if sig.Signal != domain.SignalLiquidate {
		return RiskSignalResult{Outcome: domain.Fail(domain.KindValidation, "unsupported risk signal: %q", sig.Signal)}
	}
	if sig.Exchange == "" {
		return RiskSignalResult{Outcome: domain.Fail(domain.KindValidation, "exchange is required")}
	}
	metrics.Liquidations.Add(1)

	if sig.Symbol != "" {
		log.Warnf("🚨 清仓: exchange=%s symbol=%s", sig.Exchange, sig.Symbol)
		r := e.closePosition(ctx, sig.Exchange, sig.Symbol, nil, Result{})
		return RiskSignalResult{Outcome: r.Outcome, OrderID: r.OrderID}
	}

	log.Warnf("🚨 清仓全部: exchange=%s（只撤销挂单）", sig.Exchange)
	unlock := e.lockPairs(sig.Exchange, "")
	batch := e.sender.CancelAll(ctx, sig.Exchange, "")
	e.refreshOpen(ctx, sig.Exchange, "")
	unlock()
	out := RiskSignalResult{CancelledCount: batch.CancelledCount, Partial: true}
	if batch.Success {
		out.Outcome = domain.Ok(fmt.Sprintf("cancelled %d open orders; closing all positions is not implemented", batch.CancelledCount))
	} else {
		out.Outcome = batch.Outcome
	}
	return out
}

// CancelOrder 撤单，确认后把账本状态改为 cancelled
func (e *Executor) CancelOrder(ctx context.Context, exchange, symbol, orderID string) domain.CancelResult {
	unlock := e.locks.Lock(execution.PairKey(exchange, symbol))
	defer unlock()

	r := e.sender.Cancel(ctx, exchange, symbol, orderID)
	if r.Success {
		if m := e.orders.MarkStatus(exchange, orderID, domain.OrderStatusCancelled); !m.Success {
			log.Debugf("撤单成功但账本中无记录: exchange=%s orderID=%s", exchange, orderID)
		}
	}
	return r
}

// CancelAllOrders 批量撤单，之后按交易所回报刷新账本中的挂单
func (e *Executor) CancelAllOrders(ctx context.Context, exchange, symbol string) domain.BatchCancelResult {
	unlock := e.lockPairs(exchange, symbol)
	defer unlock()

	r := e.sender.CancelAll(ctx, exchange, symbol)
	if r.CancelledCount > 0 {
		e.refreshOpen(ctx, exchange, symbol)
	}
	return r
}

// lockPairs 批量操作的串行化：指定 symbol 时只锁该交易对；
// 否则锁住账本中该交易所所有有挂单的交易对（排序后依次加锁，避免死锁）。
// 账本里没有挂单的交易对不受影响。
func (e *Executor) lockPairs(exchange, symbol string) func() {
	if symbol != "" {
		return e.locks.Lock(execution.PairKey(exchange, symbol))
	}
	seen := make(map[string]struct{})
	for _, o := range e.orders.GetOpenOrders(exchange) {
		seen[o.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	unlocks := make([]func(), 0, len(symbols))
	for _, s := range symbols {
		unlocks = append(unlocks, e.locks.Lock(execution.PairKey(exchange, s)))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// refreshOpen 逐个同步账本中的挂单状态；失败只记日志
func (e *Executor) refreshOpen(ctx context.Context, exchange, symbol string) {
	for _, o := range e.orders.GetOpenOrders(exchange) {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if r := e.orders.UpdateOrderStatus(ctx, exchange, o.OrderID); !r.Success {
			log.Debugf("撤单后同步订单状态失败: exchange=%s orderID=%s err=%s", exchange, o.OrderID, r.Message)
		}
	}
}

// MonitorAccount 账户风险检查；danger 且开启自动清仓时生成并执行清仓信号
func (e *Executor) MonitorAccount(ctx context.Context, exchange string) MonitorResult {
	check := e.risk.CheckAccountRisk(ctx, exchange)
	out := MonitorResult{Check: check}
	if !check.ShouldLiquidate {
		return out
	}

	sig := e.risk.SendLiquidationSignal(exchange, "")
	out.Signal = &sig
	if !e.autoLiquidate {
		log.Warnf("🚨 需要清仓但未开启自动清仓: exchange=%s %s", exchange, check.Message)
		return out
	}
	r := e.HandleRiskSignal(ctx, sig)
	out.Liquidation = &r
	return out
}
