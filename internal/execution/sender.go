package execution

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/metrics"
	"github.com/betbot/goexec/internal/ports"
)

var senderLog = logrus.WithField("component", "order_sender")

// VenueResolver 按名字解析适配器（venue.Registry 实现）
type VenueResolver interface {
	Get(name string) (ports.ExchangeAdapter, bool)
}

// OrderRequest 通用下单请求
type OrderRequest struct {
	Exchange  string
	Symbol    string
	Side      domain.Side
	Type      domain.OrderType // 空值按 limit 处理
	Amount    float64
	Price     *float64
	StopPrice *float64 // 仅 stop/take_profit 使用，目前不支持
}

// Validate 本地参数校验，不访问网络
func (r OrderRequest) Validate() (domain.Outcome, bool) {
	typ := r.Type
	if typ == "" {
		typ = domain.OrderTypeLimit
	}
	return validateOrder(r.Symbol, r.Side, typ, r.Amount, r.Price)
}

// OrderSender 纯路由：本地校验 → 选择适配器 → 调用 limit/market 下单。
// 校验失败不会发出任何网络请求。
type OrderSender struct {
	venues VenueResolver
}

// NewOrderSender 创建下单路由
func NewOrderSender(venues VenueResolver) *OrderSender {
	return &OrderSender{venues: venues}
}

// Send 下单
func (s *OrderSender) Send(ctx context.Context, req OrderRequest) domain.OrderResult {
	res := domain.OrderResult{
		Symbol: req.Symbol,
		Side:   req.Side,
		Type:   req.Type,
		Amount: req.Amount,
		Price:  req.Price,
	}
	if res.Type == "" {
		res.Type = domain.OrderTypeLimit
	}

	if out, ok := validateOrder(req.Symbol, req.Side, res.Type, req.Amount, req.Price); !ok {
		metrics.OrdersRejected.Add(1)
		senderLog.Warnf("⚠️ 下单请求被拒绝: exchange=%s symbol=%s reason=%s", req.Exchange, req.Symbol, out.Message)
		res.Outcome = out
		return res
	}

	adapter, out, ok := s.resolve(req.Exchange)
	if !ok {
		metrics.OrdersRejected.Add(1)
		res.Outcome = out
		return res
	}

	var placed domain.OrderResult
	switch res.Type {
	case domain.OrderTypeMarket:
		placed = adapter.PlaceMarketOrder(ctx, req.Symbol, req.Side, req.Amount)
	default:
		placed = adapter.PlaceLimitOrder(ctx, req.Symbol, req.Side, req.Amount, *req.Price)
	}

	if !placed.Success {
		// 适配器失败统一归为 adapter 类，消息原样透传
		if placed.Kind == "" {
			placed.Kind = domain.KindAdapter
		}
		metrics.AdapterFailures.Add(1)
		senderLog.Errorf("❌ 下单失败: exchange=%s symbol=%s side=%s type=%s amount=%.8f err=%s",
			req.Exchange, req.Symbol, req.Side, res.Type, req.Amount, placed.Message)
		return placed
	}

	metrics.OrdersPlaced.Add(1)
	senderLog.Infof("✅ 下单成功: exchange=%s symbol=%s side=%s type=%s amount=%.8f orderID=%s",
		req.Exchange, req.Symbol, req.Side, res.Type, req.Amount, placed.OrderID)
	return placed
}

// Cancel 撤销单个订单
func (s *OrderSender) Cancel(ctx context.Context, exchange, symbol, orderID string) domain.CancelResult {
	res := domain.CancelResult{OrderID: orderID}
	if strings.TrimSpace(orderID) == "" {
		res.Outcome = domain.Fail(domain.KindValidation, "order_id is required")
		return res
	}
	adapter, out, ok := s.resolve(exchange)
	if !ok {
		res.Outcome = out
		return res
	}

	metrics.CancelsSent.Add(1)
	r := adapter.CancelOrder(ctx, symbol, orderID)
	if !r.Success {
		if r.Kind == "" {
			r.Kind = domain.KindAdapter
		}
		metrics.CancelFailures.Add(1)
		senderLog.Errorf("❌ 撤单失败: exchange=%s orderID=%s err=%s", exchange, orderID, r.Message)
	}
	return r
}

// CancelAll 撤销全部（或某交易对的）挂单。部分失败返回 partial_batch，不整体报错。
func (s *OrderSender) CancelAll(ctx context.Context, exchange, symbol string) domain.BatchCancelResult {
	adapter, out, ok := s.resolve(exchange)
	if !ok {
		return domain.BatchCancelResult{Outcome: out}
	}

	metrics.CancelsSent.Add(1)
	r := adapter.CancelAllOrders(ctx, symbol)
	if !r.Success {
		if r.Kind == "" {
			if r.CancelledCount > 0 || len(r.Errors) > 0 {
				r.Kind = domain.KindPartialBatch
			} else {
				r.Kind = domain.KindAdapter
			}
		}
		metrics.CancelFailures.Add(1)
		senderLog.Warnf("⚠️ 批量撤单未完全成功: exchange=%s symbol=%s cancelled=%d err=%s",
			exchange, symbol, r.CancelledCount, r.Message)
		return r
	}
	senderLog.Infof("✅ 批量撤单完成: exchange=%s symbol=%s cancelled=%d", exchange, symbol, r.CancelledCount)
	return r
}

func (s *OrderSender) resolve(exchange string) (ports.ExchangeAdapter, domain.Outcome, bool) {
	if s == nil || s.venues == nil {
		return nil, domain.Fail(domain.KindUnsupportedVenue, "no venues configured"), false
	}
	adapter, ok := s.venues.Get(exchange)
	if !ok {
		return nil, domain.Fail(domain.KindUnsupportedVenue, "unsupported exchange: %s", exchange), false
	}
	return adapter, domain.Outcome{}, true
}

// validateOrder 本地参数校验（顺序：symbol → side → amount → price → 订单类型）
func validateOrder(symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) (domain.Outcome, bool) {
	if strings.TrimSpace(symbol) == "" {
		return domain.Fail(domain.KindValidation, "symbol is required"), false
	}
	if !side.Valid() {
		return domain.Fail(domain.KindValidation, "invalid side: %q", side), false
	}
	if !positiveFinite(amount) {
		return domain.Fail(domain.KindValidation, "amount must be positive, got %v", amount), false
	}
	if price != nil && !positiveFinite(*price) {
		return domain.Fail(domain.KindValidation, "price must be positive, got %v", *price), false
	}
	switch typ {
	case domain.OrderTypeLimit:
		if price == nil {
			return domain.Fail(domain.KindValidation, "limit order requires a price"), false
		}
	case domain.OrderTypeMarket:
	case domain.OrderTypeStop, domain.OrderTypeTakeProfit:
		return domain.Fail(domain.KindUnsupportedOrderType, "order type %s is not supported", typ), false
	default:
		return domain.Fail(domain.KindValidation, "unknown order type: %q", typ), false
	}
	return domain.Outcome{}, true
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
