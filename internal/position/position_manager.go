package position

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/ports"
)

var posLog = logrus.WithField("component", "position_manager")

// OrderRouter 下单路由（execution.OrderSender 实现）
type OrderRouter interface {
	Send(ctx context.Context, req execution.OrderRequest) domain.OrderResult
}

// VenueResolver 按交易所名取适配器
type VenueResolver interface {
	Get(name string) (ports.ExchangeAdapter, bool)
}

// PositionManager 仓位查询与调整。
// 不缓存仓位：每次都向交易所查询，只根据快照决定下单方向和数量。
type PositionManager struct {
	venues VenueResolver
	sender OrderRouter
	locks  *execution.KeyLocker // 与 Executor 共用，(exchange, symbol) 串行
}

// NewPositionManager locks 可为 nil（不串行化）
func NewPositionManager(venues VenueResolver, sender OrderRouter, locks *execution.KeyLocker) *PositionManager {
	return &PositionManager{venues: venues, sender: sender, locks: locks}
}

// GetPosition 查询单个交易对的持仓；找不到或查询失败时返回空仓占位。
func (p *PositionManager) GetPosition(ctx context.Context, exchange, symbol string) domain.Position {
	flat := domain.FlatPosition(exchange, symbol)
	if p.venues == nil {
		return flat
	}
	adapter, ok := p.venues.Get(exchange)
	if !ok {
		posLog.Warnf("⚠️ 获取仓位失败: 不支持的交易所 %s", exchange)
		return flat
	}
	res := adapter.GetPositions(ctx, symbol)
	if !res.Success {
		posLog.Warnf("⚠️ 获取仓位失败: exchange=%s symbol=%s err=%s", exchange, symbol, res.Message)
		return flat
	}
	for _, pos := range res.Positions {
		if pos.Symbol == symbol {
			if pos.Exchange == "" {
				pos.Exchange = exchange
			}
			return pos
		}
	}
	return flat
}

// IncreasePosition 加仓：long→buy, short→sell；price 为 nil 时市价，否则限价。
func (p *PositionManager) IncreasePosition(ctx context.Context, exchange, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	if !side.Valid() {
		return domain.OrderResult{
			Outcome: domain.Fail(domain.KindValidation, "invalid position side: %q", side),
			Symbol:  symbol,
			Amount:  amount,
			Price:   price,
		}
	}
	unlock := p.locks.Lock(execution.PairKey(exchange, symbol))
	defer unlock()

	res := p.send(ctx, exchange, symbol, side.OpenSide(), amount, price)
	if res.Success {
		posLog.Infof("📈 加仓: exchange=%s symbol=%s side=%s amount=%.8f", exchange, symbol, side, amount)
	}
	return res
}

// DecreasePosition 减仓：方向与当前持仓相反。无持仓时直接失败，不下单。
func (p *PositionManager) DecreasePosition(ctx context.Context, exchange, symbol string, amount float64, price *float64) domain.OrderResult {
	unlock := p.locks.Lock(execution.PairKey(exchange, symbol))
	defer unlock()

	pos := p.GetPosition(ctx, exchange, symbol)
	if pos.Side == domain.PositionNone || !pos.Side.Valid() {
		return domain.OrderResult{
			Outcome: domain.Fail(domain.KindNoPosition, "no open position on %s %s, cannot decrease", exchange, symbol),
			Symbol:  symbol,
			Amount:  amount,
			Price:   price,
		}
	}

	res := p.send(ctx, exchange, symbol, pos.Side.CloseSide(), amount, price)
	if res.Success {
		posLog.Infof("📉 减仓: exchange=%s symbol=%s position=%s amount=%.8f", exchange, symbol, pos.Side, amount)
	}
	return res
}

// ClosePosition 平仓：按当前全部持仓量反向下单（忽略调用方数量）。
func (p *PositionManager) ClosePosition(ctx context.Context, exchange, symbol string, price *float64) domain.OrderResult {
	unlock := p.locks.Lock(execution.PairKey(exchange, symbol))
	defer unlock()

	pos := p.GetPosition(ctx, exchange, symbol)
	if pos.IsFlat() || !pos.Side.Valid() {
		return domain.OrderResult{
			Outcome: domain.Fail(domain.KindNoPosition, "no open position on %s %s, nothing to close", exchange, symbol),
			Symbol:  symbol,
			Price:   price,
		}
	}

	res := p.send(ctx, exchange, symbol, pos.Side.CloseSide(), pos.Size, price)
	if res.Success {
		posLog.Infof("✅ 平仓: exchange=%s symbol=%s position=%s size=%.8f orderID=%s",
			exchange, symbol, pos.Side, pos.Size, res.OrderID)
	} else {
		posLog.Errorf("❌ 平仓失败: exchange=%s symbol=%s err=%s", exchange, symbol, res.Message)
	}
	return res
}

func (p *PositionManager) send(ctx context.Context, exchange, symbol string, side domain.Side, amount float64, price *float64) domain.OrderResult {
	typ := domain.OrderTypeMarket
	if price != nil {
		typ = domain.OrderTypeLimit
	}
	return p.sender.Send(ctx, execution.OrderRequest{
		Exchange: exchange,
		Symbol:   symbol,
		Side:     side,
		Type:     typ,
		Amount:   amount,
		Price:    price,
	})
}
