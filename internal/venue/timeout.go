package venue

import (
	"context"
	"time"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/ports"
)

// WithTimeout 给每次适配器调用加上独立的超时。d <= 0 时原样返回。
// 重试/退避由适配器自身（REST client）负责，这里只限制单次调用的总时长。
func WithTimeout(adapter ports.ExchangeAdapter, d time.Duration) ports.ExchangeAdapter {
	if adapter == nil || d <= 0 {
		return adapter
	}
	return &timeoutAdapter{next: adapter, timeout: d}
}

type timeoutAdapter struct {
	next    ports.ExchangeAdapter
	timeout time.Duration
}

func (t *timeoutAdapter) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timeoutAdapter) Name() string { return t.next.Name() }

func (t *timeoutAdapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.PlaceLimitOrder(ctx, symbol, side, amount, price)
}

func (t *timeoutAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.PlaceMarketOrder(ctx, symbol, side, amount)
}

func (t *timeoutAdapter) CancelOrder(ctx context.Context, symbol, orderID string) domain.CancelResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.CancelOrder(ctx, symbol, orderID)
}

func (t *timeoutAdapter) CancelAllOrders(ctx context.Context, symbol string) domain.BatchCancelResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.CancelAllOrders(ctx, symbol)
}

func (t *timeoutAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) domain.OrderStatusResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetOrderStatus(ctx, symbol, orderID)
}

func (t *timeoutAdapter) GetOpenOrders(ctx context.Context, symbol string) domain.OpenOrdersResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetOpenOrders(ctx, symbol)
}

func (t *timeoutAdapter) GetAccountInfo(ctx context.Context) domain.AccountResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetAccountInfo(ctx)
}

func (t *timeoutAdapter) GetPositions(ctx context.Context, symbol string) domain.PositionsResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetPositions(ctx, symbol)
}

func (t *timeoutAdapter) AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.AdjustPosition(ctx, symbol, side, amount, price)
}
