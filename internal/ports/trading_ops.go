package ports

import (
	"context"

	"github.com/betbot/goexec/internal/domain"
)

// Small capability interfaces shared across layers (sender/oms/risk/position).
// Every method reports failures through the returned result's Outcome and
// never panics: transport and venue errors are mapped to domain.KindAdapter.

type OrderPlacer interface {
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult
}

type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) domain.CancelResult
	// CancelAllOrders cancels every open order, or only those of symbol when non-empty.
	CancelAllOrders(ctx context.Context, symbol string) domain.BatchCancelResult
}

type OrderQuerier interface {
	GetOrderStatus(ctx context.Context, symbol, orderID string) domain.OrderStatusResult
	GetOpenOrders(ctx context.Context, symbol string) domain.OpenOrdersResult
}

type AccountReader interface {
	GetAccountInfo(ctx context.Context) domain.AccountResult
	GetPositions(ctx context.Context, symbol string) domain.PositionsResult
}

type PositionAdjuster interface {
	// AdjustPosition places an order in the direction of side (long→buy, short→sell).
	// A nil price sends a market order.
	AdjustPosition(ctx context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult
}

// ExchangeAdapter is the full contract a venue must satisfy to be registered.
type ExchangeAdapter interface {
	Name() string
	OrderPlacer
	OrderCanceler
	OrderQuerier
	AccountReader
	PositionAdjuster
}
