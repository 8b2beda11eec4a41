package paper

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/domain"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{InitialBalance: 1000, MarkPrices: map[string]float64{"BTC-USDT": 100}})
	require.NoError(t, err)
	n := 0
	a.newID = func() string {
		n++
		return fmt.Sprintf("p-%d", n)
	}
	return a
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{InitialBalance: -1})
	require.Error(t, err)
	_, err = New(Config{MarkPrices: map[string]float64{"X": 0}})
	require.Error(t, err)

	a, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, Name, a.Name())
}

func TestMarketOrderFillsAtMark(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	r := a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideBuy, 2)
	require.True(t, r.Success, r.Message)
	assert.Equal(t, "p-1", r.OrderID)

	st := a.GetOrderStatus(ctx, "BTC-USDT", r.OrderID)
	require.True(t, st.Success)
	assert.Equal(t, domain.OrderStatusFilled, st.Order.Status)
	assert.Equal(t, 2.0, st.Order.Filled)
	assert.Equal(t, 100.0, st.Order.Price)

	acct := a.GetAccountInfo(ctx)
	require.True(t, acct.Success)
	assert.InDelta(t, 1000, acct.Account.TotalEquity, 1e-9)
	assert.InDelta(t, 200, acct.Account.UsedMargin, 1e-9)
	assert.InDelta(t, 800, acct.Account.AvailableBalance, 1e-9)

	pos := a.GetPositions(ctx, "BTC-USDT")
	require.Len(t, pos.Positions, 1)
	assert.Equal(t, domain.PositionLong, pos.Positions[0].Side)
	assert.Equal(t, 2.0, pos.Positions[0].Size)
}

func TestMarketOrderWithoutMarkFails(t *testing.T) {
	a := newTestAdapter(t)
	r := a.PlaceMarketOrder(context.Background(), "ETH-USDT", domain.SideBuy, 1)
	assert.True(t, r.Is(domain.KindAdapter))
	assert.Contains(t, r.Message, "no mark price")
}

func TestRealisedPnLAndNetting(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	require.True(t, a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideBuy, 2).Success)
	require.NoError(t, a.SetMarkPrice("BTC-USDT", 110))

	acct := a.GetAccountInfo(ctx).Account
	assert.InDelta(t, 1020, acct.TotalEquity, 1e-9)
	assert.InDelta(t, 20, acct.UnrealizedPnL, 1e-9)

	require.True(t, a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideSell, 1).Success)
	pos := a.GetPositions(ctx, "BTC-USDT").Positions
	require.Len(t, pos, 1)
	assert.Equal(t, 1.0, pos[0].Size)
	assert.InDelta(t, 100, pos[0].EntryPrice, 1e-9)
	assert.InDelta(t, 1020, a.GetAccountInfo(ctx).Account.TotalEquity, 1e-9)

	// 反手：卖 3，平多 1 后剩空 2，开仓价为成交价
	require.True(t, a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideSell, 3).Success)
	pos = a.GetPositions(ctx, "BTC-USDT").Positions
	require.Len(t, pos, 1)
	assert.Equal(t, domain.PositionShort, pos[0].Side)
	assert.Equal(t, 2.0, pos[0].Size)
	assert.InDelta(t, 110, pos[0].EntryPrice, 1e-9)
}

func TestLimitOrderRestsUntilCrossed(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	r := a.PlaceLimitOrder(ctx, "BTC-USDT", domain.SideBuy, 1, 95)
	require.True(t, r.Success)
	open := a.GetOpenOrders(ctx, "")
	require.Len(t, open.Orders, 1)
	assert.Equal(t, domain.OrderStatusPending, open.Orders[0].Status)
	assert.InDelta(t, 95, a.GetAccountInfo(ctx).Account.UsedMargin, 1e-9)

	require.NoError(t, a.SetMarkPrice("BTC-USDT", 96))
	assert.Len(t, a.GetOpenOrders(ctx, "").Orders, 1)

	require.NoError(t, a.SetMarkPrice("BTC-USDT", 94))
	assert.Empty(t, a.GetOpenOrders(ctx, "").Orders)
	st := a.GetOrderStatus(ctx, "", r.OrderID).Order
	assert.Equal(t, domain.OrderStatusFilled, st.Status)
	assert.Equal(t, 95.0, st.Price)
}

func TestMarketableLimitFillsImmediately(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	r := a.PlaceLimitOrder(ctx, "BTC-USDT", domain.SideSell, 1, 90)
	require.True(t, r.Success)
	assert.Equal(t, domain.OrderStatusFilled, a.GetOrderStatus(ctx, "", r.OrderID).Order.Status)
	assert.Equal(t, domain.PositionShort, a.GetPositions(ctx, "").Positions[0].Side)
}

func TestInsufficientBalance(t *testing.T) {
	a := newTestAdapter(t)
	r := a.PlaceMarketOrder(context.Background(), "BTC-USDT", domain.SideBuy, 11)
	assert.True(t, r.Is(domain.KindAdapter))
	assert.Contains(t, r.Message, "insufficient available balance")
	assert.Empty(t, a.GetPositions(context.Background(), "").Positions)
}

func TestReducingOrderNeedsNoMargin(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	require.True(t, a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideBuy, 10).Success)
	assert.InDelta(t, 0, a.GetAccountInfo(ctx).Account.AvailableBalance, 1e-9)

	r := a.AdjustPosition(ctx, "BTC-USDT", domain.PositionShort, 10, nil)
	require.True(t, r.Success, r.Message)
	assert.Empty(t, a.GetPositions(ctx, "").Positions)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	resting := a.PlaceLimitOrder(ctx, "BTC-USDT", domain.SideBuy, 1, 50)
	filled := a.PlaceMarketOrder(ctx, "BTC-USDT", domain.SideBuy, 1)
	require.True(t, resting.Success)
	require.True(t, filled.Success)

	c := a.CancelOrder(ctx, "BTC-USDT", filled.OrderID)
	assert.True(t, c.Is(domain.KindAdapter))

	c = a.CancelOrder(ctx, "BTC-USDT", "missing")
	assert.True(t, c.Is(domain.KindAdapter))

	c = a.CancelOrder(ctx, "BTC-USDT", resting.OrderID)
	require.True(t, c.Success)
	assert.Equal(t, domain.OrderStatusCancelled, a.GetOrderStatus(ctx, "", resting.OrderID).Order.Status)
}

func TestCancelAllFiltersSymbol(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	require.NoError(t, a.SetMarkPrice("ETH-USDT", 10))

	require.True(t, a.PlaceLimitOrder(ctx, "BTC-USDT", domain.SideBuy, 1, 50).Success)
	require.True(t, a.PlaceLimitOrder(ctx, "BTC-USDT", domain.SideBuy, 1, 60).Success)
	require.True(t, a.PlaceLimitOrder(ctx, "ETH-USDT", domain.SideBuy, 1, 5).Success)

	r := a.CancelAllOrders(ctx, "BTC-USDT")
	require.True(t, r.Success)
	assert.Equal(t, 2, r.CancelledCount)
	assert.Len(t, a.GetOpenOrders(ctx, "").Orders, 1)

	r = a.CancelAllOrders(ctx, "")
	assert.Equal(t, 1, r.CancelledCount)
}
