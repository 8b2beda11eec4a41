package position

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/mock"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/venue"
)

func newPM(t *testing.T) (*PositionManager, *mock.Adapter) {
	t.Helper()
	m := mock.NewAdapter("gate")
	reg := venue.MustRegistry(m)
	return NewPositionManager(reg, execution.NewOrderSender(reg), execution.NewKeyLocker(8)), m
}

func TestGetPosition(t *testing.T) {
	pm, m := newPM(t)
	ctx := context.Background()
	m.Positions = []domain.Position{
		{Symbol: "BTC_USDT", Side: domain.PositionLong, Size: 0.5, EntryPrice: 30000, Leverage: 10},
	}

	pos := pm.GetPosition(ctx, "gate", "BTC_USDT")
	assert.Equal(t, domain.PositionLong, pos.Side)
	assert.Equal(t, 0.5, pos.Size)
	assert.Equal(t, "gate", pos.Exchange)

	pos = pm.GetPosition(ctx, "gate", "ETH_USDT")
	assert.Equal(t, domain.FlatPosition("gate", "ETH_USDT"), pos)

	m.FailNext[mock.MethodPositions] = "network down"
	pos = pm.GetPosition(ctx, "gate", "BTC_USDT")
	assert.Equal(t, domain.PositionNone, pos.Side)
	assert.Equal(t, 1.0, pos.Leverage)

	pos = pm.GetPosition(ctx, "nope", "BTC_USDT")
	assert.True(t, pos.IsFlat())
}

func TestIncreasePosition_ShortMarketSell(t *testing.T) {
	pm, m := newPM(t)

	r := pm.IncreasePosition(context.Background(), "gate", "BTC_USDT", domain.PositionShort, 2, nil)
	require.True(t, r.Success, r.Message)

	placed, ok := m.LastPlaced()
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, placed.Side)
	assert.Equal(t, domain.OrderTypeMarket, placed.Type)
	assert.Equal(t, 2.0, placed.Amount)
	assert.Equal(t, 1, m.CallCount(mock.MethodPlaceMarket))
}

func TestIncreasePosition_LongLimitBuy(t *testing.T) {
	pm, m := newPM(t)
	price := 100.0

	r := pm.IncreasePosition(context.Background(), "gate", "BTC_USDT", domain.PositionLong, 1, &price)
	require.True(t, r.Success, r.Message)

	placed, _ := m.LastPlaced()
	assert.Equal(t, domain.SideBuy, placed.Side)
	assert.Equal(t, domain.OrderTypeLimit, placed.Type)
	require.NotNil(t, placed.Price)
	assert.Equal(t, 100.0, *placed.Price)
}

func TestIncreasePosition_InvalidSide(t *testing.T) {
	pm, m := newPM(t)
	r := pm.IncreasePosition(context.Background(), "gate", "BTC_USDT", domain.PositionNone, 1, nil)
	assert.Equal(t, domain.KindValidation, r.Kind)
	assert.Equal(t, 0, m.SendCount())
}

func TestDecreaseAndClose_NoPositionNeverSends(t *testing.T) {
	pm, m := newPM(t)
	ctx := context.Background()
	m.Positions = []domain.Position{{Symbol: "BTC_USDT", Side: domain.PositionNone}}

	r := pm.DecreasePosition(ctx, "gate", "BTC_USDT", 1, nil)
	assert.False(t, r.Success)
	assert.Equal(t, domain.KindNoPosition, r.Kind)

	r = pm.ClosePosition(ctx, "gate", "BTC_USDT", nil)
	assert.False(t, r.Success)
	assert.Equal(t, domain.KindNoPosition, r.Kind)

	assert.Equal(t, 0, m.SendCount())
	assert.Equal(t, 2, m.CallCount(mock.MethodPositions))
}

func TestClose_ZeroSizeNeverSends(t *testing.T) {
	pm, m := newPM(t)
	m.Positions = []domain.Position{{Symbol: "BTC_USDT", Side: domain.PositionLong, Size: 0}}

	r := pm.ClosePosition(context.Background(), "gate", "BTC_USDT", nil)
	assert.Equal(t, domain.KindNoPosition, r.Kind)
	assert.Equal(t, 0, m.SendCount())
}

func TestDecreasePosition_OppositeDirection(t *testing.T) {
	pm, m := newPM(t)
	m.Positions = []domain.Position{{Symbol: "BTC_USDT", Side: domain.PositionShort, Size: 3}}

	r := pm.DecreasePosition(context.Background(), "gate", "BTC_USDT", 1, nil)
	require.True(t, r.Success, r.Message)

	placed, _ := m.LastPlaced()
	assert.Equal(t, domain.SideBuy, placed.Side)
	assert.Equal(t, 1.0, placed.Amount)
}

func TestClosePosition_UsesFullSize(t *testing.T) {
	pm, m := newPM(t)
	m.Positions = []domain.Position{{Symbol: "BTC_USDT", Side: domain.PositionLong, Size: 0.75}}
	price := 31000.0

	r := pm.ClosePosition(context.Background(), "gate", "BTC_USDT", &price)
	require.True(t, r.Success, r.Message)

	placed, _ := m.LastPlaced()
	assert.Equal(t, domain.SideSell, placed.Side)
	assert.Equal(t, domain.OrderTypeLimit, placed.Type)
	assert.Equal(t, 0.75, placed.Amount)
}
