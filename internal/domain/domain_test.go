package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	ok := Ok("done")
	assert.NoError(t, ok.Err())
	assert.False(t, ok.Is(KindValidation))

	f := Fail(KindRiskRejection, "value %.0f over limit", 2000.0)
	assert.Equal(t, "value 2000 over limit", f.Message)
	assert.True(t, f.Is(KindRiskRejection))

	err := f.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRiskRejection))
	assert.False(t, errors.Is(err, ErrAdapter))

	var failure *Failure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, KindRiskRejection, failure.Kind)

	// 没有参数时 format 原样保留
	assert.Equal(t, "100% filled", Fail(KindAdapter, "100% filled").Message)
}

func TestSides(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, PositionLong.OpenSide())
	assert.Equal(t, SideBuy, PositionShort.CloseSide())
	assert.False(t, PositionNone.Valid())

	s, ok := ParseSide(" BUY ")
	require.True(t, ok)
	assert.Equal(t, SideBuy, s)
	_, ok = ParseSide("hold")
	assert.False(t, ok)
}

func TestSignal(t *testing.T) {
	assert.Equal(t, OrderTypeLimit, Signal{}.EffectiveOrderType())
	assert.Equal(t, OrderTypeMarket, Signal{OrderType: OrderTypeMarket}.EffectiveOrderType())

	side, ok := Signal{Action: ActionSell}.Side()
	assert.True(t, ok)
	assert.Equal(t, SideSell, side)
	_, ok = Signal{Action: ActionClose}.Side()
	assert.False(t, ok)
}

func TestOrder(t *testing.T) {
	p := 100.0
	o := &Order{OrderID: "1", Exchange: "okx", Amount: 2, Filled: 2, Price: &p, Status: OrderStatusFilled}
	assert.Equal(t, OrderKey{Exchange: "okx", OrderID: "1"}, o.Key())
	assert.False(t, o.IsOpen())
	assert.True(t, o.Status.IsFinal())

	c := o.Clone()
	*c.Price = 1
	assert.Equal(t, 100.0, *o.Price)

	_, bad := o.FillAnomaly()
	assert.False(t, bad)

	o.Filled = 1.5
	msg, bad := o.FillAnomaly()
	assert.True(t, bad)
	assert.Contains(t, msg, "differs")

	o.Status, o.Filled = OrderStatusPartiallyFilled, 3
	_, bad = o.FillAnomaly()
	assert.True(t, bad)

	assert.True(t, (*Position)(nil).IsFlat())
	flat := FlatPosition("okx", "BTC-USDT")
	assert.True(t, flat.IsFlat())
	assert.Equal(t, 1.0, flat.Leverage)
}
