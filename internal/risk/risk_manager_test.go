package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/mock"
	"github.com/betbot/goexec/internal/venue"
)

func newRisk(acct domain.AccountInfo) (*RiskManager, *mock.Adapter) {
	m := mock.NewAdapter("okx")
	m.Account = acct
	return NewRiskManager(venue.MustRegistry(m), DefaultConfig()), m
}

func TestCheckOrderRisk_ExceedsMaxPosition(t *testing.T) {
	rm, _ := newRisk(domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000})

	r := rm.CheckOrderRisk(context.Background(), "okx", "BTC-USDT", domain.SideBuy, 1, 150)
	assert.False(t, r.Allowed)
	assert.Equal(t, LevelHigh, r.RiskLevel)
	assert.Contains(t, r.Reason, "max position")
	assert.Equal(t, 150.0, r.Value)
}

func TestCheckOrderRisk_InsufficientBalance(t *testing.T) {
	rm, _ := newRisk(domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 50})

	r := rm.CheckOrderRisk(context.Background(), "okx", "BTC-USDT", domain.SideBuy, 1, 80)
	assert.False(t, r.Allowed)
	assert.Equal(t, LevelHigh, r.RiskLevel)
	assert.Contains(t, r.Reason, "insufficient")
}

func TestCheckOrderRisk_Levels(t *testing.T) {
	rm, _ := newRisk(domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000})
	ctx := context.Background()

	cases := []struct {
		value float64
		level Level
	}{
		{10, LevelLow},
		{50, LevelLow}, // 0.05 不算 medium
		{60, LevelMedium},
		{80, LevelMedium},
		{90, LevelHigh},
		{100, LevelHigh}, // 恰好等于上限仍然放行
	}
	for _, tc := range cases {
		r := rm.CheckOrderRisk(ctx, "okx", "BTC-USDT", domain.SideSell, 1, tc.value)
		assert.True(t, r.Allowed, "value=%v", tc.value)
		assert.Equal(t, tc.level, r.RiskLevel, "value=%v", tc.value)
	}
}

func TestCheckOrderRisk_FetchFailures(t *testing.T) {
	rm, m := newRisk(domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000})
	ctx := context.Background()

	r := rm.CheckOrderRisk(ctx, "unknown", "BTC-USDT", domain.SideBuy, 1, 1)
	assert.False(t, r.Allowed)
	assert.Equal(t, LevelHigh, r.RiskLevel)

	m.FailNext[mock.MethodAccountInfo] = "auth failed"
	r = rm.CheckOrderRisk(ctx, "okx", "BTC-USDT", domain.SideBuy, 1, 1)
	assert.False(t, r.Allowed)
	assert.Contains(t, r.Reason, "auth failed")
}

func TestCheckOrderRisk_ZeroEquityRejects(t *testing.T) {
	rm, _ := newRisk(domain.AccountInfo{})
	r := rm.CheckOrderRisk(context.Background(), "okx", "BTC-USDT", domain.SideBuy, 1, 1)
	assert.False(t, r.Allowed)
}

func TestCheckAccountRisk_MarginDanger(t *testing.T) {
	rm, _ := newRisk(domain.AccountInfo{TotalEquity: 1000, UsedMargin: 950, UnrealizedPnL: -10})

	r := rm.CheckAccountRisk(context.Background(), "okx")
	assert.Equal(t, AccountDanger, r.RiskLevel)
	assert.True(t, r.ShouldLiquidate)
	require.NotNil(t, r.Metrics)
	assert.InDelta(t, 0.95, r.Metrics.MarginRatio, 1e-12)
	assert.InDelta(t, 0.01, r.Metrics.LossRatio, 1e-12)
}

func TestCheckAccountRisk_Levels(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name      string
		acct      domain.AccountInfo
		level     AccountLevel
		liquidate bool
	}{
		{"safe", domain.AccountInfo{TotalEquity: 1000, UsedMargin: 100, UnrealizedPnL: -10}, AccountSafe, false},
		{"profit ignored", domain.AccountInfo{TotalEquity: 1000, UsedMargin: 100, UnrealizedPnL: 500}, AccountSafe, false},
		{"loss warning", domain.AccountInfo{TotalEquity: 1000, UnrealizedPnL: -35}, AccountWarning, false},
		{"margin warning", domain.AccountInfo{TotalEquity: 1000, UsedMargin: 750}, AccountWarning, false},
		{"loss danger", domain.AccountInfo{TotalEquity: 1000, UnrealizedPnL: -50}, AccountDanger, true},
		{"zero equity", domain.AccountInfo{UsedMargin: 10, UnrealizedPnL: -10}, AccountSafe, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rm, _ := newRisk(tc.acct)
			r := rm.CheckAccountRisk(ctx, "okx")
			assert.Equal(t, tc.level, r.RiskLevel)
			assert.Equal(t, tc.liquidate, r.ShouldLiquidate)
		})
	}
}

func TestCheckAccountRisk_FetchFailureIsDangerWithoutLiquidation(t *testing.T) {
	rm, m := newRisk(domain.AccountInfo{TotalEquity: 1000})
	m.FailNext[mock.MethodAccountInfo] = "timeout"

	r := rm.CheckAccountRisk(context.Background(), "okx")
	assert.Equal(t, AccountDanger, r.RiskLevel)
	assert.False(t, r.ShouldLiquidate)
	assert.Nil(t, r.Metrics)

	r = rm.CheckAccountRisk(context.Background(), "nope")
	assert.Equal(t, AccountDanger, r.RiskLevel)
	assert.False(t, r.ShouldLiquidate)
}

func TestSendLiquidationSignal(t *testing.T) {
	rm, m := newRisk(domain.AccountInfo{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rm.now = func() time.Time { return fixed }

	sig := rm.SendLiquidationSignal("okx", "BTC-USDT")
	assert.Equal(t, domain.LiquidationSignal{Signal: "liquidate", Exchange: "okx", Symbol: "BTC-USDT", Timestamp: fixed}, sig)
	assert.Equal(t, 0, m.CallCount(mock.MethodAccountInfo))
}

func TestNewRiskManager_Defaults(t *testing.T) {
	rm := NewRiskManager(nil, Config{})
	assert.Equal(t, DefaultConfig(), rm.Config())
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxPositionSize: 2, MaxLossRatio: 0.1}.Validate())
	assert.Error(t, Config{MaxPositionSize: 0.1, MaxLossRatio: 0}.Validate())
}
