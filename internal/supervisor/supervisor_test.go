package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges/mock"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/executor"
	"github.com/betbot/goexec/internal/oms"
	"github.com/betbot/goexec/internal/position"
	"github.com/betbot/goexec/internal/risk"
	"github.com/betbot/goexec/internal/venue"
)

func newSupervisor(t *testing.T, cfg Config, autoLiquidate bool, venues ...*mock.Adapter) (*Supervisor, *executor.Executor) {
	t.Helper()
	reg, err := venue.NewRegistry()
	require.NoError(t, err)
	for _, a := range venues {
		require.NoError(t, reg.Register(a))
	}
	sender := execution.NewOrderSender(reg)
	locks := execution.NewKeyLocker(8)
	e, err := executor.New(executor.Deps{
		Venues:        reg,
		Sender:        sender,
		Orders:        oms.NewOrderManager(reg),
		Risk:          risk.NewRiskManager(reg, risk.DefaultConfig()),
		Positions:     position.NewPositionManager(reg, sender, locks),
		Locks:         locks,
		AutoLiquidate: autoLiquidate,
	})
	require.NoError(t, err)
	s, err := New(cfg, e, reg)
	require.NoError(t, err)
	return s, e
}

func TestReconcile(t *testing.T) {
	m := mock.NewAdapter("gate")
	m.OpenOrders = []domain.OrderSummary{
		{OrderID: "1", Symbol: "BTC_USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Amount: 1, Price: 100, Status: domain.OrderStatusPending},
		{OrderID: "2", Symbol: "ETH_USDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Amount: 2, Price: 10, Status: domain.OrderStatusPending},
	}
	m.Statuses["1"] = domain.OrderSummary{OrderID: "1", Symbol: "BTC_USDT", Amount: 1, Filled: 0.5, Status: domain.OrderStatusPartiallyFilled}
	s, e := newSupervisor(t, Config{}, false, m)

	report := s.Reconcile(context.Background(), "gate")
	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 2, report.Added)
	assert.Equal(t, 1, report.Refreshed)
	require.Len(t, report.Errors, 1, "order 2 has no status reply")
	assert.Contains(t, report.Errors[0], "2: ")

	rec := e.Orders().Lookup("gate", "1")
	require.True(t, rec.Success)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, rec.Order.Status)
	assert.Equal(t, 0.5, rec.Order.Filled)

	m.FailNext[mock.MethodOpenOrders] = "503 service unavailable"
	report = s.Reconcile(context.Background(), "gate")
	assert.Equal(t, 0, report.Synced)
	assert.Contains(t, report.Errors[0], "503 service unavailable")
	assert.Equal(t, 2, e.Orders().Len(), "failed sync never drops ledger entries")
}

func TestMonitorAutoLiquidates(t *testing.T) {
	m := mock.NewAdapter("okx")
	m.Account = domain.AccountInfo{TotalEquity: 1000, UsedMargin: 100, UnrealizedPnL: -80}
	m.OpenOrders = []domain.OrderSummary{{OrderID: "x", Symbol: "BTC-USDT"}}
	s, _ := newSupervisor(t, Config{}, true, m)

	res := s.Monitor(context.Background(), "okx")
	assert.Equal(t, risk.AccountDanger, res.Check.RiskLevel)
	require.NotNil(t, res.Liquidation)
	assert.True(t, res.Liquidation.Partial)
	assert.Equal(t, 1, m.CallCount(mock.MethodCancelAll))
}

func TestRunStopsWithContext(t *testing.T) {
	a := mock.NewAdapter("okx")
	a.Account = domain.AccountInfo{TotalEquity: 1000, AvailableBalance: 1000}
	b := mock.NewAdapter("binance")
	b.Account = domain.AccountInfo{TotalEquity: 500, AvailableBalance: 500}
	s, _ := newSupervisor(t, Config{ReconcileInterval: 5 * time.Millisecond, MonitorInterval: 5 * time.Millisecond}, false, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return a.CallCount(mock.MethodOpenOrders) >= 2 && b.CallCount(mock.MethodAccountInfo) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, nil, nil)
	assert.Error(t, err)
}
