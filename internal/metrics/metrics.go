package metrics

import "expvar"

// 进程级计数器，经 /debug/vars 暴露
var (
	SignalsReceived = expvar.NewInt("signals_received")
	RiskRejections  = expvar.NewInt("risk_rejections")
	OrdersPlaced    = expvar.NewInt("orders_placed")
	OrdersRejected  = expvar.NewInt("orders_rejected") // 本地校验失败，未发出请求
	AdapterFailures = expvar.NewInt("adapter_failures")
	CancelsSent     = expvar.NewInt("cancels_sent")
	CancelFailures  = expvar.NewInt("cancel_failures")
	CircuitBlocked  = expvar.NewInt("circuit_blocked")

	ReconcileRuns   = expvar.NewInt("reconcile_runs")
	ReconcileErrors = expvar.NewInt("reconcile_errors")
	FillMismatches  = expvar.NewInt("fill_mismatches")

	AccountChecks = expvar.NewInt("account_checks")
	Liquidations  = expvar.NewInt("liquidations")

	StreamClients = expvar.NewInt("stream_clients") // 当前 WebSocket 订阅数

	// 每个交易所最近一次账户风险等级
	AccountRiskLevel = expvar.NewMap("account_risk_level")
)
