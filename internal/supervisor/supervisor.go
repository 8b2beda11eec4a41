package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/executor"
	"github.com/betbot/goexec/internal/metrics"
	"github.com/betbot/goexec/internal/risk"
)

var log = logrus.WithField("component", "supervisor")

// Config 周期任务间隔；<= 0 表示不启动该任务
type Config struct {
	ReconcileInterval time.Duration
	MonitorInterval   time.Duration
}

// VenueLister 已注册交易所
type VenueLister interface {
	Names() []string
}

// ReconcileReport 一次对账的结果
type ReconcileReport struct {
	Exchange  string   `json:"exchange"`
	Synced    int      `json:"synced"`
	Added     int      `json:"added"`
	Refreshed int      `json:"refreshed"`
	Errors    []string `json:"errors,omitempty"`
}

// Supervisor 进程主循环：按交易所周期性对账订单、检查账户风险。
// 每个交易所两个 goroutine，某个交易所出错不影响其他交易所。
type Supervisor struct {
	cfg    Config
	exec   *executor.Executor
	venues VenueLister
}

func New(cfg Config, exec *executor.Executor, venues VenueLister) (*Supervisor, error) {
	if exec == nil {
		return nil, fmt.Errorf("supervisor: executor is required")
	}
	if venues == nil {
		return nil, fmt.Errorf("supervisor: venues is required")
	}
	return &Supervisor{cfg: cfg, exec: exec, venues: venues}, nil
}

// Run 阻塞直到 ctx 结束。循环内的失败只记日志和计数，不会让 Run 返回错误。
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.venues.Names() {
		exchange := name
		if s.cfg.ReconcileInterval > 0 {
			g.Go(func() error {
				s.loop(gctx, s.cfg.ReconcileInterval, func(ctx context.Context) {
					s.Reconcile(ctx, exchange)
				})
				return nil
			})
		}
		if s.cfg.MonitorInterval > 0 {
			g.Go(func() error {
				s.loop(gctx, s.cfg.MonitorInterval, func(ctx context.Context) {
					s.Monitor(ctx, exchange)
				})
				return nil
			})
		}
	}
	log.Infof("🚀 supervisor 已启动: venues=%v reconcile=%s monitor=%s",
		s.venues.Names(), s.cfg.ReconcileInterval, s.cfg.MonitorInterval)
	err := g.Wait()
	log.Info("supervisor 已停止")
	return err
}

// loop 启动时先执行一次，之后按 tick 执行
func (s *Supervisor) loop(ctx context.Context, tick time.Duration, run func(context.Context)) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reconcile 拉取交易所挂单合并进账本，再逐个刷新账本中仍未完成的订单
func (s *Supervisor) Reconcile(ctx context.Context, exchange string) ReconcileReport {
	metrics.ReconcileRuns.Add(1)
	report := ReconcileReport{Exchange: exchange}
	orders := s.exec.Orders()

	sync := orders.SyncOpenOrders(ctx, exchange, "")
	if sync.Success {
		report.Synced, report.Added = sync.Synced, sync.Added
	} else {
		report.Errors = append(report.Errors, "sync open orders: "+sync.Message)
	}

	for _, o := range orders.GetOpenOrders(exchange) {
		if ctx.Err() != nil {
			break
		}
		r := orders.UpdateOrderStatus(ctx, exchange, o.OrderID)
		if r.Success {
			report.Refreshed++
			continue
		}
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", o.OrderID, r.Message))
	}

	if len(report.Errors) > 0 {
		metrics.ReconcileErrors.Add(int64(len(report.Errors)))
		log.Warnf("⚠️ 对账存在错误: exchange=%s errors=%d first=%s", exchange, len(report.Errors), report.Errors[0])
	} else {
		log.Debugf("对账完成: exchange=%s synced=%d added=%d refreshed=%d",
			exchange, report.Synced, report.Added, report.Refreshed)
	}
	return report
}

// Monitor 账户风险检查（danger 时是否自动清仓由 Executor 决定）
func (s *Supervisor) Monitor(ctx context.Context, exchange string) executor.MonitorResult {
	res := s.exec.MonitorAccount(ctx, exchange)
	switch res.Check.RiskLevel {
	case risk.AccountDanger:
		log.Errorf("🚨 账户风险 danger: exchange=%s %s", exchange, res.Check.Message)
	case risk.AccountWarning:
		log.Warnf("⚠️ 账户风险 warning: exchange=%s %s", exchange, res.Check.Message)
	}
	if res.Liquidation != nil && !res.Liquidation.Success && !res.Liquidation.Is(domain.KindNoPosition) {
		log.Errorf("❌ 自动清仓失败: exchange=%s err=%s", exchange, res.Liquidation.Message)
	}
	return res
}
