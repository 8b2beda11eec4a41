package risk

import (
	"context"
	"expvar"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/metrics"
	"github.com/betbot/goexec/internal/ports"
)

var riskLog = logrus.WithField("component", "risk_manager")

// Level 订单风险等级
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// AccountLevel 账户风险等级
type AccountLevel string

const (
	AccountSafe    AccountLevel = "safe"
	AccountWarning AccountLevel = "warning"
	AccountDanger  AccountLevel = "danger"
)

// 仓位比例分级阈值（相对总权益），只用于提示，不拒单
const (
	highPositionRatio   = 0.08
	mediumPositionRatio = 0.05
)

// 保证金率阈值
const (
	dangerMarginRatio  = 0.9
	warningMarginRatio = 0.7
	warningLossFactor  = 0.7 // warning 线 = max_loss_ratio * 0.7
)

// Config 风控阈值（均为相对总权益的比例）
type Config struct {
	MaxPositionSize float64 // 单笔订单价值上限，默认 0.1
	MaxLossRatio    float64 // 未实现亏损上限（触发清仓），默认 0.05
}

// DefaultConfig 默认阈值
func DefaultConfig() Config {
	return Config{MaxPositionSize: 0.1, MaxLossRatio: 0.05}
}

// Validate 阈值必须在 (0, 1] 内
func (c Config) Validate() error {
	if c.MaxPositionSize <= 0 || c.MaxPositionSize > 1 {
		return fmt.Errorf("max_position_size must be in (0, 1], got %v", c.MaxPositionSize)
	}
	if c.MaxLossRatio <= 0 || c.MaxLossRatio > 1 {
		return fmt.Errorf("max_loss_ratio must be in (0, 1], got %v", c.MaxLossRatio)
	}
	return nil
}

// AccountResolver 按交易所名取账户读取能力
type AccountResolver interface {
	Get(name string) (ports.ExchangeAdapter, bool)
}

// CheckResult 下单前风控结果（每次实时计算，不缓存）
type CheckResult struct {
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason"`
	RiskLevel Level   `json:"risk_level"`
	Value     float64 `json:"order_value"`
}

// AccountMetrics 账户风险指标
type AccountMetrics struct {
	TotalEquity   float64 `json:"total_equity"`
	UsedMargin    float64 `json:"used_margin"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarginRatio   float64 `json:"margin_ratio"`
	LossRatio     float64 `json:"loss_ratio"`
}

// AccountCheck 账户整体风险
type AccountCheck struct {
	Exchange        string          `json:"exchange"`
	RiskLevel       AccountLevel    `json:"risk_level"`
	ShouldLiquidate bool            `json:"should_liquidate"`
	Message         string          `json:"message"`
	Metrics         *AccountMetrics `json:"metrics,omitempty"` // 获取失败时为 nil
}

// RiskManager 下单前风控 + 账户风险监控。
// 除两个阈值外无状态；账户信息每次都从交易所实时获取。
type RiskManager struct {
	cfg    Config
	venues AccountResolver
	now    func() time.Time
}

// NewRiskManager 创建风控。阈值非法时回退到默认值。
func NewRiskManager(venues AccountResolver, cfg Config) *RiskManager {
	def := DefaultConfig()
	if cfg.MaxPositionSize <= 0 {
		cfg.MaxPositionSize = def.MaxPositionSize
	}
	if cfg.MaxLossRatio <= 0 {
		cfg.MaxLossRatio = def.MaxLossRatio
	}
	return &RiskManager{cfg: cfg, venues: venues, now: time.Now}
}

// Config 当前阈值
func (r *RiskManager) Config() Config { return r.cfg }

func (r *RiskManager) account(ctx context.Context, exchange string) (domain.AccountInfo, string, bool) {
	if r.venues == nil {
		return domain.AccountInfo{}, fmt.Sprintf("unsupported exchange: %s", exchange), false
	}
	adapter, ok := r.venues.Get(exchange)
	if !ok {
		return domain.AccountInfo{}, fmt.Sprintf("unsupported exchange: %s", exchange), false
	}
	res := adapter.GetAccountInfo(ctx)
	if !res.Success {
		return domain.AccountInfo{}, "failed to fetch account info: " + res.Message, false
	}
	return res.Account, "", true
}

// CheckOrderRisk 下单前检查：
//   - 订单价值 > 总权益 * max_position_size → 拒绝
//   - 订单价值 > 可用余额 → 拒绝
//
// 其余情况按仓位比例分级后放行。交易所不支持或账户获取失败同样拒绝。
func (r *RiskManager) CheckOrderRisk(ctx context.Context, exchange, symbol string, side domain.Side, amount, price float64) CheckResult {
	acct, reason, ok := r.account(ctx, exchange)
	if !ok {
		metrics.RiskRejections.Add(1)
		riskLog.Warnf("⚠️ 风控拒绝: exchange=%s symbol=%s reason=%s", exchange, symbol, reason)
		return CheckResult{Allowed: false, Reason: reason, RiskLevel: LevelHigh}
	}

	value := amount * price
	limit := acct.TotalEquity * r.cfg.MaxPositionSize
	if value > limit {
		metrics.RiskRejections.Add(1)
		reason := fmt.Sprintf("order value %.8g exceeds max position limit %.8g", value, limit)
		riskLog.Warnf("⚠️ 风控拒绝: exchange=%s symbol=%s side=%s reason=%s", exchange, symbol, side, reason)
		return CheckResult{Allowed: false, Reason: reason, RiskLevel: LevelHigh, Value: value}
	}
	if value > acct.AvailableBalance {
		metrics.RiskRejections.Add(1)
		reason := fmt.Sprintf("insufficient available balance: need %.8g, available %.8g", value, acct.AvailableBalance)
		riskLog.Warnf("⚠️ 风控拒绝: exchange=%s symbol=%s side=%s reason=%s", exchange, symbol, side, reason)
		return CheckResult{Allowed: false, Reason: reason, RiskLevel: LevelHigh, Value: value}
	}

	ratio := safeRatio(value, acct.TotalEquity)
	level := LevelLow
	switch {
	case ratio > highPositionRatio:
		level = LevelHigh
	case ratio > mediumPositionRatio:
		level = LevelMedium
	}
	return CheckResult{Allowed: true, RiskLevel: level, Value: value}
}

// CheckAccountRisk 账户整体风险：
//   - 亏损比例 >= max_loss_ratio 或保证金率 > 0.9 → danger，需要清仓
//   - 亏损比例 >= 0.7*max_loss_ratio 或保证金率 > 0.7 → warning
//   - 否则 safe
//
// 盈利不计入亏损比例。获取账户失败 → danger 但不清仓（数据缺失时不强平）。
func (r *RiskManager) CheckAccountRisk(ctx context.Context, exchange string) AccountCheck {
	metrics.AccountChecks.Add(1)
	acct, reason, ok := r.account(ctx, exchange)
	if !ok {
		r.recordLevel(exchange, AccountDanger)
		riskLog.Errorf("❌ 账户风险检查失败: exchange=%s reason=%s", exchange, reason)
		return AccountCheck{Exchange: exchange, RiskLevel: AccountDanger, ShouldLiquidate: false, Message: reason}
	}

	m := &AccountMetrics{
		TotalEquity:   acct.TotalEquity,
		UsedMargin:    acct.UsedMargin,
		UnrealizedPnL: acct.UnrealizedPnL,
		MarginRatio:   safeRatio(acct.UsedMargin, acct.TotalEquity),
	}
	if acct.UnrealizedPnL < 0 {
		m.LossRatio = safeRatio(math.Abs(acct.UnrealizedPnL), acct.TotalEquity)
	}

	out := AccountCheck{Exchange: exchange, Metrics: m}
	switch {
	case m.LossRatio >= r.cfg.MaxLossRatio || m.MarginRatio > dangerMarginRatio:
		out.RiskLevel = AccountDanger
		out.ShouldLiquidate = true
		out.Message = fmt.Sprintf("risk too high: loss ratio %.2f%%, margin ratio %.2f%%", m.LossRatio*100, m.MarginRatio*100)
		riskLog.Errorf("🚨 账户风险过高: exchange=%s %s", exchange, out.Message)
	case m.LossRatio >= r.cfg.MaxLossRatio*warningLossFactor || m.MarginRatio > warningMarginRatio:
		out.RiskLevel = AccountWarning
		out.Message = fmt.Sprintf("risk warning: loss ratio %.2f%%, margin ratio %.2f%%", m.LossRatio*100, m.MarginRatio*100)
		riskLog.Warnf("⚠️ 账户风险警告: exchange=%s %s", exchange, out.Message)
	default:
		out.RiskLevel = AccountSafe
		out.Message = "account risk normal"
	}
	r.recordLevel(exchange, out.RiskLevel)
	return out
}

// SendLiquidationSignal 构造清仓信号（只构造，不执行）。symbol 为空表示全部。
func (r *RiskManager) SendLiquidationSignal(exchange, symbol string) domain.LiquidationSignal {
	return domain.LiquidationSignal{
		Signal:    domain.SignalLiquidate,
		Exchange:  exchange,
		Symbol:    symbol,
		Timestamp: r.now(),
	}
}

func (r *RiskManager) recordLevel(exchange string, level AccountLevel) {
	v := new(expvar.String)
	v.Set(string(level))
	metrics.AccountRiskLevel.Set(exchange, v)
}

// safeRatio 分母为 0 时返回 0
func safeRatio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
