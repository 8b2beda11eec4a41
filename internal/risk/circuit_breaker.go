package risk

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止新开仓。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：阈值 <= 0 表示关闭对应限制。
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors 交易所下单连续失败上限。
	MaxConsecutiveErrors int64

	// Cooldown 因连续失败触发的熔断在冷却后自动恢复；<= 0 表示只能手动 Resume。
	// 手动 Halt 不受冷却影响。
	Cooldown time.Duration
}

// BreakerState 断路器状态快照（控制面展示）
type BreakerState struct {
	Open              bool      `json:"open"`
	Manual            bool      `json:"manual"`
	ConsecutiveErrors int64     `json:"consecutive_errors"`
	TrippedAt         time.Time `json:"tripped_at,omitempty"`
}

// CircuitBreaker 快路径只用原子变量。
//
// 只拦截买/卖开仓信号；平仓与清仓永远放行，熔断期间仍然可以降低风险。
type CircuitBreaker struct {
	manual atomic.Bool // 人工熔断

	consecutiveErrors atomic.Int64
	trippedAtNano     atomic.Int64 // 0 表示未因错误熔断

	maxConsecutiveErrors atomic.Int64
	cooldownNano         atomic.Int64

	now func() time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{now: time.Now}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveErrors.Store(cfg.MaxConsecutiveErrors)
	cb.cooldownNano.Store(int64(cfg.Cooldown))
}

// Halt 手动熔断（人工介入或检测到严重异常）。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.manual.Store(true)
}

// Resume 手动恢复（同时清空连续错误计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.manual.Store(false)
	cb.consecutiveErrors.Store(0)
	cb.trippedAtNano.Store(0)
}

// AllowTrading 快路径检查是否允许开仓。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.manual.Load() {
		return ErrCircuitBreakerOpen
	}

	maxErr := cb.maxConsecutiveErrors.Load()
	if maxErr <= 0 || cb.consecutiveErrors.Load() < maxErr {
		return nil
	}

	now := cb.now().UnixNano()
	tripped := cb.trippedAtNano.Load()
	if tripped == 0 {
		cb.trippedAtNano.CompareAndSwap(0, now)
		return ErrCircuitBreakerOpen
	}
	cooldown := cb.cooldownNano.Load()
	if cooldown > 0 && now-tripped >= cooldown {
		// 冷却结束：放行一次试探，下一次失败会重新熔断
		if cb.trippedAtNano.CompareAndSwap(tripped, 0) {
			cb.consecutiveErrors.Store(maxErr - 1)
		}
		return nil
	}
	return ErrCircuitBreakerOpen
}

// OnSuccess 交易所下单成功后调用，清空连续错误计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
	cb.trippedAtNano.Store(0)
}

// OnError 交易所下单失败后调用（本地校验/风控拒绝不算）。
func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// State 当前状态
func (cb *CircuitBreaker) State() BreakerState {
	if cb == nil {
		return BreakerState{}
	}
	st := BreakerState{
		Manual:            cb.manual.Load(),
		ConsecutiveErrors: cb.consecutiveErrors.Load(),
	}
	if ns := cb.trippedAtNano.Load(); ns > 0 {
		st.TrippedAt = time.Unix(0, ns)
	}
	maxErr := cb.maxConsecutiveErrors.Load()
	st.Open = st.Manual || (maxErr > 0 && st.ConsecutiveErrors >= maxErr && !cb.cooledDown())
	return st
}

// cooledDown 与 AllowTrading 相同的冷却判断（只读，不放行试探）
func (cb *CircuitBreaker) cooledDown() bool {
	tripped := cb.trippedAtNano.Load()
	cooldown := cb.cooldownNano.Load()
	return tripped != 0 && cooldown > 0 && cb.now().UnixNano()-tripped >= cooldown
}
