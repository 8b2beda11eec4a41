package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsAfterConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 3})

	cb.OnError()
	cb.OnError()
	assert.NoError(t, cb.AllowTrading())

	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.State().Open)

	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
	assert.Equal(t, int64(0), cb.State().ConsecutiveErrors)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_CooldownHalfOpen(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 1, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	now = now.Add(30 * time.Second)
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	now = now.Add(31 * time.Second)
	assert.NoError(t, cb.AllowTrading())

	// 试探失败后立即重新熔断
	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_StateReflectsCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 1, Cooldown: time.Minute})
	cb.now = func() time.Time { return now }

	cb.OnError()
	assert.True(t, cb.State().Open)
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.State().Open)

	// 冷却结束，下一次 AllowTrading 之前状态就应显示为关闭
	now = now.Add(2 * time.Minute)
	assert.False(t, cb.State().Open)
	assert.NoError(t, cb.AllowTrading())
	assert.False(t, cb.State().Open)
}

func TestCircuitBreaker_ManualHaltIgnoresCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Cooldown: time.Second})
	cb.now = func() time.Time { return now }

	cb.Halt()
	now = now.Add(time.Hour)
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.State().Manual)
}

func TestCircuitBreaker_DisabledAndNil(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 100; i++ {
		cb.OnError()
	}
	assert.NoError(t, cb.AllowTrading())

	var nilCB *CircuitBreaker
	nilCB.OnError()
	nilCB.Halt()
	assert.NoError(t, nilCB.AllowTrading())
	assert.False(t, nilCB.State().Open)
}
