package domain

// Action 策略信号动作
type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionClose Action = "close"
)

// Signal 策略信号（一次性消费，不持久化）
type Signal struct {
	Action    Action    `json:"action"`
	Amount    float64   `json:"amount"`
	Price     *float64  `json:"price,omitempty"`
	OrderType OrderType `json:"order_type,omitempty"` // 默认 limit
}

// EffectiveOrderType 未指定时默认 limit
func (s Signal) EffectiveOrderType() OrderType {
	if s.OrderType == "" {
		return OrderTypeLimit
	}
	return s.OrderType
}

// Side buy/sell 动作对应的下单方向
func (s Signal) Side() (Side, bool) {
	switch s.Action {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	}
	return "", false
}
