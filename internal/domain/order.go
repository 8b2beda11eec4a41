package domain

import (
	"strings"
	"time"
)

// Order 本地账本中的订单记录（身份：Exchange + OrderID）
type Order struct {
	OrderID   string      `json:"order_id"`        // 交易所返回的订单 ID
	Exchange  string      `json:"exchange"`        // 交易所名称（registry 中的名字）
	Symbol    string      `json:"symbol"`          // 交易对，保持交易所原始写法（BTC-USDT / BTCUSDT / BTC_USDT）
	Side      Side        `json:"side"`            // buy / sell
	Type      OrderType   `json:"type"`            // limit / market
	Amount    float64     `json:"amount"`          // 下单数量
	Price     *float64    `json:"price,omitempty"` // 限价（市价单为 nil）
	Status    OrderStatus `json:"status"`          // 订单状态
	Filled    float64     `json:"filled"`          // 已成交数量
	Timestamp time.Time   `json:"timestamp"`       // 创建/观测时间
}

// Key 返回订单在账本中的唯一键
func (o *Order) Key() OrderKey {
	return OrderKey{Exchange: o.Exchange, OrderID: o.OrderID}
}

// IsOpen pending / partially_filled 视为未完成
func (o *Order) IsOpen() bool {
	return o.Status.IsOpen()
}

// Clone 深拷贝（Price 是指针）
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	return &c
}

// FillAnomaly 检查成交量与状态是否自洽。
// 交易所可能上报 filled > amount，或 filled 状态但数量不等；这里只报告，不修正。
func (o *Order) FillAnomaly() (string, bool) {
	if o.Amount > 0 && o.Filled > o.Amount+fillTolerance {
		return "filled amount exceeds order amount", true
	}
	if o.Status == OrderStatusFilled && o.Amount > 0 && absFloat(o.Filled-o.Amount) > fillTolerance {
		return "status filled but filled amount differs from order amount", true
	}
	return "", false
}

const fillTolerance = 1e-9

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// OrderKey 账本主键
type OrderKey struct {
	Exchange string
	OrderID  string
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"          // 已挂单，未成交
	OrderStatusPartiallyFilled OrderStatus = "partially_filled" // 部分成交
	OrderStatusFilled          OrderStatus = "filled"           // 完全成交
	OrderStatusCancelled       OrderStatus = "cancelled"        // 已撤销
	OrderStatusRejected        OrderStatus = "rejected"         // 被交易所拒绝
	OrderStatusError           OrderStatus = "error"            // 同步失败/未知
)

// IsOpen 是否仍在簿上
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

// IsFinal filled / cancelled / rejected 不会再变化
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Side 下单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 是否为 buy / sell
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite 反向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 宽松解析（BUY/Buy/buy）
func ParseSide(raw string) (Side, bool) {
	s := Side(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStop       OrderType = "stop"        // 不支持
	OrderTypeTakeProfit OrderType = "take_profit" // 不支持
)

// OrderSummary 交易所查询返回的订单摘要（已归一化）
type OrderSummary struct {
	OrderID string      `json:"order_id"`
	Symbol  string      `json:"symbol"`
	Side    Side        `json:"side"`
	Type    OrderType   `json:"type"`
	Amount  float64     `json:"amount"`
	Filled  float64     `json:"filled"`
	Price   float64     `json:"price"`
	Status  OrderStatus `json:"status"`
}

// PriceRef 把 0 价格（市价单）转换为 nil
func PriceRef(p float64) *float64 {
	if p <= 0 {
		return nil
	}
	return &p
}
