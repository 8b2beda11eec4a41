package domain

import "time"

// Position 交易所持仓快照（不缓存，每次查询都从交易所获取）
type Position struct {
	Exchange      string       `json:"exchange"`
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealizedPnL float64      `json:"unrealized_pnl"`
	Leverage      float64      `json:"leverage"`
}

// PositionSide 持仓方向
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = "none"
)

// Valid long / short（none 不能用于调仓）
func (s PositionSide) Valid() bool {
	return s == PositionLong || s == PositionShort
}

// OpenSide 开仓/加仓使用的下单方向：long→buy, short→sell
func (s PositionSide) OpenSide() Side {
	if s == PositionShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide 减仓/平仓使用的下单方向（与持仓方向相反）
func (s PositionSide) CloseSide() Side {
	return s.OpenSide().Opposite()
}

// IsFlat 无持仓
func (p *Position) IsFlat() bool {
	return p == nil || p.Side == PositionNone || p.Size <= 0
}

// FlatPosition 空仓占位（查询失败或找不到时返回）
func FlatPosition(exchange, symbol string) Position {
	return Position{
		Exchange: exchange,
		Symbol:   symbol,
		Side:     PositionNone,
		Leverage: 1,
	}
}

// AccountInfo 账户快照（保证金状态随每笔订单变化，不缓存）
type AccountInfo struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	UsedMargin       float64 `json:"used_margin"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
}

// LiquidationSignal 清仓信号（由风控生成，由 Executor 消费）
type LiquidationSignal struct {
	Signal    string    `json:"signal"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol,omitempty"` // 空表示全部
	Timestamp time.Time `json:"timestamp"`
}

// SignalLiquidate 唯一支持的风险信号
const SignalLiquidate = "liquidate"
