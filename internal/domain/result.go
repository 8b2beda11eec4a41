package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 失败分类
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"             // 本地参数错误，未发出任何网络请求
	KindUnsupportedVenue     ErrorKind = "unsupported_venue"      // 未注册的交易所
	KindUnsupportedOrderType ErrorKind = "unsupported_order_type" // stop / take_profit 等
	KindAdapter              ErrorKind = "adapter"                // 网络/鉴权/交易所返回错误
	KindRiskRejection        ErrorKind = "risk_rejection"         // 风控拒绝
	KindPartialBatch         ErrorKind = "partial_batch"          // 批量操作部分失败
	KindNoPosition           ErrorKind = "no_position"            // 无持仓可减/平
	KindNotFound             ErrorKind = "not_found"              // 本地账本不存在
	KindCircuitOpen          ErrorKind = "circuit_open"           // 熔断中
	KindFillMismatch         ErrorKind = "fill_mismatch"          // 成交量与状态不自洽
)

var (
	ErrValidation           = errors.New("validation error")
	ErrUnsupportedVenue     = errors.New("unsupported venue")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrAdapter              = errors.New("adapter error")
	ErrRiskRejection        = errors.New("risk rejection")
	ErrPartialBatch         = errors.New("partial batch failure")
	ErrNoPosition           = errors.New("no position")
	ErrNotFound             = errors.New("not found")
	ErrCircuitOpen          = errors.New("circuit breaker open")
	ErrFillMismatch         = errors.New("fill mismatch")
)

var kindSentinels = map[ErrorKind]error{
	KindValidation:           ErrValidation,
	KindUnsupportedVenue:     ErrUnsupportedVenue,
	KindUnsupportedOrderType: ErrUnsupportedOrderType,
	KindAdapter:              ErrAdapter,
	KindRiskRejection:        ErrRiskRejection,
	KindPartialBatch:         ErrPartialBatch,
	KindNoPosition:           ErrNoPosition,
	KindNotFound:             ErrNotFound,
	KindCircuitOpen:          ErrCircuitOpen,
	KindFillMismatch:         ErrFillMismatch,
}

// Failure 结构化失败，errors.Is 可匹配对应的哨兵错误
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return kindSentinels[f.Kind]
}

// Outcome 所有操作结果共有的成功标记
type Outcome struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Kind    ErrorKind `json:"kind,omitempty"` // 成功时为空
}

// Err 失败时返回 *Failure
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &Failure{Kind: o.Kind, Message: o.Message}
}

// Is 判断失败分类
func (o Outcome) Is(kind ErrorKind) bool {
	return !o.Success && o.Kind == kind
}

// Ok 成功结果
func Ok(message string) Outcome {
	return Outcome{Success: true, Message: message}
}

// Fail 失败结果
func Fail(kind ErrorKind, format string, args ...any) Outcome {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return Outcome{Success: false, Kind: kind, Message: msg}
}

// OrderResult 下单/调仓结果
type OrderResult struct {
	Outcome
	OrderID string    `json:"order_id,omitempty"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Type    OrderType `json:"type"`
	Amount  float64   `json:"amount"`
	Price   *float64  `json:"price,omitempty"`
}

// CancelResult 撤单结果
type CancelResult struct {
	Outcome
	OrderID string `json:"order_id"`
}

// BatchCancelResult 批量撤单结果（部分失败不会整体抛错）
type BatchCancelResult struct {
	Outcome
	CancelledCount int      `json:"cancelled_count"`
	Errors         []string `json:"errors,omitempty"`
}

// OrderStatusResult 订单状态查询结果
type OrderStatusResult struct {
	Outcome
	Order OrderSummary `json:"order"`
}

// OpenOrdersResult 未成交订单查询结果
type OpenOrdersResult struct {
	Outcome
	Orders []OrderSummary `json:"orders"`
}

// AccountResult 账户查询结果
type AccountResult struct {
	Outcome
	Account AccountInfo `json:"account"`
}

// PositionsResult 持仓查询结果
type PositionsResult struct {
	Outcome
	Positions []Position `json:"positions"`
}
