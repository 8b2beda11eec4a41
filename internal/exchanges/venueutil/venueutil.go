// Package venueutil 各交易所适配器共用的小工具：数值格式化、结果构造、逐个撤单。
package venueutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/ports"
)

// FormatDecimal 按 places 位小数四舍五入并去掉末尾的 0（1.50000000 → "1.5"）
func FormatDecimal(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}

// ParseNumber 解析交易所返回的数字字符串；空串或非法值返回 0
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// OrderFailure 下单失败结果（保留请求参数，便于调用方记录）
func OrderFailure(symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64, kind domain.ErrorKind, err error) domain.OrderResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return domain.OrderResult{
		Outcome: domain.Fail(kind, "%s", msg),
		Symbol:  symbol,
		Side:    side,
		Type:    typ,
		Amount:  amount,
		Price:   price,
	}
}

// OrderPlaced 下单成功结果
func OrderPlaced(orderID, symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	return domain.OrderResult{
		Outcome: domain.Ok("order placed"),
		OrderID: orderID,
		Symbol:  symbol,
		Side:    side,
		Type:    typ,
		Amount:  amount,
		Price:   price,
	}
}

// Adjust 按持仓方向下单：long→buy, short→sell；price 为 nil 时市价
func Adjust(ctx context.Context, p ports.OrderPlacer, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	if !side.Valid() {
		return domain.OrderResult{
			Outcome: domain.Fail(domain.KindValidation, "invalid position side: %q", side),
			Symbol:  symbol,
			Amount:  amount,
			Price:   price,
		}
	}
	if price == nil {
		return p.PlaceMarketOrder(ctx, symbol, side.OpenSide(), amount)
	}
	return p.PlaceLimitOrder(ctx, symbol, side.OpenSide(), amount, *price)
}

// CancelEach 逐个撤销 orders。全部成功才算成功；部分失败返回 partial_batch，
// 错误信息用 "; " 拼接。
func CancelEach(ctx context.Context, c ports.OrderCanceler, orders []domain.OrderSummary) domain.BatchCancelResult {
	var (
		cancelled int
		errs      []string
	)
	for _, o := range orders {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", o.OrderID, ctx.Err()))
			continue
		}
		r := c.CancelOrder(ctx, o.Symbol, o.OrderID)
		if r.Success {
			cancelled++
			continue
		}
		errs = append(errs, fmt.Sprintf("%s: %s", o.OrderID, r.Message))
	}

	res := domain.BatchCancelResult{CancelledCount: cancelled, Errors: errs}
	if cancelled == len(orders) {
		res.Outcome = domain.Ok(fmt.Sprintf("cancelled %d orders", cancelled))
		return res
	}
	res.Outcome = domain.Fail(domain.KindPartialBatch, "%s", strings.Join(errs, "; "))
	return res
}
