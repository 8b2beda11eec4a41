package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/betbot/goexec/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

type liquidateRequest struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

type cancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"` // 为空时撤销 symbol（或全部）挂单
}

type increaseRequest struct {
	Side   domain.PositionSide `json:"side"`
	Amount float64             `json:"amount"`
	Price  *float64            `json:"price,omitempty"`
}

type decreaseRequest struct {
	Amount float64  `json:"amount"`
	Price  *float64 `json:"price,omitempty"`
}

type closeRequest struct {
	Price *float64 `json:"price,omitempty"`
}

type ordersResponse struct {
	Count  int             `json:"count"`
	Orders []*domain.Order `json:"orders"`
}

func writeError(c *gin.Context, code int, msg string) {
	c.JSON(code, errorResponse{Error: msg})
}

// writeOutcome 按失败分类选择 HTTP 状态码，body 总是完整的结果结构
func writeOutcome(c *gin.Context, out domain.Outcome, body any) {
	c.JSON(statusFor(out), body)
}

func statusFor(out domain.Outcome) int {
	if out.Success {
		return http.StatusOK
	}
	switch out.Kind {
	case domain.KindValidation, domain.KindUnsupportedOrderType:
		return http.StatusBadRequest
	case domain.KindUnsupportedVenue, domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRiskRejection, domain.KindNoPosition:
		return http.StatusUnprocessableEntity
	case domain.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case domain.KindPartialBatch:
		return http.StatusMultiStatus
	default:
		return http.StatusBadGateway
	}
}

// bindOptional 空 body 视为零值请求
func bindOptional(c *gin.Context, out any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
