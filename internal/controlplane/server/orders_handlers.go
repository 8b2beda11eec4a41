package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/goexec/internal/domain"
)

// handleOrdersList 账本查询：?exchange=&symbol=&open=true
func (s *Server) handleOrdersList(c *gin.Context) {
	exchange := strings.TrimSpace(c.Query("exchange"))
	symbol := strings.TrimSpace(c.Query("symbol"))
	openOnly := c.Query("open") == "true" || c.Query("open") == "1"

	out := make([]*domain.Order, 0)
	for _, o := range s.exec.Orders().Snapshot() {
		if exchange != "" && o.Exchange != exchange {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if openOnly && !o.IsOpen() {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	c.JSON(http.StatusOK, ordersResponse{Count: len(out), Orders: out})
}

func (s *Server) handleOrderGet(c *gin.Context) {
	res := s.exec.Orders().Lookup(c.Param("exchange"), c.Param("orderID"))
	writeOutcome(c, res.Outcome, res)
}

// handleOrderRefresh 从交易所拉取最新状态写回账本
func (s *Server) handleOrderRefresh(c *gin.Context) {
	res := s.exec.Orders().UpdateOrderStatus(c.Request.Context(), c.Param("exchange"), c.Param("orderID"))
	writeOutcome(c, res.Outcome, res)
}

// handleOrdersSync 把交易所挂单合并进账本：?symbol=
func (s *Server) handleOrdersSync(c *gin.Context) {
	res := s.exec.Orders().SyncOpenOrders(c.Request.Context(), c.Param("exchange"), strings.TrimSpace(c.Query("symbol")))
	writeOutcome(c, res.Outcome, res)
}

func (s *Server) handleOrdersCancel(c *gin.Context) {
	var req cancelRequest
	if err := bindOptional(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	exchange := c.Param("exchange")
	if _, ok := s.exec.Venues().Get(exchange); !ok {
		writeError(c, http.StatusNotFound, "unsupported exchange: "+exchange)
		return
	}
	symbol := strings.TrimSpace(req.Symbol)
	if id := strings.TrimSpace(req.OrderID); id != "" {
		res := s.exec.CancelOrder(c.Request.Context(), exchange, symbol, id)
		writeOutcome(c, res.Outcome, res)
		return
	}
	res := s.exec.CancelAllOrders(c.Request.Context(), exchange, symbol)
	writeOutcome(c, res.Outcome, res)
}
