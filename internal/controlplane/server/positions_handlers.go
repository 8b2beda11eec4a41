package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePositionGet 查询失败或无持仓时返回 side=none 的占位
func (s *Server) handlePositionGet(c *gin.Context) {
	exchange := c.Param("exchange")
	if _, ok := s.exec.Venues().Get(exchange); !ok {
		writeError(c, http.StatusNotFound, "unsupported exchange: "+exchange)
		return
	}
	c.JSON(http.StatusOK, s.exec.Positions().GetPosition(c.Request.Context(), exchange, c.Param("symbol")))
}

func (s *Server) handlePositionIncrease(c *gin.Context) {
	var req increaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	res := s.exec.IncreasePosition(c.Request.Context(), c.Param("exchange"), c.Param("symbol"), req.Side, req.Amount, req.Price)
	writeOutcome(c, res.Outcome, res)
}

func (s *Server) handlePositionDecrease(c *gin.Context) {
	var req decreaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	res := s.exec.DecreasePosition(c.Request.Context(), c.Param("exchange"), c.Param("symbol"), req.Amount, req.Price)
	writeOutcome(c, res.Outcome, res)
}

func (s *Server) handlePositionClose(c *gin.Context) {
	var req closeRequest
	if err := bindOptional(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	res := s.exec.ClosePosition(c.Request.Context(), c.Param("exchange"), c.Param("symbol"), req.Price)
	writeOutcome(c, res.Outcome, res)
}
