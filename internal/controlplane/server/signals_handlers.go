package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/betbot/goexec/internal/domain"
)

func (s *Server) handleSignal(c *gin.Context) {
	var sig domain.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	sig.Action = domain.Action(strings.ToLower(strings.TrimSpace(string(sig.Action))))
	res := s.exec.ExecuteSignal(c.Request.Context(), c.Param("exchange"), c.Param("symbol"), sig)
	writeOutcome(c, res.Outcome, res)
}

func (s *Server) handleLiquidate(c *gin.Context) {
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Exchange = strings.TrimSpace(req.Exchange)
	if req.Exchange == "" {
		writeError(c, http.StatusBadRequest, "exchange is required")
		return
	}
	if _, ok := s.exec.Venues().Get(req.Exchange); !ok {
		writeError(c, http.StatusNotFound, "unsupported exchange: "+req.Exchange)
		return
	}
	sig := s.exec.Risk().SendLiquidationSignal(req.Exchange, strings.TrimSpace(req.Symbol))
	log.Warnf("🚨 人工清仓: exchange=%s symbol=%q", sig.Exchange, sig.Symbol)
	res := s.exec.HandleRiskSignal(c.Request.Context(), sig)
	writeOutcome(c, res.Outcome, res)
}

func (s *Server) handleRiskCheck(c *gin.Context) {
	exchange := c.Param("exchange")
	if _, ok := s.exec.Venues().Get(exchange); !ok {
		writeError(c, http.StatusNotFound, "unsupported exchange: "+exchange)
		return
	}
	c.JSON(http.StatusOK, s.exec.Risk().CheckAccountRisk(c.Request.Context(), exchange))
}

// handleRiskMonitor 立即跑一次账户监控（开启自动清仓时可能触发清仓）
func (s *Server) handleRiskMonitor(c *gin.Context) {
	exchange := c.Param("exchange")
	if _, ok := s.exec.Venues().Get(exchange); !ok {
		writeError(c, http.StatusNotFound, "unsupported exchange: "+exchange)
		return
	}
	c.JSON(http.StatusOK, s.exec.MonitorAccount(c.Request.Context(), exchange))
}

func (s *Server) handleBreakerState(c *gin.Context) {
	c.JSON(http.StatusOK, s.exec.Breaker().State())
}

func (s *Server) handleBreakerHalt(c *gin.Context) {
	s.exec.Breaker().Halt()
	log.Warn("⛔ 人工熔断")
	c.JSON(http.StatusOK, s.exec.Breaker().State())
}

func (s *Server) handleBreakerResume(c *gin.Context) {
	s.exec.Breaker().Resume()
	log.Info("✅ 熔断已恢复")
	c.JSON(http.StatusOK, s.exec.Breaker().State())
}
