package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/controlplane/stream"
	"github.com/betbot/goexec/internal/executor"
	"github.com/betbot/goexec/internal/metrics"
)

var log = logrus.WithField("component", "controlplane")

type Config struct {
	// Token 非空时 /api 下的接口要求 Authorization: Bearer <token>
	Token string
	// Stream 非空时开放 GET /api/stream/orders（WebSocket）
	Stream *stream.Hub
}

// VenueLister 已注册交易所
type VenueLister interface {
	Names() []string
}

// Server 控制面：把 Executor 的操作暴露为 HTTP 接口（人工介入、外部策略下发信号）。
type Server struct {
	cfg    Config
	exec   *executor.Executor
	venues VenueLister
	now    func() time.Time
}

func New(cfg Config, exec *executor.Executor, venues VenueLister) (*Server, error) {
	if exec == nil {
		return nil, errors.New("executor is required")
	}
	if venues == nil {
		return nil, errors.New("venues is required")
	}
	cfg.Token = strings.TrimSpace(cfg.Token)
	return &Server{cfg: cfg, exec: exec, venues: venues, now: time.Now}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", s.handleHealth)
	// expvar + pprof
	r.GET("/debug/*any", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", s.auth())
	api.GET("/venues", s.handleVenues)

	api.POST("/signals/:exchange/:symbol", s.handleSignal)

	riskGroup := api.Group("/risk")
	riskGroup.POST("/liquidate", s.handleLiquidate)
	riskGroup.GET("/:exchange", s.handleRiskCheck)
	riskGroup.POST("/:exchange/monitor", s.handleRiskMonitor)

	breaker := api.Group("/breaker")
	breaker.GET("", s.handleBreakerState)
	breaker.POST("/halt", s.handleBreakerHalt)
	breaker.POST("/resume", s.handleBreakerResume)

	orders := api.Group("/orders")
	orders.GET("", s.handleOrdersList)
	orders.POST("/:exchange/sync", s.handleOrdersSync)
	orders.POST("/:exchange/cancel", s.handleOrdersCancel)
	orders.GET("/:exchange/:orderID", s.handleOrderGet)
	orders.POST("/:exchange/:orderID/refresh", s.handleOrderRefresh)

	positions := api.Group("/positions/:exchange/:symbol")
	positions.GET("", s.handlePositionGet)
	positions.POST("/increase", s.handlePositionIncrease)
	positions.POST("/decrease", s.handlePositionDecrease)
	positions.POST("/close", s.handlePositionClose)

	if s.cfg.Stream != nil {
		api.GET("/stream/orders", gin.WrapF(s.cfg.Stream.ServeWS))
	}

	return r
}

// auth 未配置 token 时不校验（只建议监听 localhost）
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			writeError(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  status,
			"latency": s.now().Sub(start).String(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("❌ 请求失败")
		case status >= http.StatusBadRequest:
			entry.Warn("⚠️ 请求被拒绝")
		default:
			entry.Debug("请求完成")
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "venues": s.venues.Names()})
}

func (s *Server) handleVenues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"venues": s.venues.Names()})
}
