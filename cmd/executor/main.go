package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/goexec/internal/controlplane/server"
	"github.com/betbot/goexec/internal/controlplane/stream"
	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/exchanges"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/executor"
	"github.com/betbot/goexec/internal/oms"
	"github.com/betbot/goexec/internal/ports"
	"github.com/betbot/goexec/internal/position"
	"github.com/betbot/goexec/internal/risk"
	"github.com/betbot/goexec/internal/supervisor"
	"github.com/betbot/goexec/pkg/config"
	"github.com/betbot/goexec/pkg/logger"
	"github.com/betbot/goexec/pkg/secretstore"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml / .yml）")
	envFile := flag.String("env", ".env", ".env 文件路径（不存在则忽略）")
	addr := flag.String("listen", "", "控制面监听地址（覆盖 server.addr）")
	flag.Parse()

	// .env 尽力加载，不存在时回退到真实环境变量
	_ = godotenv.Load(*envFile)

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
	} else if p, ok := firstExistingFile("yml/executor.yaml", "config.yaml"); ok {
		config.SetConfigPath(p)
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logrus.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}
	defer logger.Close()
	logrus.Infof("使用配置文件: %q", config.GetConfigPath())

	if err := run(cfg); err != nil {
		logrus.Errorf("❌ 退出: %v", err)
		os.Exit(1)
	}
	logrus.Info("executor stopped")
}

func run(cfg *config.Config) error {
	store, err := openSecretStore(cfg.SecretStore)
	if err != nil {
		return err
	}
	var creds exchanges.CredentialSource
	if store != nil {
		creds = store
	}
	venues, err := exchanges.Build(cfg, creds)
	// 凭证读完即可关闭，Badger 持有目录锁
	if store != nil {
		_ = store.Close()
	}
	if err != nil {
		return fmt.Errorf("构建交易所失败: %w", err)
	}

	sender := execution.NewOrderSender(venues)
	locks := execution.NewKeyLocker(64)
	orders := oms.NewOrderManager(venues)
	orders.OnOrderUpdate(ports.OrderUpdateHandlerFunc(func(_ context.Context, o *domain.Order) {
		logrus.WithField("component", "ledger").Infof("📝 订单更新: exchange=%s orderID=%s symbol=%s status=%s filled=%.8f/%.8f",
			o.Exchange, o.OrderID, o.Symbol, o.Status, o.Filled, o.Amount)
	}))

	exec, err := executor.New(executor.Deps{
		Venues: venues,
		Sender: sender,
		Orders: orders,
		Risk: risk.NewRiskManager(venues, risk.Config{
			MaxPositionSize: cfg.Risk.MaxPositionSize,
			MaxLossRatio:    cfg.Risk.MaxLossRatio,
		}),
		Positions: position.NewPositionManager(venues, sender, locks),
		Locks:     locks,
		Breaker: risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: cfg.Breaker.MaxConsecutiveErrors,
			Cooldown:             cfg.Breaker.Cooldown,
		}),
		AutoLiquidate: cfg.Risk.AutoLiquidate,
	})
	if err != nil {
		return err
	}

	hub := stream.NewHub(stream.Config{Snapshot: orders.Snapshot})
	orders.OnOrderUpdate(hub)

	cp, err := server.New(server.Config{Token: cfg.Server.Token, Stream: hub}, exec, venues)
	if err != nil {
		return err
	}
	sup, err := supervisor.New(supervisor.Config{
		ReconcileInterval: cfg.Supervisor.ReconcileInterval,
		MonitorInterval:   cfg.Supervisor.MonitorInterval,
	}, exec, venues)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           cp.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.Server.Token == "" {
		logrus.Warn("⚠️ 控制面未配置 token，请只监听 localhost")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("🌐 控制面监听: %s venues=%v", cfg.Server.Addr, venues.Names())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Shutdown 不处理已 hijack 的 WebSocket 连接
		hub.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openSecretStore 未配置路径时返回 nil；只读打开
func openSecretStore(c config.SecretStoreConfig) (*secretstore.Store, error) {
	if strings.TrimSpace(c.Path) == "" {
		return nil, nil
	}
	key, err := secretstore.ParseKey(os.Getenv(c.KeyEnv))
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", c.KeyEnv, err)
	}
	if key == nil {
		return nil, fmt.Errorf("secret_store.path 已配置，但 %s 为空", c.KeyEnv)
	}
	store, err := secretstore.Open(secretstore.OpenOptions{Path: c.Path, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	logrus.Infof("🔐 已打开凭证库: %s", c.Path)
	return store, nil
}
