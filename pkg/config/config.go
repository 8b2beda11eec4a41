package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 支持的交易所类型
const (
	KindOKX     = "okx"
	KindBinance = "binance"
	KindGate    = "gate"
	KindPaper   = "paper"

	// 以下类型可以识别，但没有适配器，构建时报错
	KindDydx        = "dydx"
	KindHyperliquid = "hyperliquid"
	KindSerum       = "serum"
)

var knownKinds = map[string]bool{
	KindOKX: true, KindBinance: true, KindGate: true, KindPaper: true,
	KindDydx: true, KindHyperliquid: true, KindSerum: true,
}

// Credentials 交易所 API 凭证（yaml / 环境变量 / secret store 三个来源）
type Credentials struct {
	APIKey     string `yaml:"api_key" json:"api_key"`
	SecretKey  string `yaml:"secret_key" json:"secret_key"`
	Passphrase string `yaml:"passphrase" json:"passphrase"` // 仅 OKX
}

// Empty 三项都为空
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.SecretKey == "" && c.Passphrase == ""
}

// Merge 用 other 填充空字段
func (c Credentials) Merge(other Credentials) Credentials {
	if c.APIKey == "" {
		c.APIKey = other.APIKey
	}
	if c.SecretKey == "" {
		c.SecretKey = other.SecretKey
	}
	if c.Passphrase == "" {
		c.Passphrase = other.Passphrase
	}
	return c
}

// PaperConfig 模拟盘参数
type PaperConfig struct {
	InitialBalance float64            `yaml:"initial_balance"`
	Leverage       float64            `yaml:"leverage"`
	MarkPrices     map[string]float64 `yaml:"mark_prices"`
}

// VenueConfig 单个交易所配置
type VenueConfig struct {
	Name        string             `yaml:"name"` // 注册名，信号路由用
	Kind        string             `yaml:"kind"` // okx / binance / gate / paper
	BaseURL     string             `yaml:"base_url"`
	Simulated   bool               `yaml:"simulated"` // OKX 模拟盘
	Timeout     time.Duration      `yaml:"timeout"`   // 单次 HTTP 请求超时
	RetryCount  int                `yaml:"retry_count"`
	Settle      string             `yaml:"settle"`      // Gate 结算币种
	Multipliers map[string]float64 `yaml:"multipliers"` // Gate 合约面值
	Paper       PaperConfig        `yaml:"paper"`
	Credentials `yaml:",inline"`
}

// EnvPrefix 凭证环境变量前缀：okx-main → OKX_MAIN
func (v VenueConfig) EnvPrefix() string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(v.Name))
}

// EnvCredentials 读取 <PREFIX>_API_KEY / _SECRET_KEY / _PASSPHRASE
func (v VenueConfig) EnvCredentials() Credentials {
	p := v.EnvPrefix()
	return Credentials{
		APIKey:     getEnv(p+"_API_KEY", ""),
		SecretKey:  getEnv(p+"_SECRET_KEY", ""),
		Passphrase: getEnv(p+"_PASSPHRASE", ""),
	}
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // 天
	Compress   bool   `yaml:"compress"`
}

// ServerConfig 控制面 HTTP 服务
type ServerConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"` // 非空时要求 Authorization: Bearer <token>
}

// RiskConfig 风控阈值
type RiskConfig struct {
	MaxPositionSize float64 `yaml:"max_position_size"` // 单笔订单价值 / 可用余额 上限
	MaxLossRatio    float64 `yaml:"max_loss_ratio"`    // 未实现亏损 / 权益 上限
	AutoLiquidate   bool    `yaml:"auto_liquidate"`    // danger 时自动执行清仓信号
}

// BreakerConfig 熔断配置
type BreakerConfig struct {
	MaxConsecutiveErrors int64         `yaml:"max_consecutive_errors"` // <=0 关闭
	Cooldown             time.Duration `yaml:"cooldown"`               // 0 表示只能手动恢复
}

// SupervisorConfig 周期任务
type SupervisorConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // 0 关闭
	MonitorInterval   time.Duration `yaml:"monitor_interval"`   // 0 关闭
}

// SecretStoreConfig badger 凭证库
type SecretStoreConfig struct {
	Path   string `yaml:"path"`    // 为空则不使用
	KeyEnv string `yaml:"key_env"` // 存放加密 key 的环境变量名
}

// Config 应用配置
type Config struct {
	Log          LogConfig         `yaml:"log"`
	Server       ServerConfig      `yaml:"server"`
	Risk         RiskConfig        `yaml:"risk"`
	Breaker      BreakerConfig     `yaml:"breaker"`
	Supervisor   SupervisorConfig  `yaml:"supervisor"`
	SecretStore  SecretStoreConfig `yaml:"secret_store"`
	VenueTimeout time.Duration     `yaml:"venue_timeout"` // 单次适配器调用总时长（含重试）
	Venues       []VenueConfig     `yaml:"venues"`
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// Default 默认配置（不含交易所）
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Server: ServerConfig{Addr: ":8080"},
		Risk: RiskConfig{
			MaxPositionSize: 0.1,
			MaxLossRatio:    0.05,
		},
		Breaker: BreakerConfig{
			MaxConsecutiveErrors: 5,
			Cooldown:             time.Minute,
		},
		Supervisor: SupervisorConfig{
			ReconcileInterval: 30 * time.Second,
			MonitorInterval:   10 * time.Second,
		},
		SecretStore:  SecretStoreConfig{KeyEnv: "GOEXEC_SECRET_KEY"},
		VenueTimeout: 15 * time.Second,
	}
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 默认值 → 配置文件 → 环境变量，最后校验。
// filePath 为空时只用默认值和环境变量。
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

// Get 返回最近一次加载的配置
func Get() *Config {
	return globalConfig
}

// applyEnv 环境变量覆盖配置文件
func applyEnv(c *Config) {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.Token = getEnv("CONTROL_TOKEN", c.Server.Token)
	c.Risk.MaxPositionSize = parseFloatEnv("RISK_MAX_POSITION_SIZE", c.Risk.MaxPositionSize)
	c.Risk.MaxLossRatio = parseFloatEnv("RISK_MAX_LOSS_RATIO", c.Risk.MaxLossRatio)
	c.Risk.AutoLiquidate = parseBoolEnv("AUTO_LIQUIDATE", c.Risk.AutoLiquidate)
	c.Breaker.MaxConsecutiveErrors = int64(parseIntEnv("BREAKER_MAX_ERRORS", int(c.Breaker.MaxConsecutiveErrors)))
	c.Breaker.Cooldown = parseDurationEnv("BREAKER_COOLDOWN", c.Breaker.Cooldown)
	c.Supervisor.ReconcileInterval = parseDurationEnv("RECONCILE_INTERVAL", c.Supervisor.ReconcileInterval)
	c.Supervisor.MonitorInterval = parseDurationEnv("MONITOR_INTERVAL", c.Supervisor.MonitorInterval)
	c.SecretStore.Path = getEnv("SECRET_STORE_PATH", c.SecretStore.Path)
	c.VenueTimeout = parseDurationEnv("VENUE_TIMEOUT", c.VenueTimeout)

	for i := range c.Venues {
		v := &c.Venues[i]
		if v.Kind == "" {
			v.Kind = v.Name
		}
		// 环境变量优先于配置文件中的明文凭证
		v.Credentials = v.EnvCredentials().Merge(v.Credentials)
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Risk.MaxPositionSize <= 0 || c.Risk.MaxPositionSize > 1 {
		return fmt.Errorf("risk.max_position_size 必须在 (0, 1] 范围内，当前: %v", c.Risk.MaxPositionSize)
	}
	if c.Risk.MaxLossRatio <= 0 || c.Risk.MaxLossRatio > 1 {
		return fmt.Errorf("risk.max_loss_ratio 必须在 (0, 1] 范围内，当前: %v", c.Risk.MaxLossRatio)
	}
	if c.Breaker.Cooldown < 0 {
		return fmt.Errorf("breaker.cooldown 不能为负数")
	}
	if c.Supervisor.ReconcileInterval < 0 || c.Supervisor.MonitorInterval < 0 {
		return fmt.Errorf("supervisor 间隔不能为负数")
	}
	if c.VenueTimeout < 0 {
		return fmt.Errorf("venue_timeout 不能为负数")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("至少需要配置一个交易所 (venues)")
	}

	seen := make(map[string]bool, len(c.Venues))
	for i, v := range c.Venues {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return fmt.Errorf("venues[%d].name 不能为空", i)
		}
		if seen[name] {
			return fmt.Errorf("交易所名称重复: %s", name)
		}
		seen[name] = true
		kind := v.Kind
		if kind == "" {
			kind = name
		}
		if !knownKinds[kind] {
			return fmt.Errorf("venues[%d] (%s): 未知的交易所类型 %q", i, name, kind)
		}
		if v.Timeout < 0 || v.RetryCount < 0 {
			return fmt.Errorf("venues[%d] (%s): timeout / retry_count 不能为负数", i, name)
		}
	}
	return nil
}

// Venue 按名字查找交易所配置
func (c *Config) Venue(name string) (VenueConfig, bool) {
	for _, v := range c.Venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	if v := getEnv(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	if v := getEnv(key, ""); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) bool {
	if v := getEnv(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
