// Package exchanges 按配置构建交易所适配器。
package exchanges

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/exchanges/binance"
	"github.com/betbot/goexec/internal/exchanges/gate"
	"github.com/betbot/goexec/internal/exchanges/okx"
	"github.com/betbot/goexec/internal/exchanges/paper"
	"github.com/betbot/goexec/internal/ports"
	"github.com/betbot/goexec/internal/venue"
	"github.com/betbot/goexec/pkg/config"
	"github.com/betbot/goexec/pkg/secretstore"
)

var log = logrus.WithField("component", "exchanges")

// CredentialSource 凭证库（secretstore.Store 实现）
type CredentialSource interface {
	GetJSON(key string, out any) (bool, error)
}

// Build 按配置构建全部交易所并注册到 registry，每个适配器套上 venue_timeout。
// 凭证优先级：环境变量 > 配置文件 > secret store；store 可为 nil。
func Build(cfg *config.Config, store CredentialSource) (*venue.Registry, error) {
	reg, err := venue.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, v := range cfg.Venues {
		if v.Kind == "" {
			v.Kind = v.Name
		}
		if store != nil && NeedsCredentials(v.Kind) {
			var stored config.Credentials
			found, err := store.GetJSON(secretstore.CredentialsKey(v.Name), &stored)
			if err != nil {
				return nil, fmt.Errorf("读取 %s 凭证失败: %w", v.Name, err)
			}
			if found {
				v.Credentials = v.Credentials.Merge(stored)
			}
		}
		a, err := New(v)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(venue.WithTimeout(a, cfg.VenueTimeout)); err != nil {
			return nil, err
		}
		log.Infof("✅ 交易所已注册: name=%s kind=%s", v.Name, v.Kind)
	}
	return reg, nil
}

// New 根据 kind 创建适配器；凭证应已由调用方合并好（环境变量 / 配置文件 / secret store）。
// dydx / hyperliquid / serum 可以识别，但没有实现，直接报错。
func New(v config.VenueConfig) (ports.ExchangeAdapter, error) {
	kind := v.Kind
	if kind == "" {
		kind = v.Name
	}
	switch kind {
	case config.KindOKX:
		return adapter(okx.New(okx.Config{
			Name:       v.Name,
			BaseURL:    v.BaseURL,
			APIKey:     v.APIKey,
			SecretKey:  v.SecretKey,
			Passphrase: v.Passphrase,
			Simulated:  v.Simulated,
			Timeout:    v.Timeout,
			RetryCount: v.RetryCount,
		}))
	case config.KindBinance:
		return adapter(binance.New(binance.Config{
			Name:       v.Name,
			BaseURL:    v.BaseURL,
			APIKey:     v.APIKey,
			SecretKey:  v.SecretKey,
			Timeout:    v.Timeout,
			RetryCount: v.RetryCount,
		}))
	case config.KindGate:
		return adapter(gate.New(gate.Config{
			Name:        v.Name,
			BaseURL:     v.BaseURL,
			APIKey:      v.APIKey,
			SecretKey:   v.SecretKey,
			Settle:      v.Settle,
			Multipliers: v.Multipliers,
			Timeout:     v.Timeout,
			RetryCount:  v.RetryCount,
		}))
	case config.KindPaper:
		return adapter(paper.New(paper.Config{
			Name:           v.Name,
			InitialBalance: v.Paper.InitialBalance,
			Leverage:       v.Paper.Leverage,
			MarkPrices:     v.Paper.MarkPrices,
		}))
	case config.KindDydx, config.KindHyperliquid, config.KindSerum:
		return nil, fmt.Errorf("exchange %s (%s) is not supported", v.Name, kind)
	default:
		return nil, fmt.Errorf("unknown exchange kind: %q", kind)
	}
}

// adapter 避免把 typed nil 包进接口
func adapter[T ports.ExchangeAdapter](a T, err error) (ports.ExchangeAdapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NeedsCredentials 除 paper 外都需要 API 凭证
func NeedsCredentials(kind string) bool {
	return kind != config.KindPaper
}
