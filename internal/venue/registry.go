package venue

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/betbot/goexec/internal/ports"
)

// Registry 交易所注册表：名字 → 适配器。
// 只有完整实现 ports.ExchangeAdapter 的适配器才能注册，不支持的交易所在构建期报错。
type Registry struct {
	adapters map[string]ports.ExchangeAdapter
	mu       sync.RWMutex
}

// NewRegistry 创建注册表，可直接传入初始适配器
func NewRegistry(adapters ...ports.ExchangeAdapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]ports.ExchangeAdapter)}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry 测试/装配用，注册失败直接 panic
func MustRegistry(adapters ...ports.ExchangeAdapter) *Registry {
	r, err := NewRegistry(adapters...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register 注册适配器（名字不能为空，不能重复）
func (r *Registry) Register(adapter ports.ExchangeAdapter) error {
	if adapter == nil {
		return fmt.Errorf("venue: adapter is nil")
	}
	name := strings.TrimSpace(adapter.Name())
	if name == "" {
		return fmt.Errorf("venue: adapter name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("venue: %s already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get 按名字查找
func (r *Registry) Get(name string) (ports.ExchangeAdapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names 已注册的交易所（有序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
