package execution

import (
	"hash/fnv"
	"sync"
)

// KeyLocker 按 key 串行化的分片锁。
//
// 同一 key 的调用严格串行，不同 key 可并发；空闲 key 在最后一个持有者
// 释放时回收，map 不会随交易对数量无限增长。
// 用于 (exchange, symbol) 维度的“风控检查 + 下单 + 记账”原子化，
// 以及账本中同一订单的状态更新。
type KeyLocker struct {
	shards []keyShard
}

type keyShard struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int // 持有 + 等待者数量（受 shard.mu 保护）
}

// NewKeyLocker 创建分片锁，shardCount <= 0 时默认 64。
func NewKeyLocker(shardCount int) *KeyLocker {
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]keyShard, shardCount)
	for i := range shards {
		shards[i].locks = make(map[string]*keyEntry)
	}
	return &KeyLocker{shards: shards}
}

// Lock 获取 key 的锁，返回解锁函数（必须调用且只能调用一次）。
// nil 接收者不加锁，便于测试中省略。
func (l *KeyLocker) Lock(key string) func() {
	if l == nil {
		return func() {}
	}
	sh := l.shard(key)

	sh.mu.Lock()
	e, ok := sh.locks[key]
	if !ok {
		e = &keyEntry{}
		sh.locks[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			sh.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(sh.locks, key)
			}
			sh.mu.Unlock()
		})
	}
}

// Size 当前被持有或等待中的 key 数量（测试/观测用）
func (l *KeyLocker) Size() int {
	if l == nil {
		return 0
	}
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}

func (l *KeyLocker) shard(key string) *keyShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(l.shards)))
	return &l.shards[idx]
}

// PairKey (exchange, symbol) 串行化 key
func PairKey(exchange, symbol string) string {
	return exchange + "|" + symbol
}
