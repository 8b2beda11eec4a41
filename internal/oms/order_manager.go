package oms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/goexec/internal/domain"
	"github.com/betbot/goexec/internal/execution"
	"github.com/betbot/goexec/internal/metrics"
	"github.com/betbot/goexec/internal/ports"
)

var omsLog = logrus.WithField("component", "order_manager")

// LedgerResult 账本单条记录操作的结果（Order 为副本）
type LedgerResult struct {
	domain.Outcome
	Order *domain.Order `json:"order,omitempty"`
}

// SyncResult SyncOpenOrders 的结果
type SyncResult struct {
	domain.Outcome
	Synced int `json:"synced"` // 本次 upsert 的条数
	Added  int `json:"added"`  // 其中新插入的条数
}

// OrderManager 本地订单账本：记录本进程发出或观测到的所有订单。
//
// 账本只增不删：撤销/成交的订单保留到进程结束，只更新状态。
// 同一 order_id 可能出现在不同交易所，因此主键是 (exchange, order_id)；
// GetOrder(id) 返回该 id 最近一次插入的记录，需要精确定位时用 Lookup。
type OrderManager struct {
	venues execution.VenueResolver

	mu     sync.RWMutex
	orders map[domain.OrderKey]*domain.Order
	byID   map[string][]domain.OrderKey // 插入顺序

	// 同一订单的状态同步串行执行
	recordLocks *execution.KeyLocker

	handlersMu sync.RWMutex
	handlers   []ports.OrderUpdateHandler
}

// NewOrderManager 创建账本。venues 用于 UpdateOrderStatus / SyncOpenOrders 查询交易所。
func NewOrderManager(venues execution.VenueResolver) *OrderManager {
	return &OrderManager{
		venues:      venues,
		orders:      make(map[domain.OrderKey]*domain.Order),
		byID:        make(map[string][]domain.OrderKey),
		recordLocks: execution.NewKeyLocker(32),
	}
}

// OnOrderUpdate 注册订单更新回调（新增或状态变化时串行调用）
func (m *OrderManager) OnOrderUpdate(h ports.OrderUpdateHandler) {
	if h == nil {
		return
	}
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, h)
	m.handlersMu.Unlock()
}

// AddOrder 插入或覆盖记录。缺少 order_id 返回 validation；时间戳缺省为当前时间。
func (m *OrderManager) AddOrder(order domain.Order) LedgerResult {
	if strings.TrimSpace(order.OrderID) == "" {
		return LedgerResult{Outcome: domain.Fail(domain.KindValidation, "order_id is required")}
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = time.Now()
	}
	rec := order.Clone()
	unlock := m.recordLocks.Lock(keyString(rec.Key()))
	changed := m.put(rec, false)
	snapshot := rec.Clone()
	unlock()

	if changed {
		m.notify(context.Background(), snapshot.Clone())
	}
	return LedgerResult{Outcome: domain.Ok("order recorded"), Order: snapshot}
}

// put 写入记录，返回是否新增或状态发生变化。keepTimestamp 为 true 时保留已有记录的时间戳（同步场景）。
func (m *OrderManager) put(rec *domain.Order, keepTimestamp bool) bool {
	key := rec.Key()
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, exists := m.orders[key]
	if !exists {
		m.byID[rec.OrderID] = append(m.byID[rec.OrderID], key)
		m.orders[key] = rec
		return true
	}
	if keepTimestamp {
		rec.Timestamp = prev.Timestamp
	}
	changed := prev.Status != rec.Status || prev.Filled != rec.Filled
	m.orders[key] = rec
	return changed
}

// GetOrder 按订单 ID 查询，不存在返回 not_found
func (m *OrderManager) GetOrder(orderID string) LedgerResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := m.byID[orderID]
	if len(keys) == 0 {
		return LedgerResult{Outcome: domain.Fail(domain.KindNotFound, "order %s not found", orderID)}
	}
	return LedgerResult{Outcome: domain.Ok("ok"), Order: m.orders[keys[len(keys)-1]].Clone()}
}

// Lookup 按 (exchange, order_id) 精确查询
func (m *OrderManager) Lookup(exchange, orderID string) LedgerResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.orders[domain.OrderKey{Exchange: exchange, OrderID: orderID}]
	if !ok {
		return LedgerResult{Outcome: domain.Fail(domain.KindNotFound, "order %s not found on %s", orderID, exchange)}
	}
	return LedgerResult{Outcome: domain.Ok("ok"), Order: rec.Clone()}
}

// GetOrdersBySymbol 某交易所某交易对的全部订单（顺序不保证）
func (m *OrderManager) GetOrdersBySymbol(exchange, symbol string) []*domain.Order {
	return m.filter(func(o *domain.Order) bool {
		return o.Exchange == exchange && o.Symbol == symbol
	})
}

// GetOpenOrders pending / partially_filled 的订单；exchange 为空时返回全部交易所
func (m *OrderManager) GetOpenOrders(exchange string) []*domain.Order {
	return m.filter(func(o *domain.Order) bool {
		return o.IsOpen() && (exchange == "" || o.Exchange == exchange)
	})
}

// Snapshot 全部记录（按时间排序，控制面使用）
func (m *OrderManager) Snapshot() []*domain.Order {
	out := m.filter(func(*domain.Order) bool { return true })
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Len 账本条数
func (m *OrderManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *OrderManager) filter(keep func(*domain.Order) bool) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Order, 0)
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	return out
}

// MarkStatus 直接设置状态（撤单确认等本地已知的变化）
func (m *OrderManager) MarkStatus(exchange, orderID string, status domain.OrderStatus) LedgerResult {
	key := domain.OrderKey{Exchange: exchange, OrderID: orderID}
	unlock := m.recordLocks.Lock(keyString(key))
	defer unlock()

	m.mu.Lock()
	rec, ok := m.orders[key]
	if !ok {
		m.mu.Unlock()
		return LedgerResult{Outcome: domain.Fail(domain.KindNotFound, "order %s not found on %s", orderID, exchange)}
	}
	changed := rec.Status != status
	rec.Status = status
	snapshot := rec.Clone()
	m.mu.Unlock()

	if changed {
		m.notify(context.Background(), snapshot.Clone())
	}
	return LedgerResult{Outcome: domain.Ok(string(status)), Order: snapshot}
}

// UpdateOrderStatus 向交易所查询订单状态并覆盖本地 status / filled，其余字段保持不变。
// 查询失败时记录不变，失败原样返回给调用方（这里不重试）。
func (m *OrderManager) UpdateOrderStatus(ctx context.Context, exchange, orderID string) LedgerResult {
	key := domain.OrderKey{Exchange: exchange, OrderID: orderID}
	unlock := m.recordLocks.Lock(keyString(key))
	defer unlock()

	m.mu.RLock()
	rec, ok := m.orders[key]
	var symbol string
	if ok {
		symbol = rec.Symbol
	}
	m.mu.RUnlock()
	if !ok {
		return LedgerResult{Outcome: domain.Fail(domain.KindNotFound, "order %s not found on %s", orderID, exchange)}
	}

	adapter, found := m.resolve(exchange)
	if !found {
		return LedgerResult{Outcome: domain.Fail(domain.KindUnsupportedVenue, "unsupported exchange: %s", exchange)}
	}

	res := adapter.GetOrderStatus(ctx, symbol, orderID)
	if !res.Success {
		if res.Kind == "" {
			res.Kind = domain.KindAdapter
		}
		omsLog.Warnf("⚠️ 同步订单状态失败: exchange=%s orderID=%s err=%s", exchange, orderID, res.Message)
		return LedgerResult{Outcome: res.Outcome}
	}

	m.mu.Lock()
	rec, ok = m.orders[key]
	if !ok {
		// 不会发生：账本只增不删
		m.mu.Unlock()
		return LedgerResult{Outcome: domain.Fail(domain.KindNotFound, "order %s not found on %s", orderID, exchange)}
	}
	changed := rec.Status != res.Order.Status || rec.Filled != res.Order.Filled
	if res.Order.Status != "" {
		rec.Status = res.Order.Status
	}
	rec.Filled = res.Order.Filled
	snapshot := rec.Clone()
	m.mu.Unlock()

	if changed {
		m.notify(ctx, snapshot.Clone())
	}

	if anomaly, bad := snapshot.FillAnomaly(); bad {
		metrics.FillMismatches.Add(1)
		omsLog.Warnf("⚠️ 成交量异常: exchange=%s orderID=%s amount=%.8f filled=%.8f status=%s: %s",
			exchange, orderID, snapshot.Amount, snapshot.Filled, snapshot.Status, anomaly)
		return LedgerResult{Outcome: domain.Fail(domain.KindFillMismatch, "%s", anomaly), Order: snapshot}
	}
	return LedgerResult{Outcome: domain.Ok(string(snapshot.Status)), Order: snapshot}
}

// SyncOpenOrders 拉取交易所挂单并 upsert 到账本。失败只报告，不会删除已有记录。
func (m *OrderManager) SyncOpenOrders(ctx context.Context, exchange, symbol string) SyncResult {
	adapter, found := m.resolve(exchange)
	if !found {
		return SyncResult{Outcome: domain.Fail(domain.KindUnsupportedVenue, "unsupported exchange: %s", exchange)}
	}

	res := adapter.GetOpenOrders(ctx, symbol)
	if !res.Success {
		if res.Kind == "" {
			res.Kind = domain.KindAdapter
		}
		omsLog.Warnf("⚠️ 同步挂单失败: exchange=%s symbol=%s err=%s", exchange, symbol, res.Message)
		return SyncResult{Outcome: res.Outcome}
	}

	out := SyncResult{}
	now := time.Now()
	for _, s := range res.Orders {
		if s.OrderID == "" {
			continue
		}
		status := s.Status
		if status == "" {
			status = domain.OrderStatusPending
		}
		rec := &domain.Order{
			OrderID:   s.OrderID,
			Exchange:  exchange,
			Symbol:    s.Symbol,
			Side:      s.Side,
			Type:      s.Type,
			Amount:    s.Amount,
			Price:     domain.PriceRef(s.Price),
			Status:    status,
			Filled:    s.Filled,
			Timestamp: now,
		}

		unlock := m.recordLocks.Lock(keyString(rec.Key()))
		existed := m.Lookup(exchange, s.OrderID).Success
		changed := m.put(rec, true)
		snapshot := rec.Clone()
		unlock()

		out.Synced++
		if !existed {
			out.Added++
		}
		if changed {
			m.notify(ctx, snapshot)
		}
	}
	out.Outcome = domain.Ok("synced")
	omsLog.Debugf("同步挂单完成: exchange=%s symbol=%s synced=%d added=%d", exchange, symbol, out.Synced, out.Added)
	return out
}

func (m *OrderManager) resolve(exchange string) (ports.ExchangeAdapter, bool) {
	if m.venues == nil {
		return nil, false
	}
	return m.venues.Get(exchange)
}

func (m *OrderManager) notify(ctx context.Context, order *domain.Order) {
	m.handlersMu.RLock()
	handlers := append([]ports.OrderUpdateHandler(nil), m.handlers...)
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h.OnOrderUpdate(ctx, order)
	}
}

func keyString(k domain.OrderKey) string {
	return k.Exchange + "|" + k.OrderID
}
