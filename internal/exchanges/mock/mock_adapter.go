package mock

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/betbot/goexec/internal/domain"
)

// Method names used as keys of Calls / FailNext.
const (
	MethodPlaceLimit     = "PlaceLimitOrder"
	MethodPlaceMarket    = "PlaceMarketOrder"
	MethodCancel         = "CancelOrder"
	MethodCancelAll      = "CancelAllOrders"
	MethodOrderStatus    = "GetOrderStatus"
	MethodOpenOrders     = "GetOpenOrders"
	MethodAccountInfo    = "GetAccountInfo"
	MethodPositions      = "GetPositions"
	MethodAdjustPosition = "AdjustPosition"
)

// PlacedOrder records an order the adapter accepted.
type PlacedOrder struct {
	Symbol string
	Side   domain.Side
	Type   domain.OrderType
	Amount float64
	Price  *float64
}

// Adapter is a scriptable ports.ExchangeAdapter for tests.
type Adapter struct {
	mu sync.Mutex

	VenueName string

	// Response data
	Account    domain.AccountInfo
	Positions  []domain.Position
	OpenOrders []domain.OrderSummary
	Statuses   map[string]domain.OrderSummary // orderID -> status reply

	// LotSize rounds accepted amounts down to whole lots, like contract venues do. Zero disables it.
	LotSize float64

	// CancelFailures makes CancelOrder fail for the given order ids (message as value).
	CancelFailures map[string]string

	// Call tracking
	Calls  map[string]int
	Placed []PlacedOrder

	// Error injection: the next call of the method fails with the message.
	FailNext map[string]string

	nextID int
}

// NewAdapter creates a mock venue.
func NewAdapter(name string) *Adapter {
	return &Adapter{
		VenueName:      name,
		Statuses:       make(map[string]domain.OrderSummary),
		CancelFailures: make(map[string]string),
		Calls:          make(map[string]int),
		FailNext:       make(map[string]string),
	}
}

func (m *Adapter) Name() string { return m.VenueName }

// CallCount returns how many times method was invoked.
func (m *Adapter) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

// SendCount counts every order-sending call.
func (m *Adapter) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[MethodPlaceLimit] + m.Calls[MethodPlaceMarket] + m.Calls[MethodAdjustPosition]
}

// LastPlaced returns the last accepted order.
func (m *Adapter) LastPlaced() (PlacedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Placed) == 0 {
		return PlacedOrder{}, false
	}
	return m.Placed[len(m.Placed)-1], true
}

// trackCall must be called with m.mu held.
func (m *Adapter) trackCall(name string) (string, bool) {
	m.Calls[name]++
	if msg, ok := m.FailNext[name]; ok {
		delete(m.FailNext, name)
		return msg, true
	}
	return "", false
}

func (m *Adapter) place(name, symbol string, side domain.Side, typ domain.OrderType, amount float64, price *float64) domain.OrderResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LotSize > 0 {
		amount = math.Floor(amount/m.LotSize) * m.LotSize
	}
	res := domain.OrderResult{Symbol: symbol, Side: side, Type: typ, Amount: amount, Price: price}
	if msg, fail := m.trackCall(name); fail {
		res.Outcome = domain.Fail(domain.KindAdapter, "%s", msg)
		return res
	}
	m.nextID++
	res.OrderID = fmt.Sprintf("%s-%d", m.VenueName, m.nextID)
	res.Outcome = domain.Ok("accepted")
	m.Placed = append(m.Placed, PlacedOrder{Symbol: symbol, Side: side, Type: typ, Amount: amount, Price: price})
	return res
}

func (m *Adapter) PlaceLimitOrder(_ context.Context, symbol string, side domain.Side, amount, price float64) domain.OrderResult {
	p := price
	return m.place(MethodPlaceLimit, symbol, side, domain.OrderTypeLimit, amount, &p)
}

func (m *Adapter) PlaceMarketOrder(_ context.Context, symbol string, side domain.Side, amount float64) domain.OrderResult {
	return m.place(MethodPlaceMarket, symbol, side, domain.OrderTypeMarket, amount, nil)
}

func (m *Adapter) AdjustPosition(_ context.Context, symbol string, side domain.PositionSide, amount float64, price *float64) domain.OrderResult {
	typ := domain.OrderTypeMarket
	if price != nil {
		typ = domain.OrderTypeLimit
	}
	return m.place(MethodAdjustPosition, symbol, side.OpenSide(), typ, amount, price)
}

func (m *Adapter) CancelOrder(_ context.Context, symbol, orderID string) domain.CancelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodCancel); fail {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg), OrderID: orderID}
	}
	return m.cancelLocked(orderID)
}

func (m *Adapter) cancelLocked(orderID string) domain.CancelResult {
	if msg, ok := m.CancelFailures[orderID]; ok {
		return domain.CancelResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg), OrderID: orderID}
	}
	kept := m.OpenOrders[:0]
	for _, o := range m.OpenOrders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	m.OpenOrders = kept
	return domain.CancelResult{Outcome: domain.Ok("cancelled"), OrderID: orderID}
}

func (m *Adapter) CancelAllOrders(_ context.Context, symbol string) domain.BatchCancelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodCancelAll); fail {
		return domain.BatchCancelResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg)}
	}
	var targets []string
	for _, o := range m.OpenOrders {
		if symbol == "" || o.Symbol == symbol {
			targets = append(targets, o.OrderID)
		}
	}
	cancelled := 0
	var errs []string
	for _, id := range targets {
		r := m.cancelLocked(id)
		if r.Success {
			cancelled++
		} else {
			errs = append(errs, r.Message)
		}
	}
	res := domain.BatchCancelResult{CancelledCount: cancelled, Errors: errs}
	if len(errs) > 0 {
		res.Outcome = domain.Fail(domain.KindPartialBatch, "%s", strings.Join(errs, "; "))
	} else {
		res.Outcome = domain.Ok("ok")
	}
	return res
}

func (m *Adapter) GetOrderStatus(_ context.Context, symbol, orderID string) domain.OrderStatusResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodOrderStatus); fail {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg)}
	}
	s, ok := m.Statuses[orderID]
	if !ok {
		return domain.OrderStatusResult{Outcome: domain.Fail(domain.KindAdapter, "order %s not found", orderID)}
	}
	return domain.OrderStatusResult{Outcome: domain.Ok(string(s.Status)), Order: s}
}

func (m *Adapter) GetOpenOrders(_ context.Context, symbol string) domain.OpenOrdersResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodOpenOrders); fail {
		return domain.OpenOrdersResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg)}
	}
	var out []domain.OrderSummary
	for _, o := range m.OpenOrders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return domain.OpenOrdersResult{Outcome: domain.Ok("ok"), Orders: out}
}

func (m *Adapter) GetAccountInfo(_ context.Context) domain.AccountResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodAccountInfo); fail {
		return domain.AccountResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg)}
	}
	return domain.AccountResult{Outcome: domain.Ok("ok"), Account: m.Account}
}

func (m *Adapter) GetPositions(_ context.Context, symbol string) domain.PositionsResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, fail := m.trackCall(MethodPositions); fail {
		return domain.PositionsResult{Outcome: domain.Fail(domain.KindAdapter, "%s", msg)}
	}
	var out []domain.Position
	for _, p := range m.Positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return domain.PositionsResult{Outcome: domain.Ok("ok"), Positions: out}
}
