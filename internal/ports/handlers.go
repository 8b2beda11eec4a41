package ports

import (
	"context"

	"github.com/betbot/goexec/internal/domain"
)

// OrderUpdateHandler receives ledger records whose status changed (serial delivery).
//
// NOTE: defined in this neutral package so oms, supervisor and the control plane
// can share it without importing each other.
type OrderUpdateHandler interface {
	OnOrderUpdate(ctx context.Context, order *domain.Order)
}

// OrderUpdateHandlerFunc adapts a plain function.
type OrderUpdateHandlerFunc func(ctx context.Context, order *domain.Order)

func (f OrderUpdateHandlerFunc) OnOrderUpdate(ctx context.Context, order *domain.Order) {
	f(ctx, order)
}
