package usecase

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

// SetOrderStatus moves an order to status. Entering cancelled from any other
// status puts every line item back into stock; cancelling an already
// cancelled order leaves stock alone.
func (l *OrderLedger) SetOrderStatus(ctx context.Context, p domain.Principal, orderID string, status domain.Status) (*domain.Order, error) {
	if err := domain.Authorize(p, domain.AccessAdmin, ""); err != nil {
		return nil, err
	}

	var (
		updated  *domain.Order
		from     domain.Status
		restored bool
	)
	now := l.now()
	err := l.repo.InTx(ctx, func(tx LedgerTx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !status.Valid() {
			return domain.Invalidf("invalid status %q: must be one of pending, processing, completed, cancelled", status)
		}
		from = o.Status

		if status == domain.StatusCancelled && from != domain.StatusCancelled {
			if err := restoreStock(ctx, tx, o.Items, now); err != nil {
				return err
			}
			restored = true
		}
		if err := tx.UpdateOrderStatus(ctx, o.ID, status, now); err != nil {
			return err
		}
		o.Status = status
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterChange(ctx, updated, OrderStatusChangedMsg{
		OrderID:       updated.ID,
		UserID:        updated.UserID,
		Field:         "status",
		From:          string(from),
		To:            string(status),
		StockRestored: restored,
		ChangedAt:     now,
	})
	return updated, nil
}

// SetPaymentStatus only writes the payment status field.
func (l *OrderLedger) SetPaymentStatus(ctx context.Context, p domain.Principal, orderID string, status domain.PaymentStatus) (*domain.Order, error) {
	if err := domain.Authorize(p, domain.AccessAdmin, ""); err != nil {
		return nil, err
	}

	var (
		updated *domain.Order
		from    domain.PaymentStatus
	)
	now := l.now()
	err := l.repo.InTx(ctx, func(tx LedgerTx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !status.Valid() {
			return domain.Invalidf("invalid payment status %q: must be one of unpaid, paid, refunded", status)
		}
		from = o.PaymentStatus
		if err := tx.UpdatePaymentStatus(ctx, o.ID, status, now); err != nil {
			return err
		}
		o.PaymentStatus = status
		o.UpdatedAt = now
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.afterChange(ctx, updated, OrderStatusChangedMsg{
		OrderID:   updated.ID,
		UserID:    updated.UserID,
		Field:     "payment_status",
		From:      string(from),
		To:        string(status),
		ChangedAt: now,
	})
	return updated, nil
}

func restoreStock(ctx context.Context, tx LedgerTx, items []domain.OrderItem, now time.Time) error {
	back := make(map[string]int, len(items))
	for _, it := range items {
		back[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(back))
	for id := range back {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		prod, err := tx.ProductForUpdate(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// product was removed from the catalog; nothing to restore
			continue
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateStock(ctx, id, prod.Stock+back[id], now); err != nil {
			return err
		}
	}
	return nil
}

// afterChange refreshes the cache and publishes the change. Both are best effort.
func (l *OrderLedger) afterChange(ctx context.Context, o *domain.Order, msg OrderStatusChangedMsg) {
	log := logging.FromCtx(ctx)
	if l.cache != nil {
		if err := l.cache.Set(ctx, o); err != nil {
			log.Warn("order cache refresh failed", "order_id", o.ID, "err", err)
			_ = l.cache.Invalidate(ctx, o.ID)
		}
	}
	if l.events != nil {
		if err := l.events.PublishOrderStatusChanged(ctx, msg); err != nil {
			log.Warn("publish order.status_changed failed", "order_id", o.ID, "err", err)
		}
	}
	log.Info("order updated", "order_id", o.ID, "field", msg.Field, "from", msg.From, "to", msg.To)
}
