package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

var ErrDuplicate = domain.Conflictf("duplicate idempotency key")

type PlaceOrderItem struct {
	ProductID string
	Quantity  int
}

type PlaceOrderInput struct {
	ShippingAddress string
	PaymentMethod   domain.PaymentMethod
	Items           []PlaceOrderItem
	IdempotencyKey  string
}

func (in PlaceOrderInput) validate() error {
	if strings.TrimSpace(in.ShippingAddress) == "" {
		return domain.Invalidf("shipping_address is required")
	}
	if !in.PaymentMethod.Valid() {
		return domain.Invalidf("payment_method must be one of credit_card, paypal, bank_transfer")
	}
	if len(in.Items) == 0 {
		return domain.Invalidf("items must not be empty")
	}
	for i, it := range in.Items {
		if it.ProductID == "" {
			return domain.Invalidf("items[%d].product_id is required", i)
		}
		if it.Quantity < 1 {
			return domain.Invalidf("items[%d].quantity must be >= 1", i)
		}
	}
	return nil
}

// OrderLedger owns order placement and the stock side effects of orders.
// idem, cache and events are optional.
type OrderLedger struct {
	repo   OrderRepo
	idem   IdempotencyStore
	cache  OrderCache
	events EventPublisher

	now   func() time.Time
	newID func() string
}

func NewOrderLedger(repo OrderRepo, idem IdempotencyStore, cache OrderCache, events EventPublisher) *OrderLedger {
	return &OrderLedger{
		repo:   repo,
		idem:   idem,
		cache:  cache,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// PlaceOrder reserves stock for every item and records a pending, unpaid
// order. All items are validated before any stock is touched, so a failure
// on a later item leaves the catalog unchanged.
func (l *OrderLedger) PlaceOrder(ctx context.Context, p domain.Principal, in PlaceOrderInput) (*domain.Order, error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" && l.idem != nil {
		// Fast path: idempotency recall
		if id, ok, _ := l.idem.Recall(ctx, p.ID, in.IdempotencyKey); ok {
			return l.repo.GetOrder(ctx, id)
		}
		ok, err := l.idem.TryLock(ctx, p.ID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrDuplicate
		}
	}

	order, err := l.reserve(ctx, p, in)
	if err != nil {
		if in.IdempotencyKey != "" && l.idem != nil {
			_ = l.idem.Release(ctx, p.ID, in.IdempotencyKey)
		}
		return nil, err
	}

	log := logging.FromCtx(ctx)
	if in.IdempotencyKey != "" && l.idem != nil {
		l.remember(ctx, p.ID, in.IdempotencyKey, order.ID)
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, order); err != nil {
			log.Warn("order cache set failed", "order_id", order.ID, "err", err)
		}
	}
	if l.events != nil {
		msg := OrderCreatedMsg{
			OrderID:     order.ID,
			UserID:      order.UserID,
			TotalAmount: order.TotalAmount.StringFixed(2),
			ItemCount:   len(order.Items),
			CreatedAt:   order.CreatedAt,
		}
		if err := l.events.PublishOrderCreated(ctx, msg); err != nil {
			log.Warn("publish order.created failed", "order_id", order.ID, "err", err)
		}
	}
	log.Info("order placed", "order_id", order.ID, "user_id", order.UserID, "total", order.TotalAmount.String())
	return order, nil
}

const rememberAttempts = 3

// remember maps the idempotency key to the placed order. If that keeps
// failing the key is released, otherwise retries would get ErrDuplicate
// until the lock expires.
func (l *OrderLedger) remember(ctx context.Context, scope, key, orderID string) {
	log := logging.FromCtx(ctx)
	ctx = context.WithoutCancel(ctx)

	var err error
	for i := 0; i < rememberAttempts; i++ {
		if err = l.idem.Remember(ctx, scope, key, orderID); err == nil {
			return
		}
		log.Warn("idempotency remember failed", "key", key, "order_id", orderID, "attempt", i+1, "err", err)
	}
	log.Error("idempotency key released without a recorded order", "key", key, "order_id", orderID, "err", err)
	if err := l.idem.Release(ctx, scope, key); err != nil {
		log.Error("idempotency release failed", "key", key, "err", err)
	}
}

func (l *OrderLedger) reserve(ctx context.Context, p domain.Principal, in PlaceOrderInput) (*domain.Order, error) {
	now := l.now()
	order := &domain.Order{
		ID:              l.newID(),
		UserID:          p.ID,
		Status:          domain.StatusPending,
		PaymentStatus:   domain.PaymentUnpaid,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := l.repo.InTx(ctx, func(tx LedgerTx) error {
		// Lock every referenced product in a stable order so concurrent
		// orders over the same products cannot deadlock.
		products, missing, err := lockProducts(ctx, tx, productIDs(in.Items))
		if err != nil {
			return err
		}

		// pass 1: validate in request order, nothing is written yet
		requested := make(map[string]int, len(products))
		total := decimal.Zero
		for _, it := range in.Items {
			if missing[it.ProductID] {
				return domain.NotFoundf("product with ID %s not found", it.ProductID)
			}
			prod := products[it.ProductID]
			if !prod.Active {
				return domain.Invalidf("product %s is not available", prod.Name)
			}
			requested[it.ProductID] += it.Quantity
			if requested[it.ProductID] > prod.Stock {
				return domain.Invalidf("not enough stock for %s", prod.Name)
			}
			item := domain.OrderItem{
				ID:        l.newID(),
				ProductID: prod.ID,
				Quantity:  it.Quantity,
				Price:     prod.Price,
			}
			total = total.Add(item.Subtotal())
			order.Items = append(order.Items, item)
		}
		order.TotalAmount = total

		// pass 2: commit stock and the order
		for _, id := range sortedKeys(requested) {
			if err := tx.UpdateStock(ctx, id, products[id].Stock-requested[id], now); err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func lockProducts(ctx context.Context, tx LedgerTx, ids []string) (map[string]*domain.Product, map[string]bool, error) {
	products := make(map[string]*domain.Product, len(ids))
	missing := map[string]bool{}
	for _, id := range ids {
		prod, err := tx.ProductForUpdate(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			missing[id] = true
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		products[id] = prod
	}
	return products, missing, nil
}

func productIDs(items []PlaceOrderItem) []string {
	seen := make(map[string]int, len(items))
	for _, it := range items {
		seen[it.ProductID] += it.Quantity
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
