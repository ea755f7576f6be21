package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

// LedgerTx is a unit of work over catalog stock and orders. Rows returned by
// the *ForUpdate methods stay locked until the surrounding InTx returns.
type LedgerTx interface {
	ProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	UpdateStock(ctx context.Context, productID string, stock int, at time.Time) error
	InsertOrder(ctx context.Context, o *domain.Order) error
	OrderForUpdate(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.Status, at time.Time) error
	UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) error
}

type OrderRepo interface {
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, f domain.OrderFilter) (domain.Page[*domain.Order], error)
}

type ProductRepo interface {
	CreateProduct(ctx context.Context, p *domain.Product) error
	// UpdateProduct applies fn to the current product under a write lock and
	// persists the result unless fn fails.
	UpdateProduct(ctx context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, f domain.ProductFilter) (domain.Page[*domain.Product], error)
	DeleteProduct(ctx context.Context, id string) error
	// Categories lists the distinct non-empty categories of active products.
	Categories(ctx context.Context) ([]string, error)
}

type UserRepo interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// OrderCache is a read-through cache of order snapshots.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (*domain.Order, bool, error)
	// Set keeps whichever snapshot has the later UpdatedAt.
	Set(ctx context.Context, o *domain.Order) error
	Invalidate(ctx context.Context, orderID string) error
}

type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, msg OrderCreatedMsg) error
	PublishOrderStatusChanged(ctx context.Context, msg OrderStatusChangedMsg) error
}

type TokenIssuer interface {
	Issue(p domain.Principal) (token string, ttl time.Duration, err error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}
