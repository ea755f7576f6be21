package repo

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

var (
	admin = domain.Principal{ID: "u-admin", Username: "admin", Role: domain.RoleAdmin}
	alice = domain.Principal{ID: "u-alice", Username: "alice", Role: domain.RoleUser}
)

func openSQLite(t *testing.T) *DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "portfolio.db") + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := Open(context.Background(), "sqlite", dsn, PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func addProduct(t *testing.T, db *DB, id, name, price string, stock int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.CreateProduct(context.Background(), &domain.Product{
		ID: id, Name: name, Price: decimal.RequireFromString(price), Stock: stock,
		Category: "general", Active: true, CreatedAt: now, UpdatedAt: now,
	}))
}

func stock(t *testing.T, db *DB, id string) int {
	t.Helper()
	p, err := db.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func placeInput(items ...usecase.PlaceOrderItem) usecase.PlaceOrderInput {
	return usecase.PlaceOrderInput{
		ShippingAddress: "1 Main St",
		PaymentMethod:   domain.PaymentPayPal,
		Items:           items,
	}
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = ? AND b IN (?,?)`
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b IN ($2,$3)`, Postgres.rebind(q))
	assert.Equal(t, q, MySQL.rebind(q))
	assert.Equal(t, q, SQLite.rebind(q))
	assert.Equal(t, " FOR UPDATE", MySQL.forUpdate())
	assert.Empty(t, SQLite.forUpdate())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x", PoolOptions{})
	require.Error(t, err)
}

func TestMigrate_IsRepeatable(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestLedgerOverSQLite(t *testing.T) {
	db := openSQLite(t)
	addProduct(t, db, "p1", "Widget", "19.99", 5)
	addProduct(t, db, "p2", "Gadget", "5.00", 10)
	ledger := usecase.NewOrderLedger(db, nil, nil, nil)
	ctx := context.Background()

	o, err := ledger.PlaceOrder(ctx, alice, placeInput(
		usecase.PlaceOrderItem{ProductID: "p1", Quantity: 3},
		usecase.PlaceOrderItem{ProductID: "p2", Quantity: 2},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, stock(t, db, "p1"))
	assert.Equal(t, 8, stock(t, db, "p2"))

	got, err := db.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("69.97").Equal(got.TotalAmount), "total %s", got.TotalAmount)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, domain.PaymentUnpaid, got.PaymentStatus)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "p1", got.Items[0].ProductID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(got.Items[0].Price))

	// second item fails, first keeps its stock
	_, err = ledger.PlaceOrder(ctx, alice, placeInput(
		usecase.PlaceOrderItem{ProductID: "p2", Quantity: 1},
		usecase.PlaceOrderItem{ProductID: "p1", Quantity: 3},
	))
	require.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, 8, stock(t, db, "p2"))
	assert.Equal(t, 2, stock(t, db, "p1"))

	_, err = ledger.SetOrderStatus(ctx, admin, o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, stock(t, db, "p1"))
	assert.Equal(t, 10, stock(t, db, "p2"))

	_, err = ledger.SetOrderStatus(ctx, admin, o.ID, domain.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, stock(t, db, "p1"))

	_, err = ledger.SetPaymentStatus(ctx, admin, o.ID, domain.PaymentRefunded)
	require.NoError(t, err)
	got, err = db.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentRefunded, got.PaymentStatus)

	_, err = ledger.SetOrderStatus(ctx, admin, "missing", domain.StatusCompleted)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedgerOverSQLite_NoOversell(t *testing.T) {
	db := openSQLite(t)
	addProduct(t, db, "p1", "Widget", "1", 6)
	ledger := usecase.NewOrderLedger(db, nil, nil, nil)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := placeInput(usecase.PlaceOrderItem{ProductID: "p1", Quantity: 1})
			if _, err := ledger.PlaceOrder(context.Background(), alice, in); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(6), ok.Load())
	assert.Equal(t, 0, stock(t, db, "p1"))
}

func TestListOrders(t *testing.T) {
	db := openSQLite(t)
	addProduct(t, db, "p1", "Widget", "2.50", 100)
	ledger := usecase.NewOrderLedger(db, nil, nil, nil)
	ctx := context.Background()

	var last string
	for i := 0; i < 3; i++ {
		o, err := ledger.PlaceOrder(ctx, alice, placeInput(usecase.PlaceOrderItem{ProductID: "p1", Quantity: i + 1}))
		require.NoError(t, err)
		last = o.ID
		time.Sleep(2 * time.Millisecond)
	}
	_, err := ledger.SetOrderStatus(ctx, admin, last, domain.StatusProcessing)
	require.NoError(t, err)

	page, err := db.ListOrders(ctx, domain.OrderFilter{UserID: alice.ID, PerPage: 2, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, last, page.Items[0].ID)
	assert.Len(t, page.Items[0].Items, 1)
	assert.Equal(t, 3, page.Items[0].Items[0].Quantity)

	page, err = db.ListOrders(ctx, domain.OrderFilter{Status: domain.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	page, err = db.ListOrders(ctx, domain.OrderFilter{UserID: "nobody"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Items)
}

func TestProducts(t *testing.T) {
	db := openSQLite(t)
	addProduct(t, db, "a", "Anvil", "100", 1)
	addProduct(t, db, "b", "Bolt", "9.50", 1)
	addProduct(t, db, "c", "Chain", "20", 1)
	ctx := context.Background()

	p, err := db.UpdateProduct(ctx, "c", func(p *domain.Product) error {
		p.Active = false
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.Equal(t, "Chain", p.Name)

	page, err := db.ListProducts(ctx, domain.ProductFilter{SortBy: domain.SortByPrice})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "b", page.Items[0].ID)
	assert.Equal(t, "a", page.Items[1].ID)

	minPrice := decimal.RequireFromString("10")
	page, err = db.ListProducts(ctx, domain.ProductFilter{IncludeInactive: true, MinPrice: &minPrice, SortBy: domain.SortByName, Desc: true})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "c", page.Items[0].ID)
	assert.Equal(t, "a", page.Items[1].ID)

	err = db.CreateProduct(ctx, &domain.Product{ID: "a", Name: "dup", CreatedAt: time.Now(), UpdatedAt: time.Now()})
	require.ErrorIs(t, err, domain.ErrConflict)

	cats, err := db.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"general"}, cats)

	require.NoError(t, db.DeleteProduct(ctx, "b"))
	require.ErrorIs(t, db.DeleteProduct(ctx, "b"), domain.ErrNotFound)

	_, err = db.GetProduct(ctx, "zzz")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = db.UpdateProduct(ctx, "zzz", func(*domain.Product) error { return nil })
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateProduct_KeepsReservedStock(t *testing.T) {
	db := openSQLite(t)
	addProduct(t, db, "p1", "Widget", "10", 5)
	ledger := usecase.NewOrderLedger(db, nil, nil, nil)
	catalog := usecase.NewCatalog(db)
	ctx := context.Background()

	_, err := ledger.PlaceOrder(ctx, alice, placeInput(usecase.PlaceOrderItem{ProductID: "p1", Quantity: 3}))
	require.NoError(t, err)

	price := decimal.RequireFromString("12.50")
	p, err := catalog.UpdateProduct(ctx, admin, "p1", usecase.ProductInput{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 2, stock(t, db, "p1"))

	_, err = db.UpdateProduct(ctx, "p1", func(p *domain.Product) error {
		p.Stock = 99
		return domain.Invalidf("rejected")
	})
	require.ErrorIs(t, err, domain.ErrInvalid)
	assert.Equal(t, 2, stock(t, db, "p1"))
}

func TestUsers(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()

	u := &domain.User{ID: "u1", Username: "carol", Email: "carol@example.com", PasswordHash: "x", Role: domain.RoleAdmin, Active: true}
	require.NoError(t, db.CreateUser(ctx, u))

	got, err := db.GetUserByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, *u, *got)

	got, err = db.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, got.Role)

	err = db.CreateUser(ctx, &domain.User{ID: "u2", Username: "carol", Email: "c2@example.com", PasswordHash: "x", Role: domain.RoleUser})
	require.ErrorIs(t, err, domain.ErrConflict)
	err = db.CreateUser(ctx, &domain.User{ID: "u3", Username: "carol3", Email: "CAROL@example.com", PasswordHash: "x", Role: domain.RoleUser})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = db.GetUserByID(ctx, "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
