package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

const orderColumns = `id, user_id, status, payment_status, total_amount, shipping_address, payment_method, created_at, updated_at`

// InTx runs fn in one database transaction, committing when fn returns nil.
func (s *DB) InTx(ctx context.Context, fn func(tx usecase.LedgerTx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&ledgerTx{s: s, tx: tx})
	})
}

func (s *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ledgerTx writes need no affected-row checks: every row they touch was
// read with a lock earlier in the same transaction.
type ledgerTx struct {
	s  *DB
	tx *sql.Tx
}

func (t *ledgerTx) ProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return t.s.getProduct(ctx, t.tx, id, t.s.dialect.forUpdate())
}

func (t *ledgerTx) UpdateStock(ctx context.Context, productID string, stock int, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(`UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`),
		stock, at, productID)
	return err
}

func (t *ledgerTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(`
INSERT INTO orders (`+orderColumns+`)
VALUES (?,?,?,?,?,?,?,?,?)`),
		o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), o.TotalAmount.StringFixed(2),
		o.ShippingAddress, string(o.PaymentMethod), o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Conflictf("order %s already exists", o.ID)
	}
	if err != nil {
		return err
	}

	for i, it := range o.Items {
		if _, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(`
INSERT INTO order_items (id, order_id, product_id, position, quantity, price)
VALUES (?,?,?,?,?,?)`),
			it.ID, o.ID, it.ProductID, i, it.Quantity, it.Price.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

func (t *ledgerTx) OrderForUpdate(ctx context.Context, id string) (*domain.Order, error) {
	return t.s.getOrder(ctx, t.tx, id, t.s.dialect.forUpdate())
}

func (t *ledgerTx) UpdateOrderStatus(ctx context.Context, id string, status domain.Status, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), at, id)
	return err
}

func (t *ledgerTx) UpdatePaymentStatus(ctx context.Context, id string, status domain.PaymentStatus, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.s.dialect.rebind(`UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?`),
		string(status), at, id)
	return err
}

func (s *DB) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, s.db, id, "")
}

func (s *DB) getOrder(ctx context.Context, q querier, id, suffix string) (*domain.Order, error) {
	row := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`+suffix), id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	items, err := s.loadItems(ctx, q, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                       domain.Order
		status, payment, method string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &payment, &o.TotalAmount, &o.ShippingAddress,
		&method, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)
	o.PaymentStatus = domain.PaymentStatus(payment)
	o.PaymentMethod = domain.PaymentMethod(method)
	return &o, nil
}

func (s *DB) loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	rows, err := q.QueryContext(ctx, s.dialect.rebind(`
SELECT order_id, id, product_id, quantity, price
FROM order_items WHERE order_id IN (`+marks+`)
ORDER BY order_id, position`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      domain.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], it)
	}
	return out, rows.Err()
}

func (s *DB) ListOrders(ctx context.Context, f domain.OrderFilter) (domain.Page[*domain.Order], error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM orders`+cond), args...).Scan(&total); err != nil {
		return domain.Page[*domain.Order]{}, err
	}

	page, perPage := domain.NormalizePaging(f.Page, f.PerPage)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+orderColumns+` FROM orders`+cond+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return domain.Page[*domain.Order]{}, err
	}
	out := domain.Page[*domain.Order]{Items: []*domain.Order{}, Total: total, Page: page, PerPage: perPage}
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.Page[*domain.Order]{}, err
		}
		out.Items = append(out.Items, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Page[*domain.Order]{}, err
	}
	// release the connection before the items query; SQLite has only one
	rows.Close()

	items, err := s.loadItems(ctx, s.db, ids)
	if err != nil {
		return domain.Page[*domain.Order]{}, err
	}
	for _, o := range out.Items {
		o.Items = items[o.ID]
	}
	return out, nil
}

var _ usecase.OrderRepo = (*DB)(nil)
