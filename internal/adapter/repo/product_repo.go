package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

const productColumns = `id, name, description, price, stock, category, image_url, active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Category,
		&p.ImageURL, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *DB) CreateProduct(ctx context.Context, p *domain.Product) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO products (`+productColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?)`),
		p.ID, p.Name, p.Description, p.Price.StringFixed(2), p.Stock, p.Category, p.ImageURL, p.Active, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.Conflictf("product %s already exists", p.ID)
	}
	return err
}

// UpdateProduct applies fn to the product while holding its row lock, so
// stock reserved by concurrent orders is never written back stale.
func (s *DB) UpdateProduct(ctx context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error) {
	var updated *domain.Product
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getProduct(ctx, tx, id, s.dialect.forUpdate())
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.dialect.rebind(`
UPDATE products
SET name = ?, description = ?, price = ?, stock = ?, category = ?, image_url = ?, active = ?, updated_at = ?
WHERE id = ?`),
			p.Name, p.Description, p.Price.StringFixed(2), p.Stock, p.Category, p.ImageURL, p.Active, p.UpdatedAt, id)
		if err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *DB) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, s.db, id, "")
}

func (s *DB) getProduct(ctx context.Context, q querier, id, suffix string) (*domain.Product, error) {
	row := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`+suffix), id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("product %s not found", id)
	}
	return p, err
}

func (s *DB) ListProducts(ctx context.Context, f domain.ProductFilter) (domain.Page[*domain.Product], error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeInactive {
		where = append(where, "active = ?")
		args = append(args, true)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if f.MinPrice != nil {
		where = append(where, s.dialect.num("price")+" >= "+s.dialect.num("?"))
		args = append(args, f.MinPrice.String())
	}
	if f.MaxPrice != nil {
		where = append(where, s.dialect.num("price")+" <= "+s.dialect.num("?"))
		args = append(args, f.MaxPrice.String())
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM products`+cond), args...).Scan(&total); err != nil {
		return domain.Page[*domain.Product]{}, err
	}

	order := "created_at"
	switch f.SortBy {
	case domain.SortByName:
		order = "name"
	case domain.SortByPrice:
		order = s.dialect.num("price")
	}
	dir := " ASC"
	if f.Desc {
		dir = " DESC"
	}
	page, perPage := domain.NormalizePaging(f.Page, f.PerPage)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+productColumns+` FROM products`+cond+` ORDER BY `+order+dir+`, id ASC LIMIT ? OFFSET ?`),
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return domain.Page[*domain.Product]{}, err
	}
	defer rows.Close()

	out := domain.Page[*domain.Product]{Items: []*domain.Product{}, Total: total, Page: page, PerPage: perPage}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return domain.Page[*domain.Product]{}, err
		}
		out.Items = append(out.Items, p)
	}
	return out, rows.Err()
}

func (s *DB) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.NotFoundf("product %s not found", id)
	}
	return nil
}

func (s *DB) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT DISTINCT category FROM products WHERE active = ? AND category <> '' ORDER BY category`), true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var _ usecase.ProductRepo = (*DB)(nil)
