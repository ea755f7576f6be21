package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

type Catalog struct {
	repo  ProductRepo
	now   func() time.Time
	newID func() string
}

func NewCatalog(repo ProductRepo) *Catalog {
	return &Catalog{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// ProductInput carries a create or a partial update; nil fields are left as is.
type ProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	Category    *string
	ImageURL    *string
	Active      *bool
}

func (in ProductInput) apply(p *domain.Product) {
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Category != nil {
		p.Category = *in.Category
	}
	if in.ImageURL != nil {
		p.ImageURL = *in.ImageURL
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
}

// GetProduct is public; inactive products are reported as missing.
func (c *Catalog) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, err := c.repo.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, domain.NotFoundf("product %s not available", id)
	}
	return p, nil
}

func (c *Catalog) ListProducts(ctx context.Context, f domain.ProductFilter) (domain.Page[*domain.Product], error) {
	switch f.SortBy {
	case "":
		f.SortBy = domain.SortByCreatedAt
	case domain.SortByCreatedAt, domain.SortByName, domain.SortByPrice:
	default:
		return domain.Page[*domain.Product]{}, domain.Invalidf("sort_by must be one of name, price, created_at")
	}
	f.Page, f.PerPage = domain.NormalizePaging(f.Page, f.PerPage)
	return c.repo.ListProducts(ctx, f)
}

func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	return c.repo.Categories(ctx)
}

func (c *Catalog) CreateProduct(ctx context.Context, p domain.Principal, in ProductInput) (*domain.Product, error) {
	if err := domain.Authorize(p, domain.AccessAdmin, ""); err != nil {
		return nil, err
	}
	if in.Name == nil || in.Price == nil {
		return nil, domain.Invalidf("name and price are required")
	}
	now := c.now()
	prod := &domain.Product{ID: c.newID(), Active: true, CreatedAt: now, UpdatedAt: now}
	in.apply(prod)
	if err := prod.Validate(); err != nil {
		return nil, err
	}
	if err := c.repo.CreateProduct(ctx, prod); err != nil {
		return nil, err
	}
	return prod, nil
}

func (c *Catalog) UpdateProduct(ctx context.Context, p domain.Principal, id string, in ProductInput) (*domain.Product, error) {
	if err := domain.Authorize(p, domain.AccessAdmin, ""); err != nil {
		return nil, err
	}
	now := c.now()
	return c.repo.UpdateProduct(ctx, id, func(prod *domain.Product) error {
		in.apply(prod)
		prod.UpdatedAt = now
		return prod.Validate()
	})
}

// DeleteProduct removes the product from the catalog. Orders keep their line
// items; cancelling such an order skips the missing product.
func (c *Catalog) DeleteProduct(ctx context.Context, p domain.Principal, id string) error {
	if err := domain.Authorize(p, domain.AccessAdmin, ""); err != nil {
		return err
	}
	return c.repo.DeleteProduct(ctx, id)
}
