package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	Category    string
	ImageURL    string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *Product) Validate() error {
	if p.Name == "" || len(p.Name) > 100 {
		return Invalidf("product name must be 1-100 characters")
	}
	if p.Price.IsNegative() {
		return Invalidf("product price must be >= 0")
	}
	if p.Stock < 0 {
		return Invalidf("product stock must be >= 0")
	}
	if len(p.Category) > 50 {
		return Invalidf("product category must be at most 50 characters")
	}
	return nil
}

type ProductSort string

const (
	SortByCreatedAt ProductSort = "created_at"
	SortByName      ProductSort = "name"
	SortByPrice     ProductSort = "price"
)

type ProductFilter struct {
	IncludeInactive bool
	Category        string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	SortBy          ProductSort
	Desc            bool
	Page            int
	PerPage         int
}

// Page is a window over a filtered listing.
type Page[T any] struct {
	Items   []T
	Total   int
	Page    int
	PerPage int
}

func (p Page[T]) Pages() int {
	if p.PerPage <= 0 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// NormalizePaging applies the listing defaults: page 1, 10 per page, at most 100.
func NormalizePaging(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
