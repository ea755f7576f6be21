package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/aq2208/portfolio-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

type ProductHandler struct {
	catalog *usecase.Catalog
}

func NewProductHandler(catalog *usecase.Catalog) *ProductHandler {
	return &ProductHandler{catalog: catalog}
}

// productReq is shared by create and update; absent fields stay nil.
type productReq struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Category    *string          `json:"category"`
	ImageURL    *string          `json:"image_url"`
	IsActive    *bool            `json:"is_active"`
}

func (r productReq) input() usecase.ProductInput {
	return usecase.ProductInput{
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Stock:       r.Stock,
		Category:    r.Category,
		ImageURL:    r.ImageURL,
		Active:      r.IsActive,
	}
}

// GET /v1/products
func (h *ProductHandler) List(c *gin.Context) {
	f, err := productFilter(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.catalog.ListProducts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"products": mapSlice(page.Items, newProductView),
		"total":    page.Total,
		"pages":    page.Pages(),
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

func productFilter(c *gin.Context) (domain.ProductFilter, error) {
	f := domain.ProductFilter{
		Category: c.Query("category"),
		SortBy:   domain.ProductSort(c.Query("sort_by")),
	}
	switch strings.ToLower(c.DefaultQuery("sort_order", "desc")) {
	case "asc":
	case "desc":
		f.Desc = true
	default:
		return f, domain.Invalidf("sort_order must be asc or desc")
	}
	for name, dst := range map[string]**decimal.Decimal{"min_price": &f.MinPrice, "max_price": &f.MaxPrice} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return f, domain.Invalidf("%s must be a number", name)
		}
		*dst = &d
	}
	var err error
	if f.Page, f.PerPage, err = paging(c); err != nil {
		return f, err
	}
	return f, nil
}

func paging(c *gin.Context) (page, perPage int, err error) {
	if raw := c.Query("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil {
			return 0, 0, domain.Invalidf("page must be an integer")
		}
	}
	if raw := c.Query("per_page"); raw != "" {
		if perPage, err = strconv.Atoi(raw); err != nil {
			return 0, 0, domain.Invalidf("per_page must be an integer")
		}
	}
	return page, perPage, nil
}

// GET /v1/products/categories
func (h *ProductHandler) Categories(c *gin.Context) {
	cats, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": cats})
}

// GET /v1/products/:id
func (h *ProductHandler) Get(c *gin.Context) {
	p, err := h.catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": newProductView(p)})
}

// POST /v1/products
func (h *ProductHandler) Create(c *gin.Context) {
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), middleware.Principal(c), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Product created successfully", "product": newProductView(p)})
}

// PUT /v1/products/:id
func (h *ProductHandler) Update(c *gin.Context) {
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.catalog.UpdateProduct(c.Request.Context(), middleware.Principal(c), c.Param("id"), req.input())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product updated successfully", "product": newProductView(p)})
}

// DELETE /v1/products/:id
func (h *ProductHandler) Delete(c *gin.Context) {
	if err := h.catalog.DeleteProduct(c.Request.Context(), middleware.Principal(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}
