package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aq2208/portfolio-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

type OrderHandler struct {
	ledger  *usecase.OrderLedger
	timeout time.Duration
}

func NewOrderHandler(ledger *usecase.OrderLedger) *OrderHandler {
	return &OrderHandler{ledger: ledger, timeout: 3 * time.Second}
}

type createOrderItemReq struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type createOrderReq struct {
	ShippingAddress string               `json:"shipping_address" binding:"required"`
	PaymentMethod   string               `json:"payment_method" binding:"required"`
	Items           []createOrderItemReq `json:"items" binding:"required,dive"`
}

type orderStatusReq struct {
	Status string `json:"status" binding:"required"`
}

type paymentStatusReq struct {
	PaymentStatus string `json:"payment_status" binding:"required"`
}

// POST /v1/orders
// X-Idempotency-Key replays the order placed under the same key.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	in := usecase.PlaceOrderInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		IdempotencyKey:  c.GetHeader("X-Idempotency-Key"), // prevent duplicated requests
		Items:           make([]usecase.PlaceOrderItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, usecase.PlaceOrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	o, err := h.ledger.PlaceOrder(ctx, middleware.Principal(c), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Order created successfully", "order": newOrderView(o)})
}

// GET /v1/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	page, perPage, err := paging(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.ledger.ListOrders(ctx, middleware.Principal(c), usecase.ListOrdersInput{
		Status:  domain.Status(c.Query("status")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":   mapSlice(res.Items, newOrderView),
		"total":    res.Total,
		"pages":    res.Pages(),
		"page":     res.Page,
		"per_page": res.PerPage,
	})
}

// GET /v1/orders/:id
func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderView(o)})
}

// GET /v1/orders/:id/status
// Served from the order cache when one is configured.
func (h *OrderHandler) GetOrderStatus(c *gin.Context) {
	o, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":       o.ID,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
		"updated_at":     o.UpdatedAt,
	})
}

func (h *OrderHandler) load(c *gin.Context) (*domain.Order, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	o, err := h.ledger.GetOrder(ctx, middleware.Principal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return o, true
}

// PUT /v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req orderStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	o, err := h.ledger.SetOrderStatus(ctx, middleware.Principal(c), c.Param("id"), domain.Status(req.Status))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated successfully", "order": newOrderView(o)})
}

// PUT /v1/orders/:id/payment
func (h *OrderHandler) UpdatePayment(c *gin.Context) {
	var req paymentStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	o, err := h.ledger.SetPaymentStatus(ctx, middleware.Principal(c), c.Param("id"), domain.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Payment status updated successfully", "order": newOrderView(o)})
}
