package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aq2208/portfolio-api/internal/adapter/http/middleware"
	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

type Handlers struct {
	Auth     *AuthHandler
	Products *ProductHandler
	Orders   *OrderHandler
	Tasks    *TaskHandler
}

type RouterDeps struct {
	Authz       *middleware.Authz
	Metrics     *middleware.HTTPMetrics
	SubmitLimit *middleware.RateLimit
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

func NewRouter(h Handlers, d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.Metrics != nil {
		r.Use(d.Metrics.Handler())
	}

	l := d.Logger
	if l == nil {
		l = logging.New("http")
	}
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	if d.Gatherer != nil {
		// Prometheus endpoint (scraped by Prometheus)
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authed := d.Authz.Require()
	admin := d.Authz.Require(domain.RoleAdmin)
	limitSubmit := d.SubmitLimit.Handler()

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/register", h.Auth.Register)
		v1.POST("/auth/login", h.Auth.Login)
		v1.GET("/auth/me", authed, h.Auth.Me)

		v1.GET("/products", h.Products.List)
		v1.GET("/products/categories", h.Products.Categories)
		v1.GET("/products/:id", h.Products.Get)
		v1.POST("/products", admin, h.Products.Create)
		v1.PUT("/products/:id", admin, h.Products.Update)
		v1.DELETE("/products/:id", admin, h.Products.Delete)

		v1.POST("/orders", authed, h.Orders.CreateOrder)
		v1.GET("/orders", authed, h.Orders.ListOrders)
		v1.GET("/orders/:id", authed, h.Orders.GetOrderByID)
		v1.GET("/orders/:id/status", authed, h.Orders.GetOrderStatus)
		v1.PUT("/orders/:id/status", authed, h.Orders.UpdateStatus)
		v1.PUT("/orders/:id/payment", authed, h.Orders.UpdatePayment)

		v1.POST("/tasks", authed, limitSubmit, h.Tasks.Create)
		v1.GET("/tasks", authed, h.Tasks.List)
		v1.GET("/tasks/:id", authed, h.Tasks.Get)
		v1.POST("/tasks/:id/cancel", authed, h.Tasks.Cancel)
	}

	return r
}
