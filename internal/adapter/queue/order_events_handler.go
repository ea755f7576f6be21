package queue

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aq2208/portfolio-api/internal/logging"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// OrderEventsAuditor consumes the audit queue: every order event is logged
// and counted.
type OrderEventsAuditor struct {
	consumed *prometheus.CounterVec
}

func NewOrderEventsAuditor(reg prometheus.Registerer) *OrderEventsAuditor {
	return &OrderEventsAuditor{
		consumed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "order_events_consumed_total",
			Help: "Order events read back from the audit queue",
		}, []string{"event"}),
	}
}

func (a *OrderEventsAuditor) HandleCreated(ctx context.Context, msg usecase.OrderCreatedMsg) error {
	logging.FromCtx(ctx).Info("audit order.created",
		"order_id", msg.OrderID, "user_id", msg.UserID, "total", msg.TotalAmount, "items", msg.ItemCount)
	a.consumed.WithLabelValues(KeyOrderCreated).Inc()
	return nil
}

func (a *OrderEventsAuditor) HandleStatusChanged(ctx context.Context, msg usecase.OrderStatusChangedMsg) error {
	logging.FromCtx(ctx).Info("audit order.status_changed",
		"order_id", msg.OrderID, "field", msg.Field, "from", msg.From, "to", msg.To, "stock_restored", msg.StockRestored)
	a.consumed.WithLabelValues(KeyOrderStatus).Inc()
	return nil
}

// Handler routes the audit queue's deliveries to the typed handlers.
func (a *OrderEventsAuditor) Handler() Handler {
	return KeyMux{
		KeyOrderCreated: JSONHandler[usecase.OrderCreatedMsg]{HandleFunc: a.HandleCreated},
		KeyOrderStatus:  JSONHandler[usecase.OrderStatusChangedMsg]{HandleFunc: a.HandleStatusChanged},
	}
}
