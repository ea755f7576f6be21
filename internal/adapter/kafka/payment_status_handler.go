package kafka

import (
	"context"
	"errors"
	"strings"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// PaymentUpdater is the slice of the order ledger the payment feed needs.
type PaymentUpdater interface {
	SetPaymentStatus(ctx context.Context, p domain.Principal, orderID string, status domain.PaymentStatus) (*domain.Order, error)
}

// SystemPrincipal is the admin identity payment events are applied as.
var SystemPrincipal = domain.Principal{ID: "system:payments", Username: "payments", Role: domain.RoleAdmin}

// PaymentStatusHandler applies payment processor events to orders.
type PaymentStatusHandler struct {
	Ledger PaymentUpdater
}

func NewPaymentStatusHandler(ledger PaymentUpdater) *PaymentStatusHandler {
	return &PaymentStatusHandler{Ledger: ledger}
}

// Map external status -> internal
func paymentStatus(s string) (domain.PaymentStatus, bool) {
	switch strings.ToUpper(s) {
	case "SUCCESS", "PAID":
		return domain.PaymentPaid, true
	case "REFUNDED":
		return domain.PaymentRefunded, true
	case "FAILED", "VOIDED":
		return domain.PaymentUnpaid, true
	}
	return "", false
}

// Handle returns an error only for failures worth redelivering; unknown
// statuses and unknown orders are logged and skipped.
func (h *PaymentStatusHandler) Handle(ctx context.Context, ev usecase.PaymentStatusMsg) error {
	log := logging.FromCtx(ctx).With("order_id", ev.OrderID, "payment_event", ev.Status)

	status, ok := paymentStatus(ev.Status)
	if !ok {
		log.Warn("unknown payment status, skipping")
		return nil
	}
	_, err := h.Ledger.SetPaymentStatus(ctx, SystemPrincipal, ev.OrderID, status)
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalid):
		log.Warn("payment event rejected", "err", err)
		return nil
	case err != nil:
		return err
	}
	return nil
}
