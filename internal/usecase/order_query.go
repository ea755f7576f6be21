package usecase

import (
	"context"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
)

// GetOrder returns the order if p owns it or is an admin.
func (l *OrderLedger) GetOrder(ctx context.Context, p domain.Principal, id string) (*domain.Order, error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return nil, err
	}

	if l.cache != nil {
		if o, ok, err := l.cache.Get(ctx, id); err == nil && ok {
			if err := domain.Authorize(p, domain.AccessOwner, o.UserID); err != nil {
				return nil, err
			}
			return o, nil
		} else if err != nil {
			logging.FromCtx(ctx).Warn("order cache get failed", "order_id", id, "err", err)
		}
	}

	o, err := l.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domain.Authorize(p, domain.AccessOwner, o.UserID); err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.Set(ctx, o); err != nil {
			logging.FromCtx(ctx).Warn("order cache fill failed", "order_id", id, "err", err)
		}
	}
	return o, nil
}

type ListOrdersInput struct {
	Status  domain.Status
	Page    int
	PerPage int
}

// ListOrders lists every order for admins and only their own for users,
// newest first.
func (l *OrderLedger) ListOrders(ctx context.Context, p domain.Principal, in ListOrdersInput) (domain.Page[*domain.Order], error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return domain.Page[*domain.Order]{}, err
	}
	if in.Status != "" && !in.Status.Valid() {
		return domain.Page[*domain.Order]{}, domain.Invalidf("invalid status filter %q", in.Status)
	}

	f := domain.OrderFilter{Status: in.Status}
	f.Page, f.PerPage = domain.NormalizePaging(in.Page, in.PerPage)
	if !p.IsAdmin() {
		f.UserID = p.ID
	}
	return l.repo.ListOrders(ctx, f)
}
