package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// Store keeps products, orders and users in process memory. Ledger units of
// work hold the store lock for their whole duration and only publish their
// writes on commit.
type Store struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	users    map[string]*domain.User
}

func NewStore() *Store {
	return &Store{
		products: map[string]*domain.Product{},
		orders:   map[string]*domain.Order{},
		users:    map[string]*domain.User{},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(tx usecase.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		s:        s,
		products: map[string]*domain.Product{},
		orders:   map[string]*domain.Order{},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	return nil
}

// ledgerTx stages copies; nothing reaches the store before commit.
type ledgerTx struct {
	s        *Store
	products map[string]*domain.Product
	orders   map[string]*domain.Order
}

func (tx *ledgerTx) product(id string) (*domain.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	p, ok := tx.s.products[id]
	if !ok {
		return nil, domain.NotFoundf("product with ID %s not found", id)
	}
	cp := *p
	tx.products[id] = &cp
	return &cp, nil
}

func (tx *ledgerTx) order(id string) (*domain.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return o, nil
	}
	o, ok := tx.s.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s not found", id)
	}
	cp := o.Clone()
	tx.orders[id] = cp
	return cp, nil
}

func (tx *ledgerTx) ProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p, err := tx.product(id)
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (tx *ledgerTx) UpdateStock(_ context.Context, productID string, stock int, at time.Time) error {
	p, err := tx.product(productID)
	if err != nil {
		return err
	}
	p.Stock = stock
	p.UpdatedAt = at
	return nil
}

func (tx *ledgerTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := tx.s.orders[o.ID]; ok {
		return domain.Conflictf("order %s already exists", o.ID)
	}
	tx.orders[o.ID] = o.Clone()
	return nil
}

func (tx *ledgerTx) OrderForUpdate(_ context.Context, id string) (*domain.Order, error) {
	o, err := tx.order(id)
	if err != nil {
		return nil, err
	}
	return o.Clone(), nil
}

func (tx *ledgerTx) UpdateOrderStatus(_ context.Context, id string, status domain.Status, at time.Time) error {
	o, err := tx.order(id)
	if err != nil {
		return err
	}
	o.Status = status
	o.UpdatedAt = at
	return nil
}

func (tx *ledgerTx) UpdatePaymentStatus(_ context.Context, id string, status domain.PaymentStatus, at time.Time) error {
	o, err := tx.order(id)
	if err != nil {
		return err
	}
	o.PaymentStatus = status
	o.UpdatedAt = at
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s not found", id)
	}
	return o.Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, f domain.OrderFilter) (domain.Page[*domain.Order], error) {
	s.mu.RLock()
	var all []*domain.Order
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		all = append(all, o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return paginate(all, f.Page, f.PerPage), nil
}

func (s *Store) CreateProduct(_ context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return domain.Conflictf("product %s already exists", p.ID)
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

// UpdateProduct runs fn on a copy under the store lock and keeps the result
// only when fn succeeds.
func (s *Store) UpdateProduct(_ context.Context, id string, fn func(p *domain.Product) error) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.products[id]
	if !ok {
		return nil, domain.NotFoundf("product %s not found", id)
	}
	cp := *cur
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.products[id] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.NotFoundf("product %s not found", id)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(_ context.Context, f domain.ProductFilter) (domain.Page[*domain.Product], error) {
	s.mu.RLock()
	var all []*domain.Product
	for _, p := range s.products {
		if !f.IncludeInactive && !p.Active {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
			continue
		}
		if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		cp := *p
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	less := func(a, b *domain.Product) int {
		switch f.SortBy {
		case domain.SortByName:
			return strings.Compare(a.Name, b.Name)
		case domain.SortByPrice:
			return a.Price.Cmp(b.Price)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	sort.SliceStable(all, func(i, j int) bool {
		c := less(all[i], all[j])
		if c == 0 {
			return all[i].ID < all[j].ID
		}
		if f.Desc {
			return c > 0
		}
		return c < 0
	})
	return paginate(all, f.Page, f.PerPage), nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return domain.NotFoundf("product %s not found", id)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) Categories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for _, p := range s.products {
		if !p.Active || p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return domain.Conflictf("username already exists")
		}
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.Conflictf("email already exists")
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.NotFoundf("user %s not found", id)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.NotFoundf("user %s not found", username)
}

func paginate[T any](all []T, page, perPage int) domain.Page[T] {
	page, perPage = domain.NormalizePaging(page, perPage)
	out := domain.Page[T]{Total: len(all), Page: page, PerPage: perPage}
	start := (page - 1) * perPage
	if start >= len(all) {
		out.Items = []T{}
		return out
	}
	end := min(start+perPage, len(all))
	out.Items = all[start:end]
	return out
}

var (
	_ usecase.OrderRepo   = (*Store)(nil)
	_ usecase.ProductRepo = (*Store)(nil)
	_ usecase.UserRepo    = (*Store)(nil)
)
