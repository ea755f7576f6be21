package app

import (
	"context"
	"fmt"

	"github.com/aq2208/portfolio-api/configs"
	"github.com/aq2208/portfolio-api/internal/adapter/memory"
	"github.com/aq2208/portfolio-api/internal/adapter/repo"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// storage bundles the repositories of one backend.
type storage struct {
	orders   usecase.OrderRepo
	products usecase.ProductRepo
	users    usecase.UserRepo
	ping     func(ctx context.Context) error
	close    func() error
}

// openStorage connects the configured backend. SQL backends get the schema
// applied when migrate is set.
func openStorage(ctx context.Context, cfg configs.Config, migrate bool) (*storage, error) {
	if cfg.Storage.Driver == "memory" {
		s := memory.NewStore()
		return &storage{
			orders:   s,
			products: s,
			users:    s,
			ping:     func(context.Context) error { return nil },
			close:    func() error { return nil },
		}, nil
	}

	db, err := repo.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, repo.PoolOptions{
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if migrate {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &storage{
		orders:   db,
		products: db,
		users:    db,
		ping:     db.Ping,
		close:    db.Close,
	}, nil
}
