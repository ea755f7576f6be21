package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aq2208/portfolio-api/configs"
	"github.com/aq2208/portfolio-api/internal/adapter/memory"
	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/security"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

func TestReadSeedFile_ShippedFixture(t *testing.T) {
	f, err := ReadSeedFile(filepath.Join("..", "..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, f.Users)
	assert.Equal(t, "admin", f.Users[0].Role)
	assert.NotEmpty(t, f.Products)
}

func TestSeed_CreatesOnceAndSkipsOnRerun(t *testing.T) {
	s := memory.NewStore()
	tokens := security.NewJWT("seed-secret-0123456789", "iss", "aud", 0)
	auth := usecase.NewAuth(s, tokens, security.NewBcryptHasher(4))
	catalog := usecase.NewCatalog(s)
	ctx := context.Background()

	f := SeedFile{
		Users: []SeedUser{
			{Username: "root", Email: "root@example.com", Password: "rootpassword", Role: "admin"},
			{Username: "demo", Email: "demo@example.com", Password: "demopassword"},
		},
		Products: []SeedProduct{
			{Name: "Mug", Price: "12.50", Stock: 4, Category: "kitchen"},
			{Name: "Rake", Price: "24.90", Stock: 2, Category: "garden"},
		},
	}

	rep, err := Seed(ctx, auth, catalog, f)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{UsersCreated: 2, ProductsCreated: 2}, rep)

	root, err := s.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, root.Role)

	rep, err = Seed(ctx, auth, catalog, f)
	require.NoError(t, err)
	assert.Equal(t, SeedReport{UsersSkipped: 2, ProductsSkipped: 2}, rep)

	page, err := catalog.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}

func TestSeed_BadPrice(t *testing.T) {
	s := memory.NewStore()
	auth := usecase.NewAuth(s, security.NewJWT("seed-secret-0123456789", "iss", "aud", 0), security.NewBcryptHasher(4))
	_, err := Seed(context.Background(), auth, usecase.NewCatalog(s), SeedFile{
		Users:    []SeedUser{{Username: "root", Email: "root@example.com", Password: "rootpassword", Role: "admin"}},
		Products: []SeedProduct{{Name: "Mug", Price: "twelve"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mug")
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()

	var cfg configs.Config
	cfg.Storage.Driver = "memory"
	st, err := openStorage(ctx, cfg, true)
	require.NoError(t, err)
	require.NoError(t, st.ping(ctx))
	require.NoError(t, st.close())

	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "file:" + filepath.Join(t.TempDir(), "app.db") + "?_foreign_keys=on"
	st, err = openStorage(ctx, cfg, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.close() })
	require.NoError(t, st.ping(ctx))

	_, err = st.products.ListProducts(ctx, domain.ProductFilter{Page: 1, PerPage: 10, SortBy: domain.SortByName})
	require.NoError(t, err)
}

func TestDialTarget(t *testing.T) {
	assert.Equal(t, "localhost:9090", dialTarget(":9090"))
	assert.Equal(t, "10.0.0.2:9090", dialTarget("10.0.0.2:9090"))
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var c closers
	c.add(func() { order = append(order, 1) })
	c.add(func() { order = append(order, 2) })
	c.run()
	assert.Equal(t, []int{2, 1}, order)
}
