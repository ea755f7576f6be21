package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/logging"
	"github.com/aq2208/portfolio-api/internal/security"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

// SeedFile is the YAML fixture read by the seed command.
type SeedFile struct {
	Users    []SeedUser    `yaml:"users"`
	Products []SeedProduct `yaml:"products"`
}

type SeedUser struct {
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Role      string `yaml:"role"`
}

type SeedProduct struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	Stock       int    `yaml:"stock"`
	Category    string `yaml:"category"`
	ImageURL    string `yaml:"image_url"`
}

type SeedReport struct {
	UsersCreated    int
	UsersSkipped    int
	ProductsCreated int
	ProductsSkipped int
}

func ReadSeedFile(path string) (SeedFile, error) {
	var f SeedFile
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

// Seed creates the fixture's users, then its products on behalf of the
// first admin user it created. Users that already exist are skipped, and so
// are the products when no admin was created, which makes a second run a
// no-op.
func Seed(ctx context.Context, auth *usecase.Auth, catalog *usecase.Catalog, f SeedFile) (SeedReport, error) {
	var (
		rep   SeedReport
		admin domain.Principal
	)
	log := logging.FromCtx(ctx)

	for _, su := range f.Users {
		u, err := auth.Register(ctx, usecase.RegisterInput{
			Username:  su.Username,
			Email:     su.Email,
			Password:  su.Password,
			FirstName: su.FirstName,
			LastName:  su.LastName,
			Role:      domain.Role(su.Role),
		})
		if errors.Is(err, domain.ErrConflict) {
			log.Info("seed user exists", "username", su.Username)
			rep.UsersSkipped++
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("user %s: %w", su.Username, err)
		}
		rep.UsersCreated++
		if admin.ID == "" && u.Role == domain.RoleAdmin {
			admin = u.Principal()
		}
	}

	if len(f.Products) == 0 {
		return rep, nil
	}
	if admin.ID == "" {
		log.Info("no new admin user, products skipped", "products", len(f.Products))
		rep.ProductsSkipped = len(f.Products)
		return rep, nil
	}
	for _, sp := range f.Products {
		price, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return rep, fmt.Errorf("product %s: price %q: %w", sp.Name, sp.Price, err)
		}
		_, err = catalog.CreateProduct(ctx, admin, usecase.ProductInput{
			Name:        &sp.Name,
			Description: &sp.Description,
			Price:       &price,
			Stock:       &sp.Stock,
			Category:    &sp.Category,
			ImageURL:    &sp.ImageURL,
		})
		if err != nil {
			return rep, fmt.Errorf("product %s: %w", sp.Name, err)
		}
		rep.ProductsCreated++
	}
	return rep, nil
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users and products from a YAML fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == "memory" {
				return fmt.Errorf("storage.driver is memory: seeded data would be lost on exit")
			}
			f, err := ReadSeedFile(file)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			st, err := openStorage(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer st.close()

			tokens := security.NewJWT(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.Audience, cfg.Security.TTL)
			auth := usecase.NewAuth(st.users, tokens, security.NewBcryptHasher(cfg.Security.BcryptCost))
			rep, err := Seed(ctx, auth, usecase.NewCatalog(st.products), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "users created=%d skipped=%d, products created=%d skipped=%d\n",
				rep.UsersCreated, rep.UsersSkipped, rep.ProductsCreated, rep.ProductsSkipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "configs/seed.yaml", "seed fixture")
	return cmd
}
