package repo

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/aq2208/portfolio-api/internal/entity"
	"github.com/aq2208/portfolio-api/internal/usecase"
)

const userColumns = `id, username, email, password_hash, first_name, last_name, role, active`

func (s *DB) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO users (`+userColumns+`)
VALUES (?,?,?,?,?,?,?,?)`),
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, string(u.Role), u.Active)
	if isUniqueViolation(err) {
		return domain.Conflictf("username or email already exists")
	}
	return err
}

func (s *DB) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *DB) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.getUser(ctx, "username", username)
}

func (s *DB) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`), value)
	var (
		u    domain.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("user %s not found", value)
	}
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

var _ usecase.UserRepo = (*DB)(nil)
