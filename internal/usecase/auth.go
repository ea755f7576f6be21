package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/aq2208/portfolio-api/internal/entity"
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)
	ErrAccountDisabled    = fmt.Errorf("%w: account is disabled", domain.ErrUnauthorized)
)

type Auth struct {
	users  UserRepo
	tokens TokenIssuer
	hasher PasswordHasher
	newID  func() string
}

func NewAuth(users UserRepo, tokens TokenIssuer, hasher PasswordHasher) *Auth {
	return &Auth{users: users, tokens: tokens, hasher: hasher, newID: uuid.NewString}
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      domain.Role // empty means RoleUser
}

func (in RegisterInput) validate() error {
	if l := len(in.Username); l < 3 || l > 80 {
		return domain.Invalidf("username must be 3-80 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return domain.Invalidf("email is not valid")
	}
	if len(in.Password) < 8 {
		return domain.Invalidf("password must be at least 8 characters")
	}
	if in.Role != "" && in.Role != domain.RoleUser && in.Role != domain.RoleAdmin {
		return domain.Invalidf("role must be user or admin")
	}
	return nil
}

func (a *Auth) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, err := a.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	u := &domain.User{
		ID:           a.newID(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         role,
		Active:       true,
	}
	if err := a.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

type LoginOutput struct {
	AccessToken string
	ExpiresIn   time.Duration
	User        *domain.User
}

func (a *Auth) Login(ctx context.Context, username, password string) (LoginOutput, error) {
	u, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return LoginOutput{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginOutput{}, err
	}
	if err := a.hasher.Compare(u.PasswordHash, password); err != nil {
		return LoginOutput{}, ErrInvalidCredentials
	}
	if !u.Active {
		return LoginOutput{}, ErrAccountDisabled
	}
	token, ttl, err := a.tokens.Issue(u.Principal())
	if err != nil {
		return LoginOutput{}, err
	}
	return LoginOutput{AccessToken: token, ExpiresIn: ttl, User: u}, nil
}

func (a *Auth) Me(ctx context.Context, p domain.Principal) (*domain.User, error) {
	if err := domain.Authorize(p, domain.AccessAuthenticated, ""); err != nil {
		return nil, err
	}
	return a.users.GetUserByID(ctx, p.ID)
}
