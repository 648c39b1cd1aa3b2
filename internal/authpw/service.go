// Package authpw implements email and password accounts: sign-up with email
// confirmation, sign-in and password reset.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"kanban/api/internal/store"
	"kanban/api/internal/util"
	"kanban/api/internal/validate"
)

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = time.Hour
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the slice of the data store accounts need.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

type Service struct {
	store UserStore
	cost  int

	decoyOnce sync.Once
	decoy     []byte
}

type Option func(*Service)

// WithCost overrides the bcrypt cost.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(users UserStore, opts ...Option) *Service {
	s := &Service{store: users, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// decoyHash is compared against when the email is unknown, so a miss costs
// about as much as a wrong password.
func (s *Service) decoyHash() []byte {
	s.decoyOnce.Do(func() {
		s.decoy, _ = bcrypt.GenerateFromPassword([]byte(util.NewSecret()), s.cost)
	})
	return s.decoy
}

type SignUpRequest struct {
	Name     string `json:"name" validate:"trimmed,max=50"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type SignUpResponse struct {
	UserID              string
	VerificationToken   string
	RequiresEmailVerify bool
}

// SignUp creates an unconfirmed account and returns the confirmation token.
// Field problems come back as validate.Errors.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	}

	passwordHash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	user := store.User{
		ID:                util.NewID(util.PrefixUser),
		Name:              req.Name,
		Email:             req.Email,
		PasswordHash:      passwordHash,
		VerificationToken: util.NewSecret(),
	}
	switch err := s.store.CreateUser(ctx, user); {
	case errors.Is(err, store.ErrDuplicateEmail):
		return nil, ErrEmailTaken
	case err != nil:
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.store.UpdateUserVerificationToken(ctx, user.ID, user.VerificationToken, time.Now().Add(verificationTTL)); err != nil {
		return nil, fmt.Errorf("set verification expiry: %w", err)
	}
	return &SignUpResponse{UserID: user.ID, VerificationToken: user.VerificationToken, RequiresEmailVerify: true}, nil
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SignInResponse struct {
	User           store.User
	RequiresVerify bool
}

// SignIn checks credentials. A correct password on an unconfirmed account
// succeeds with RequiresVerify set.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(s.decoyHash(), []byte(req.Password))
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &SignInResponse{User: user, RequiresVerify: !user.IsEmailVerified}, nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return validate.Field("token", "can't be blank")
	}
	if err := s.store.VerifyUserEmail(ctx, token); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// RequestPasswordReset returns a reset token, or "" when the email is
// unknown so callers cannot tell which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil
	}
	token := util.NewSecret()
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, time.Now().Add(resetTTL)); err != nil {
		return "", fmt.Errorf("create password reset: %w", err)
	}
	return token, nil
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

// ResetPassword sets a new password and returns the account it belongs to.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if err := validate.Struct(req); err != nil {
		return "", err
	}
	userID, err := s.store.GetPasswordReset(ctx, req.Token)
	if err != nil {
		return "", ErrInvalidToken
	}

	passwordHash, err := s.hash(req.NewPassword)
	if err != nil {
		return "", err
	}
	if err := s.store.UpdateUserPassword(ctx, userID, passwordHash); err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, req.Token); err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("password reset token not marked used")
	}
	return userID, nil
}
