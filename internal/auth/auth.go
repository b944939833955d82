// Package auth issues and verifies the bearer tokens that guard the API.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"nc-assistant/internal/domain"
	"nc-assistant/internal/repository"
)

const (
	DefaultAccessTTL  = 60 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minPasswordLen = 8
	maxPasswordLen = 72 // bcrypt limit

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrWeakPassword       = errors.New("auth: password must be 8 to 72 bytes")
	ErrInvalidUsername    = errors.New("auth: username must not be empty")
)

// Tokens is the pair returned by Login and Refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

type Service struct {
	users      repository.UserStore
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

type Option func(*Service)

func WithTTL(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithBcryptCost lowers the hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(users repository.UserStore, secret string, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user store must not be nil")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret must not be empty")
	}
	s := &Service{
		users:      users,
		secret:     []byte(secret),
		issuer:     "nc-assistant",
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates an account. An existing username yields
// repository.ErrUserExists.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return ErrInvalidUsername
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return errors.Wrap(err, "auth: hash password")
	}
	return s.users.CreateUser(ctx, domain.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
}

// EnsureUser registers username unless it already exists. It seeds the
// account configured for the deployment.
func (s *Service) EnsureUser(ctx context.Context, username, password string) error {
	err := s.Register(ctx, username, password)
	if errors.Is(err, repository.ErrUserExists) {
		return nil
	}
	return err
}

// Login checks the password and issues a token pair.
func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	u, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, errors.Wrap(err, "auth: load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, ErrInvalidCredentials
	}
	log.Info().Str("username", u.Username).Msg("User logged in")
	return s.issue(u.Username)
}

// Refresh exchanges a valid refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	subject, err := s.parse(refreshToken, tokenTypeRefresh)
	if err != nil {
		return Tokens{}, err
	}
	if _, err := s.users.GetUser(ctx, subject); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, errors.Wrap(err, "auth: load user")
	}
	return s.issue(subject)
}

// Verify returns the username an access token was issued to.
func (s *Service) Verify(accessToken string) (string, error) {
	return s.parse(accessToken, tokenTypeAccess)
}

func (s *Service) issue(username string) (Tokens, error) {
	access, err := s.sign(username, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.sign(username, tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) sign(subject, typ string, ttl time.Duration) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "auth: sign token")
	}
	return signed, nil
}

func (s *Service) parse(raw, typ string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", errors.Wrap(ErrInvalidToken, err.Error())
	}
	if c.Type != typ || c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
