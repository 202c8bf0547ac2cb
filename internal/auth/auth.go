package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "socwatch"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid session token")
)

// UserLookup finds an account by username.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// SessionClaims identify the analyst acting on incidents.
type SessionClaims struct {
	UserID  int64  `json:"uid"`
	Analyst string `json:"analyst"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}

// Service logs analysts in and verifies their session tokens.
type Service struct {
	users    UserLookup
	secret   []byte
	TokenTTL time.Duration
	Now      func() time.Time
}

func NewService(users UserLookup, secret string) *Service {
	return &Service{
		users:    users,
		secret:   []byte(secret),
		TokenTTL: 12 * time.Hour,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authenticate checks the password and returns the analyst with a fresh
// session token. Lookup failures other than an unknown user are returned as is.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, "", ErrInvalidCredentials
	case err != nil:
		return nil, "", fmt.Errorf("lookup %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.Issue(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Issue signs a session token for user.
func (s *Service) Issue(user *User) (string, error) {
	now := s.Now()
	claims := SessionClaims{
		UserID:  user.ID,
		Analyst: user.Username,
		Role:    user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses a session token and returns the analyst it names.
func (s *Service) Verify(token string) (*User, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	analyst := claims.Analyst
	if analyst == "" {
		analyst = claims.Subject
	}
	if analyst == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return &User{ID: claims.UserID, Username: analyst, Role: claims.Role}, nil
}
