package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lorawan-server/lorawan-tester/internal/config"
	"github.com/lorawan-server/lorawan-tester/pkg/crypto"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoSecret           = errors.New("jwt secret not configured")
)

// JWTManager issues and validates operator tokens
type JWTManager struct {
	config *config.JWTConfig
	now    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg *config.JWTConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
		now:    time.Now,
	}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Enabled reports whether the API should require tokens
func (m *JWTManager) Enabled() bool {
	return m.config.Secret != ""
}

// Login checks the operator password against its bcrypt hash and returns
// a signed access token with its expiry.
func (m *JWTManager) Login(username, password string) (string, time.Time, error) {
	for _, op := range m.config.Operators {
		if op.Username != username {
			continue
		}
		if !crypto.VerifyPassword(password, op.PasswordHash) {
			break
		}
		return m.GenerateToken(username)
	}
	return "", time.Time{}, ErrInvalidCredentials
}

// GenerateToken signs an access token for username
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	if !m.Enabled() {
		return "", time.Time{}, ErrNoSecret
	}

	now := m.now()
	expires := now.Add(m.config.AccessTokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "lorawan-tester",
			ID:        uuid.New().String(),
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken validates a token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
