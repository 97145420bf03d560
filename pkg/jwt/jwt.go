package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname,omitempty"`
	Roles    []string `json:"roles"`
	Type     string   `json:"type"`
}

// Identity is the subject a token pair is issued for.
type Identity struct {
	UserID   string
	Username string
	Nickname string
	Roles    []string
}

// TokenPair is the result of a successful issue or refresh.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	AccessExpiresAt  int64  `json:"access_expires_at"`
	RefreshExpiresAt int64  `json:"refresh_expires_at"`
}

// Manager handles JWT operations.
type Manager struct {
	privateKey      *rsa.PrivateKey
	publicKey       *rsa.PublicKey
	accessDuration  time.Duration
	refreshDuration time.Duration
	issuer          string
	now             func() time.Time

	// userID -> revocation time; tokens issued at or before it are rejected.
	revokedAt map[string]time.Time
	mu        sync.RWMutex
}

// NewManager creates a new JWT manager. When keyPath is empty a fresh RSA key
// is generated, which invalidates all tokens on restart.
func NewManager(keyPath string, accessDuration, refreshDuration time.Duration, issuer string) (*Manager, error) {
	privateKey, err := loadOrGenerateKey(keyPath)
	if err != nil {
		return nil, err
	}

	return &Manager{
		privateKey:      privateKey,
		publicKey:       &privateKey.PublicKey,
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
		issuer:          issuer,
		now:             time.Now,
		revokedAt:       make(map[string]time.Time),
	}, nil
}

func loadOrGenerateKey(keyPath string) (*rsa.PrivateKey, error) {
	if keyPath == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}

// Issue creates access and refresh tokens.
func (m *Manager) Issue(id Identity) (*TokenPair, error) {
	now := m.now()

	accessExp := now.Add(m.accessDuration)
	access, err := m.signToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
		UserID:   id.UserID,
		Username: id.Username,
		Nickname: id.Nickname,
		Roles:    id.Roles,
		Type:     TypeAccess,
	})
	if err != nil {
		return nil, err
	}

	refreshExp := now.Add(m.refreshDuration)
	refresh, err := m.signToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
		UserID:   id.UserID,
		Username: id.Username,
		Nickname: id.Nickname,
		Roles:    id.Roles,
		Type:     TypeRefresh,
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp.Unix(),
		RefreshExpiresAt: refreshExp.Unix(),
	}, nil
}

// ValidateToken validates a token and returns claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if m.isRevoked(claims) {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// RevokeUserTokens revokes every token issued to the user up to now.
func (m *Manager) RevokeUserTokens(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Tokens carry second precision; anything issued within this second is revoked too.
	m.revokedAt[userID] = m.now().Truncate(time.Second)
}

// CleanupExpiredRevocations drops entries older than the refresh lifetime,
// after which every token they could match has expired anyway.
func (m *Manager) CleanupExpiredRevocations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.refreshDuration)
	for userID, at := range m.revokedAt {
		if at.Before(cutoff) {
			delete(m.revokedAt, userID)
		}
	}
}

func (m *Manager) isRevoked(claims *Claims) bool {
	m.mu.RLock()
	at, ok := m.revokedAt[claims.UserID]
	m.mu.RUnlock()
	if !ok || claims.IssuedAt == nil {
		return ok
	}
	return !claims.IssuedAt.Time.After(at)
}

func (m *Manager) signToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.privateKey)
}
