package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "warden"
	tokenTypeBearer = "Bearer"
)

// TokenConfig holds signing material. It is built once at startup and shared
// read-only by the issuer and verifier.
type TokenConfig struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewTokenConfig validates and freezes token settings.
func NewTokenConfig(secret string, expiry time.Duration, issuer string) (TokenConfig, error) {
	if strings.TrimSpace(secret) == "" {
		return TokenConfig{}, errors.New("auth: token secret is required")
	}
	if expiry <= 0 {
		return TokenConfig{}, errors.New("auth: token expiry must be greater than zero")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return TokenConfig{secret: key, expiry: expiry, issuer: issuer}, nil
}

func (c TokenConfig) Expiry() time.Duration { return c.expiry }

func (c TokenConfig) Issuer() string { return c.issuer }

// Claims is the JWT payload: sub, email, roles, iat, exp.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 access tokens. It never touches the store.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenIssuer(cfg TokenConfig, now func() time.Time) *TokenIssuer {
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{cfg: cfg, now: now}
}

// Issue builds claims from identity and signs them.
func (i *TokenIssuer) Issue(identity Identity) (Token, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return Token{}, errors.New("auth: identity id is required")
	}
	if len(i.cfg.secret) == 0 {
		return Token{}, errors.New("auth: token config is not initialised")
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.cfg.expiry)
	claims := Claims{
		Email: identity.Email,
		Roles: identity.RoleNames(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{AccessToken: signed, TokenType: tokenTypeBearer, ExpiresAt: exp}, nil
}

// TokenVerifier checks bearer tokens and re-resolves the identity behind them,
// so deleting a user invalidates every token issued to it.
type TokenVerifier struct {
	cfg   TokenConfig
	store IdentityStore
	now   func() time.Time
}

func NewTokenVerifier(cfg TokenConfig, store IdentityStore, now func() time.Time) *TokenVerifier {
	if now == nil {
		now = time.Now
	}
	return &TokenVerifier{cfg: cfg, store: store, now: now}
}

// ParseClaims checks signature, issuer and expiry without consulting the store.
func (v *TokenVerifier) ParseClaims(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: token missing", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.cfg.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.cfg.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	// jwt treats exp as inclusive; a token is dead the moment exp is reached.
	if !v.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: token expired", ErrUnauthorized)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrUnauthorized)
	}
	return claims, nil
}

// Verify returns the identity behind raw with the roles it holds right now.
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (VerifiedIdentity, error) {
	claims, err := v.ParseClaims(raw)
	if err != nil {
		return VerifiedIdentity{}, err
	}
	user, err := v.store.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return VerifiedIdentity{}, fmt.Errorf("%w: subject no longer exists", ErrUnauthorized)
	}
	if err != nil {
		return VerifiedIdentity{}, fmt.Errorf("resolve subject: %w", err)
	}
	if user.Email != claims.Email {
		return VerifiedIdentity{}, fmt.Errorf("%w: subject email changed", ErrUnauthorized)
	}
	return VerifiedIdentity{
		Subject: user.ID,
		Email:   user.Email,
		Roles:   roleNames(user.Roles),
	}, nil
}
