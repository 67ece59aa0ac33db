package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hospitalos/authz/internal"
)

// Claims is the subset of the platform bearer token this engine consumes.
// Token issuance, signing and rotation belong to the auth service; here the
// claims are read-only and trusted once the signature verifies.
type Claims struct {
	TenantID    string   `json:"tenantId"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Department  string   `json:"department"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, internal.ErrInvalidToken.WithCause(fmt.Errorf("subject is not a user id: %w", err))
	}
	return id, nil
}

// HasPermission is the O(1) fast path of permission resolution. Claims may be
// stale up to the token lifetime; authoritative checks go through storage.
func (c *Claims) HasPermission(name string) bool {
	for _, p := range c.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

func (c *Claims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r == name {
			return true
		}
	}
	return false
}

type ParserAPI interface {
	Parse(tokenString string) (*Claims, error)
}

// Parser verifies HS256 bearer tokens minted by the platform auth service.
type Parser struct {
	secret    []byte
	clockSkew time.Duration
}

func NewParser(secret string, clockSkew time.Duration) *Parser {
	return &Parser{
		secret:    []byte(secret),
		clockSkew: clockSkew,
	}
}

func (p *Parser) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithLeeway(p.clockSkew))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, internal.ErrInvalidToken
}

type ctxKey string

const contextClaimsKey ctxKey = "claims"

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextClaimsKey, claims)
}

func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(*Claims)
	return claims, ok && claims != nil
}
