// Package peerauth validates the two bearer credentials that cross a node's
// boundary: app-token JWTs presented by data-plane clients, and the 64-char
// peer tokens storage nodes present to each other and to the controller.
package peerauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/permission"
)

// Common app-token validation errors.
var (
	ErrInvalidToken        = errors.New("peerauth: invalid app token")
	ErrExpiredToken        = errors.New("peerauth: app token has expired")
	ErrInvalidSecretLength = errors.New("peerauth: signing secret must be at least 32 characters")
)

// AppTokenConfig configures AppTokenService's HMAC signing.
type AppTokenConfig struct {
	// Secret is the HMAC signing key, shared with the controller that
	// issues tokens. Must be at least 32 characters.
	Secret string

	// Issuer is the token issuer claim. Default: "meowith".
	Issuer string
}

// ScopeClaim is the wire shape of one permission.Scope within a token: a nil
// BucketID means an application-wide grant.
type ScopeClaim struct {
	BucketID *uuid.UUID `json:"bucket_id,omitempty"`
	Allow    uint64     `json:"allow"`
}

// AppClaims is the JWT claim set carried by a data-plane app token.
type AppClaims struct {
	jwt.RegisteredClaims

	AppID    uuid.UUID    `json:"app_id"`
	IssuerID uuid.UUID    `json:"issuer_id"`
	Name     string       `json:"name"`
	Nonce    uint64       `json:"nonce"`
	Scopes   []ScopeClaim `json:"scopes"`
}

// Scopes decodes this token's ScopeClaim list into permission.Scope values.
func (c *AppClaims) PermissionScopes() []permission.Scope {
	out := make([]permission.Scope, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		scope := permission.Scope{Allow: permission.Allowance(s.Allow)}
		if s.BucketID != nil {
			bytes := [16]byte(*s.BucketID)
			scope.BucketID = &bytes
		}
		out = append(out, scope)
	}
	return out
}

// ClaimKey identifies one issued app token for the MGPP ValidateNonce
// invalidation cache: a node caches "this nonce is still valid" for up to 60
// seconds and must drop the entry the moment the controller revokes it.
type ClaimKey struct {
	AppID    uuid.UUID `cbor:"app_id"`
	IssuerID uuid.UUID `cbor:"issuer_id"`
	Name     string    `cbor:"name"`
	Nonce    uint64    `cbor:"nonce"`
}

// Key derives this token's cache key.
func (c *AppClaims) Key() ClaimKey {
	return ClaimKey{AppID: c.AppID, IssuerID: c.IssuerID, Name: c.Name, Nonce: c.Nonce}
}

// AppTokenService validates app-token JWTs presented on the public
// data-plane API.
type AppTokenService struct {
	config AppTokenConfig
}

// NewAppTokenService validates config and builds an AppTokenService.
func NewAppTokenService(config AppTokenConfig) (*AppTokenService, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "meowith"
	}
	return &AppTokenService{config: config}, nil
}

// Validate parses and verifies an app-token JWT, returning its claims.
func (s *AppTokenService) Validate(tokenString string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("peerauth: unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Issue signs a new app token for the given scopes, valid for validity.
func (s *AppTokenService) Issue(appID, issuerID uuid.UUID, name string, nonce uint64, scopes []permission.Scope, validity time.Duration) (string, error) {
	now := time.Now()
	claimScopes := make([]ScopeClaim, 0, len(scopes))
	for _, sc := range scopes {
		cs := ScopeClaim{Allow: uint64(sc.Allow)}
		if sc.BucketID != nil {
			id := uuid.UUID(*sc.BucketID)
			cs.BucketID = &id
		}
		claimScopes = append(claimScopes, cs)
	}

	claims := &AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		AppID:    appID,
		IssuerID: issuerID,
		Name:     name,
		Nonce:    nonce,
		Scopes:   claimScopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}
