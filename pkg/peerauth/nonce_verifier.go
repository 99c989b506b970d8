package peerauth

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/mgpp"
	"github.com/meowith/meowith/pkg/permission"
)

// NonceSource is the durable half of app-token validation: the nonce
// currently on record for an (app, issuer, name) triple. pkg/metadata/
// cassandra's Store.GetAppToken satisfies this directly.
type NonceSource interface {
	AppTokenNonce(appID, issuerID uuid.UUID, name string) (uint64, error)
}

// NonceVerifier checks an app-token JWT's signature, expiry, and the
// MGPP-invalidated nonce cache that stands in for a database round trip
// on every request: a token is only as valid as the nonce the
// database last recorded for its (app, issuer, name) triple, and
// CacheValidateNonce invalidations (and plain TTL expiry) are what let a
// node trust a cached "still valid" answer for up to mgpp.CacheTTL
// instead of hitting the database on every call.
//
// It implements pkg/api/auth.TokenVerifier structurally without that
// package importing this one, matching the rest of the data plane's
// dependency-direction convention (leaf auth contracts stay thin; the
// concrete backend lives in peerauth).
type NonceVerifier struct {
	tokens *AppTokenService
	source NonceSource
	cache  *mgpp.TTLCache[uint64]
}

// NewNonceVerifier builds a verifier over a signing service and the
// durable nonce source, with its own process-local TTL cache — callers
// own the cache's lifetime and must call Clear whenever the MGPP
// connection to the controller reconnects, since a stale cached nonce
// could otherwise outlive an invalidation missed during the outage.
func NewNonceVerifier(tokens *AppTokenService, source NonceSource) *NonceVerifier {
	return &NonceVerifier{
		tokens: tokens,
		source: source,
		cache:  mgpp.NewTTLCache[uint64](mgpp.CacheTTL),
	}
}

// Claims is the shape pkg/api/auth.TokenVerifier.Verify must return;
// declared here to avoid pkg/peerauth importing pkg/api/auth (which would
// invert the intended dependency direction — the HTTP edge depends on
// this package, not the reverse). Callers construct the api/auth.Claims
// value themselves from AppID/Scopes.
type VerifiedClaims struct {
	AppID  uuid.UUID
	Scopes []permission.Scope
}

// Verify parses and checks a bearer app-token JWT: signature and expiry
// via AppTokenService, then the nonce against the cached or freshly
// fetched database value.
func (v *NonceVerifier) Verify(tokenString string) (VerifiedClaims, error) {
	claims, err := v.tokens.Validate(tokenString)
	if err != nil {
		return VerifiedClaims{}, err
	}

	key, err := v.cacheKey(claims)
	if err != nil {
		return VerifiedClaims{}, err
	}

	nonce, ok := v.cache.Get(key)
	if !ok {
		nonce, err = v.source.AppTokenNonce(claims.AppID, claims.IssuerID, claims.Name)
		if err != nil {
			return VerifiedClaims{}, fmt.Errorf("peerauth: looking up token nonce: %w", err)
		}
		v.cache.Set(key, nonce)
	}

	if nonce != claims.Nonce {
		return VerifiedClaims{}, ErrInvalidToken
	}

	return VerifiedClaims{AppID: claims.AppID, Scopes: claims.PermissionScopes()}, nil
}

// Invalidate drops a single cached nonce, called from the handler passed
// to mgpp.Dial/Accept when CacheID == CacheValidateNonce.
func (v *NonceVerifier) Invalidate(key ClaimKey) {
	encoded, err := v.encodeKey(key)
	if err != nil {
		return
	}
	v.cache.Drop(encoded)
}

// Clear drops every cached nonce, called on MGPP reconnect since any
// invalidation broadcast while disconnected must be assumed missed.
func (v *NonceVerifier) Clear() {
	v.cache.Clear()
}

func (v *NonceVerifier) cacheKey(claims *AppClaims) (string, error) {
	return v.encodeKey(claims.Key())
}

func (v *NonceVerifier) encodeKey(key ClaimKey) (string, error) {
	b, err := cbor.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("peerauth: encoding claim key: %w", err)
	}
	return string(b), nil
}
