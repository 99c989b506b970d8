package node

import (
	"github.com/meowith/meowith/pkg/api/auth"
	"github.com/meowith/meowith/pkg/peerauth"
)

// nonceVerifierAdapter adapts a peerauth.NonceVerifier to the
// auth.TokenVerifier contract the public API's AppTokenAuth middleware
// depends on, translating peerauth.VerifiedClaims into auth.Claims. It
// lives here rather than in pkg/peerauth so that package never needs to
// import pkg/api/auth.
type nonceVerifierAdapter struct {
	inner *peerauth.NonceVerifier
}

// NewTokenVerifier wraps v so it satisfies auth.TokenVerifier.
func NewTokenVerifier(v *peerauth.NonceVerifier) auth.TokenVerifier {
	return nonceVerifierAdapter{inner: v}
}

func (a nonceVerifierAdapter) Verify(token string) (auth.Claims, error) {
	claims, err := a.inner.Verify(token)
	if err != nil {
		return auth.Claims{}, err
	}
	return auth.Claims{AppID: claims.AppID, Scopes: claims.Scopes}, nil
}
