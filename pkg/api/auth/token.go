// Package auth defines the thin contract the node's public HTTP edge
// needs from app-token verification. Issuing and signing app tokens is a
// controller/dashboard concern (JWT issuance, user/app/role CRUD) outside
// this node's data-plane scope; this package only describes what a node
// needs to check one on an incoming request.
package auth

import (
	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/permission"
)

// Claims is what a verified app token asserts about the caller.
type Claims struct {
	AppID  uuid.UUID
	Scopes []permission.Scope
}

// Allowance resolves the caller's effective permissions within a bucket.
func (c Claims) Allowance(bucketID uuid.UUID) permission.Allowance {
	return permission.EffectiveAllowance(c.Scopes, [16]byte(bucketID))
}

// TokenVerifier checks a bearer app token and returns what it asserts.
// A node validates tokens against the controller-issued signing material
// (fetched at startup via the internal autoconfigure/config exchange);
// how that material is obtained and how tokens are minted is controller
// territory, not implemented here.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}
