// Package contract defines the wire request/response shapes of the
// internal HTTP surface between the controller and a node or dashboard
// instance: register, authenticate, csr, autoconfigure, health, heartbeat,
// and validate/peer. It has no dependencies beyond the standard library
// and uuid, so both the controller's handlers (pkg/api/controller) and a
// node's outbound clients (pkg/storagemap, pkg/peerauth) can share one
// definition of each payload instead of hand-rolling matching structs on
// both ends.
package contract

import (
	"time"

	"github.com/google/uuid"
)

// NodeIDHeader carries a node's self-assigned identity on every internal
// call after registration, since the bearer token alone is not a
// Cassandra partition key.
const NodeIDHeader = "X-Node-Id"

// RegisterRequest is the body of POST /api/internal/initialize/register.
// NodeID is generated by the registering process itself (a node knows its
// own identity before it has ever spoken to the controller) and becomes
// the partition key every subsequent internal call addresses via the
// X-Node-Id header.
type RegisterRequest struct {
	Code        string    `json:"code"`
	ServiceType string    `json:"service_type"`
	NodeID      uuid.UUID `json:"node_id"`
	Address     string    `json:"address"`
}

// RegisterResponse answers a successful registration.
type RegisterResponse struct {
	RenewalToken string `json:"renewal_token"`
}

// AuthenticateRequest is the body of POST /api/internal/initialize/authenticate.
type AuthenticateRequest struct {
	RenewalToken string `json:"renewal_token"`
}

// AuthenticateResponse carries the freshly minted access token.
type AuthenticateResponse struct {
	AccessToken string `json:"access_token"`
}

// LoginMethod names one supported client authentication mechanism,
// reported by GET /api/internal/autoconfigure/config so a node knows
// which adapters to expose on its own public surface.
type LoginMethod string

// GeneralConfiguration is the cluster-wide configuration a node or
// dashboard fetches once at startup via GET
// /api/internal/autoconfigure/config.
type GeneralConfiguration struct {
	MdsftpPort          int           `json:"mdsftp_port"`
	MgppPort            int           `json:"mgpp_port"`
	AccessTokenValidity time.Duration `json:"access_token_validity"`
	MaxReaders          int           `json:"max_readers"`
	DefaultUserQuota    int64         `json:"default_user_quota"`
	LoginMethods        []LoginMethod `json:"login_methods"`

	// AppTokenSecret is the HMAC signing key a node needs to validate
	// app-token JWTs offline, without calling back to the controller on
	// every request. Only ever served over an already-authenticated
	// internal connection.
	AppTokenSecret string `json:"app_token_secret"`
}

// HealthStoragePostRequest is the body a storage node POSTs to
// /api/internal/health/storage on every heartbeat tick.
type HealthStoragePostRequest struct {
	MaxSpace  uint64 `json:"max_space"`
	UsedSpace uint64 `json:"used_space"`
}

// PeerStorageInfo is one entry of GET /api/internal/health/storage's
// peers map.
type PeerStorageInfo struct {
	Storage HealthStoragePostRequest `json:"storage"`
	Addr    string                   `json:"addr"`
}

// HealthStorageGetResponse is the full cluster storage-map snapshot a
// node or dashboard fetches after an MGPP NodeStorageMap invalidation.
type HealthStorageGetResponse struct {
	Peers map[uuid.UUID]PeerStorageInfo `json:"peers"`
}

// ValidatePeerRequest is the body of POST /api/internal/validate/peer.
type ValidatePeerRequest struct {
	NodeToken string    `json:"node_token"`
	NodeID    uuid.UUID `json:"node_id"`
}

// ValidatePeerResponse answers a peer-token validation check.
type ValidatePeerResponse struct {
	Valid bool `json:"valid"`
}
