// Package controller implements the controller process's internal HTTP
// surface: node registration/authentication, certificate issuance,
// cluster configuration distribution, storage-map heartbeats, and peer
// token validation. It is the server side of pkg/storagemap and
// pkg/peerauth's client helpers.
package controller

import (
	"time"

	"github.com/meowith/meowith/pkg/api/contract"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/peerauth"
	"github.com/meowith/meowith/pkg/storagemap"
)

// Controller bundles every dependency the internal HTTP handlers need.
type Controller struct {
	Metadata       *cassandra.Store
	Registry       *storagemap.Registry
	PeerTokens     *peerauth.ControllerTokenMap
	CA             *peerauth.CertAuthority
	GeneralConfig  contract.GeneralConfiguration
	AccessTokenTTL time.Duration
}

// New builds a Controller. ca may be nil, in which case the CSR endpoint
// always fails — acceptable for a controller deployment that provisions
// node certificates out of band.
func New(meta *cassandra.Store, registry *storagemap.Registry, tokens *peerauth.ControllerTokenMap, ca *peerauth.CertAuthority, generalConfig contract.GeneralConfiguration, accessTokenTTL time.Duration) *Controller {
	return &Controller{
		Metadata:       meta,
		Registry:       registry,
		PeerTokens:     tokens,
		CA:             ca,
		GeneralConfig:  generalConfig,
		AccessTokenTTL: accessTokenTTL,
	}
}

// serviceTypeFromWire maps the wire "service_type" string onto the
// registry's enum.
func serviceTypeFromWire(s string) (cassandra.MicroserviceType, bool) {
	switch s {
	case "storage_node":
		return cassandra.MicroserviceTypeStorageNode, true
	case "dashboard":
		return cassandra.MicroserviceTypeDashboard, true
	default:
		return 0, false
	}
}
