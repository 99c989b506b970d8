package controller

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/api/contract"
	"github.com/meowith/meowith/pkg/api/handlers"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/peerauth"
	"github.com/meowith/meowith/pkg/storagemap"
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		handlers.BadRequest(w, "invalid request body")
		return false
	}
	return true
}

// Register handles POST /api/internal/initialize/register.
func (c *Controller) Register(w http.ResponseWriter, r *http.Request) {
	var req contract.RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NodeID == uuid.Nil {
		handlers.BadRequest(w, "node_id is required")
		return
	}
	serviceType, ok := serviceTypeFromWire(req.ServiceType)
	if !ok {
		handlers.BadRequest(w, "unknown service_type")
		return
	}

	valid, err := c.Metadata.ConsumeRegisterCode(req.Code)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	if !valid {
		handlers.Unauthorized(w, "invalid or already-consumed register code")
		return
	}

	renewalToken, err := peerauth.GeneratePeerToken()
	if err != nil {
		handlers.InternalServerError(w, "failed to generate renewal token")
		return
	}
	renewalHash, err := peerauth.HashToken(renewalToken)
	if err != nil {
		handlers.InternalServerError(w, "failed to hash renewal token")
		return
	}

	node := &cassandra.MicroserviceNode{
		MicroserviceType: serviceType,
		ID:               req.NodeID,
		RenewalToken:     renewalHash,
		Address:          req.Address,
		RegisterCode:     req.Code,
	}
	if err := c.Metadata.RegisterNode(node); err != nil {
		handlers.WriteError(w, err)
		return
	}

	if serviceType == cassandra.MicroserviceTypeStorageNode && c.Registry != nil {
		c.Registry.Register(req.NodeID, req.Address, storagemap.DefaultHeartbeatInterval)
	}

	handlers.WriteJSONOK(w, contract.RegisterResponse{RenewalToken: renewalToken})
}

// findNode looks up a registered node by id, trying both microservice
// types since the caller only presents a node id, not its role.
func (c *Controller) findNode(id uuid.UUID) (*cassandra.MicroserviceNode, error) {
	if node, err := c.Metadata.GetNode(cassandra.MicroserviceTypeStorageNode, id); err == nil {
		return node, nil
	}
	return c.Metadata.GetNode(cassandra.MicroserviceTypeDashboard, id)
}

func nodeIDFromHeader(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(contract.NodeIDHeader))
	if err != nil {
		handlers.BadRequest(w, "missing or invalid "+contract.NodeIDHeader+" header")
		return uuid.Nil, false
	}
	return id, true
}

// Authenticate handles POST /api/internal/initialize/authenticate.
func (c *Controller) Authenticate(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromHeader(w, r)
	if !ok {
		return
	}
	var req contract.AuthenticateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	node, err := c.findNode(nodeID)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	if !peerauth.VerifyToken(node.RenewalToken, req.RenewalToken) {
		handlers.Unauthorized(w, "invalid renewal token")
		return
	}

	accessToken, err := peerauth.GeneratePeerToken()
	if err != nil {
		handlers.InternalServerError(w, "failed to generate access token")
		return
	}
	accessHash, err := peerauth.HashToken(accessToken)
	if err != nil {
		handlers.InternalServerError(w, "failed to hash access token")
		return
	}
	if err := c.Metadata.RotateAccessToken(node.MicroserviceType, nodeID, accessHash, node.RenewalToken); err != nil {
		handlers.WriteError(w, err)
		return
	}
	if c.PeerTokens != nil {
		c.PeerTokens.Set(nodeID, accessToken)
	}

	handlers.WriteJSONOK(w, contract.AuthenticateResponse{AccessToken: accessToken})
}

// CSR handles POST /api/internal/security/csr.
func (c *Controller) CSR(w http.ResponseWriter, r *http.Request) {
	if c.CA == nil {
		handlers.WriteProblem(w, http.StatusNotImplemented, "Not Implemented", "no internal CA configured")
		return
	}
	nodeID, ok := nodeIDFromHeader(w, r)
	if !ok {
		return
	}
	renewalToken := r.Header.Get("Sec-Authorization")
	if renewalToken == "" {
		handlers.Unauthorized(w, "missing Sec-Authorization header")
		return
	}

	node, err := c.findNode(nodeID)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	if !peerauth.VerifyToken(node.RenewalToken, renewalToken) {
		handlers.Unauthorized(w, "invalid renewal token")
		return
	}

	csrDER, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		handlers.BadRequest(w, "failed to read CSR body")
		return
	}
	addrs := strings.Split(r.Header.Get("X-Addr"), ",")

	certDER, err := c.CA.SignCSR(csrDER, addrs)
	if err != nil {
		handlers.BadRequest(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/pkix-cert")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(certDER)
}

// AutoconfigureConfig handles GET /api/internal/autoconfigure/config.
func (c *Controller) AutoconfigureConfig(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSONOK(w, c.GeneralConfig)
}

// HealthStoragePost handles POST /api/internal/health/storage.
func (c *Controller) HealthStoragePost(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromHeader(w, r)
	if !ok {
		return
	}
	var report contract.HealthStoragePostRequest
	if !decodeBody(w, r, &report) {
		return
	}
	c.Registry.Update(nodeID, report)
	handlers.WriteJSONOK(w, map[string]any{})
}

// HealthStorageGet handles GET /api/internal/health/storage.
func (c *Controller) HealthStorageGet(w http.ResponseWriter, r *http.Request) {
	live := c.Registry.LiveNodes()
	peers := make(map[uuid.UUID]contract.PeerStorageInfo, len(live))
	for _, n := range live {
		peers[n.NodeID] = contract.PeerStorageInfo{
			Storage: contract.HealthStoragePostRequest{MaxSpace: n.MaxSpace, UsedSpace: n.UsedSpace},
			Addr:    n.Addr,
		}
	}
	handlers.WriteJSONOK(w, contract.HealthStorageGetResponse{Peers: peers})
}

// Heartbeat handles POST /api/internal/heartbeat: a bare liveness ping
// from nodes and dashboards that do not report storage capacity.
func (c *Controller) Heartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := nodeIDFromHeader(w, r)
	if !ok {
		return
	}
	if info, found := c.Registry.Get(nodeID); found {
		c.Registry.Register(nodeID, info.Addr, info.HeartbeatInterval)
	}
	w.WriteHeader(http.StatusOK)
}

// ValidatePeer handles POST /api/internal/validate/peer.
func (c *Controller) ValidatePeer(w http.ResponseWriter, r *http.Request) {
	var req contract.ValidatePeerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	valid, err := c.PeerTokens.ValidatePeerToken(r.Context(), req.NodeID, req.NodeToken)
	if err != nil {
		handlers.WriteError(w, err)
		return
	}
	handlers.WriteJSONOK(w, contract.ValidatePeerResponse{Valid: valid})
}
