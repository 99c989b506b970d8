package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/meowith/meowith/pkg/api/handlers"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/peerauth"
)

type contextKey string

const nodeContextKey contextKey = "node"

// NodeFromContext retrieves the authenticated node a NodeAccessAuth
// middleware run resolved.
func NodeFromContext(ctx context.Context) (*cassandra.MicroserviceNode, bool) {
	node, ok := ctx.Value(nodeContextKey).(*cassandra.MicroserviceNode)
	return node, ok
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// NodeAccessAuth validates the access token and X-Node-Id header every
// internal endpoint other than register/authenticate/csr requires. It
// trusts the in-memory ControllerTokenMap first, since that is the path
// every handshake takes on the hot path, falling back to the bcrypt hash
// in Cassandra so a controller restart does not lock out every node
// until each one re-authenticates.
func (c *Controller) NodeAccessAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			handlers.Unauthorized(w, "authorization header required")
			return
		}
		nodeID, ok := nodeIDFromHeader(w, r)
		if !ok {
			return
		}

		if valid, _ := c.PeerTokens.ValidatePeerToken(r.Context(), nodeID, token); valid {
			node, err := c.findNode(nodeID)
			if err != nil {
				handlers.WriteError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), nodeContextKey, node)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		node, err := c.findNode(nodeID)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}
		if !peerauth.VerifyToken(node.AccessToken, token) {
			handlers.Unauthorized(w, "invalid access token")
			return
		}
		c.PeerTokens.Set(nodeID, token)

		ctx := context.WithValue(r.Context(), nodeContextKey, node)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
