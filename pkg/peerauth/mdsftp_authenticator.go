package peerauth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// NodeAuthenticator implements mdsftp.Authenticator (and the identical MGPP
// contract) on top of a PeerTokenValidator: the handshake token is this
// node's UUID followed by its 64-char peer token, and a peer is accepted
// only once its claimed identity and token validate together.
//
// It satisfies mdsftp.Authenticator structurally; pkg/mdsftp does not import
// pkg/peerauth, so peer-token validation stays swappable without mdsftp
// depending on the auth backend.
type NodeAuthenticator struct {
	SelfToken string
	Validator PeerTokenValidator
}

func (a *NodeAuthenticator) Token(_ context.Context, selfID uuid.UUID) ([]byte, error) {
	buf := make([]byte, 16+len(a.SelfToken))
	copy(buf[:16], selfID[:])
	copy(buf[16:], a.SelfToken)
	return buf, nil
}

func (a *NodeAuthenticator) Authenticate(ctx context.Context, token []byte) (uuid.UUID, error) {
	if len(token) != 16+PeerTokenLength {
		return uuid.Nil, fmt.Errorf("peerauth: malformed handshake token (%d bytes)", len(token))
	}

	var peerID uuid.UUID
	copy(peerID[:], token[:16])
	peerToken := string(token[16:])

	valid, err := a.Validator.ValidatePeerToken(ctx, peerID, peerToken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("peerauth: validating peer token: %w", err)
	}
	if !valid {
		return uuid.Nil, fmt.Errorf("peerauth: peer %s presented an invalid token", peerID)
	}
	return peerID, nil
}
