package mdsftp

import (
	"context"

	"github.com/google/uuid"
)

// Authenticator validates the handshake token presented by a peer dialing in,
// and mints the token this node presents when dialing out. Node identity is
// a UUID shared by the whole cluster via the controller's node registry, not
// a certificate: MDSFTP connections run inside an otherwise trusted internal
// network and authenticate peer identity, not transport confidentiality.
type Authenticator interface {
	// Token returns the bytes this node sends immediately after opening a
	// connection, before any channel is opened.
	Token(ctx context.Context, selfID uuid.UUID) ([]byte, error)

	// Authenticate validates a token received from a newly dialed-in peer
	// and returns its claimed node id.
	Authenticate(ctx context.Context, token []byte) (uuid.UUID, error)
}

// StaticAuthenticator authenticates peers against a fixed shared secret
// distributed out of band by the controller, the simplest Authenticator
// that still separates "can open a connection" from "node identity".
type StaticAuthenticator struct {
	SelfID uuid.UUID
	Secret []byte
}

func (a *StaticAuthenticator) Token(_ context.Context, selfID uuid.UUID) ([]byte, error) {
	buf := make([]byte, 16+len(a.Secret))
	copy(buf[:16], selfID[:])
	copy(buf[16:], a.Secret)
	return buf, nil
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, token []byte) (uuid.UUID, error) {
	if len(token) < 16 {
		return uuid.Nil, ErrHandshakeFailed
	}
	secret := token[16:]
	if len(secret) != len(a.Secret) {
		return uuid.Nil, ErrHandshakeFailed
	}
	for i := range secret {
		if secret[i] != a.Secret[i] {
			return uuid.Nil, ErrHandshakeFailed
		}
	}
	var peerID uuid.UUID
	copy(peerID[:], token[:16])
	return peerID, nil
}
