package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// AppTokenNonce loads the durable nonce a holder of (appID, issuerID, name)
// was last issued, satisfying pkg/peerauth.NonceSource. A token whose
// issuer has never been recorded here is treated as nonce zero rather than
// an error, since StartDurable-style first use shouldn't require a
// separate provisioning step.
func (s *Store) AppTokenNonce(appID, issuerID uuid.UUID, name string) (uint64, error) {
	var nonce int64
	err := s.session.Query(
		fmt.Sprintf(`SELECT nonce FROM %s WHERE app_id = ? AND issuer_id = ? AND name = ?`, s.table("app_token_nonce")),
		gocql.UUID(appID), gocql.UUID(issuerID), name,
	).Scan(&nonce)
	if err == gocql.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cassandra: loading app token nonce: %w", err)
	}
	return uint64(nonce), nil
}
