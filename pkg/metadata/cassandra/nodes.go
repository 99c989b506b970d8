package cassandra

import (
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// CreateRegisterCode provisions a fresh single-use code an operator hands
// to a node being brought into the cluster.
func (s *Store) CreateRegisterCode(code string) error {
	err := s.session.Query(
		fmt.Sprintf(`INSERT INTO %s (code, consumed) VALUES (?, false)`, s.table("register_code")),
		code,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: provisioning register code: %w", err)
	}
	return nil
}

// ConsumeRegisterCode atomically marks a single-use register code as spent,
// via a lightweight transaction so two nodes racing on the same code can't
// both win. It reports (false, nil) for an unknown or already-consumed code.
func (s *Store) ConsumeRegisterCode(code string) (bool, error) {
	applied, err := s.session.Query(
		fmt.Sprintf(`UPDATE %s SET consumed = true WHERE code = ? IF consumed = false`, s.table("register_code")),
		code,
	).ScanCAS(new(bool))
	if err != nil {
		return false, fmt.Errorf("cassandra: consuming register code: %w", err)
	}
	return applied, nil
}

// RegisterNode inserts a newly joined node's identity row.
func (s *Store) RegisterNode(node *MicroserviceNode) error {
	err := s.session.Query(
		fmt.Sprintf(`INSERT INTO %s (microservice_type, id, address, register_code, renewal_token, access_token)
			VALUES (?, ?, ?, ?, ?, ?)`, s.table("microservice_node")),
		int8(node.MicroserviceType), gocql.UUID(node.ID), node.Address, node.RegisterCode, node.RenewalToken, node.AccessToken,
	).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: registering node: %w", err)
	}
	return nil
}

// GetNode loads a single node by its microservice type and id.
func (s *Store) GetNode(serviceType MicroserviceType, id uuid.UUID) (*MicroserviceNode, error) {
	node := &MicroserviceNode{MicroserviceType: serviceType, ID: id}
	err := s.session.Query(
		fmt.Sprintf(`SELECT address, register_code, renewal_token, access_token FROM %s
			WHERE microservice_type = ? AND id = ?`, s.table("microservice_node")),
		int8(serviceType), gocql.UUID(id),
	).Scan(&node.Address, &node.RegisterCode, &node.RenewalToken, &node.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("cassandra: loading node %s: %w", id, err)
	}
	return node, nil
}

// RotateAccessToken replaces a node's access token hash after it presents a
// still-valid renewal token, re-checking the renewal hash as a lightweight
// transaction condition so a concurrent revoke can't race a rotation.
func (s *Store) RotateAccessToken(serviceType MicroserviceType, nodeID uuid.UUID, accessHash, renewalHash string) error {
	applied, err := s.session.Query(
		fmt.Sprintf(`UPDATE %s SET access_token = ? WHERE microservice_type = ? AND id = ? IF renewal_token = ?`, s.table("microservice_node")),
		accessHash, int8(serviceType), gocql.UUID(nodeID), renewalHash,
	).ScanCAS(new(string))
	if err != nil {
		return fmt.Errorf("cassandra: rotating access token for %s: %w", nodeID, err)
	}
	if !applied {
		return fmt.Errorf("cassandra: renewal token for %s no longer matches", nodeID)
	}
	return nil
}
