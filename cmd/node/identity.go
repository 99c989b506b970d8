package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// identity is a node's durable cluster membership state: the UUID it
// registered under, and the renewal/access tokens that let it reauthenticate
// without a human re-running the register-code flow on every restart.
type identity struct {
	NodeID       uuid.UUID `json:"node_id"`
	RenewalToken string    `json:"renewal_token"`
	AccessToken  string    `json:"access_token"`
}

func identityPath(dataDir string) string {
	return filepath.Join(dataDir, "identity.json")
}

// loadIdentity reads a previously persisted identity, or (uuid.Nil, "", "", false)
// if this node has never registered.
func loadIdentity(dataDir string) (*identity, bool, error) {
	data, err := os.ReadFile(identityPath(dataDir))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading identity file: %w", err)
	}
	var id identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, false, fmt.Errorf("parsing identity file: %w", err)
	}
	return &id, true, nil
}

// saveIdentity persists id with owner-only permissions, since it carries
// live bearer tokens.
func saveIdentity(dataDir string, id *identity) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding identity file: %w", err)
	}
	if err := os.WriteFile(identityPath(dataDir), data, 0600); err != nil {
		return fmt.Errorf("writing identity file: %w", err)
	}
	return nil
}
