package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/pkg/api/contract"
)

// controllerClient talks the bootstrap half of the internal HTTP surface:
// register, authenticate, and autoconfigure/config. Everything after that
// (heartbeats, storage-map fetches, peer validation) is handled by
// pkg/storagemap and pkg/peerauth's own clients once the node has an
// access token in hand.
type controllerClient struct {
	baseURL string
	client  *http.Client
}

func newControllerClient(baseURL string) *controllerClient {
	return &controllerClient{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *controllerClient) register(ctx context.Context, code string, nodeID uuid.UUID, address string) (string, error) {
	req := contract.RegisterRequest{Code: code, ServiceType: "storage_node", NodeID: nodeID, Address: address}
	var resp contract.RegisterResponse
	if err := c.postJSON(ctx, "/api/internal/initialize/register", nil, req, &resp); err != nil {
		return "", fmt.Errorf("registering with controller: %w", err)
	}
	return resp.RenewalToken, nil
}

func (c *controllerClient) authenticate(ctx context.Context, nodeID uuid.UUID, renewalToken string) (string, error) {
	req := contract.AuthenticateRequest{RenewalToken: renewalToken}
	headers := map[string]string{contract.NodeIDHeader: nodeID.String()}
	var resp contract.AuthenticateResponse
	if err := c.postJSON(ctx, "/api/internal/initialize/authenticate", headers, req, &resp); err != nil {
		return "", fmt.Errorf("authenticating with controller: %w", err)
	}
	return resp.AccessToken, nil
}

func (c *controllerClient) generalConfig(ctx context.Context, nodeID uuid.UUID, accessToken string) (contract.GeneralConfiguration, error) {
	var cfg contract.GeneralConfiguration
	url := c.baseURL + "/api/internal/autoconfigure/config"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cfg, err
	}
	httpReq.Header.Set(contract.NodeIDHeader, nodeID.String())
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return cfg, fmt.Errorf("fetching cluster configuration: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return cfg, fmt.Errorf("fetching cluster configuration: status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding cluster configuration: %w", err)
	}
	return cfg, nil
}

func (c *controllerClient) postJSON(ctx context.Context, path string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ensureRegistered loads a persisted identity or performs a first-time
// register+authenticate exchange, returning a node identity with a live
// access token.
func ensureRegistered(ctx context.Context, cc *controllerClient, dataDir, registerCode, advertiseAddr string) (*identity, error) {
	id, found, err := loadIdentity(dataDir)
	if err != nil {
		return nil, err
	}
	if found {
		accessToken, err := cc.authenticate(ctx, id.NodeID, id.RenewalToken)
		if err != nil {
			return nil, err
		}
		id.AccessToken = accessToken
		if err := saveIdentity(dataDir, id); err != nil {
			return nil, err
		}
		return id, nil
	}

	if registerCode == "" {
		return nil, fmt.Errorf("no identity on disk and no --register-code given: this node has never joined the cluster")
	}

	nodeID := uuid.New()
	renewalToken, err := cc.register(ctx, registerCode, nodeID, advertiseAddr)
	if err != nil {
		return nil, err
	}
	accessToken, err := cc.authenticate(ctx, nodeID, renewalToken)
	if err != nil {
		return nil, err
	}

	id = &identity{NodeID: nodeID, RenewalToken: renewalToken, AccessToken: accessToken}
	if err := saveIdentity(dataDir, id); err != nil {
		return nil, err
	}
	return id, nil
}
