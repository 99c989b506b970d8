package storagemap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meowith/meowith/pkg/api/contract"
	"github.com/meowith/meowith/pkg/mgpp"
)

// RefetchTTL bounds how long a Cache trusts its last snapshot before an
// invalidation forces a refetch anyway. Matches mgpp.CacheTTL so the two
// invalidation paths (explicit MGPP packet, TTL expiry) converge on the
// same cadence.
const RefetchTTL = mgpp.CacheTTL

// snapshotKey is the single key storagemap's Cache uses — NodeStorageMap
// has no finer-grained identity, so every invalidation clears this one
// entry.
const snapshotKey = "snapshot"

// Cache is the storage-node-side view of the cluster's storage map: it
// refetches the controller's snapshot lazily, after an MGPP
// CacheNodeStorageMap invalidation clears its single cached entry.
type Cache struct {
	controllerBaseURL string
	accessToken       string
	httpClient        *http.Client
	inner             *mgpp.TTLCache[[]NodeInfo]
}

// NewCache creates a client-side storage map cache against the given
// controller base URL.
func NewCache(controllerBaseURL, accessToken string, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Cache{
		controllerBaseURL: controllerBaseURL,
		accessToken:       accessToken,
		httpClient:        httpClient,
		inner:             mgpp.NewTTLCache[[]NodeInfo](RefetchTTL),
	}
}

// Invalidate drops the cached snapshot; call this from the handler passed
// to mgpp.Dial/Accept when CacheID == CacheNodeStorageMap, and from the
// reconnect path (all caches, not just this one).
func (c *Cache) Invalidate() {
	c.inner.Drop(snapshotKey)
}

// Snapshot returns the full storage map, refetching from the controller if
// the cached copy is absent or expired.
func (c *Cache) Snapshot(ctx context.Context) ([]NodeInfo, error) {
	if nodes, ok := c.inner.Get(snapshotKey); ok {
		return nodes, nil
	}

	nodes, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.inner.Set(snapshotKey, nodes)
	return nodes, nil
}

func (c *Cache) fetch(ctx context.Context) ([]NodeInfo, error) {
	url := c.controllerBaseURL + "/api/internal/health/storage"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("storagemap: building request: %w", err)
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storagemap: fetching snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storagemap: controller returned %d", resp.StatusCode)
	}

	var wire contract.HealthStorageGetResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("storagemap: decoding snapshot: %w", err)
	}

	// The controller has already restricted peers to the ones it
	// currently considers live (Registry.LiveNodes), so LastBeat here is
	// only a freshness stamp for this cache entry, not the node's actual
	// last heartbeat time.
	now := time.Now()
	nodes := make([]NodeInfo, 0, len(wire.Peers))
	for id, peer := range wire.Peers {
		nodes = append(nodes, NodeInfo{
			NodeID:    id,
			Addr:      peer.Addr,
			MaxSpace:  peer.Storage.MaxSpace,
			UsedSpace: peer.Storage.UsedSpace,
			LastBeat:  now,
		})
	}
	return nodes, nil
}

// LiveNodes filters Snapshot to nodes whose last heartbeat is within
// maxAge — the view a placement planner running on a storage node should
// use, since it has no direct access to the controller's Registry.
func (c *Cache) LiveNodes(ctx context.Context, maxAge time.Duration) ([]NodeInfo, error) {
	all, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	live := make([]NodeInfo, 0, len(all))
	for _, n := range all {
		if time.Since(n.LastBeat) < maxAge {
			live = append(live, n)
		}
	}
	return live, nil
}
