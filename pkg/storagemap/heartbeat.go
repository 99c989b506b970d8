package storagemap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/meowith/meowith/internal/logger"
)

// DefaultHeartbeatInterval is how often a node posts its capacity when no
// material change has happened in the meantime.
const DefaultHeartbeatInterval = 2 * time.Second

// CapacitySource reports a node's current capacity figures; pkg/ledger's
// Ledger satisfies this directly (AvailableSpace/UsedSpace plus a known
// MaxBytes).
type CapacitySource interface {
	UsedSpace() uint64
	MaxBytes() uint64
}

// Poster runs the storage-node side of the heartbeat loop: it posts
// {max_space, used_space} to the controller on a fixed interval, and
// immediately on any call to Nudge (a materially-sized Reserve/Commit/
// Delete), so the controller doesn't wait a full interval to learn about
// a large capacity swing.
type Poster struct {
	controllerBaseURL string
	accessToken       string
	interval          time.Duration
	source            CapacitySource
	httpClient        *http.Client

	nudge   chan struct{}
	closeCh chan struct{}
}

// NewPoster builds a heartbeat poster. interval <= 0 uses
// DefaultHeartbeatInterval.
func NewPoster(controllerBaseURL, accessToken string, interval time.Duration, source CapacitySource, httpClient *http.Client) *Poster {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Poster{
		controllerBaseURL: controllerBaseURL,
		accessToken:       accessToken,
		interval:          interval,
		source:            source,
		httpClient:        httpClient,
		nudge:             make(chan struct{}, 1),
		closeCh:           make(chan struct{}),
	}
}

// Nudge requests an out-of-band heartbeat post as soon as the loop next
// wakes, without waiting for the next tick. Non-blocking: a pending nudge
// already queued is enough.
func (p *Poster) Nudge() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Run drives the heartbeat loop until ctx is cancelled or Stop is called.
func (p *Poster) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	log := logger.With(logger.Procedure("storagemap.Poster"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closeCh:
			return
		case <-ticker.C:
			if err := p.post(ctx); err != nil {
				log.Warn("heartbeat post failed", logger.Err(err))
			}
		case <-p.nudge:
			if err := p.post(ctx); err != nil {
				log.Warn("heartbeat post failed", logger.Err(err))
			}
			ticker.Reset(p.interval)
		}
	}
}

// Stop ends the loop started by Run.
func (p *Poster) Stop() {
	close(p.closeCh)
}

func (p *Poster) post(ctx context.Context) error {
	report := HeartbeatReport{
		MaxSpace:  p.source.MaxBytes(),
		UsedSpace: p.source.UsedSpace(),
	}
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("storagemap: encoding heartbeat: %w", err)
	}

	url := p.controllerBaseURL + "/api/internal/health/storage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("storagemap: building heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.accessToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storagemap: posting heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("storagemap: controller returned %d", resp.StatusCode)
	}
	return nil
}
