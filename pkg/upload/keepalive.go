package upload

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
)

// KeepAlive runs the background task started the moment a plan's
// fragments are reserved: every KeepAliveInterval it issues
// Commit{keep_alive} to every reserved (not-yet-committed) fragment so
// none of them expire while the transfer is still in flight. Call Stop
// when the transfer completes or is cancelled.
type KeepAlive struct {
	selfID    uuid.UUID
	ledgerRef *ledger.Ledger
	fragments []ReservedFragment
	cancel    context.CancelFunc
	done      chan struct{}
}

// StartKeepAlive launches the ticker goroutine and returns a handle to
// stop it.
func StartKeepAlive(ctx context.Context, selfID uuid.UUID, l *ledger.Ledger, fragments []ReservedFragment) *KeepAlive {
	ctx, cancel := context.WithCancel(ctx)
	k := &KeepAlive{
		selfID:    selfID,
		ledgerRef: l,
		fragments: fragments,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go k.run(ctx)
	return k
}

func (k *KeepAlive) run(ctx context.Context) {
	defer close(k.done)

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	log := logger.With(logger.Procedure("upload.KeepAlive"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, f := range k.fragments {
				if err := k.beat(ctx, f); err != nil {
					log.Warn("keep-alive failed", logger.NodeID(f.NodeID.String()), logger.ChunkID(f.ChunkID.String()), logger.Err(err))
				}
			}
		}
	}
}

func (k *KeepAlive) beat(ctx context.Context, f ReservedFragment) error {
	if f.Channel == nil {
		return k.ledgerRef.KeepAlive(ctx, f.ChunkID)
	}
	payload := mdsftp.EncodeCommit(mdsftp.Commit{Flags: mdsftp.CommitKeepAlive, Chunk: f.ChunkID})
	return f.Channel.Send(mdsftp.PacketCommit, payload)
}

// Stop ends the keep-alive loop and waits for the goroutine to exit.
func (k *KeepAlive) Stop() {
	k.cancel()
	<-k.done
}
