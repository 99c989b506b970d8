package dataplane

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/merr"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	"github.com/meowith/meowith/pkg/permission"
	"github.com/meowith/meowith/pkg/upload"
)

// StartDurable reserves a durable upload's fragments across the cluster
// and records a resumable session for them, without transferring any
// bytes yet — the three-call split (start/put/resume) a client that can't
// hold one long-lived connection open needs, as opposed to UploadOneshot's
// single pass.
func (svc *Service) StartDurable(ctx context.Context, appID, bucketID uuid.UUID, path string, size uint64, allowed permission.Allowance) (*upload.Session, error) {
	if err := requirePerm(allowed, permission.PermUploadFile); err != nil {
		return nil, err
	}

	bucket, err := svc.Metadata.GetBucket(appID, bucketID)
	if err != nil {
		return nil, fmt.Errorf("dataplane: loading bucket: %w", err)
	}
	if bucket.SpaceTaken+int64(size) > bucket.Quota {
		return nil, merr.New(merr.CodeInsufficientStorage, "bucket quota exceeded")
	}

	reservation, err := svc.Planner.ReserveChunks(ctx, size, mdsftp.ReserveFlags{Durable: true}, upload.PreferSelfThenMostFree)
	if err != nil {
		return nil, err
	}

	// The session only ever needs to know where each fragment lives, not
	// which connection reserved it: a resume may land on a different node
	// than the one that called StartDurable.
	refs := make([]upload.FragmentRef, len(reservation.Fragments))
	for i, f := range reservation.Fragments {
		refs[i] = upload.FragmentRef{NodeID: f.NodeID, ChunkID: f.ChunkID, Size: f.Size, ChunkOrder: int8(i)}
		if f.Channel != nil {
			_ = f.Channel.Close()
		}
	}

	session := &upload.Session{
		AppID:      appID,
		BucketID:   bucketID,
		Path:       path,
		TargetSize: size,
		Durable:    true,
		Fragments:  refs,
		State:      upload.AwaitingData,
	}
	if err := svc.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("dataplane: creating session: %w", err)
	}
	return session, nil
}

// fragmentOffset reports how many bytes of a session fragment are already
// on disk, so PutDurable/ResumeDurable can skip what a prior attempt
// already delivered.
func (svc *Service) fragmentOffset(ctx context.Context, f upload.FragmentRef) (uint64, error) {
	if f.NodeID == svc.SelfID {
		n, err := svc.Chunks.Size(f.ChunkID)
		return uint64(n), err
	}

	ch, err := svc.Pool.Channel(f.NodeID, nil)
	if err != nil {
		return 0, fmt.Errorf("dataplane: opening channel to %s: %w", f.NodeID, err)
	}
	defer ch.Close()

	raw, err := ch.Request(ctx, mdsftp.PacketQuery, mdsftp.EncodeQuery(mdsftp.Query{Chunk: f.ChunkID}), mdsftp.PacketQueryResponse)
	if err != nil {
		return 0, err
	}
	resp, err := mdsftp.DecodeQueryResponse(raw.Payload)
	if err != nil {
		return 0, err
	}
	if !resp.Exists {
		return 0, nil
	}
	return resp.Size, nil
}

// ResumeDurable reports how many bytes of a session's target are already
// durable on disk across every fragment, so a client that lost its
// connection mid-put knows where to seek its own source before calling
// PutDurable again.
func (svc *Service) ResumeDurable(ctx context.Context, sessionID uuid.UUID) (uint64, error) {
	session, err := svc.Sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session.State == upload.TimedOut {
		return 0, upload.ErrSessionExpired
	}

	var total uint64
	for _, f := range session.Fragments {
		n, err := svc.fragmentOffset(ctx, f)
		if err != nil {
			return 0, fmt.Errorf("dataplane: querying fragment %s: %w", f.ChunkID, err)
		}
		total += n
		if n < f.Size {
			break
		}
	}
	return total, nil
}

// PutDurable streams reader into a session's fragments starting at the
// offset ResumeDurable last reported, committing every fragment and
// writing the file row once the target size has been fully delivered.
func (svc *Service) PutDurable(ctx context.Context, sessionID uuid.UUID, reader io.Reader, allowed permission.Allowance) (*cassandra.File, error) {
	if err := requirePerm(allowed, permission.PermUploadFile); err != nil {
		return nil, err
	}

	session, err := svc.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := svc.Sessions.CAS(ctx, sessionID, upload.AwaitingData, upload.Writing); err != nil {
		return nil, err
	}

	keepAlive := upload.StartKeepAlive(ctx, svc.SelfID, svc.Ledger, refsToReserved(session.Fragments))
	putErr := svc.streamDurable(ctx, session, reader)
	keepAlive.Stop()

	if putErr != nil {
		_ = svc.Sessions.CAS(ctx, sessionID, upload.Writing, upload.AwaitingData)
		return nil, fmt.Errorf("dataplane: durable put failed: %w", putErr)
	}

	fragments := refsToReserved(session.Fragments)
	if err := svc.commitFragments(ctx, fragments, mdsftp.CommitFinal); err != nil {
		_ = svc.Sessions.CAS(ctx, sessionID, upload.Writing, upload.AwaitingData)
		return nil, fmt.Errorf("dataplane: committing durable fragments: %w", err)
	}

	// Session.Path carries the file's full slash-separated path; directory
	// resolution into a row id is the HTTP edge's job (it already needs to
	// do the same walk for the oneshot endpoint), so it isn't duplicated
	// here.
	file := &cassandra.File{
		BucketID:  session.BucketID,
		Directory: cassandra.RootDirectory,
		Name:      session.Path,
		ID:        uuid.New(),
		Size:      int64(session.TargetSize),
		Chunks:    fragmentRefsToChunks(session.Fragments),
	}
	if err := svc.Metadata.CreateFile(file); err != nil {
		return nil, fmt.Errorf("dataplane: writing file row: %w", err)
	}
	if err := svc.Metadata.AdjustUsage(session.AppID, session.BucketID, 1, int64(session.TargetSize)); err != nil {
		logger.With(logger.BucketID(session.BucketID.String())).Warn("dataplane: usage counters out of sync", logger.Err(err))
	}
	if err := svc.Sessions.Delete(ctx, sessionID); err != nil {
		logger.With(logger.SessionID(sessionID.String())).Warn("dataplane: session cleanup failed", logger.Err(err))
	}
	return file, nil
}

// streamDurable walks the session's fragments in order, writing each one's
// still-missing bytes from reader. The caller is expected to have already
// seeked reader to the cumulative uploaded_size ResumeDurable reported, so
// reader's first byte is the first missing byte of the first not-yet-full
// fragment: nothing here needs to discard bytes to catch up.
func (svc *Service) streamDurable(ctx context.Context, session *upload.Session, reader io.Reader) error {
	for _, f := range session.Fragments {
		already, err := svc.fragmentOffset(ctx, f)
		if err != nil {
			return err
		}
		remaining := f.Size - already
		if remaining == 0 {
			continue
		}

		reserved := fragmentToReserved(f)
		if f.NodeID != svc.SelfID {
			ch, err := svc.Pool.Channel(f.NodeID, nil)
			if err != nil {
				return fmt.Errorf("dataplane: opening channel to %s: %w", f.NodeID, err)
			}
			reserved.Channel = ch
		}

		limited := io.LimitReader(reader, int64(remaining))
		err = svc.putFragment(ctx, reserved, limited, already > 0)
		if reserved.Channel != nil {
			_ = reserved.Channel.Close()
		}
		if err != nil {
			return fmt.Errorf("dataplane: streaming fragment %s: %w", f.ChunkID, err)
		}
	}
	return nil
}

func fragmentToReserved(f upload.FragmentRef) upload.ReservedFragment {
	return upload.ReservedFragment{NodeID: f.NodeID, ChunkID: f.ChunkID, Size: f.Size}
}

func refsToReserved(refs []upload.FragmentRef) []upload.ReservedFragment {
	out := make([]upload.ReservedFragment, len(refs))
	for i, f := range refs {
		out[i] = fragmentToReserved(f)
	}
	return out
}

func fragmentRefsToChunks(refs []upload.FragmentRef) []cassandra.FileChunk {
	chunks := make([]cassandra.FileChunk, len(refs))
	for i, f := range refs {
		chunks[i] = cassandra.FileChunk{ServerID: f.NodeID, ChunkID: f.ChunkID, ChunkSize: int64(f.Size), ChunkOrder: f.ChunkOrder}
	}
	return chunks
}
