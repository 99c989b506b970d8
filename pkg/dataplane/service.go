// Package dataplane wires the fragment ledger, the MDSFTP pool, and the
// Cassandra metadata store together into the actual upload and download
// flows a storage node's public HTTP surface calls into: reserving and
// streaming a new file's fragments across the cluster, reassembling a
// file's fragments back out, and driving a durable upload across resumes.
// It sits above pkg/upload (which only plans and tracks state) and
// pkg/fragserver (which only answers a peer's requests against this
// node's own ledger): dataplane.Service is the side that originates a
// Reserve/Put/Retrieve/Commit exchange instead of answering one.
package dataplane

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/merr"
	"github.com/meowith/meowith/pkg/metadata/cassandra"
	metricsprom "github.com/meowith/meowith/pkg/metrics/prometheus"
	"github.com/meowith/meowith/pkg/permission"
	"github.com/meowith/meowith/pkg/transfer"
	"github.com/meowith/meowith/pkg/upload"
)

const defaultRetrieveWindow = transfer.DefaultWindow

// Service is a storage node's data-plane front end, grounded on
// original_source's file_access_service.rs/file_io_service.rs/
// chunk_service.rs split: upload/download orchestration, byte transfer,
// and commit/query each had their own file there, combined here since Go
// idiom favors one receiver type per package over per-concern free
// functions threading a shared app-state struct.
type Service struct {
	SelfID   uuid.UUID
	Ledger   *ledger.Ledger
	Chunks   *ledger.ChunkStore
	Planner  *upload.Planner
	Pool     *mdsftp.Pool
	Metadata *cassandra.Store
	Sessions upload.Store
	Metrics  *metricsprom.DataplaneMetrics
}

func requirePerm(allowed permission.Allowance, want permission.Perm) error {
	if !allowed.Has(want) {
		return merr.New(merr.CodeBadAuth, "missing required permission")
	}
	return nil
}

// UploadOneshot reserves space for a new file across the cluster, streams
// reader into it as a single pass, and writes the resulting file row —
// the single-call path, as opposed to a durable upload's start/put/resume
// sequence.
func (svc *Service) UploadOneshot(ctx context.Context, appID, bucketID, directory uuid.UUID, name string, size uint64, reader io.Reader, allowed permission.Allowance) (file *cassandra.File, err error) {
	start := time.Now()
	defer func() {
		svc.Metrics.ObserveOperation("upload_oneshot", time.Since(start), err)
		if err == nil {
			svc.Metrics.RecordBytes("upload", int64(size))
		}
	}()

	if err = requirePerm(allowed, permission.PermUploadFile); err != nil {
		return nil, err
	}

	bucket, err := svc.Metadata.GetBucket(appID, bucketID)
	if err != nil {
		return nil, fmt.Errorf("dataplane: loading bucket: %w", err)
	}

	existing, existErr := svc.Metadata.GetFile(bucketID, directory, name)
	overwrite := existErr == nil
	if overwrite {
		if err := requirePerm(allowed, permission.PermUploadFile); err != nil {
			return nil, err
		}
	}

	deltaBytes := int64(size)
	if overwrite {
		deltaBytes -= existing.Size
	}
	if bucket.SpaceTaken+deltaBytes > bucket.Quota {
		return nil, merr.New(merr.CodeInsufficientStorage, "bucket quota exceeded")
	}

	reservation, err := svc.Planner.ReserveChunks(ctx, size, mdsftp.ReserveFlags{AutoStart: true, Overwrite: overwrite}, upload.PreferSelfThenMostFree)
	if err != nil {
		return nil, err
	}

	keepAlive := upload.StartKeepAlive(ctx, svc.SelfID, svc.Ledger, reservation.Fragments)
	transferErr := svc.transferOneshot(ctx, reader, reservation.Fragments)
	keepAlive.Stop()

	if transferErr != nil {
		svc.abortFragments(ctx, reservation.Fragments)
		return nil, fmt.Errorf("dataplane: upload transfer failed: %w", transferErr)
	}

	if err := svc.commitFragments(ctx, reservation.Fragments, mdsftp.CommitFinal); err != nil {
		svc.abortFragments(ctx, reservation.Fragments)
		return nil, fmt.Errorf("dataplane: committing fragments: %w", err)
	}

	file = &cassandra.File{
		BucketID:  bucketID,
		Directory: directory,
		Name:      name,
		ID:        uuid.New(),
		Size:      int64(size),
		Chunks:    fragmentsToChunks(reservation.Fragments),
	}
	if err := svc.Metadata.CreateFile(file); err != nil {
		return nil, fmt.Errorf("dataplane: writing file row: %w", err)
	}

	// Only reclaim the overwritten file's fragments once the replacement
	// has fully landed, so a crash mid-upload never leaves a bucket with
	// neither copy intact (the delete-old-after-commit decision recorded
	// for this exact scenario).
	if overwrite && !bucket.AtomicUpload {
		svc.deleteFileFragments(ctx, existing)
	}

	deltaFiles := int64(0)
	if !overwrite {
		deltaFiles = 1
	}
	if err := svc.Metadata.AdjustUsage(appID, bucketID, deltaFiles, deltaBytes); err != nil {
		logger.With(logger.BucketID(bucketID.String())).Warn("dataplane: usage counters out of sync", logger.Err(err))
	}

	return file, nil
}

func (svc *Service) transferOneshot(ctx context.Context, reader io.Reader, fragments []upload.ReservedFragment) error {
	for _, f := range fragments {
		limited := io.LimitReader(reader, int64(f.Size))
		if err := svc.putFragment(ctx, f, limited, false); err != nil {
			return err
		}
	}
	return nil
}

// putFragment streams exactly src's bytes into a single reserved fragment,
// locally via the chunk store or remotely via a fresh Put exchange on the
// fragment's already-open reservation channel.
func (svc *Service) putFragment(ctx context.Context, f upload.ReservedFragment, src io.Reader, resume bool) error {
	if f.Channel == nil {
		var w io.WriteCloser
		var err error
		if resume {
			w, err = svc.Chunks.Append(f.ChunkID)
		} else {
			w, err = svc.Chunks.Create(f.ChunkID)
		}
		if err != nil {
			return fmt.Errorf("dataplane: opening local chunk %s: %w", f.ChunkID, err)
		}
		defer w.Close()
		_, err = io.Copy(w, src)
		return err
	}

	payload := mdsftp.EncodePut(mdsftp.Put{Chunk: f.ChunkID, Size: f.Size})
	raw, err := f.Channel.Request(ctx, mdsftp.PacketPut, payload, mdsftp.PacketPutOk, mdsftp.PacketPutErr)
	if err != nil {
		return fmt.Errorf("dataplane: requesting put on %s: %w", f.NodeID, err)
	}
	if raw.Type == mdsftp.PacketPutErr {
		return merr.New(merr.CodeNotFound, "peer rejected put")
	}
	ok, err := mdsftp.DecodePutOk(raw.Payload)
	if err != nil {
		return err
	}

	sender, err := transfer.NewSender(f.Channel, src, ok.Window)
	if err != nil {
		return err
	}
	return sender.Send(ctx)
}

// commitFragments sends Commit to every remote fragment and calls
// Ledger.Commit/KeepAlive/Cancel locally, collecting the first error but
// still attempting every fragment so one bad peer doesn't leave the rest
// of the plan's reservations dangling.
func (svc *Service) commitFragments(ctx context.Context, fragments []upload.ReservedFragment, flags mdsftp.CommitFlags) error {
	var firstErr error
	for _, f := range fragments {
		err := svc.commitOne(ctx, f, flags)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// commitOne issues a single fragment's commit, either locally or over the
// fragment's already-open channel, or a freshly opened one if the
// reservation didn't keep one around (e.g. a resumed durable session).
func (svc *Service) commitOne(ctx context.Context, f upload.ReservedFragment, flags mdsftp.CommitFlags) error {
	if f.NodeID == svc.SelfID {
		switch flags {
		case mdsftp.CommitFinal:
			return svc.Ledger.Commit(ctx, f.ChunkID)
		case mdsftp.CommitKeepAlive:
			return svc.Ledger.KeepAlive(ctx, f.ChunkID)
		case mdsftp.CommitReject:
			return svc.Ledger.Cancel(ctx, f.ChunkID)
		}
		return nil
	}

	ch := f.Channel
	if ch == nil {
		opened, err := svc.Pool.Channel(f.NodeID, nil)
		if err != nil {
			return fmt.Errorf("dataplane: opening channel to %s: %w", f.NodeID, err)
		}
		defer opened.Close()
		ch = opened
	}
	return ch.Send(mdsftp.PacketCommit, mdsftp.EncodeCommit(mdsftp.Commit{Flags: flags, Chunk: f.ChunkID}))
}

func (svc *Service) abortFragments(ctx context.Context, fragments []upload.ReservedFragment) {
	if err := svc.commitFragments(ctx, fragments, mdsftp.CommitReject); err != nil {
		logger.Warn("dataplane: aborting fragments left some uncancelled", logger.Err(err))
	}
}

func (svc *Service) deleteFileFragments(ctx context.Context, file *cassandra.File) {
	for _, c := range file.Chunks {
		if c.ServerID == svc.SelfID {
			if err := svc.Ledger.Delete(ctx, c.ChunkID); err != nil {
				logger.With(logger.ChunkID(c.ChunkID.String())).Warn("dataplane: local delete failed", logger.Err(err))
			}
			if err := svc.Chunks.Remove(c.ChunkID); err != nil {
				logger.With(logger.ChunkID(c.ChunkID.String())).Warn("dataplane: removing chunk file failed", logger.Err(err))
			}
			continue
		}
		ch, err := svc.Pool.Channel(c.ServerID, nil)
		if err != nil {
			logger.With(logger.NodeID(c.ServerID.String())).Warn("dataplane: no channel to delete remote fragment", logger.Err(err))
			continue
		}
		if err := ch.Send(mdsftp.PacketDeleteChunk, mdsftp.EncodeDeleteChunk(mdsftp.DeleteChunk{Chunk: c.ChunkID})); err != nil {
			logger.With(logger.NodeID(c.ServerID.String())).Warn("dataplane: remote delete failed", logger.Err(err))
		}
		_ = ch.Close()
	}
}

// DeleteFile removes a file's metadata row and reclaims every one of its
// fragments across the cluster.
func (svc *Service) DeleteFile(ctx context.Context, appID, bucketID, directory uuid.UUID, name string, allowed permission.Allowance) (err error) {
	start := time.Now()
	defer func() { svc.Metrics.ObserveOperation("delete", time.Since(start), err) }()

	if err = requirePerm(allowed, permission.PermDeleteFile); err != nil {
		return err
	}
	file, err := svc.Metadata.GetFile(bucketID, directory, name)
	if err != nil {
		return err
	}
	svc.deleteFileFragments(ctx, file)
	if err := svc.Metadata.DeleteFile(bucketID, directory, name); err != nil {
		return err
	}
	return svc.Metadata.AdjustUsage(appID, bucketID, -1, -file.Size)
}

// Download reassembles [rangeStart, rangeEnd) of a file's bytes into out,
// in chunk order; rangeEnd of 0 means "to the end of the file".
func (svc *Service) Download(ctx context.Context, bucketID, directory uuid.UUID, name string, out io.Writer, rangeStart, rangeEnd uint64, allowed permission.Allowance) (err error) {
	start := time.Now()
	defer func() { svc.Metrics.ObserveOperation("download", time.Since(start), err) }()

	if err = requirePerm(allowed, permission.PermDownloadFile); err != nil {
		return err
	}
	file, err := svc.Metadata.GetFile(bucketID, directory, name)
	if err != nil {
		return err
	}
	if rangeEnd == 0 || rangeEnd > uint64(file.Size) {
		rangeEnd = uint64(file.Size)
	}

	chunks := append([]cassandra.FileChunk(nil), file.Chunks...)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkOrder < chunks[j].ChunkOrder })

	var offset uint64
	for _, c := range chunks {
		chunkStart, chunkEnd := offset, offset+uint64(c.ChunkSize)
		offset = chunkEnd
		if chunkEnd <= rangeStart || chunkStart >= rangeEnd {
			continue
		}
		localStart := uint64(0)
		if rangeStart > chunkStart {
			localStart = rangeStart - chunkStart
		}
		localEnd := uint64(c.ChunkSize)
		if rangeEnd < chunkEnd {
			localEnd = rangeEnd - chunkStart
		}
		if err := svc.fetchChunkRange(ctx, c, localStart, localEnd, out); err != nil {
			return fmt.Errorf("dataplane: fetching chunk %s: %w", c.ChunkID, err)
		}
	}
	svc.Metrics.RecordBytes("download", int64(rangeEnd-rangeStart))
	return nil
}

func (svc *Service) fetchChunkRange(ctx context.Context, c cassandra.FileChunk, start, end uint64, out io.Writer) error {
	if c.ServerID == svc.SelfID {
		f, err := svc.Chunks.Open(c.ChunkID)
		if err != nil {
			return err
		}
		defer f.Close()
		if start > 0 {
			if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
				return err
			}
		}
		_, err = io.Copy(out, io.LimitReader(f, int64(end-start)))
		return err
	}

	ch, err := svc.Pool.Channel(c.ServerID, nil)
	if err != nil {
		return fmt.Errorf("opening channel to %s: %w", c.ServerID, err)
	}
	defer ch.Close()

	receiver := transfer.NewReceiver(ch, out)
	payload := mdsftp.EncodeRetrieve(mdsftp.Retrieve{Chunk: c.ChunkID, Window: defaultRetrieveWindow, RangeStart: start, RangeEnd: end})
	if err := ch.Send(mdsftp.PacketRetrieve, payload); err != nil {
		return err
	}
	return receiver.Wait()
}

func fragmentsToChunks(fragments []upload.ReservedFragment) []cassandra.FileChunk {
	chunks := make([]cassandra.FileChunk, len(fragments))
	for i, f := range fragments {
		chunks[i] = cassandra.FileChunk{ServerID: f.NodeID, ChunkID: f.ChunkID, ChunkSize: int64(f.Size), ChunkOrder: int8(i)}
	}
	return chunks
}
