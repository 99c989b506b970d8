// Package fragserver is the node-local MDSFTP request server: the
// openHandler wired into every mdsftp.Connection so a peer node can
// reserve, put, retrieve, query, lock, delete, and commit fragments held
// by this node. It is the receiving end of everything pkg/upload's
// Planner and KeepAlive send.
package fragserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/meowith/meowith/internal/logger"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/merr"
	"github.com/meowith/meowith/pkg/transfer"
)

// RequestTimeout bounds how long a single Reserve/Query/Lock/Delete
// exchange may take to answer; it does not bound a Put/Retrieve body
// transfer, which is governed by transfer.AckTimeout instead.
const RequestTimeout = 10 * time.Second

// Server answers MDSFTP requests against this node's fragment ledger and
// chunk store. A single Server is shared by every connection a node
// accepts or dials; Handler binds it to one freshly opened channel.
type Server struct {
	Ledger *ledger.Ledger
	Chunks *ledger.ChunkStore
}

// Handler returns the openHandler a Connection/Pool invokes for every
// channel a peer opens, satisfying the func(ch *mdsftp.Channel)
// mdsftp.Handler contract consumed by mdsftp.Dial/Accept/Pool.
func (s *Server) Handler(ch *mdsftp.Channel) mdsftp.Handler {
	return mdsftp.HandlerFunc(func(ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
		return s.dispatch(ch, pkt)
	})
}

func (s *Server) dispatch(ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	ctx, cancel := context.WithTimeout(context.Background(), RequestTimeout)
	defer cancel()

	switch pkt.Type {
	case mdsftp.PacketReserve:
		return s.handleReserve(ctx, ch, pkt)
	case mdsftp.PacketReserveCancel:
		return s.handleReserveCancel(ctx, ch, pkt)
	case mdsftp.PacketPut:
		return s.handlePut(ch, pkt) // owns its own, longer-lived context
	case mdsftp.PacketRetrieve:
		return s.handleRetrieve(ch, pkt)
	case mdsftp.PacketQuery:
		return s.handleQuery(ctx, ch, pkt)
	case mdsftp.PacketLockReq:
		return s.handleLockReq(ctx, ch, pkt)
	case mdsftp.PacketDeleteChunk:
		return s.handleDeleteChunk(ctx, ch, pkt)
	case mdsftp.PacketCommit:
		return s.handleCommit(ctx, ch, pkt)
	default:
		logger.Debug("fragserver: ignoring unsolicited packet", logger.PacketType(pkt.Type.String()))
		return nil
	}
}

func (s *Server) handleReserve(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeReserve(pkt.Payload)
	if err != nil {
		return err
	}

	chunkID, err := s.Ledger.Reserve(ctx, req.Desired, req.Flags.Durable)
	if err != nil {
		available := s.Ledger.AvailableSpace()
		var me *merr.Error
		if errors.As(err, &me) && me.Code == merr.CodeReserveError {
			available = me.Available
		}
		return ch.Send(mdsftp.PacketReserveErr, mdsftp.EncodeReserveErr(mdsftp.ReserveErr{AvailableBytes: available}))
	}

	window := uint16(transfer.DefaultWindow)
	return ch.Send(mdsftp.PacketReserveOk, mdsftp.EncodeReserveOk(mdsftp.ReserveOk{Chunk: chunkID, Window: window}))
}

func (s *Server) handleReserveCancel(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeReserveCancel(pkt.Payload)
	if err != nil {
		return err
	}
	if err := s.Ledger.Cancel(ctx, req.Chunk); err != nil {
		logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: reserve cancel failed", logger.Err(err))
	}
	return nil
}

// handlePut answers a Put request and, once accepted, drives the body
// transfer to completion in the background: the peer has already been
// told which window to use by the time this returns, and the channel's
// lifetime from here on belongs to the transfer.Receiver this installs.
func (s *Server) handlePut(ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodePut(pkt.Payload)
	if err != nil {
		return err
	}
	flags := mdsftp.ParseReserveFlags(req.Flags)

	guard, err := s.Ledger.WriteLock(context.Background(), req.Chunk)
	if err != nil {
		return ch.Send(mdsftp.PacketPutErr, mdsftp.EncodePutErr(mdsftp.PutErr{Kind: mdsftp.ChunkNotAvailable}))
	}

	f, openErr := s.openForPut(req.Chunk, flags)
	if openErr != nil {
		guard.Release()
		kind := mdsftp.ChunkNotFound
		return ch.Send(mdsftp.PacketPutErr, mdsftp.EncodePutErr(mdsftp.PutErr{Kind: kind}))
	}

	window := uint16(transfer.DefaultWindow)
	if err := ch.Send(mdsftp.PacketPutOk, mdsftp.EncodePutOk(mdsftp.PutOk{Window: window})); err != nil {
		_ = f.Close()
		guard.Release()
		return err
	}

	receiver := transfer.NewReceiver(ch, f)
	go func() {
		defer guard.Release()
		defer f.Close()
		if err := receiver.Wait(); err != nil {
			logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: put transfer interrupted", logger.Err(err))
		}
	}()
	return nil
}

// openForPut creates a fresh chunk file, or reopens an existing pending
// one in append mode when the peer is resuming a durable upload.
func (s *Server) openForPut(chunk uuid.UUID, flags mdsftp.ReserveFlags) (io.WriteCloser, error) {
	if flags.Temp {
		return s.Chunks.Create(chunk)
	}
	f, err := s.Chunks.Create(chunk)
	if err == nil {
		return f, nil
	}
	return s.Chunks.Append(chunk)
}

func (s *Server) handleRetrieve(ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeRetrieve(pkt.Payload)
	if err != nil {
		return err
	}

	guard, err := s.Ledger.ReadLock(context.Background(), req.Chunk)
	if err != nil {
		return ch.Send(mdsftp.PacketPutErr, mdsftp.EncodePutErr(mdsftp.PutErr{Kind: mdsftp.ChunkNotAvailable}))
	}

	size, statErr := s.Ledger.Stat(context.Background(), req.Chunk)
	if statErr != nil {
		guard.Release()
		return ch.Send(mdsftp.PacketPutErr, mdsftp.EncodePutErr(mdsftp.PutErr{Kind: mdsftp.ChunkNotFound}))
	}

	f, err := s.Chunks.Open(req.Chunk)
	if err != nil {
		guard.Release()
		return ch.Send(mdsftp.PacketPutErr, mdsftp.EncodePutErr(mdsftp.PutErr{Kind: mdsftp.ChunkNotFound}))
	}

	var src io.Reader = f
	if req.RangeEnd > req.RangeStart && req.RangeEnd <= size {
		if _, err := f.Seek(int64(req.RangeStart), io.SeekStart); err != nil {
			f.Close()
			guard.Release()
			return err
		}
		src = io.LimitReader(f, int64(req.RangeEnd-req.RangeStart))
	}

	window := req.Window
	if window == 0 || window > transfer.MaxWindow {
		window = transfer.DefaultWindow
	}
	sender, err := transfer.NewSender(ch, src, window)
	if err != nil {
		f.Close()
		guard.Release()
		return err
	}

	go func() {
		defer guard.Release()
		defer f.Close()
		if err := sender.Send(context.Background()); err != nil {
			logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: retrieve transfer interrupted", logger.Err(err))
		}
	}()
	return nil
}

func (s *Server) handleQuery(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeQuery(pkt.Payload)
	if err != nil {
		return err
	}
	size, statErr := s.Ledger.Stat(ctx, req.Chunk)
	if statErr != nil {
		return ch.Send(mdsftp.PacketQueryResponse, mdsftp.EncodeQueryResponse(mdsftp.QueryResponse{Exists: false}))
	}
	return ch.Send(mdsftp.PacketQueryResponse, mdsftp.EncodeQueryResponse(mdsftp.QueryResponse{Exists: true, Size: size}))
}

func (s *Server) handleLockReq(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeLockReq(pkt.Payload)
	if err != nil {
		return err
	}

	var guard *ledger.FileGuard
	var lockErr error
	if req.Kind == mdsftp.LockWrite {
		guard, lockErr = s.Ledger.WriteLock(ctx, req.Chunk)
	} else {
		guard, lockErr = s.Ledger.ReadLock(ctx, req.Chunk)
	}
	if lockErr != nil {
		return ch.Send(mdsftp.PacketLockErr, mdsftp.EncodeLockErr(mdsftp.LockErr{Kind: req.Kind, Chunk: req.Chunk}))
	}

	// The peer releases a lock implicitly by closing the channel; there is
	// no explicit unlock packet, matching the fragment ledger's own
	// lease-by-connection-lifetime model.
	go func() {
		<-ch.Connection().Done()
		guard.Release()
	}()

	return ch.Send(mdsftp.PacketLockAcquire, mdsftp.EncodeLockAcquire(mdsftp.LockAcquire{Kind: req.Kind, Chunk: req.Chunk}))
}

func (s *Server) handleDeleteChunk(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeDeleteChunk(pkt.Payload)
	if err != nil {
		return err
	}
	if err := s.Ledger.Delete(ctx, req.Chunk); err != nil {
		logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: delete chunk failed", logger.Err(err))
	}
	if err := s.Chunks.Remove(req.Chunk); err != nil {
		logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: removing chunk file failed", logger.Err(err))
	}
	return nil
}

func (s *Server) handleCommit(ctx context.Context, ch *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	req, err := mdsftp.DecodeCommit(pkt.Payload)
	if err != nil {
		return err
	}

	switch req.Flags {
	case mdsftp.CommitFinal:
		if err := s.Ledger.Commit(ctx, req.Chunk); err != nil {
			return fmt.Errorf("fragserver: committing chunk %s: %w", req.Chunk, err)
		}
	case mdsftp.CommitKeepAlive:
		if err := s.Ledger.KeepAlive(ctx, req.Chunk); err != nil {
			logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: keep-alive failed", logger.Err(err))
		}
	case mdsftp.CommitReject:
		if err := s.Ledger.Cancel(ctx, req.Chunk); err != nil {
			logger.With(logger.ChunkID(req.Chunk.String())).Warn("fragserver: reject cancel failed", logger.Err(err))
		}
	}
	return nil
}
