package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meowith/meowith/pkg/mdsftp"
)

// Sender slices a reader into fixed-size FileChunk frames and pushes them
// onto a channel, never holding more than window frames unacknowledged at
// once. Acks arrive out of band as RecvAck packets the channel's Handler
// hands to (*Sender).handleAck.
type Sender struct {
	ch       *mdsftp.Channel
	src      io.Reader
	fragSize int

	// permits is a counting semaphore seeded with window tokens: sending a
	// frame acquires one, a matching RecvAck releases it. Draining every
	// token back after the last frame is how Send confirms every byte was
	// acknowledged before returning.
	permits chan struct{}
	window  int

	lastAcked atomic.Int64
	nextSeq   atomic.Uint32

	mu        sync.Mutex
	ackNotify chan struct{}
}

// NewSender builds a windowed sender over ch. window must not exceed
// MaxWindow; callers typically derive it from a ReserveOk/PutOk response.
func NewSender(ch *mdsftp.Channel, src io.Reader, window uint16) (*Sender, error) {
	return newSender(ch, src, window, 0)
}

// NewResumedSender rebuilds a sender that continues numbering frames from
// startSeq: after an Interrupted transfer, the caller seeks src to the
// byte offset implied by the peer's last acked sequence and resumes
// numbering from there so the receiver's sequence space stays contiguous.
func NewResumedSender(ch *mdsftp.Channel, src io.Reader, window uint16, startSeq uint32) (*Sender, error) {
	return newSender(ch, src, window, startSeq)
}

func newSender(ch *mdsftp.Channel, src io.Reader, window uint16, startSeq uint32) (*Sender, error) {
	if window == 0 {
		window = DefaultWindow
	}
	if window > MaxWindow {
		return nil, ErrWindowTooLarge
	}

	s := &Sender{
		ch:       ch,
		src:      src,
		fragSize: FragmentSize,
		permits:  make(chan struct{}, window),
		window:   int(window),
	}
	s.lastAcked.Store(int64(startSeq) - 1)
	s.nextSeq.Store(startSeq)
	s.ackNotify = make(chan struct{})

	for i := uint16(0); i < window; i++ {
		s.permits <- struct{}{}
	}

	ch.SetHandler(mdsftp.HandlerFunc(func(_ *mdsftp.Channel, pkt mdsftp.RawPacket) error {
		if pkt.Type != mdsftp.PacketRecvAck {
			return nil
		}
		ack, err := mdsftp.DecodeRecvAck(pkt.Payload)
		if err != nil {
			return err
		}
		s.handleAck(ack.ChunkSeq)
		return nil
	}))

	return s, nil
}

func (s *Sender) handleAck(seq uint32) {
	s.mu.Lock()
	if int64(seq) > s.lastAcked.Load() {
		s.lastAcked.Store(int64(seq))
	}
	notify := s.ackNotify
	s.ackNotify = make(chan struct{})
	s.mu.Unlock()
	close(notify)

	select {
	case s.permits <- struct{}{}:
	default:
		// Already full: a duplicate or out-of-order ack. Harmless.
	}
}

// ackSignal returns the channel that closes the next time an ack advances
// lastAcked, used by drain to wait without polling.
func (s *Sender) ackSignal() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ackNotify
}

// Acked returns the highest fully-acknowledged sequence number, or -1 if
// nothing has been acked yet. A resumed transfer starts at Acked()+1.
func (s *Sender) Acked() int64 { return s.lastAcked.Load() }

// Send streams src to the channel as a sequence of FileChunk frames,
// blocking between frames as needed to respect the negotiated window, and
// returns once the final frame has been acknowledged.
func (s *Sender) Send(ctx context.Context) error {
	buf := make([]byte, s.fragSize)
	var finalSeq uint32
	sentAny := false

	for {
		n, readErr := io.ReadFull(s.src, buf)
		isLast := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if readErr != nil && !isLast {
			return fmt.Errorf("transfer: reading source: %w", readErr)
		}
		if n == 0 && !sentAny {
			// Empty input: still send one zero-length final frame so the
			// receiver observes is_last without ever seeing a body.
		} else if n == 0 {
			break
		}

		if err := s.acquirePermit(ctx); err != nil {
			return err
		}

		seq := s.nextSeq.Add(1) - 1
		header := mdsftp.EncodeFileChunkHeader(mdsftp.FileChunkHeader{IsLast: isLast, ChunkSeq: seq})
		payload := append(header, buf[:n]...)
		if err := s.ch.Send(mdsftp.PacketFileChunk, payload); err != nil {
			return fmt.Errorf("transfer: sending frame %d: %w", seq, err)
		}
		sentAny = true
		finalSeq = seq

		if isLast {
			break
		}
	}

	return s.drain(ctx, finalSeq)
}

func (s *Sender) acquirePermit(ctx context.Context) error {
	select {
	case <-s.permits:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(AckTimeout):
		return ErrInterrupted
	}
}

// drain blocks until finalSeq has been acknowledged, i.e. every
// outstanding frame up to and including the last one sent has a matching
// RecvAck.
func (s *Sender) drain(ctx context.Context, finalSeq uint32) error {
	deadline := time.Now().Add(AckTimeout)
	for s.lastAcked.Load() < int64(finalSeq) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrInterrupted
		}

		select {
		case <-s.ackSignal():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(remaining):
			return ErrInterrupted
		}
	}
	return nil
}
