package transfer

import (
	"fmt"
	"io"
	"sync"

	"github.com/meowith/meowith/pkg/mdsftp"
)

// Receiver reassembles a sequence of FileChunk frames arriving on a
// channel into dst, acknowledging each frame in order as it is written.
// Out-of-order frames (arriving ahead of the next expected sequence, e.g.
// after a brief reorder on the wire) are buffered until the gap closes;
// MDSFTP channels are otherwise ordered per-stream so this should rarely
// trigger.
type Receiver struct {
	ch  *mdsftp.Channel
	dst io.Writer

	mu      sync.Mutex
	nextSeq uint32
	pending map[uint32]pendingFrame
	done    chan error
	isLast  bool
}

type pendingFrame struct {
	body   []byte
	isLast bool
}

// NewReceiver builds a receiver that writes incoming frames to dst and
// installs itself as ch's unsolicited-packet handler.
func NewReceiver(ch *mdsftp.Channel, dst io.Writer) *Receiver {
	r := &Receiver{
		ch:      ch,
		dst:     dst,
		pending: make(map[uint32]pendingFrame),
		done:    make(chan error, 1),
	}
	ch.SetHandler(mdsftp.HandlerFunc(r.handlePacket))
	return r
}

func (r *Receiver) handlePacket(_ *mdsftp.Channel, pkt mdsftp.RawPacket) error {
	if pkt.Type != mdsftp.PacketFileChunk {
		return nil
	}

	header, body, err := mdsftp.DecodeFileChunkHeader(pkt.Payload)
	if err != nil {
		r.fail(err)
		return err
	}

	r.mu.Lock()
	if header.ChunkSeq != r.nextSeq {
		// Buffer for later; acknowledge nothing yet so the sender's window
		// doesn't advance past a gap.
		r.pending[header.ChunkSeq] = pendingFrame{body: append([]byte(nil), body...), isLast: header.IsLast}
		r.mu.Unlock()
		return nil
	}

	if err := r.writeAndAdvanceLocked(header.ChunkSeq, body, header.IsLast); err != nil {
		r.mu.Unlock()
		r.fail(err)
		return err
	}
	r.mu.Unlock()
	return nil
}

// writeAndAdvanceLocked must be called with r.mu held. It writes seq's
// body, acks it, then drains any buffered frames that are now contiguous.
func (r *Receiver) writeAndAdvanceLocked(seq uint32, body []byte, isLast bool) error {
	if _, err := r.dst.Write(body); err != nil {
		return fmt.Errorf("transfer: writing frame %d: %w", seq, err)
	}
	if err := r.ack(seq); err != nil {
		return err
	}
	r.nextSeq = seq + 1

	finalIsLast := isLast
	for {
		next, ok := r.pending[r.nextSeq]
		if !ok {
			break
		}
		delete(r.pending, r.nextSeq)
		if _, err := r.dst.Write(next.body); err != nil {
			return fmt.Errorf("transfer: writing buffered frame %d: %w", r.nextSeq, err)
		}
		if err := r.ack(r.nextSeq); err != nil {
			return err
		}
		finalIsLast = next.isLast
		r.nextSeq++
	}

	if finalIsLast {
		r.isLast = true
		select {
		case r.done <- nil:
		default:
		}
	}
	return nil
}

func (r *Receiver) ack(seq uint32) error {
	payload := mdsftp.EncodeRecvAck(mdsftp.RecvAck{ChunkSeq: seq})
	if err := r.ch.Send(mdsftp.PacketRecvAck, payload); err != nil {
		return fmt.Errorf("transfer: acking frame %d: %w", seq, err)
	}
	return nil
}

func (r *Receiver) fail(err error) {
	select {
	case r.done <- err:
	default:
	}
}

// Wait blocks until the final frame (IsLast) has been received and
// written, or the channel closes/errors first.
func (r *Receiver) Wait() error {
	select {
	case err := <-r.done:
		return err
	case <-r.ch.Connection().Done():
		return ErrInterrupted
	}
}
