// Package transfer implements flow-controlled fragment bodies on top of a
// single mdsftp.Channel: a sender that slices a reader into fixed-size
// FileChunk frames bounded by a sliding acknowledgement window, and a
// receiver that reassembles them and emits RecvAck credits as it drains.
package transfer

import "time"

// FragmentSize is the default size of one FileChunk body, chosen to stay
// under common MTU-driven TCP segment boundaries without fragmenting at
// the IP layer on most networks.
const FragmentSize = 65535

// DefaultWindow is how many unacknowledged FileChunk frames a sender may
// have outstanding before it blocks waiting for a RecvAck, absent a
// windows negotiated via ReserveOk/PutOk.
const DefaultWindow = 8

// MaxWindow bounds what a peer may request via ReserveOk/PutOk — a runaway
// or malicious window value can't force unbounded buffering.
const MaxWindow = 64

// AckTimeout bounds how long a sender waits for a RecvAck before treating
// the stream as interrupted.
const AckTimeout = 30 * time.Second
