package mdsftp

import "errors"

var (
	ErrHandshakeFailed  = errors.New("mdsftp: handshake failed")
	ErrConnectionClosed = errors.New("mdsftp: connection closed")
	ErrChannelClosed    = errors.New("mdsftp: channel closed")
	ErrMaxChannels      = errors.New("mdsftp: connection has exhausted its channel id space")
	ErrUnexpectedPacket = errors.New("mdsftp: unexpected packet type for pending request")
	ErrRequestTimeout   = errors.New("mdsftp: request timed out waiting for response")
	ErrNoConnections    = errors.New("mdsftp: no connection available for peer")
	ErrShuttingDown     = errors.New("mdsftp: pool is shutting down")
)
