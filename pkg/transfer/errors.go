package transfer

import "errors"

// ErrInterrupted is returned when a transfer's channel closes or an ack
// never arrives before AckTimeout. The caller knows how many bytes were
// acknowledged (Sender.Acked) and can resume from there on a fresh
// channel.
var ErrInterrupted = errors.New("transfer: interrupted before completion")

// ErrWindowTooLarge is returned when a peer negotiates a window above
// MaxWindow.
var ErrWindowTooLarge = errors.New("transfer: negotiated window exceeds MaxWindow")
