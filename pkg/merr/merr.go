// Package merr provides the error taxonomy shared by every layer of the data
// plane: the fragment ledger, the file lock table, MDSFTP, the upload-session
// manager, and the HTTP edges. It is a leaf package with no internal
// dependencies so that lower layers (ledger, mdsftp) and higher layers (api)
// can both depend on it without a cycle.
//
// Import graph: merr <- mdsftp, ledger, upload, storagemap <- api
package merr

import "fmt"

// Code identifies the kind of failure, independent of which layer produced it.
type Code int

const (
	// CodeInternal is an unexpected failure (ledger, DB, IO); logged at error level.
	CodeInternal Code = iota + 1

	// CodeInvalidCredentials covers bad JWTs, bad nonces, and peer-token mismatches.
	CodeInvalidCredentials

	// CodeBadAuth is an authentication failure distinct from a credentials
	// mismatch (e.g. the authenticator rejected the handshake outright).
	CodeBadAuth

	// CodeBadRequest covers malformed paths, overlong names, bad JSON bodies,
	// and a session observed in the wrong state.
	CodeBadRequest

	// CodeBadResourcePath is a malformed or unsafe resource path.
	CodeBadResourcePath

	// CodeNotFound covers a missing chunk, file, directory, bucket, app,
	// session, or register code.
	CodeNotFound

	// CodeEntityExists covers directory/file name collisions and non-empty
	// directory deletes.
	CodeEntityExists

	// CodeInsufficientStorage: over quota, out of cluster space, or a
	// reservation rejected by a peer.
	CodeInsufficientStorage

	// CodeReserveError carries the peer's reported available bytes; the
	// caller must refresh its storage-map entry before failing outward.
	CodeReserveError

	// CodeNoSuchChunkID: Query/Retrieve/Delete against a chunk id the ledger
	// does not know about.
	CodeNoSuchChunkID

	// CodeInterrupted: the channel or connection closed mid-operation.
	CodeInterrupted

	// CodeConnectionError covers TCP/TLS failures.
	CodeConnectionError

	// CodeShuttingDown: the pool or server is tearing down.
	CodeShuttingDown

	// CodeMaxChannels: a connection has exhausted its channel id space.
	CodeMaxChannels
)

func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "Internal"
	case CodeInvalidCredentials:
		return "InvalidCredentials"
	case CodeBadAuth:
		return "BadAuth"
	case CodeBadRequest:
		return "BadRequest"
	case CodeBadResourcePath:
		return "BadResourcePath"
	case CodeNotFound:
		return "NotFound"
	case CodeEntityExists:
		return "EntityExists"
	case CodeInsufficientStorage:
		return "InsufficientStorage"
	case CodeReserveError:
		return "ReserveError"
	case CodeNoSuchChunkID:
		return "NoSuchChunkId"
	case CodeInterrupted:
		return "Interrupted"
	case CodeConnectionError:
		return "ConnectionError"
	case CodeShuttingDown:
		return "ShuttingDown"
	case CodeMaxChannels:
		return "MaxChannels"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// HTTPStatus maps a Code to the status the public/internal HTTP edges return.
// Codes with no natural HTTP meaning (e.g. CodeInterrupted, resolved before
// the edge) fall back to 500.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidCredentials, CodeBadAuth:
		return 401
	case CodeBadRequest, CodeBadResourcePath, CodeEntityExists:
		return 400
	case CodeNotFound:
		return 404
	case CodeInsufficientStorage:
		return 418
	default:
		return 500
	}
}

// Error is a MeowithError: a Code plus a human-readable message and an
// optional wrapped cause. Lower-level IO/network errors are wrapped at each
// boundary (ledger -> upload -> HTTP) with the origin preserved for logs, but
// every edge collapses to a caller-visible Code via HTTPStatus.
type Error struct {
	Code    Code
	Message string
	Cause   error

	// Available carries the peer-reported free space for CodeReserveError.
	Available uint64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that preserves cause as its origin.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// ReserveErr constructs the CodeReserveError variant carrying the peer's
// observed free space, used by the placement planner to refresh its
// storage-map cache before failing outward.
func ReserveErr(available uint64) *Error {
	return &Error{Code: CodeReserveError, Message: "insufficient space at target", Available: available}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, defaulting
// to CodeInternal for anything else.
func CodeOf(err error) Code {
	var me *Error
	if ok := asError(err, &me); ok {
		return me.Code
	}
	return CodeInternal
}

// asError is a small errors.As wrapper kept local to avoid importing errors
// twice across this file's small surface.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
