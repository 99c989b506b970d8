package merr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{CodeInternal, "Internal"},
		{CodeInvalidCredentials, "InvalidCredentials"},
		{CodeNotFound, "NotFound"},
		{CodeInsufficientStorage, "InsufficientStorage"},
		{CodeReserveError, "ReserveError"},
		{CodeNoSuchChunkID, "NoSuchChunkId"},
		{Code(999), "Unknown(999)"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.code.String())
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidCredentials, 401},
		{CodeBadAuth, 401},
		{CodeBadRequest, 400},
		{CodeEntityExists, 400},
		{CodeNotFound, 404},
		{CodeInsufficientStorage, 418},
		{CodeInternal, 500},
		{CodeConnectionError, 500},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.code.HTTPStatus())
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(CodeInsufficientStorage, "reserve failed", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Contains(t, err.Error(), "InsufficientStorage")
	assert.Contains(t, err.Error(), "disk full")
}

func TestCodeOfUnwrapsThroughFmtErrorf(t *testing.T) {
	inner := New(CodeNotFound, "no such chunk")
	outer := fmt.Errorf("ledger lookup: %w", inner)

	assert.Equal(t, CodeNotFound, CodeOf(outer))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestReserveErrCarriesAvailable(t *testing.T) {
	err := ReserveErr(4096)
	assert.Equal(t, CodeReserveError, err.Code)
	assert.Equal(t, uint64(4096), err.Available)
}
