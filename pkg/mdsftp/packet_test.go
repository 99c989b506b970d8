package mdsftp

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{PacketType: PacketReserve, StreamID: 42, PayloadSize: 9}
	buf := make([]byte, HeaderSize)
	WriteHeader(buf, h)

	got := ReadHeader(buf)
	assert.Equal(t, h, got)
}

func TestHeaderValidateRejectsUnknownType(t *testing.T) {
	h := Header{PacketType: PacketType(250), StreamID: 1, PayloadSize: 0}
	assert.Error(t, h.Validate())
}

func TestHeaderValidateRejectsZeroStreamForNonSystem(t *testing.T) {
	h := Header{PacketType: PacketReserve, StreamID: 0, PayloadSize: 9}
	assert.Error(t, h.Validate())
}

func TestHeaderValidateAllowsZeroStreamForSystem(t *testing.T) {
	h := Header{PacketType: PacketChannelOpen, StreamID: 0, PayloadSize: 0}
	assert.NoError(t, h.Validate())
}

func TestHeaderValidateRejectsShortPayload(t *testing.T) {
	h := Header{PacketType: PacketReserveOk, StreamID: 1, PayloadSize: 4}
	assert.Error(t, h.Validate())
}

func TestIsSystem(t *testing.T) {
	assert.False(t, PacketReserve.IsSystem())
	assert.True(t, PacketChannelOpen.IsSystem())
	assert.True(t, PacketChannelClose.IsSystem())
	assert.True(t, PacketChannelErr.IsSystem())
}

func TestReserveFlagsRoundTrip(t *testing.T) {
	f := ReserveFlags{AutoStart: true, Durable: false, Temp: true, Overwrite: true}
	assert.Equal(t, f, ParseReserveFlags(f.Byte()))
}

func TestLockKindRoundTrip(t *testing.T) {
	assert.Equal(t, LockRead, ParseLockKind(LockRead.Byte()))
	assert.Equal(t, LockWrite, ParseLockKind(LockWrite.Byte()))
}

func TestChunkErrorKindRoundTrip(t *testing.T) {
	assert.Equal(t, ChunkNotAvailable, ParseChunkErrorKind(ChunkNotAvailable.Byte()))
	assert.Equal(t, ChunkNotFound, ParseChunkErrorKind(ChunkNotFound.Byte()))
}

func TestRetrievePayloadRoundTrip(t *testing.T) {
	r := Retrieve{Chunk: uuid.New(), Window: 16, RangeStart: 0, RangeEnd: 4096}
	got, err := DecodeRetrieve(EncodeRetrieve(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestPutPayloadRoundTrip(t *testing.T) {
	p := Put{Flags: 0x05, Chunk: uuid.New(), Size: 65535}
	got, err := DecodePut(EncodePut(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestReservePayloadRoundTrip(t *testing.T) {
	r := Reserve{Flags: ReserveFlags{Durable: true}, Desired: 1 << 20}
	got, err := DecodeReserve(EncodeReserve(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestReserveOkPayloadRoundTrip(t *testing.T) {
	r := ReserveOk{Chunk: uuid.New(), Window: 12}
	got, err := DecodeReserveOk(EncodeReserveOk(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestReserveErrPayloadRoundTrip(t *testing.T) {
	r := ReserveErr{AvailableBytes: 123456}
	got, err := DecodeReserveErr(EncodeReserveErr(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestLockReqPayloadRoundTrip(t *testing.T) {
	l := LockReq{Kind: LockWrite, Chunk: uuid.New()}
	got, err := DecodeLockReq(EncodeLockReq(l))
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestQueryResponsePayloadRoundTrip(t *testing.T) {
	q := QueryResponse{Exists: true, Size: 42}
	got, err := DecodeQueryResponse(EncodeQueryResponse(q))
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestCommitPayloadRoundTrip(t *testing.T) {
	c := Commit{Flags: CommitKeepAlive, Chunk: uuid.New()}
	got, err := DecodeCommit(EncodeCommit(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFileChunkHeaderRoundTrip(t *testing.T) {
	h := FileChunkHeader{IsLast: true, ChunkSeq: 7}
	body := []byte("payload-bytes")

	encoded := append(EncodeFileChunkHeader(h), body...)
	gotHeader, gotBody, err := DecodeFileChunkHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, gotHeader)
	assert.Equal(t, body, gotBody)
}

func TestDecodeRejectsTruncatedPayloads(t *testing.T) {
	_, err := DecodeReserveOk([]byte{1, 2, 3})
	assert.Error(t, err)

	_, _, err = DecodeFileChunkHeader([]byte{0})
	assert.Error(t, err)
}
