package fragserver

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/mdsftp"
	"github.com/meowith/meowith/pkg/transfer"
)

// pairedServers opens a live, handshaken loopback connection between two
// Servers and returns the dialer-side Connection, so tests can open
// channels against it and exercise the listener-side Server's dispatch.
func pairedServers(t *testing.T) (*mdsftp.Connection, *Server) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	l, err := ledger.Open(t.TempDir(), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	chunks, err := ledger.NewChunkStore(t.TempDir())
	require.NoError(t, err)

	srv := &Server{Ledger: l, Chunks: chunks}
	auth := &mdsftp.StaticAuthenticator{SelfID: uuid.New(), Secret: []byte("shared-secret")}
	dialerAuth := &mdsftp.StaticAuthenticator{SelfID: uuid.New(), Secret: []byte("shared-secret")}

	accepted := make(chan *mdsftp.Connection, 1)
	go func() {
		netConn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		conn, handshakeErr := mdsftp.Accept(context.Background(), netConn, auth.SelfID, auth, srv.Handler)
		if handshakeErr == nil {
			accepted <- conn
		}
	}()

	dialer, err := mdsftp.Dial(context.Background(), ln.Addr().String(), dialerAuth.SelfID, dialerAuth, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dialer.Close() })

	select {
	case conn := <-accepted:
		t.Cleanup(func() { _ = conn.Close() })
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}

	return dialer, srv
}

func TestReservePutCommitRetrieveRoundTrip(t *testing.T) {
	dialer, srv := pairedServers(t)
	ctx := context.Background()
	body := []byte("the quick brown fox jumps over the lazy dog")

	reserveCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err := reserveCh.Request(ctx, mdsftp.PacketReserve,
		mdsftp.EncodeReserve(mdsftp.Reserve{Flags: mdsftp.ReserveFlags{Durable: true}, Desired: uint64(len(body))}),
		mdsftp.PacketReserveOk, mdsftp.PacketReserveErr)
	require.NoError(t, err)
	require.Equal(t, mdsftp.PacketReserveOk, raw.Type)
	reserveOk, err := mdsftp.DecodeReserveOk(raw.Payload)
	require.NoError(t, err)
	require.NoError(t, reserveCh.Close())

	putCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err = putCh.Request(ctx, mdsftp.PacketPut,
		mdsftp.EncodePut(mdsftp.Put{Chunk: reserveOk.Chunk, Size: uint64(len(body))}),
		mdsftp.PacketPutOk, mdsftp.PacketPutErr)
	require.NoError(t, err)
	require.Equal(t, mdsftp.PacketPutOk, raw.Type)
	putOk, err := mdsftp.DecodePutOk(raw.Payload)
	require.NoError(t, err)

	sender, err := transfer.NewSender(putCh, bytes.NewReader(body), putOk.Window)
	require.NoError(t, err)
	require.NoError(t, sender.Send(ctx))
	require.NoError(t, putCh.Close())

	commitCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	require.NoError(t, commitCh.Send(mdsftp.PacketCommit,
		mdsftp.EncodeCommit(mdsftp.Commit{Flags: mdsftp.CommitFinal, Chunk: reserveOk.Chunk})))

	require.Eventually(t, func() bool {
		size, statErr := srv.Ledger.Stat(ctx, reserveOk.Chunk)
		return statErr == nil && size == uint64(len(body))
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, commitCh.Close())

	queryCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err = queryCh.Request(ctx, mdsftp.PacketQuery,
		mdsftp.EncodeQuery(mdsftp.Query{Chunk: reserveOk.Chunk}), mdsftp.PacketQueryResponse)
	require.NoError(t, err)
	queryResp, err := mdsftp.DecodeQueryResponse(raw.Payload)
	require.NoError(t, err)
	require.True(t, queryResp.Exists)
	require.Equal(t, uint64(len(body)), queryResp.Size)
	require.NoError(t, queryCh.Close())

	retrieveCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	var out bytes.Buffer
	receiver := transfer.NewReceiver(retrieveCh, &out)
	require.NoError(t, retrieveCh.Send(mdsftp.PacketRetrieve,
		mdsftp.EncodeRetrieve(mdsftp.Retrieve{Chunk: reserveOk.Chunk, Window: transfer.DefaultWindow})))
	require.NoError(t, receiver.Wait())
	require.Equal(t, body, out.Bytes())
	require.NoError(t, retrieveCh.Close())
}

func TestReserveErrReportsAvailableSpace(t *testing.T) {
	dialer, _ := pairedServers(t)
	ctx := context.Background()

	ch, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err := ch.Request(ctx, mdsftp.PacketReserve,
		mdsftp.EncodeReserve(mdsftp.Reserve{Desired: 1 << 30}),
		mdsftp.PacketReserveOk, mdsftp.PacketReserveErr)
	require.NoError(t, err)
	require.Equal(t, mdsftp.PacketReserveErr, raw.Type)

	errPayload, err := mdsftp.DecodeReserveErr(raw.Payload)
	require.NoError(t, err)
	require.Less(t, errPayload.AvailableBytes, uint64(1<<30))
}

func TestDeleteChunkRemovesCommittedFragment(t *testing.T) {
	dialer, srv := pairedServers(t)
	ctx := context.Background()
	body := []byte("delete me")

	reserveCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err := reserveCh.Request(ctx, mdsftp.PacketReserve,
		mdsftp.EncodeReserve(mdsftp.Reserve{Desired: uint64(len(body))}),
		mdsftp.PacketReserveOk, mdsftp.PacketReserveErr)
	require.NoError(t, err)
	reserveOk, err := mdsftp.DecodeReserveOk(raw.Payload)
	require.NoError(t, err)
	require.NoError(t, reserveCh.Close())

	putCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	raw, err = putCh.Request(ctx, mdsftp.PacketPut,
		mdsftp.EncodePut(mdsftp.Put{Chunk: reserveOk.Chunk, Size: uint64(len(body))}),
		mdsftp.PacketPutOk, mdsftp.PacketPutErr)
	require.NoError(t, err)
	putOk, err := mdsftp.DecodePutOk(raw.Payload)
	require.NoError(t, err)
	sender, err := transfer.NewSender(putCh, bytes.NewReader(body), putOk.Window)
	require.NoError(t, err)
	require.NoError(t, sender.Send(ctx))
	require.NoError(t, putCh.Close())

	commitCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	require.NoError(t, commitCh.Send(mdsftp.PacketCommit,
		mdsftp.EncodeCommit(mdsftp.Commit{Flags: mdsftp.CommitFinal, Chunk: reserveOk.Chunk})))
	require.Eventually(t, func() bool {
		_, statErr := srv.Ledger.Stat(ctx, reserveOk.Chunk)
		return statErr == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, commitCh.Close())

	deleteCh, err := dialer.OpenChannel(nil)
	require.NoError(t, err)
	require.NoError(t, deleteCh.Send(mdsftp.PacketDeleteChunk,
		mdsftp.EncodeDeleteChunk(mdsftp.DeleteChunk{Chunk: reserveOk.Chunk})))

	require.Eventually(t, func() bool {
		_, statErr := srv.Ledger.Stat(ctx, reserveOk.Chunk)
		return statErr != nil
	}, 2*time.Second, 10*time.Millisecond)
}
