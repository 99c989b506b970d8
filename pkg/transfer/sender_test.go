package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meowith/meowith/pkg/mdsftp"
)

func TestRoundTripMultiFragmentPayload(t *testing.T) {
	serverID, clientID := uuid.New(), uuid.New()
	secret := []byte("shared-secret-for-test-handshake")
	serverAuth := &mdsftp.StaticAuthenticator{SelfID: serverID, Secret: secret}
	clientAuth := &mdsftp.StaticAuthenticator{SelfID: clientID, Secret: secret}

	payload := make([]byte, FragmentSize*3+1234)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	var out bytes.Buffer
	receiverReady := make(chan *Receiver, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		netConn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = mdsftp.Accept(context.Background(), netConn, serverID, serverAuth, func(ch *mdsftp.Channel) mdsftp.Handler {
			r := NewReceiver(ch, &out)
			receiverReady <- r
			return nil // NewReceiver already installed its own handler via ch.SetHandler
		})
	}()

	clientConn, err := mdsftp.Dial(context.Background(), ln.Addr().String(), clientID, clientAuth, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	clientCh, err := clientConn.OpenChannel(nil)
	require.NoError(t, err)

	sender, err := NewSender(clientCh, bytes.NewReader(payload), 4)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sendDone := make(chan error, 1)
	go func() { sendDone <- sender.Send(ctx) }()

	var receiver *Receiver
	select {
	case receiver = <-receiverReady:
	case <-time.After(5 * time.Second):
		t.Fatal("server never opened a receiver")
	}

	require.NoError(t, <-sendDone)
	require.NoError(t, receiver.Wait())

	assert.Equal(t, payload, out.Bytes())
	assert.Equal(t, int64(sender.nextSeq.Load()-1), sender.Acked())
}

func TestRoundTripEmptyPayload(t *testing.T) {
	serverID, clientID := uuid.New(), uuid.New()
	secret := []byte("shared-secret-for-test-handshake")
	serverAuth := &mdsftp.StaticAuthenticator{SelfID: serverID, Secret: secret}
	clientAuth := &mdsftp.StaticAuthenticator{SelfID: clientID, Secret: secret}

	var out bytes.Buffer
	receiverReady := make(chan *Receiver, 1)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		netConn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = mdsftp.Accept(context.Background(), netConn, serverID, serverAuth, func(ch *mdsftp.Channel) mdsftp.Handler {
			r := NewReceiver(ch, &out)
			receiverReady <- r
			return nil
		})
	}()

	clientConn, err := mdsftp.Dial(context.Background(), ln.Addr().String(), clientID, clientAuth, nil)
	require.NoError(t, err)
	defer clientConn.Close()

	clientCh, err := clientConn.OpenChannel(nil)
	require.NoError(t, err)

	sender, err := NewSender(clientCh, bytes.NewReader(nil), DefaultWindow)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.Send(ctx))

	var receiver *Receiver
	select {
	case receiver = <-receiverReady:
	case <-time.After(5 * time.Second):
		t.Fatal("server never opened a receiver")
	}
	require.NoError(t, receiver.Wait())
	assert.Empty(t, out.Bytes())
}

func TestNewSenderRejectsOversizedWindow(t *testing.T) {
	_, err := NewSender(nil, bytes.NewReader(nil), MaxWindow+1)
	assert.ErrorIs(t, err, ErrWindowTooLarge)
}
