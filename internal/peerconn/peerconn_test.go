package peerconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"swarmkit/internal/swarm"
	"swarmkit/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	id := swarm.PeerId{IP: "10.0.0.1", Port: 6001}
	pc := New(id, clientConn, testLogger())

	received := make(chan *wire.Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc.Start(ctx, func(_ *PeerConn, msg *wire.Message) {
		received <- msg
	}, nil)

	pc.Send(wire.NewHave(5))

	go func() {
		msg, err := wire.ReadMessage(serverConn)
		require.NoError(t, err)
		require.Equal(t, wire.Have, msg.ID)
		_, err = serverConn.Write(wire.NewRequest(2).Serialize())
		require.NoError(t, err)
	}()

	select {
	case msg := <-received:
		require.Equal(t, wire.Request, msg.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestCloseInvokesOnClose(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	id := swarm.PeerId{IP: "10.0.0.1", Port: 6001}
	pc := New(id, clientConn, testLogger())

	closed := make(chan swarm.PeerId, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc.Start(ctx, func(*PeerConn, *wire.Message) {}, func(p swarm.PeerId) {
		closed <- p
	})

	serverConn.Close()

	select {
	case p := <-closed:
		require.Equal(t, id, p)
	case <-time.After(2 * time.Second):
		t.Fatal("onClose was not invoked")
	}
}

func TestStatsCountPieceMessages(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	id := swarm.PeerId{IP: "10.0.0.1", Port: 6001}
	pc := New(id, clientConn, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pc.Start(ctx, func(*PeerConn, *wire.Message) {}, nil)

	pc.Send(wire.NewPiece(0, []byte("data")))
	go wire.ReadMessage(serverConn) //nolint:errcheck

	require.Eventually(t, func() bool {
		sent, _ := pc.Stats()
		return sent == 1
	}, 2*time.Second, 10*time.Millisecond)
}
