package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"swarmkit/internal/metainfo"
	"swarmkit/internal/store"
	"swarmkit/internal/swarm"
	"swarmkit/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testTorrent(pieces ...[]byte) *metainfo.Torrent {
	hashes := make([]string, len(pieces))
	for i, p := range pieces {
		hashes[i] = store.HashOf(p)
	}
	return &metainfo.Torrent{
		Announce: "http://tracker.test",
		Info: metainfo.Info{
			Name:        "torrent",
			PieceLength: 4,
			Pieces:      hashes,
			Files:       []metainfo.File{{Filename: "a.txt", Length: int64(len(pieces) * 4)}},
		},
	}
}

func TestAcceptRepliesBitfieldNoLoop(t *testing.T) {
	tor := testTorrent([]byte("AAAA"), []byte("BBBB"))
	e := New(Self{IP: "10.0.0.1", Port: 6000}, tor, false, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Accept(ctx, serverConn)

	go clientConn.Write(wire.NewBitfield(wire.Bitfield, []byte{0, 0}).Serialize()) //nolint:errcheck

	msg, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.BitfieldNoLoop, msg.ID)
	require.Equal(t, []byte{0, 0}, msg.Payload)
}

func TestServeRequestViaNewSeeder(t *testing.T) {
	a := []byte("AAAA")
	tor := testTorrent(a)
	e, err := NewSeeder(Self{IP: "10.0.0.1", Port: 6000}, tor, map[int][]byte{0: a}, testLogger())
	require.NoError(t, err)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Accept(ctx, serverConn)

	go clientConn.Write(wire.NewRequest(0).Serialize()) //nolint:errcheck

	msg, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.Piece, msg.ID)
	index, data, err := wire.DecodePiece(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(0), index)
	require.Equal(t, a, data)
}

func TestHandlePieceCommitsAndBroadcastsHave(t *testing.T) {
	a := []byte("AAAA")
	tor := testTorrent(a)
	e := New(Self{IP: "10.0.0.1", Port: 6000}, tor, false, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Accept(ctx, serverConn)

	go clientConn.Write(wire.NewPiece(0, a).Serialize()) //nolint:errcheck

	msg, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.Have, msg.ID)
	index, err := wire.DecodeIndex(msg.Payload)
	require.NoError(t, err)
	require.Equal(t, uint32(0), index)
	require.True(t, e.Store().Has(0))
}

func TestHandlePieceHashMismatchDoesNotBroadcast(t *testing.T) {
	a := []byte("AAAA")
	tor := testTorrent(a)
	e := New(Self{IP: "10.0.0.1", Port: 6000}, tor, false, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Accept(ctx, serverConn)

	go clientConn.Write(wire.NewPiece(0, []byte("WRONG")).Serialize()) //nolint:errcheck

	var readErr error
	done := make(chan struct{})
	go func() {
		clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, readErr = wire.ReadMessage(clientConn)
		close(done)
	}()
	<-done
	require.Error(t, readErr, "no HAVE may be sent for a piece that failed verification")
	require.False(t, e.Store().Has(0))
	require.Equal(t, 1, e.Store().FailureCount())
}

func TestDownloadSequentialRequestsFromHolder(t *testing.T) {
	a := []byte("AAAA")
	tor := testTorrent(a)
	e := New(Self{IP: "10.0.0.1", Port: 6000}, tor, false, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	e.Accept(ctx, serverConn)

	// net.Pipe conns report a fixed "pipe" address (not a *net.TCPAddr), so
	// Accept's fallback path keys this connection as {IP: "pipe", Port: 0}.
	holder := swarm.PeerId{IP: serverConn.RemoteAddr().String(), Port: 0}
	e.avail.SetBitfield(holder, wire.BitfieldVec{1})

	go e.DownloadSequential(ctx)

	msg, err := wire.ReadMessage(clientConn)
	require.NoError(t, err)
	require.Equal(t, wire.Request, msg.ID)
}
