package memberlist

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	peers := []Peer{
		{IP: "10.0.0.1", Port: 6001},
		{IP: "10.0.0.2", Port: 6002},
		{IP: "10.0.0.3", Port: 6003},
	}

	blob := Encode(peers)
	decoded, err := Decode(bytes.NewReader(blob))
	require.NoError(t, err)
	require.Equal(t, peers, decoded)
}

func TestRoundTripEmpty(t *testing.T) {
	blob := Encode(nil)
	decoded, err := Decode(bytes.NewReader(blob))
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestDecodeBytesTruncated(t *testing.T) {
	blob := Encode([]Peer{{IP: "10.0.0.1", Port: 6001}})
	_, err := DecodeBytes(blob[:len(blob)-2])
	require.Error(t, err)
}

func TestRemoveAndContains(t *testing.T) {
	peers := []Peer{{IP: "a", Port: 1}, {IP: "b", Port: 2}}
	require.True(t, Contains(peers, Peer{IP: "a", Port: 1}))

	out := Remove(peers, Peer{IP: "a", Port: 1})
	require.Equal(t, []Peer{{IP: "b", Port: 2}}, out)
	require.False(t, Contains(out, Peer{IP: "a", Port: 1}))
}

func TestPeerString(t *testing.T) {
	p := Peer{IP: "192.168.1.5", Port: 6000}
	require.Equal(t, "192.168.1.5:6000", p.String())
}
