// Package memberlist is the length-prefixed codec the tracker and peers
// share for the membership blob. It replaces the source's Python pickle
// with something decodable from a single bounded read on either side of
// the connection.
//
// Wire format: u32 BE count, then for each entry a u32 BE length followed
// by that many bytes of an ASCII "ip:port" string.
package memberlist

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Peer identifies a swarm member by its dial address.
type Peer struct {
	IP   string
	Port int
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Encode serializes the membership list in join order.
func Encode(peers []Peer) []byte {
	var buf bytes.Buffer
	var countHdr [4]byte
	binary.BigEndian.PutUint32(countHdr[:], uint32(len(peers)))
	buf.Write(countHdr[:])

	for _, p := range peers {
		entry := p.String()
		var lenHdr [4]byte
		binary.BigEndian.PutUint32(lenHdr[:], uint32(len(entry)))
		buf.Write(lenHdr[:])
		buf.WriteString(entry)
	}
	return buf.Bytes()
}

// Decode parses a blob produced by Encode. It is tolerant of being handed
// extra trailing bytes (a short read padded with an oversized recv buffer
// never occurs here since callers read exactly as many bytes as the header
// promises).
func Decode(r io.Reader) ([]Peer, error) {
	var countHdr [4]byte
	if _, err := io.ReadFull(r, countHdr[:]); err != nil {
		return nil, fmt.Errorf("memberlist: read count: %w", err)
	}
	count := binary.BigEndian.Uint32(countHdr[:])

	peers := make([]Peer, 0, count)
	for i := uint32(0); i < count; i++ {
		var lenHdr [4]byte
		if _, err := io.ReadFull(r, lenHdr[:]); err != nil {
			return nil, fmt.Errorf("memberlist: read entry %d length: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenHdr[:])
		entry := make([]byte, n)
		if _, err := io.ReadFull(r, entry); err != nil {
			return nil, fmt.Errorf("memberlist: read entry %d: %w", i, err)
		}
		p, err := parsePeer(string(entry))
		if err != nil {
			return nil, fmt.Errorf("memberlist: entry %d: %w", i, err)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// DecodeBytes is a convenience wrapper for a single already-received blob,
// e.g. the result of one recv() on the peer side.
func DecodeBytes(blob []byte) ([]Peer, error) {
	return Decode(bytes.NewReader(blob))
}

func parsePeer(s string) (Peer, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Peer{}, fmt.Errorf("malformed entry %q", s)
	}
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return Peer{}, fmt.Errorf("malformed port in %q: %w", s, err)
	}
	return Peer{IP: s[:idx], Port: port}, nil
}

// Remove returns a copy of peers with target excluded. The tracker uses it
// to drop a departed member without mutating the input slice in place.
func Remove(peers []Peer, target Peer) []Peer {
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// Contains reports whether target is present in peers.
func Contains(peers []Peer, target Peer) bool {
	for _, p := range peers {
		if p == target {
			return true
		}
	}
	return false
}
