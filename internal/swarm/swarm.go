// Package swarm models the shared, concurrently-read-and-mutated swarm
// state: per-peer bitfields, the piece_has availability index, and the
// current tracker-reported membership view. Grounded on the teacher's
// internal/peer/peer.go HasPiece/SetPiece bit-ops, generalized from a single
// embedded []byte bitfield on *Peer into a typed Availability entity with
// its own guarded interior and small typed operations instead of exposing
// raw locks.
package swarm

import (
	"sync"

	"swarmkit/internal/memberlist"
	"swarmkit/internal/wire"
)

// PeerId is a swarm member's dial address, keyed as in memberlist.Peer.
type PeerId = memberlist.Peer

// Availability tracks, for every known peer, the pieces it has announced
// (via BITFIELD or HAVE), and the inverted index piece_has[i] -> {peers}.
type Availability struct {
	mu        sync.Mutex
	numPieces int
	bitfields map[PeerId]wire.BitfieldVec
	pieceHas  map[int]map[PeerId]struct{}
}

// NewAvailability creates an empty availability index for a torrent with n
// pieces.
func NewAvailability(n int) *Availability {
	return &Availability{
		numPieces: n,
		bitfields: make(map[PeerId]wire.BitfieldVec),
		pieceHas:  make(map[int]map[PeerId]struct{}),
	}
}

// SetBitfield records peer's full bitfield (received via BITFIELD or
// BITFIELD_NO_LOOP), updating piece_has for every bit set.
func (a *Availability) SetBitfield(peer PeerId, field wire.BitfieldVec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bitfields[peer] = field.Clone()
	for i := 0; i < len(field); i++ {
		if field.Has(i) {
			a.addLocked(peer, i)
		}
	}
}

// SetHave records a single HAVE(i) announcement from peer, growing their
// bitfield if it doesn't exist yet.
func (a *Availability) SetHave(peer PeerId, index int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	field, ok := a.bitfields[peer]
	if !ok {
		field = wire.NewBitfieldVec(a.numPieces)
	}
	field.Set(index)
	a.bitfields[peer] = field
	a.addLocked(peer, index)
}

func (a *Availability) addLocked(peer PeerId, index int) {
	holders, ok := a.pieceHas[index]
	if !ok {
		holders = make(map[PeerId]struct{})
		a.pieceHas[index] = holders
	}
	holders[peer] = struct{}{}
}

// HoldersOf returns the peers known to have piece i.
func (a *Availability) HoldersOf(index int) []PeerId {
	a.mu.Lock()
	defer a.mu.Unlock()
	holders := a.pieceHas[index]
	out := make([]PeerId, 0, len(holders))
	for p := range holders {
		out = append(out, p)
	}
	return out
}

// BitfieldOf returns a snapshot of peer's known bitfield, or nil if unknown.
func (a *Availability) BitfieldOf(peer PeerId) wire.BitfieldVec {
	a.mu.Lock()
	defer a.mu.Unlock()
	field, ok := a.bitfields[peer]
	if !ok {
		return nil
	}
	return field.Clone()
}

// RemovePeer drops peer from every piece_has entry and its own bitfield
// record, called on disconnect.
func (a *Availability) RemovePeer(peer PeerId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.bitfields, peer)
	for _, holders := range a.pieceHas {
		delete(holders, peer)
	}
}

// SwarmView is the tracker-reported set of live peers, excluding self,
// replaced wholesale on each broadcast.
type SwarmView struct {
	mu    sync.Mutex
	peers map[PeerId]struct{}
}

// NewSwarmView creates an empty view.
func NewSwarmView() *SwarmView {
	return &SwarmView{peers: make(map[PeerId]struct{})}
}

// Replace swaps the current membership for a new snapshot.
func (v *SwarmView) Replace(peers []PeerId) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.peers = make(map[PeerId]struct{}, len(peers))
	for _, p := range peers {
		v.peers[p] = struct{}{}
	}
}

// Snapshot returns the current membership as a slice; callers take this
// snapshot, then release the lock before doing any I/O with it.
func (v *SwarmView) Snapshot() []PeerId {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PeerId, 0, len(v.peers))
	for p := range v.peers {
		out = append(out, p)
	}
	return out
}

// Contains reports whether peer is in the current view.
func (v *SwarmView) Contains(peer PeerId) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.peers[peer]
	return ok
}
