// Package engine is the peer engine proper: connection lifecycle, piece
// acquisition (sequential and parallel), REQUEST/PIECE serving, HAVE
// gossip, and seeder initialization. Leecher and seeder are the same
// engine with differing initial store contents.
//
// Grounded on the teacher's internal/torrent/download.go Downloader (the
// overall request/serve loop shape) and internal/pieces/selector.go (the
// shuffle-vs-sequential choice), generalized from block-level requests and
// choke/interested bookkeeping (not needed here) down to a simpler
// whole-piece, always-serve model.
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"swarmkit/internal/memberlist"
	"swarmkit/internal/metainfo"
	"swarmkit/internal/peerconn"
	"swarmkit/internal/store"
	"swarmkit/internal/swarm"
	"swarmkit/internal/wire"
)

// downloadPassLimit bounds the sequential acquisition loop to a maximum
// number of re-request passes before falling back to a completion poll.
const downloadPassLimit = 30

// parallelConcurrency is the default worker cap K for parallel mode.
const parallelConcurrency = 5

// Self identifies this engine's own listening address, so it can exclude
// itself from dial targets and broadcasts.
type Self swarm.PeerId

// Engine is the peer/seeder runtime for one torrent.
type Engine struct {
	self    Self
	torrent *metainfo.Torrent
	store   *store.LocalStore
	avail   *swarm.Availability
	view    *swarm.SwarmView
	log     *logrus.Entry
	random  bool
	seeder  bool

	mu    sync.Mutex
	conns map[swarm.PeerId]*peerconn.PeerConn
}

// New creates a leecher engine: an empty store, downloading driven by
// DownloadSequential/DownloadParallel.
func New(self Self, torrent *metainfo.Torrent, random bool, log *logrus.Entry) *Engine {
	hashes := torrent.Info.Pieces
	return &Engine{
		self:    self,
		torrent: torrent,
		store:   store.New(hashes),
		avail:   swarm.NewAvailability(len(hashes)),
		view:    swarm.NewSwarmView(),
		log:     log,
		random:  random,
		conns:   make(map[swarm.PeerId]*peerconn.PeerConn),
	}
}

// NewSeeder creates a seeder engine: store is pre-populated from locally
// read file pieces. Seeders never populate Availability for themselves and
// never run a download loop.
func NewSeeder(self Self, torrent *metainfo.Torrent, pieces map[int][]byte, log *logrus.Entry) (*Engine, error) {
	s, err := store.NewSeeder(torrent.Info.Pieces, pieces)
	if err != nil {
		return nil, err
	}
	return &Engine{
		self:    self,
		torrent: torrent,
		store:   s,
		avail:   swarm.NewAvailability(len(torrent.Info.Pieces)),
		view:    swarm.NewSwarmView(),
		log:     log,
		seeder:  true,
		conns:   make(map[swarm.PeerId]*peerconn.PeerConn),
	}, nil
}

// Store exposes the underlying store, e.g. for reassembly once complete.
func (e *Engine) Store() *store.LocalStore { return e.store }

// Bootstrap connects to every peer in the initial membership list except
// self, sending BITFIELD (id 4) to each.
func (e *Engine) Bootstrap(ctx context.Context, initial []memberlist.Peer) {
	e.view.Replace(toPeerIds(initial))
	for _, p := range initial {
		pid := swarm.PeerId(p)
		if pid == swarm.PeerId(e.self) {
			continue
		}
		go e.dialPeer(ctx, pid)
	}
}

// ApplyTrackerUpdate replaces SwarmView and tears down sockets for peers no
// longer present. It does not proactively dial newly joined peers: a new
// joiner connects outward to the existing membership it reads at its own
// bootstrap, mirroring the source's update_peer_list.
func (e *Engine) ApplyTrackerUpdate(update []memberlist.Peer) {
	newIds := toPeerIds(update)
	newSet := make(map[swarm.PeerId]struct{}, len(newIds))
	for _, id := range newIds {
		newSet[id] = struct{}{}
	}

	e.mu.Lock()
	var stale []swarm.PeerId
	for id := range e.conns {
		if _, ok := newSet[id]; !ok && e.view.Contains(id) {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	e.view.Replace(newIds)
	for _, id := range stale {
		e.disconnect(id)
	}
}

func toPeerIds(peers []memberlist.Peer) []swarm.PeerId {
	out := make([]swarm.PeerId, len(peers))
	for i, p := range peers {
		out[i] = swarm.PeerId(p)
	}
	return out
}

func (e *Engine) dialPeer(ctx context.Context, id swarm.PeerId) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", id.String())
	if err != nil {
		e.log.WithError(err).WithField("peer", id).Warn("could not connect to peer")
		return
	}
	e.adopt(ctx, id, conn)
	e.sendBitfield(id, wire.Bitfield)
}

// Accept registers an inbound connection. The remote's announced listening
// port is not known at accept time, so an accepted connection is keyed by
// its observed remote address (IP and ephemeral port). That key never
// appears in a tracker broadcast, so ApplyTrackerUpdate leaves such
// connections open; they end when the remote closes them. This mirrors the
// source, which keys socket_dic by client_address at accept time.
func (e *Engine) Accept(ctx context.Context, conn net.Conn) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	id := swarm.PeerId{IP: conn.RemoteAddr().String(), Port: 0}
	if ok {
		id = swarm.PeerId{IP: addr.IP.String(), Port: addr.Port}
	}
	e.adopt(ctx, id, conn)
}

func (e *Engine) adopt(ctx context.Context, id swarm.PeerId, conn net.Conn) {
	pc := peerconn.New(id, conn, e.log)
	e.mu.Lock()
	e.conns[id] = pc
	e.mu.Unlock()

	pc.Start(ctx, e.handleMessage, func(left swarm.PeerId) {
		e.mu.Lock()
		delete(e.conns, left)
		e.mu.Unlock()
		e.avail.RemovePeer(left)
	})
}

func (e *Engine) disconnect(id swarm.PeerId) {
	e.mu.Lock()
	pc, ok := e.conns[id]
	delete(e.conns, id)
	e.mu.Unlock()
	if ok {
		pc.Close()
	}
	e.avail.RemovePeer(id)
}

func (e *Engine) connFor(id swarm.PeerId) (*peerconn.PeerConn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.conns[id]
	return pc, ok
}

func (e *Engine) sendBitfield(id swarm.PeerId, msgID byte) {
	pc, ok := e.connFor(id)
	if !ok {
		return
	}
	pc.Send(wire.NewBitfield(msgID, e.store.Bitfield()))
}

// handleMessage dispatches one inbound frame by message id.
func (e *Engine) handleMessage(pc *peerconn.PeerConn, msg *wire.Message) {
	switch msg.ID {
	case wire.Bitfield:
		e.avail.SetBitfield(pc.ID, wire.BitfieldVec(msg.Payload))
		e.sendBitfield(pc.ID, wire.BitfieldNoLoop)

	case wire.BitfieldNoLoop:
		e.avail.SetBitfield(pc.ID, wire.BitfieldVec(msg.Payload))

	case wire.Have:
		index, err := wire.DecodeIndex(msg.Payload)
		if err != nil {
			e.log.WithError(err).Warn("malformed HAVE")
			return
		}
		e.avail.SetHave(pc.ID, int(index))

	case wire.Request:
		index, err := wire.DecodeIndex(msg.Payload)
		if err != nil {
			e.log.WithError(err).Warn("malformed REQUEST")
			return
		}
		e.serveRequest(pc, int(index))

	case wire.Piece:
		index, data, err := wire.DecodePiece(msg.Payload)
		if err != nil {
			e.log.WithError(err).Warn("malformed PIECE")
			return
		}
		e.handlePiece(pc.ID, int(index), data)
	}
}

// serveRequest answers REQUEST(i) with PIECE(i) if we hold it and the
// requester's known bitfield doesn't already show it; there is no reject
// message, so an unservable request is silently dropped.
func (e *Engine) serveRequest(pc *peerconn.PeerConn, index int) {
	data, ok := e.store.Get(index)
	if !ok {
		return
	}
	if field := e.avail.BitfieldOf(pc.ID); field != nil && field.Has(index) {
		return
	}
	pc.Send(wire.NewPiece(uint32(index), data))
}

// handlePiece commits an incoming PIECE payload and, on a fresh valid
// commit, broadcasts HAVE. Seeders never call this via their own download
// loop (they don't request), but can still receive a stray PIECE if a buggy
// peer sends one unsolicited; committing it is harmless and keeps the
// invariant uniform across both roles.
func (e *Engine) handlePiece(from swarm.PeerId, index int, data []byte) {
	result, err := e.store.TryCommit(index, data)
	if err != nil {
		e.log.WithError(err).Warn("piece commit error")
		return
	}
	switch result {
	case store.Committed:
		e.log.WithFields(logrus.Fields{"piece": index, "from": from}).Debug("committed piece")
		e.broadcastHave(index)
	case store.AlreadyHad:
		e.log.WithField("piece", index).Debug("duplicate piece dropped")
	case store.HashFail:
		e.log.WithField("piece", index).Warn("piece failed verification, left missing")
	}
}

// broadcastHave sends HAVE(i) to the union of SwarmView and the peers
// currently present in the connection map: an inbound-only peer not yet
// reflected in a tracker update must still hear about it.
func (e *Engine) broadcastHave(index int) {
	targets := make(map[swarm.PeerId]struct{})
	for _, p := range e.view.Snapshot() {
		targets[p] = struct{}{}
	}
	e.mu.Lock()
	for id := range e.conns {
		targets[id] = struct{}{}
	}
	e.mu.Unlock()

	msg := wire.NewHave(uint32(index))
	for id := range targets {
		if pc, ok := e.connFor(id); ok {
			pc.Send(msg)
		}
	}
}

// DownloadSequential runs the bounded re-request loop: one REQUEST per
// missing piece per pass, a rate-limiting sleep scaled by how much
// remains, up to downloadPassLimit passes, followed by a poll until
// complete.
func (e *Engine) DownloadSequential(ctx context.Context) {
	for pass := 0; pass < downloadPassLimit; pass++ {
		if ctx.Err() != nil {
			return
		}
		missing := e.store.Missing()
		if len(missing) == 0 {
			break
		}
		if e.random {
			rand.Shuffle(len(missing), func(i, j int) { missing[i], missing[j] = missing[j], missing[i] })
		}
		for _, index := range missing {
			e.requestPiece(index)
		}
		e.log.WithFields(logrus.Fields{"pass": pass + 1, "missing": len(missing)}).Debug("download pass")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(len(missing)) * time.Second / 10000):
		}
	}
	e.waitForCompletion(ctx)
}

// DownloadParallel mirrors DownloadSequential's semantics but dispatches one
// request task per missing piece with a concurrency cap K, via
// golang.org/x/sync/errgroup instead of a hand-rolled semaphore.
func (e *Engine) DownloadParallel(ctx context.Context) {
	for pass := 0; pass < downloadPassLimit; pass++ {
		if ctx.Err() != nil {
			return
		}
		missing := e.store.Missing()
		if len(missing) == 0 {
			break
		}
		if e.random {
			rand.Shuffle(len(missing), func(i, j int) { missing[i], missing[j] = missing[j], missing[i] })
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelConcurrency)
		for _, index := range missing {
			index := index
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !e.store.Has(index) {
					e.requestPiece(index)
				}
				return nil
			})
		}
		_ = g.Wait()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(len(missing)) * time.Second / 10000):
		}
	}
	e.waitForCompletion(ctx)
}

func (e *Engine) requestPiece(index int) {
	holders := e.avail.HoldersOf(index)
	if len(holders) == 0 {
		return
	}
	peer := holders[rand.Intn(len(holders))]
	if pc, ok := e.connFor(peer); ok {
		pc.Send(wire.NewRequest(uint32(index)))
	}
}

func (e *Engine) waitForCompletion(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.store.Complete() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Quit closes every peer connection, causing their receive loops to observe
// EOF and terminate.
func (e *Engine) Quit() {
	e.mu.Lock()
	conns := make([]*peerconn.PeerConn, 0, len(e.conns))
	for _, pc := range e.conns {
		conns = append(conns, pc)
	}
	e.mu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}
}

// Summary renders a one-line human-readable progress string for --verbose.
func (e *Engine) Summary() string {
	return fmt.Sprintf("%d/%d pieces, %d duplicates, %d failures",
		e.store.HaveCount(), e.store.NumPieces(), e.store.DuplicateCount(), e.store.FailureCount())
}
