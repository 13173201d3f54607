// Package trackerserver is the tracker itself: a single TCP accept loop,
// one long-lived connection per peer, full membership broadcast on every
// join/leave, and an HTTP endpoint publishing the tracker's own address.
// Grounded directly on original_source/tracker/manager.py
// (Tracker.handle_peer/broadcast_peer_list/remove_peer), reimplemented
// with the length-prefixed internal/memberlist codec instead of Python
// pickle, and a net/http file server for tracker.txt reusing the teacher's
// net/http tracker-client dependency on the server side instead.
package trackerserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"swarmkit/internal/memberlist"
)

// portReadBudget caps how many bytes are read for the initial ASCII
// listening-port announcement; a decimal port fits comfortably within it.
const portReadBudget = 32

// Tracker holds swarm membership and the live socket for every member.
type Tracker struct {
	mu      sync.Mutex
	members []memberlist.Peer
	conns   map[memberlist.Peer]net.Conn
	log     *logrus.Entry
}

// New creates an empty tracker.
func New(log *logrus.Entry) *Tracker {
	return &Tracker{
		conns: make(map[memberlist.Peer]net.Conn),
		log:   log,
	}
}

// Serve runs the accept loop until ctx is cancelled or the listener errs.
func (t *Tracker) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("trackerserver: accept: %w", err)
		}
		go t.handlePeer(conn)
	}
}

func (t *Tracker) handlePeer(conn net.Conn) {
	remoteIP, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		remoteIP = conn.RemoteAddr().String()
	}

	buf := make([]byte, portReadBudget)
	n, err := conn.Read(buf)
	if err != nil {
		t.log.WithError(err).Warn("tracker: failed to read announced port")
		conn.Close()
		return
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		t.log.WithError(err).Warn("tracker: malformed port announcement")
		conn.Close()
		return
	}

	entry := memberlist.Peer{IP: remoteIP, Port: port}
	t.addPeer(entry, conn)
	t.broadcast()

	reader := bufio.NewReader(conn)
	for {
		line := make([]byte, 16)
		n, err := reader.Read(line)
		if err != nil {
			t.log.WithField("peer", entry).Debug("tracker: connection closed")
			t.removePeer(entry)
			return
		}
		if strings.TrimSpace(string(line[:n])) == "quit" {
			t.removePeer(entry)
			return
		}
	}
}

func (t *Tracker) addPeer(entry memberlist.Peer, conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.members = append(t.members, entry)
	t.conns[entry] = conn
}

func (t *Tracker) removePeer(entry memberlist.Peer) {
	t.mu.Lock()
	t.members = memberlist.Remove(t.members, entry)
	if conn, ok := t.conns[entry]; ok {
		conn.Close()
		delete(t.conns, entry)
	}
	t.mu.Unlock()
	t.broadcast()
}

// broadcast sends the full membership list to every live peer connection.
// A failed write to one peer is logged and skipped; the tracker continues.
func (t *Tracker) broadcast() {
	t.mu.Lock()
	blob := memberlist.Encode(t.members)
	targets := make(map[memberlist.Peer]net.Conn, len(t.conns))
	for p, c := range t.conns {
		targets[p] = c
	}
	t.mu.Unlock()

	t.log.WithField("members", len(targets)).Debug("tracker: broadcasting membership")
	for p, conn := range targets {
		if _, err := conn.Write(blob); err != nil {
			t.log.WithError(err).WithField("peer", p).Warn("tracker: failed to send membership")
		}
	}
}

// AddressHandler serves the external "tracker.txt" discovery endpoint
// (GET <announce>/tracker.txt returns "<ip> <port>"), reusing the stdlib
// net/http the teacher's own tracker client already imports, on the
// server side this time.
func AddressHandler(ip string, port int) http.HandlerFunc {
	body := fmt.Sprintf("%s %d", ip, port)
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, body)
	}
}
