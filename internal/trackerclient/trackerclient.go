// Package trackerclient is the peer side of the tracker wire protocol: dial
// the tracker, announce the listening port as ASCII decimal, read the
// initial membership blob, then keep reading membership updates until told
// to quit. Grounded on original_source/leecher/leecher.py's
// register_with_tracker/init_with_peers/receive_tracker_updates, replacing
// its pickle-framed recv(4096) with the length-prefixed internal/memberlist
// codec.
package trackerclient

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"swarmkit/internal/memberlist"
)

// Client is a live connection to the tracker.
type Client struct {
	conn net.Conn
	log  *logrus.Entry
}

// Dial connects to the tracker at addr, announces listeningPort, and reads
// the first membership broadcast: the first broadcast a peer receives is
// effectively its initial peer list, since the tracker always includes the
// newly joined peer itself.
func Dial(ctx context.Context, addr string, listeningPort int, log *logrus.Entry) (*Client, []memberlist.Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("trackerclient: dial %s: %w", addr, err)
	}

	if _, err := conn.Write([]byte(strconv.Itoa(listeningPort))); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("trackerclient: announce port: %w", err)
	}

	initial, err := memberlist.Decode(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("trackerclient: read initial membership: %w", err)
	}

	return &Client{conn: conn, log: log}, initial, nil
}

// LocalIP returns the IP address this connection's socket used to reach the
// tracker, i.e. the address the tracker observed and registered this peer
// under. Callers should use this, not a guessed or hardcoded address, as
// their own PeerId so self-exclusion checks match what the tracker hands
// back in membership broadcasts.
func (c *Client) LocalIP() string {
	addr, ok := c.conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return c.conn.LocalAddr().String()
	}
	return addr.IP.String()
}

// Updates returns a channel delivering every subsequent membership
// broadcast; each one replaces the caller's view of the swarm wholesale.
// The channel is closed when the tracker connection ends (quit or socket
// loss).
func (c *Client) Updates(ctx context.Context) <-chan []memberlist.Peer {
	out := make(chan []memberlist.Peer)
	go func() {
		defer close(out)
		for {
			peers, err := memberlist.Decode(c.conn)
			if err != nil {
				if ctx.Err() == nil {
					c.log.WithError(err).Debug("tracker connection ended")
				}
				return
			}
			select {
			case out <- peers:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Quit sends the graceful-leave literal and closes the connection.
func (c *Client) Quit() error {
	_, err := c.conn.Write([]byte("quit"))
	c.conn.Close()
	return err
}
