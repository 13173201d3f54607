// Command tracker is the swarm's single membership coordinator: a
// fixed-port TCP accept loop for the peer membership protocol, plus the
// HTTP `tracker.txt` endpoint peers use to discover that address. Grounded
// on original_source/tracker/manager.py's process entry point and the
// teacher's net/http usage. Takes no CLI flags.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"swarmkit/internal/logging"
	"swarmkit/internal/trackerserver"
)

// membershipPort is the tracker's fixed listening port. discoveryPort
// serves tracker.txt, matching original_source/seeder/seeder.py's default
// tracker_url of http://localhost:8000.
const (
	membershipPort = 5008
	discoveryPort  = 8000
)

func main() {
	log := logging.New(false)

	ip := localIP(log)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", membershipPort))
	if err != nil {
		log.WithError(err).Fatal("tracker: failed to bind membership listener")
	}
	log.WithField("port", membershipPort).Info("tracker: accepting peer connections")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := trackerserver.New(log)
	go func() {
		if err := tr.Serve(ctx, ln); err != nil {
			log.WithError(err).Error("tracker: serve loop exited")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/tracker.txt", trackerserver.AddressHandler(ip, membershipPort))
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", discoveryPort), Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("tracker: discovery http server exited")
		}
	}()
	log.WithFields(map[string]interface{}{"port": discoveryPort, "ip": ip}).Info("tracker: serving tracker.txt")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	log.Info("tracker: shutdown signal received")
	cancel()
	httpServer.Close()
}

func localIP(log interface{ Warn(args ...interface{}) }) string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		log.Warn("tracker: failed to enumerate interfaces, defaulting to 127.0.0.1")
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
