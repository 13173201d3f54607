// Command seeder builds a metainfo file from a local source directory and
// serves every piece it contains, never requesting anything itself.
// Grounded on original_source/seeder/seeder.py's startup sequence
// (create_torrent_file → register_with_tracker → start_listening), rewritten
// through swarmkit's engine/trackerclient instead of a hand-rolled socket
// loop, and through global cross-file piece slicing instead of the
// source's per-file slicing (metainfo.BuildFromDirectory documents why).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"

	"swarmkit/internal/engine"
	"swarmkit/internal/logging"
	"swarmkit/internal/metainfo"
	"swarmkit/internal/swarm"
	"swarmkit/internal/trackerclient"
)

func main() {
	pieceLength := flag.Int64("piece_length", 2048, "length of each piece in bytes")
	port := flag.Int("port", 6882, "port number for the seeder to listen on")
	verbose := flag.Bool("verbose", false, "enable detailed logging")
	sourceDir := flag.String("source-dir", "store", "directory of files to seed")
	torrentOut := flag.String("torrent-out", "file.torrent", "path to write the generated metainfo file")
	announce := flag.String("announce", "http://localhost:8000", "tracker base URL")
	flag.Parse()

	log := logging.New(*verbose)

	t, pieces, err := metainfo.BuildFromDirectory(*sourceDir, *announce, *pieceLength)
	if err != nil {
		log.WithError(err).Fatal("seeder: failed to build torrent from source directory")
	}
	if err := t.Write(*torrentOut); err != nil {
		log.WithError(err).Fatal("seeder: failed to write metainfo file")
	}
	log.WithFields(map[string]interface{}{
		"name":   t.Info.Name,
		"size":   humanize.Bytes(uint64(t.TotalLength())),
		"pieces": t.NumPieces(),
		"out":    *torrentOut,
	}).Info("seeder: built torrent")

	trackerIP, trackerPort, err := metainfo.TrackerAddress(t.Announce, 0)
	if err != nil {
		log.WithError(err).Fatal("seeder: failed to discover tracker address")
	}
	trackerAddr := fmt.Sprintf("%s:%d", trackerIP, trackerPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, initial, err := trackerclient.Dial(ctx, trackerAddr, *port, log)
	if err != nil {
		log.WithError(err).Fatal("seeder: failed to register with tracker")
	}
	log.WithField("peers", len(initial)).Info("seeder: joined swarm")

	self := engine.Self(swarm.PeerId{IP: client.LocalIP(), Port: *port})
	eng, err := engine.NewSeeder(self, t, pieces, log)
	if err != nil {
		log.WithError(err).Fatal("seeder: failed to initialize piece store")
	}
	eng.Bootstrap(ctx, initial)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.WithError(err).Fatal("seeder: failed to bind listener")
	}
	log.WithField("port", *port).Info("seeder: listening for peers")

	go func() {
		for update := range client.Updates(ctx) {
			eng.ApplyTrackerUpdate(update)
		}
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Debug("seeder: accept loop ended")
				return
			}
			go eng.Accept(ctx, conn)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals

	log.Info("seeder: shutdown signal received")
	client.Quit()
	eng.Quit()
	ln.Close()
}
