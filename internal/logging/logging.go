// Package logging configures the structured logger shared by the peer,
// seeder, and tracker binaries. Grounded on the pack's logrus usage
// (TatuMon-bittorrent-client's logrus.Debug/Warnf call sites, chihaya's
// sirupsen/logrus dependency) generalizing the teacher's plain stdlib
// log.Printf/log.Fatalf startup messages into structured fields instead.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus logger writing to stderr, with Debug-level output
// when verbose is set (the binaries' --verbose flag) and Info-level
// otherwise.
func New(verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}
