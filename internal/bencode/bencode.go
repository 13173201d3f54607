// Package bencode is a thin wrapper around github.com/jackpal/bencode-go.
// Metainfo encoding is a thin external collaborator, not core logic; this
// package exists only to give the rest of the tree a narrow, swappable
// seam onto it.
package bencode

import (
	"io"

	bencode "github.com/jackpal/bencode-go"
)

// Unmarshal decodes bencoded data from r into v, following v's `bencode`
// struct tags.
func Unmarshal(r io.Reader, v any) error {
	return bencode.Unmarshal(r, v)
}

// Marshal encodes v as bencode to w, following v's `bencode` struct tags.
func Marshal(w io.Writer, v any) error {
	return bencode.Marshal(w, v)
}
