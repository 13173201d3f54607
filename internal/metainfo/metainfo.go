// Package metainfo parses the torrent metainfo file and discovers the
// tracker's announce address. Grounded on the teacher's internal/torrent
// package, adapted to hex-string piece hashes instead of concatenated
// 20-byte digests.
package metainfo

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"swarmkit/internal/bencode"
	"swarmkit/internal/store"
)

// File describes one file entry in a multi-file torrent's layout.
type File struct {
	Filename string `bencode:"filename"`
	Length   int64  `bencode:"length"`
	MD5Sum   string `bencode:"md5sum"`
}

// Info is the torrent's info dictionary.
type Info struct {
	Name        string   `bencode:"name"`
	PieceLength int64    `bencode:"piece length"`
	Pieces      []string `bencode:"pieces"`
	Files       []File   `bencode:"files"`
}

// Torrent is the parsed contents of a .torrent metainfo file.
type Torrent struct {
	Announce string `bencode:"announce"`
	Info     Info   `bencode:"info"`
}

// Open reads and parses a metainfo file at path, validating it; callers
// treat a parse or validation failure as fatal at startup.
func Open(path string) (*Torrent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a metainfo file's bencode bytes and validates it.
func Parse(r io.Reader) (*Torrent, error) {
	var t Torrent
	if err := bencode.Unmarshal(r, &t); err != nil {
		return nil, fmt.Errorf("metainfo: decode: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("metainfo: invalid: %w", err)
	}
	return &t, nil
}

// Validate checks that the required metainfo fields are present.
func (t *Torrent) Validate() error {
	if t.Announce == "" {
		return fmt.Errorf("missing announce URL")
	}
	if t.Info.Name == "" {
		return fmt.Errorf("missing info.name")
	}
	if t.Info.PieceLength <= 0 {
		return fmt.Errorf("invalid info.piece length %d", t.Info.PieceLength)
	}
	if len(t.Info.Pieces) == 0 {
		return fmt.Errorf("no piece hashes")
	}
	for i, h := range t.Info.Pieces {
		if len(h) != 40 {
			return fmt.Errorf("piece %d hash is not 40 hex chars: %q", i, h)
		}
	}
	if len(t.Info.Files) == 0 {
		return fmt.Errorf("no files listed")
	}
	return nil
}

// NumPieces returns the total piece count N.
func (t *Torrent) NumPieces() int {
	return len(t.Info.Pieces)
}

// PieceHash returns the expected lowercase-hex SHA-1 digest for piece i.
func (t *Torrent) PieceHash(i int) (string, error) {
	if i < 0 || i >= len(t.Info.Pieces) {
		return "", fmt.Errorf("piece index %d out of range", i)
	}
	return t.Info.Pieces[i], nil
}

// TotalLength returns the sum of all file lengths.
func (t *Torrent) TotalLength() int64 {
	var total int64
	for _, f := range t.Info.Files {
		total += f.Length
	}
	return total
}

// PieceLength returns the configured length of piece i: PieceLength for
// every piece except possibly the last, which may be shorter.
func (t *Torrent) PieceLength(i int) int64 {
	n := t.NumPieces()
	if i < n-1 {
		return t.Info.PieceLength
	}
	total := t.TotalLength()
	last := total - int64(n-1)*t.Info.PieceLength
	if last <= 0 {
		return t.Info.PieceLength
	}
	return last
}

// TrackerAddress discovers the tracker's (ip, port) by fetching
// <announce>/tracker.txt, an ASCII "<ip> <port>" line.
func TrackerAddress(announce string, timeout time.Duration) (string, int, error) {
	client := &http.Client{Timeout: timeout}
	url := strings.TrimRight(announce, "/") + "/tracker.txt"

	resp, err := client.Get(url)
	if err != nil {
		return "", 0, fmt.Errorf("metainfo: fetch tracker.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("metainfo: tracker.txt returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("metainfo: read tracker.txt: %w", err)
	}

	fields := strings.Fields(string(body))
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("metainfo: malformed tracker.txt: %q", string(body))
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("metainfo: malformed tracker.txt port: %w", err)
	}
	return fields[0], port, nil
}

// Write bencodes t and saves it to path, the seeder-side counterpart to
// Open: a seeder publishes the metainfo it builds from its local files so
// leechers can fetch it out-of-band.
func (t *Torrent) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metainfo: create %s: %w", path, err)
	}
	defer f.Close()
	if err := bencode.Marshal(f, t); err != nil {
		return fmt.Errorf("metainfo: encode: %w", err)
	}
	return nil
}

// BuildFromDirectory constructs a Torrent and the seeder's complete piece
// map by reading every regular file directly under sourceDir (sorted by
// name) and slicing the GLOBAL concatenation of their bytes into
// pieceLength-sized pieces, so a piece may span a file boundary. Grounded
// on original_source/seeder/torrent_file_process.go's create_torrent_file
// and calculate_piece_hashes, adapted from that source's independent
// per-file slicing (where no piece ever spans a file boundary) to one
// continuous byte stream across files in listing order before slicing.
func BuildFromDirectory(sourceDir, announce string, pieceLength int64) (*Torrent, map[int][]byte, error) {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, nil, fmt.Errorf("metainfo: read %s: %w", sourceDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var files []File
	var all []byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(sourceDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("metainfo: read %s: %w", path, err)
		}
		sum := md5.Sum(data)
		files = append(files, File{
			Filename: entry.Name(),
			Length:   int64(len(data)),
			MD5Sum:   hex.EncodeToString(sum[:]),
		})
		all = append(all, data...)
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("metainfo: %s has no files", sourceDir)
	}

	pieces := make(map[int][]byte)
	var hashes []string
	for offset, index := int64(0), 0; offset < int64(len(all)); offset += pieceLength {
		end := offset + pieceLength
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		chunk := all[offset:end]
		pieces[index] = chunk
		hashes = append(hashes, store.HashOf(chunk))
		index++
	}

	t := &Torrent{
		Announce: announce,
		Info: Info{
			Name:        filepath.Base(sourceDir),
			PieceLength: pieceLength,
			Pieces:      hashes,
			Files:       files,
		},
	}
	return t, pieces, nil
}
