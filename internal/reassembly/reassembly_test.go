package reassembly

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"swarmkit/internal/metainfo"
)

type fakeSource map[int][]byte

func (f fakeSource) Get(i int) ([]byte, bool) {
	data, ok := f[i]
	return data, ok
}

func torrentWithFiles(pieceLength int64, files ...metainfo.File) *metainfo.Torrent {
	return &metainfo.Torrent{
		Announce: "http://tracker.test",
		Info: metainfo.Info{
			Name:        "payload",
			PieceLength: pieceLength,
			Files:       files,
		},
	}
}

// S1: a single file, exactly three pieces, no boundary splitting needed.
func TestReassembleSingleFileWholePieces(t *testing.T) {
	dir := t.TempDir()
	content := []byte("aaaabbbbcccc")
	tor := torrentWithFiles(4, metainfo.File{Filename: "out.bin", Length: int64(len(content))})

	source := fakeSource{
		0: content[0:4],
		1: content[4:8],
		2: content[8:12],
	}

	require.NoError(t, Reassemble(tor, source, dir))

	got, err := os.ReadFile(filepath.Join(dir, "payload", "out.bin"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}

// Two files whose boundary falls in the middle of a piece; the piece's
// bytes must be split across the two files.
func TestReassembleSplitsPieceAcrossFileBoundary(t *testing.T) {
	dir := t.TempDir()
	// piece 0: "abcd", piece 1: "efgh" -- file1 is 6 bytes ("abcdef"),
	// file2 is 2 bytes ("gh"), so piece 1 straddles the boundary.
	tor := torrentWithFiles(4,
		metainfo.File{Filename: "first.bin", Length: 6},
		metainfo.File{Filename: "second.bin", Length: 2},
	)
	source := fakeSource{
		0: []byte("abcd"),
		1: []byte("efgh"),
	}

	require.NoError(t, Reassemble(tor, source, dir))

	first, err := os.ReadFile(filepath.Join(dir, "payload", "first.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), first)

	second, err := os.ReadFile(filepath.Join(dir, "payload", "second.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("gh"), second)
}

// Reassembly is a pure read from already-committed pieces: running it twice
// must produce byte-identical output.
func TestReassembleIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	content := []byte("0123456789")
	tor := torrentWithFiles(5, metainfo.File{Filename: "out.bin", Length: int64(len(content))})
	source := fakeSource{0: content[0:5], 1: content[5:10]}

	require.NoError(t, Reassemble(tor, source, dir))
	first, err := os.ReadFile(filepath.Join(dir, "payload", "out.bin"))
	require.NoError(t, err)

	require.NoError(t, Reassemble(tor, source, dir))
	second, err := os.ReadFile(filepath.Join(dir, "payload", "out.bin"))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestReassembleErrorsOnMissingPiece(t *testing.T) {
	dir := t.TempDir()
	tor := torrentWithFiles(4, metainfo.File{Filename: "out.bin", Length: 8})
	source := fakeSource{0: []byte("abcd")} // piece 1 never committed

	err := Reassemble(tor, source, dir)
	require.Error(t, err)
}

func TestReassembleCreatesNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	tor := torrentWithFiles(4, metainfo.File{Filename: filepath.Join("nested", "dir", "out.bin"), Length: 4})
	source := fakeSource{0: []byte("abcd")}

	require.NoError(t, Reassemble(tor, source, dir))

	got, err := os.ReadFile(filepath.Join(dir, "payload", "nested", "dir", "out.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("abcd"), got)
}
