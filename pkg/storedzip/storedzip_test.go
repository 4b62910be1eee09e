package storedzip_test

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/inbucket/bookmailer/pkg/storedzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumKnownVectors(t *testing.T) {
	testCases := []struct {
		input string
		want  uint32
	}{
		{"", 0x00000000},
		{"a", 0xe8b7be43},
		{"123456789", 0xcbf43926},
		{"The quick brown fox jumps over the lazy dog", 0x414fa339},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got := storedzip.Checksum([]byte(tc.input))
			if got != tc.want {
				t.Errorf("Checksum(%q) got %#08x, want %#08x", tc.input, got, tc.want)
			}
		})
	}
}

func TestChecksumMatchesReference(t *testing.T) {
	// Every byte value, at several lengths.
	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	for _, n := range []int{1, 2, 3, 255, 256, 257, 1024} {
		want := crc32.ChecksumIEEE(data[:n])
		got := storedzip.Checksum(data[:n])
		assert.Equal(t, want, got, "length %d", n)
	}
}

func TestWriteEmpty(t *testing.T) {
	b, err := storedzip.Write(nil)
	require.NoError(t, err)
	assert.Len(t, b, 22, "an empty archive is just the end record")

	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	assert.Empty(t, r.File)
}

func TestWriteReadableByStandardReader(t *testing.T) {
	mod := time.Date(2024, time.March, 9, 14, 30, 20, 0, time.UTC)
	files := []storedzip.File{
		{Name: "mimetype", Data: []byte("application/epub+zip"), Modified: mod},
		{Name: "dir/empty.txt", Data: nil, Modified: mod},
		{Name: "dir/hello.txt", Data: []byte("hello, world\n"), Modified: mod},
	}
	b, err := storedzip.Write(files)
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	require.Len(t, r.File, len(files))
	for i, zf := range r.File {
		want := files[i]
		assert.Equal(t, want.Name, zf.Name)
		assert.Equal(t, zip.Store, zf.Method, "entry %q must be stored", zf.Name)
		assert.Equal(t, uint16(0), zf.Flags)
		assert.Equal(t, uint64(len(want.Data)), zf.CompressedSize64)
		assert.Equal(t, uint64(len(want.Data)), zf.UncompressedSize64)
		assert.Equal(t, storedzip.Checksum(want.Data), zf.CRC32)
		assert.Empty(t, zf.Extra)
		assert.True(t, mod.Equal(zf.Modified), "got modified %v", zf.Modified)

		rc, err := zf.Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, string(want.Data), string(got))
	}
}

func TestWriteOffsetsAreAppendOnly(t *testing.T) {
	files := []storedzip.File{
		{Name: "a", Data: []byte("first")},
		{Name: "bb", Data: []byte("second entry")},
		{Name: "ccc", Data: []byte("3")},
	}
	b, err := storedzip.Write(files)
	require.NoError(t, err)

	r, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	require.NoError(t, err)
	var want int64
	for i, zf := range r.File {
		got, err := zf.DataOffset()
		require.NoError(t, err)
		// Data starts after the fixed 30 byte local header and the name.
		assert.Equal(t, want+30+int64(len(files[i].Name)), got, "entry %q", zf.Name)
		want = got + int64(len(files[i].Data))
	}

	// The end record points at the central directory, which follows the last entry's data.
	end := b[len(b)-22:]
	assert.Equal(t, uint32(0x06054b50), binary.LittleEndian.Uint32(end[0:]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(end[8:]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(end[10:]))
	cdSize := binary.LittleEndian.Uint32(end[12:])
	cdOffset := binary.LittleEndian.Uint32(end[16:])
	assert.Equal(t, uint32(want), cdOffset)
	assert.Equal(t, uint32(len(b)-22), cdOffset+cdSize)
}

func TestWriteFirstEntryAtFixedOffset(t *testing.T) {
	b, err := storedzip.Write([]storedzip.File{
		{Name: "mimetype", Data: []byte("application/epub+zip")},
		{Name: "other", Data: []byte("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04", string(b[0:4]))
	assert.Equal(t, "mimetype", string(b[30:38]))
	assert.Equal(t, "application/epub+zip", string(b[38:58]))
}

func TestWriteRejectsBadNames(t *testing.T) {
	_, err := storedzip.Write([]storedzip.File{{Name: ""}})
	assert.Error(t, err)

	_, err = storedzip.Write([]storedzip.File{{Name: strings.Repeat("n", 65536)}})
	assert.ErrorIs(t, err, storedzip.ErrTooLarge)
}

func TestWriteIsDeterministic(t *testing.T) {
	files := []storedzip.File{
		{Name: "one", Data: []byte("1")},
		{Name: "two", Data: []byte("2")},
	}
	a, err := storedzip.Write(files)
	require.NoError(t, err)
	b, err := storedzip.Write(files)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
