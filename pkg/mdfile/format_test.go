// pkg/mdfile/format_test.go

package mdfile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	in := Header{
		PageSize:    4096,
		TickNum:     42,
		IndexOffset: HeaderSize,
		IndexLength: 1234,
	}
	buf := in.encode()
	require.Len(t, buf, HeaderSize)

	out, err := decodeHeader(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderDecodeRejectsCorruption(t *testing.T) {
	buf := (&Header{PageSize: 4096, TickNum: 7}).encode()

	short := buf[:HeaderSize-1]
	_, err := decodeHeader(short)
	assert.ErrorIs(t, err, ErrCorrupt)

	badMagic := append([]byte(nil), buf...)
	badMagic[0] = 'X'
	_, err = decodeHeader(badMagic)
	assert.ErrorIs(t, err, ErrCorrupt)

	badSum := append([]byte(nil), buf...)
	badSum[9] ^= 0xFF
	_, err = decodeHeader(badSum)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestIndexRoundTrip(t *testing.T) {
	in := Index{
		TickNum: 9,
		Entries: []IndexEntry{
			{PageOffset: 1, MDFilePageOffset: 2, Length: 4096, Checksum: 0xDEADBEEF},
			{PageOffset: 5, MDFilePageOffset: 3, Length: 8192, Checksum: 0x01020304},
		},
	}
	out, err := decodeIndex(in.encode())
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyIndexRoundTrip(t *testing.T) {
	in := Index{TickNum: 3}
	out, err := decodeIndex(in.encode())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), out.TickNum)
	assert.Empty(t, out.Entries)
}

func TestIndexDecodeRejectsCorruption(t *testing.T) {
	buf := (&Index{TickNum: 1, Entries: []IndexEntry{{PageOffset: 1}}}).encode()

	badMagic := append([]byte(nil), buf...)
	badMagic[0] = 'X'
	_, err := decodeIndex(badMagic)
	assert.ErrorIs(t, err, ErrCorrupt)

	truncated := buf[:len(buf)-8]
	_, err = decodeIndex(truncated)
	assert.ErrorIs(t, err, ErrCorrupt)

	badSum := append([]byte(nil), buf...)
	badSum[17] ^= 0xFF
	_, err = decodeIndex(badSum)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestChecksumStability(t *testing.T) {
	a := Checksum([]byte("some page image"))
	b := Checksum([]byte("some page image"))
	c := Checksum([]byte("some page imagf"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
