// pkg/mdfile/format.go

package mdfile

import (
	"encoding/binary"

	"TickFS/pkg/utils"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

var logger = utils.GetLogger("tickfs")

// On-disk layout of the shared metadata file.  All integers little-endian.
//
//	HEADER:  magic "VHDR" | u32 fs_page_size | u64 tick_num |
//	         u64 index_offset | u64 index_length | u32 checksum
//	INDEX:   magic "VIDX" | u64 tick_num | u32 num_entries |
//	         entries[] | u32 checksum
//	ENTRY:   u32 data_file_page_offset | u32 md_file_page_offset |
//	         u32 length | u32 checksum
//
// Record checksums cover all preceding bytes of their record.  Entry
// checksums cover the page payload as laid out in the metadata file.
const (
	headerMagic = "VHDR"
	indexMagic  = "VIDX"

	magicLen = 4

	// HeaderSize is the fixed on-disk size of the header record.
	HeaderSize = magicLen + 4 + 8 + 8 + 8 + 4

	indexEntrySize = 16
	indexOverhead  = magicLen + 8 + 4 + 4
)

var (
	// ErrCorrupt reports a magic or checksum mismatch in a decoded record,
	// or an impossible header/index state.  The reader retries record and
	// page mismatches and reports ErrRetryExhausted once they persist.
	ErrCorrupt = errors.New("metadata file corrupt")

	// ErrRetryExhausted reports a header, index or page read that never
	// stabilized within the configured retry bounds.
	ErrRetryExhausted = errors.New("retries exhausted")
)

// Checksum is the record and page checksum used throughout the metadata
// file: XXH64 truncated to its low 32 bits.
func Checksum(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

// Header is the decoded metadata file header.
type Header struct {
	PageSize    uint32
	TickNum     uint64
	IndexOffset uint64
	IndexLength uint64
}

func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, headerMagic)
	binary.LittleEndian.PutUint32(buf[4:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[8:], h.TickNum)
	binary.LittleEndian.PutUint64(buf[16:], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:], h.IndexLength)
	binary.LittleEndian.PutUint32(buf[32:], Checksum(buf[:32]))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, errors.Wrap(ErrCorrupt, "short header")
	}
	if string(buf[:magicLen]) != headerMagic {
		return h, errors.Wrap(ErrCorrupt, "bad header magic")
	}
	stored := binary.LittleEndian.Uint32(buf[32:])
	if computed := Checksum(buf[:32]); stored != computed {
		return h, errors.Wrapf(ErrCorrupt, "header checksum mismatch (stored %08x, computed %08x)", stored, computed)
	}
	h.PageSize = binary.LittleEndian.Uint32(buf[4:])
	h.TickNum = binary.LittleEndian.Uint64(buf[8:])
	h.IndexOffset = binary.LittleEndian.Uint64(buf[16:])
	h.IndexLength = binary.LittleEndian.Uint64(buf[24:])
	return h, nil
}

// IndexEntry maps one data-file page to its image in the metadata file.
type IndexEntry struct {
	PageOffset       uint32 // page number in the data file
	MDFilePageOffset uint32 // page number in the metadata file
	Length           uint32 // image length in bytes
	Checksum         uint32 // checksum of the image
}

// Index is the decoded metadata file index.
type Index struct {
	TickNum uint64
	Entries []IndexEntry
}

func encodedIndexSize(numEntries int) int {
	return indexOverhead + numEntries*indexEntrySize
}

func (idx *Index) encode() []byte {
	buf := make([]byte, encodedIndexSize(len(idx.Entries)))
	copy(buf, indexMagic)
	binary.LittleEndian.PutUint64(buf[4:], idx.TickNum)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(idx.Entries)))
	p := 16
	for _, e := range idx.Entries {
		binary.LittleEndian.PutUint32(buf[p:], e.PageOffset)
		binary.LittleEndian.PutUint32(buf[p+4:], e.MDFilePageOffset)
		binary.LittleEndian.PutUint32(buf[p+8:], e.Length)
		binary.LittleEndian.PutUint32(buf[p+12:], e.Checksum)
		p += indexEntrySize
	}
	binary.LittleEndian.PutUint32(buf[p:], Checksum(buf[:p]))
	return buf
}

func decodeIndex(buf []byte) (Index, error) {
	var idx Index
	if len(buf) < indexOverhead {
		return idx, errors.Wrap(ErrCorrupt, "short index")
	}
	if string(buf[:magicLen]) != indexMagic {
		return idx, errors.Wrap(ErrCorrupt, "bad index magic")
	}
	num := int(binary.LittleEndian.Uint32(buf[12:]))
	want := encodedIndexSize(num)
	if len(buf) < want {
		return idx, errors.Wrapf(ErrCorrupt, "index truncated (%d entries need %d bytes, have %d)", num, want, len(buf))
	}
	stored := binary.LittleEndian.Uint32(buf[want-4:])
	if computed := Checksum(buf[:want-4]); stored != computed {
		return idx, errors.Wrapf(ErrCorrupt, "index checksum mismatch (stored %08x, computed %08x)", stored, computed)
	}
	idx.TickNum = binary.LittleEndian.Uint64(buf[4:])
	if num > 0 {
		idx.Entries = make([]IndexEntry, num)
		p := 16
		for i := range idx.Entries {
			idx.Entries[i].PageOffset = binary.LittleEndian.Uint32(buf[p:])
			idx.Entries[i].MDFilePageOffset = binary.LittleEndian.Uint32(buf[p+4:])
			idx.Entries[i].Length = binary.LittleEndian.Uint32(buf[p+8:])
			idx.Entries[i].Checksum = binary.LittleEndian.Uint32(buf[p+12:])
			p += indexEntrySize
		}
	}
	return idx, nil
}
