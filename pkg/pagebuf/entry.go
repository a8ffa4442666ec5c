// pkg/pagebuf/entry.go

package pagebuf

import "TickFS/pkg/driver"

// Entry is the in-memory record of one buffered page, or of one multi-page
// metadata entry (MPMDE) in SWMR writer mode.  An entry owns its image
// buffer exclusively.
//
// Membership rules: every entry is in the index.  A single-page entry is on
// exactly one of the LRU or the delayed write list.  An MPMDE is on neither
// unless delayed, in which case it is on the delayed write list only.
// Entries modified during the current tick are additionally on the tick
// list.
type Entry struct {
	addr    uint64
	page    uint64
	size    uint64
	image   []byte
	memType driver.AccessType
	mpmde   bool

	isDirty          bool
	loaded           bool
	modifiedThisTick bool
	delayWriteUntil  uint64

	lruPrev, lruNext *Entry
	onLRU            bool

	dwlPrev, dwlNext *Entry
	onDWL            bool

	tlPrev, tlNext *Entry
}

func (e *Entry) isMetadata() bool {
	return e.memType == driver.Metadata
}

// Addr returns the entry's base address.
func (e *Entry) Addr() uint64 { return e.addr }

// Size returns the entry's image size in bytes.
func (e *Entry) Size() uint64 { return e.size }

// Dirty reports whether the image differs from the file.
func (e *Entry) Dirty() bool { return e.isDirty }
