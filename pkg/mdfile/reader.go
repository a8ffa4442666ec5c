// pkg/mdfile/reader.go

package mdfile

import (
	"os"
	"sort"
	"time"

	"TickFS/pkg/driver"
	"TickFS/pkg/utils"

	"github.com/pkg/errors"
)

// ReaderConfig carries the metadata file location and the retry bounds of
// the torn-read protocol.
type ReaderConfig struct {
	Path          string
	PagesReserved uint32

	// OpenBackoff paces attempts to open the metadata file itself.
	OpenBackoff utils.Backoff
	// LoadBackoff paces whole header+index load cycles.
	LoadBackoff utils.Backoff
	// StatBackoff paces waiting for the file to grow to a usable size.
	StatBackoff utils.Backoff
	// HeaderBackoff and IndexBackoff pace re-reads of a torn record.
	HeaderBackoff utils.Backoff
	IndexBackoff  utils.Backoff
	// EntryBackoff paces re-reads of a torn page image.
	EntryBackoff utils.Backoff
}

func defaultBackoff(attempts uint) utils.Backoff {
	return utils.Backoff{
		Initial:     time.Nanosecond,
		Multiplier:  2,
		Cap:         100 * time.Millisecond,
		MaxAttempts: attempts,
	}
}

// DefaultReaderConfig returns a ReaderConfig with the standard retry bounds.
func DefaultReaderConfig(path string) ReaderConfig {
	return ReaderConfig{
		Path:          path,
		PagesReserved: 1,
		OpenBackoff:   defaultBackoff(50),
		LoadBackoff:   defaultBackoff(120),
		StatBackoff:   defaultBackoff(50),
		HeaderBackoff: defaultBackoff(50),
		IndexBackoff:  defaultBackoff(50),
		EntryBackoff:  defaultBackoff(120),
	}
}

// Reader intercepts reads on behalf of a VFD SWMR reader.  Pages listed in
// the cached metadata file index are served from the metadata file; all
// other traffic passes through to the lower driver.  The metadata file is
// written without locks, so every load tolerates torn state via checksums
// and bounded retries.
type Reader struct {
	lower driver.Driver
	md    *os.File
	cfg   ReaderConfig

	hdr    Header
	idx    Index
	loaded bool

	// pbConfigured is false between open and page buffer creation; while
	// false, short in-page reads are permitted so the library can sniff
	// the file signature.
	pbConfigured bool
}

// OpenReader opens the metadata file (retrying while the writer has not
// created it yet), performs the initial header+index load and wraps lower.
func OpenReader(lower driver.Driver, cfg ReaderConfig) (*Reader, error) {
	r := &Reader{lower: lower, cfg: cfg}

	var err error
	for s := cfg.OpenBackoff.Start(); s.Next(); {
		if r.md, err = os.Open(cfg.Path); err == nil {
			break
		}
	}
	if r.md == nil {
		return nil, errors.Wrapf(ErrRetryExhausted, "open metadata file %s: %v", cfg.Path, err)
	}
	if err = r.loadHeaderAndIndex(true); err != nil {
		_ = r.md.Close()
		return nil, err
	}
	return r, nil
}

// SetPageBufferConfigured tells the reader that the page buffer is up and
// that all further served reads must cover complete index entries.
func (r *Reader) SetPageBufferConfigured() {
	r.pbConfigured = true
}

// Tick returns the tick of the cached header.
func (r *Reader) Tick() uint64 { return r.hdr.TickNum }

// Header returns a copy of the cached header.
func (r *Reader) Header() Header { return r.hdr }

// Index returns a copy of the cached index entries, in page order.
func (r *Reader) Index() []IndexEntry {
	out := make([]IndexEntry, len(r.idx.Entries))
	copy(out, r.idx.Entries)
	return out
}

// Reload refreshes the cached header and index from the metadata file.
// It is a no-op if the writer has not published a new tick.
func (r *Reader) Reload() error {
	return r.loadHeaderAndIndex(false)
}

// loadHeaderAndIndex loads and decodes the header, and if it announces a
// new tick, the index:
//
//	-- a header whose tick equals the cached tick means nothing new
//	-- a header whose tick is below the cached tick is corruption
//	-- header and index ticks must agree; a skew of exactly one means the
//	   writer is mid-publish, so retry; a larger skew is corruption
func (r *Reader) loadHeaderAndIndex(open bool) error {
	var lastErr error
	for s := r.cfg.LoadBackoff.Start(); s.Next(); {
		hdr, err := r.headerDeserialize()
		if err != nil {
			lastErr = err
			continue
		}

		if !open {
			if hdr.TickNum == r.hdr.TickNum {
				return nil
			}
			if hdr.TickNum < r.hdr.TickNum {
				return errors.Wrapf(ErrCorrupt, "tick moved backwards (%d -> %d)", r.hdr.TickNum, hdr.TickNum)
			}
		}

		idx, err := r.indexDeserialize(hdr)
		if err != nil {
			lastErr = err
			continue
		}

		if hdr.TickNum == idx.TickNum {
			r.hdr = hdr
			r.idx = idx
			r.loaded = true
			return nil
		}
		if hdr.TickNum > idx.TickNum+1 {
			return errors.Wrapf(ErrCorrupt, "header tick %d vs index tick %d", hdr.TickNum, idx.TickNum)
		}
		// writer is between index and header writes, go around again
		lastErr = errors.Errorf("header tick %d, index tick %d", hdr.TickNum, idx.TickNum)
	}
	return errors.Wrapf(ErrRetryExhausted, "load metadata header and index: %v", lastErr)
}

// headerDeserialize waits for the metadata file to reach header size, then
// reads the header until magic and checksum verify.
func (r *Reader) headerDeserialize() (Header, error) {
	var h Header
	if err := r.waitForSize(HeaderSize, r.cfg.StatBackoff); err != nil {
		return h, err
	}

	buf := make([]byte, HeaderSize)
	var lastErr error
	for s := r.cfg.HeaderBackoff.Start(); s.Next(); {
		if _, err := r.md.ReadAt(buf, 0); err != nil {
			lastErr = errors.Wrapf(err, "read header from %s", r.cfg.Path)
			continue
		}
		h, lastErr = decodeHeader(buf)
		if lastErr != nil {
			continue
		}
		if HeaderSize+h.IndexLength > uint64(r.cfg.PagesReserved)*uint64(h.PageSize) &&
			h.IndexOffset == HeaderSize {
			return h, errors.Wrapf(ErrCorrupt, "header + index (%d bytes) does not fit within %d reserved pages",
				HeaderSize+h.IndexLength, r.cfg.PagesReserved)
		}
		return h, nil
	}
	return h, errors.Wrapf(ErrRetryExhausted, "header never verified: %v", lastErr)
}

// indexDeserialize waits for the file to cover the index, then reads it
// until magic and checksum verify.
func (r *Reader) indexDeserialize(hdr Header) (Index, error) {
	var idx Index
	if err := r.waitForSize(hdr.IndexOffset+hdr.IndexLength, r.cfg.StatBackoff); err != nil {
		return idx, err
	}

	buf := make([]byte, hdr.IndexLength)
	var lastErr error
	for s := r.cfg.IndexBackoff.Start(); s.Next(); {
		if _, err := r.md.ReadAt(buf, int64(hdr.IndexOffset)); err != nil {
			lastErr = errors.Wrapf(err, "read index from %s", r.cfg.Path)
			continue
		}
		idx, lastErr = decodeIndex(buf)
		if lastErr == nil {
			return idx, nil
		}
	}
	return idx, errors.Wrapf(ErrRetryExhausted, "index never verified: %v", lastErr)
}

func (r *Reader) waitForSize(want uint64, b utils.Backoff) error {
	for s := b.Start(); s.Next(); {
		info, err := r.md.Stat()
		if err != nil {
			return errors.Wrapf(err, "stat %s", r.cfg.Path)
		}
		if uint64(info.Size()) >= want {
			return nil
		}
	}
	return errors.Wrapf(ErrRetryExhausted, "metadata file never reached %d bytes", want)
}

// Read serves the request from the metadata file if the target page is in
// the cached index, and passes it through to the lower driver otherwise.
func (r *Reader) Read(typ driver.AccessType, addr uint64, buf []byte) error {
	if !r.loaded || len(r.idx.Entries) == 0 {
		return r.lower.Read(typ, addr, buf)
	}

	pageSize := uint64(r.hdr.PageSize)
	targetPage := addr / pageSize

	entries := r.idx.Entries
	i := sort.Search(len(entries), func(i int) bool {
		return uint64(entries[i].PageOffset) >= targetPage
	})
	if i >= len(entries) || uint64(entries[i].PageOffset) != targetPage {
		return r.lower.Read(typ, addr, buf)
	}
	e := entries[i]

	pageOffset := addr - targetPage*pageSize
	if r.pbConfigured {
		if pageOffset != 0 || uint64(len(buf)) != uint64(e.Length) {
			return errors.Wrapf(ErrCorrupt, "read of %d bytes at %d does not cover indexed entry of %d bytes for page %d",
				len(buf), addr, e.Length, targetPage)
		}
	} else if pageOffset+uint64(len(buf)) > pageSize {
		return errors.Wrapf(ErrCorrupt, "unconfigured read at %d crosses page boundary", addr)
	}

	mdOffset := uint64(e.MDFilePageOffset)*pageSize + pageOffset
	var lastErr error
	for s := r.cfg.EntryBackoff.Start(); s.Next(); {
		if _, err := r.md.ReadAt(buf, int64(mdOffset)); err != nil {
			lastErr = errors.Wrapf(err, "read page %d from %s", targetPage, r.cfg.Path)
			continue
		}
		if !r.pbConfigured {
			// partial reads cannot be checksummed; trust the image until
			// the page buffer takes over
			return nil
		}
		if computed := Checksum(buf); computed == e.Checksum {
			return nil
		}
		lastErr = errors.Errorf("page %d checksum mismatch", targetPage)
	}
	return errors.Wrapf(ErrRetryExhausted, "page %d never verified: %v", targetPage, lastErr)
}

// Write is rejected: the VFD SWMR reader opens the file read-only.
func (r *Reader) Write(typ driver.AccessType, addr uint64, buf []byte) error {
	return errors.Errorf("write of %d bytes at %d through read-only SWMR reader", len(buf), addr)
}

func (r *Reader) EOA(typ driver.AccessType) (uint64, error) { return r.lower.EOA(typ) }

func (r *Reader) SetEOA(typ driver.AccessType, addr uint64) error {
	return r.lower.SetEOA(typ, addr)
}

func (r *Reader) EOF() (uint64, error) { return r.lower.EOF() }

func (r *Reader) Lock(rw bool) error { return r.lower.Lock(rw) }

func (r *Reader) Unlock() error { return r.lower.Unlock() }

// Truncate is rejected for the same reason Write is.
func (r *Reader) Truncate(closing bool) error {
	return errors.New("truncate through read-only SWMR reader")
}

func (r *Reader) Close() error {
	if r.md != nil {
		_ = r.md.Close()
	}
	return r.lower.Close()
}
