// pkg/pagebuf/pagebuf.go

// Package pagebuf implements the page-granular write-back cache that sits
// between the metadata cache / raw data path and the file driver.  Reads
// and writes are classified by access type, alignment and size; small
// accesses are buffered page-wise, large raw accesses bypass the cache,
// and in SWMR writer mode metadata updates are retained on the tick list
// until published to readers through the shared metadata file.
package pagebuf

import (
	"sync"

	"TickFS/pkg/driver"
	"TickFS/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("tickfs")

// PageBuffer is the per-file page cache.  All public methods serialize on
// the embedded mutex; the engine itself never blocks except in driver I/O.
type PageBuffer struct {
	sync.Mutex

	lower driver.Driver
	delay DelayPolicy

	pageSize   uint64
	maxPages   int
	minMDPages int
	minRDPages int

	currPages   int
	currMDPages int
	currRDPages int
	mpmdeCount  int

	index map[uint64]*Entry
	lru   lruList
	dwl   dwList
	tl    tlList

	swmrWriter bool
	curTick    uint64

	// prevAddr disambiguates the metadata cache's speculative-then-exact
	// read pairs (see readMeta).
	prevAddr     uint64
	havePrevAddr bool

	poisoned bool
	stats    Stats
}

// New creates a page buffer over lower.  delay may be nil when no write
// delays are required.
func New(lower driver.Driver, cfg Config, delay DelayPolicy) (*PageBuffer, error) {
	if cfg.PageSize == 0 {
		return nil, errors.Wrap(ErrConfig, "page size is zero")
	}
	if cfg.MinMetaPct > 100 || cfg.MinRawPct > 100 || cfg.MinMetaPct+cfg.MinRawPct > 100 {
		return nil, errors.Wrapf(ErrConfig, "min percentages %d+%d out of range",
			cfg.MinMetaPct, cfg.MinRawPct)
	}
	size := cfg.MaxSize
	if size > cfg.PageSize {
		size = size / cfg.PageSize * cfg.PageSize
	} else if size != cfg.PageSize {
		return nil, errors.Wrapf(ErrConfig, "size %d is smaller than the page size %d", size, cfg.PageSize)
	}

	maxPages := int(size / cfg.PageSize)
	minMD := int(size * uint64(cfg.MinMetaPct) / (cfg.PageSize * 100))
	minRD := int(size * uint64(cfg.MinRawPct) / (cfg.PageSize * 100))
	if delay == nil {
		delay = NoDelay{}
	}

	pb := &PageBuffer{
		lower:      lower,
		delay:      delay,
		pageSize:   cfg.PageSize,
		maxPages:   maxPages,
		minMDPages: minMD,
		minRDPages: minRD,
		index:      make(map[uint64]*Entry),
		swmrWriter: cfg.SWMRWriter,
	}
	pb.stats.MaxPages = uint64(maxPages)
	logger.Debugf("page buffer created: %d pages of %d bytes, min md/raw %d/%d, swmr writer %v",
		maxPages, cfg.PageSize, minMD, minRD, cfg.SWMRWriter)
	return pb, nil
}

// invariantf poisons the page buffer and returns an ErrInvariant.  After
// poisoning, every public operation refuses.
func (pb *PageBuffer) invariantf(format string, args ...interface{}) error {
	pb.poisoned = true
	return errors.Wrapf(ErrInvariant, format, args...)
}

func (pb *PageBuffer) checkUsable() error {
	if pb.poisoned {
		return errors.Wrap(ErrInvariant, "page buffer poisoned by earlier failure")
	}
	return nil
}

// excludes reports whether the configuration forbids buffering typ at all.
func (pb *PageBuffer) excludes(typ driver.AccessType) bool {
	if typ == driver.RawData {
		return pb.minMDPages == pb.maxPages
	}
	return pb.minRDPages == pb.maxPages
}

// CurrPages returns the number of resident entries.
func (pb *PageBuffer) CurrPages() int {
	pb.Lock()
	defer pb.Unlock()
	return pb.currPages
}

// PageExists reports whether an entry is resident at the page-aligned addr.
func (pb *PageBuffer) PageExists(addr uint64) (bool, error) {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return false, err
	}
	page := addr / pb.pageSize
	if addr != page*pb.pageSize {
		return false, pb.invariantf("unaligned address %d", addr)
	}
	_, ok := pb.index[page]
	return ok, nil
}

// Read satisfies the request from the page buffer where possible.  The
// classification is exhaustive; see readMeta and readRaw for the aligned
// metadata and raw sub-cases.
func (pb *PageBuffer) Read(typ driver.AccessType, addr uint64, buf []byte) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	if pb.excludes(typ) {
		pb.stats.class(typ == driver.Metadata).Bypasses++
		return pb.lower.Read(typ, addr, buf)
	}
	if typ == driver.RawData {
		return pb.readRaw(addr, buf)
	}
	return pb.readMeta(addr, buf)
}

// Write mirrors Read.  Metadata writes larger than one page are buffered
// only in SWMR writer mode; otherwise they bypass straight to the driver.
func (pb *PageBuffer) Write(typ driver.AccessType, addr uint64, buf []byte) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	bypass := pb.excludes(typ)
	if !bypass && typ == driver.Metadata &&
		uint64(len(buf)) > pb.pageSize && !pb.swmrWriter {
		bypass = true
	}
	if bypass {
		pb.stats.class(typ == driver.Metadata).Bypasses++
		return pb.lower.Write(typ, addr, buf)
	}
	if typ == driver.RawData {
		return pb.writeRaw(addr, buf)
	}
	return pb.writeMeta(addr, buf)
}

// readMeta handles all metadata reads the buffer does not bypass.
//
// The metadata cache issues speculative reads whose size may not match the
// object finally read, so page-aligned reads need the previous read
// address to disambiguate: a page-aligned read of a page or more at the
// same address as the previous metadata read (of any size) means the
// speculation was too small, the buffered page is stale for this purpose
// and must be evicted so the full object can be read from the file.
func (pb *PageBuffer) readMeta(addr uint64, buf []byte) error {
	size := uint64(len(buf))
	page := addr / pb.pageSize
	pageAddr := page * pb.pageSize

	defer func() {
		pb.prevAddr = addr
		pb.havePrevAddr = true
	}()

	if pageAddr != addr {
		// unaligned: clip to the end of the page and serve from the
		// containing page, loading it if needed
		offset := addr - pageAddr
		clipped := size
		if offset+size > pb.pageSize {
			clipped = pb.pageSize - offset
		}

		e := pb.index[page]
		pb.stats.hit(true, e != nil)
		if e == nil {
			var err error
			if e, err = pb.loadPage(pageAddr, driver.Metadata); err != nil {
				return err
			}
		}
		if e.mpmde {
			return errors.Wrapf(ErrCorrupt, "unaligned metadata read at %d hit a multi-page entry", addr)
		}
		copy(buf[:clipped], e.image[offset:offset+clipped])
		if e.delayWriteUntil == 0 {
			pb.lru.access(e)
		}
		return nil
	}

	if size >= pb.pageSize {
		e := pb.index[page]
		switch {
		case e == nil:
			// no entry: the object is not buffered, read it whole from
			// the file
			pb.stats.hit(true, false)
			pb.stats.Meta.Bypasses++
			return pb.lower.Read(driver.Metadata, addr, buf)

		case !e.mpmde:
			if pb.havePrevAddr && pb.prevAddr == addr {
				// the exact read after a too-small speculative read:
				// drop the stale page and read the full object
				if e.isDirty {
					return pb.invariantf("dirty page at %d blocks re-read of multi-page object", addr)
				}
				if err := pb.evictEntry(e, true); err != nil {
					return err
				}
				pb.stats.Meta.Bypasses++
				return pb.lower.Read(driver.Metadata, addr, buf)
			}
			// clip to one page and serve from the entry
			copy(buf[:e.size], e.image)
			if e.delayWriteUntil == 0 {
				pb.lru.access(e)
			}
			pb.stats.hit(true, true)
			return nil

		default: // MPMDE
			if !pb.swmrWriter {
				return errors.Wrapf(ErrCorrupt, "multi-page metadata entry at %d outside SWMR writer mode", addr)
			}
			clipped := size
			if clipped > e.size {
				clipped = e.size
			}
			copy(buf[:clipped], e.image[:clipped])
			pb.stats.hit(true, true)
			return nil
		}
	}

	// aligned, smaller than one page
	e := pb.index[page]
	pb.stats.hit(true, e != nil)
	if e == nil {
		var err error
		if e, err = pb.loadPage(pageAddr, driver.Metadata); err != nil {
			return err
		}
	}
	if e.mpmde && !pb.swmrWriter {
		return errors.Wrapf(ErrCorrupt, "multi-page metadata entry at %d outside SWMR writer mode", addr)
	}
	copy(buf, e.image[:size])
	if !e.mpmde && e.delayWriteUntil == 0 {
		pb.lru.access(e)
	}
	return nil
}

// readRaw handles raw data reads.  Reads of a page or more bypass the
// buffer, then overlay any resident dirty pages so the caller sees current
// data.  Smaller reads touch at most two pages, loading them on miss.
func (pb *PageBuffer) readRaw(addr uint64, buf []byte) error {
	size := uint64(len(buf))
	firstPage := addr / pb.pageSize
	lastPage := (addr + size - 1) / pb.pageSize

	if size >= pb.pageSize {
		pb.stats.Raw.Bypasses++
		if err := pb.lower.Read(driver.RawData, addr, buf); err != nil {
			return err
		}

		for page := firstPage; page <= lastPage; page++ {
			e := pb.index[page]
			pb.stats.hit(false, e != nil)
			if e == nil || !e.isDirty {
				continue
			}
			pageStart := page * pb.pageSize
			// intersection of [addr, addr+size) with the page
			from, to := pageStart, pageStart+pb.pageSize
			if from < addr {
				from = addr
			}
			if to > addr+size {
				to = addr + size
			}
			copy(buf[from-addr:to-addr], e.image[from-pageStart:to-pageStart])
			pb.lru.access(e)
		}
		return nil
	}

	// under a page: at most two pages touched
	firstPageAddr := firstPage * pb.pageSize
	offset := addr - firstPageAddr
	length := size
	if offset+size > pb.pageSize {
		length = pb.pageSize - offset
	}

	e := pb.index[firstPage]
	pb.stats.hit(false, e != nil)
	if e == nil {
		var err error
		if e, err = pb.loadPage(firstPageAddr, driver.RawData); err != nil {
			return err
		}
	}
	copy(buf[:length], e.image[offset:offset+length])
	pb.lru.access(e)

	if lastPage != firstPage {
		offset = length
		length = size - offset

		e = pb.index[lastPage]
		pb.stats.hit(false, e != nil)
		if e == nil {
			var err error
			if e, err = pb.loadPage(lastPage*pb.pageSize, driver.RawData); err != nil {
				return err
			}
		}
		copy(buf[offset:], e.image[:length])
		pb.lru.access(e)
	}
	return nil
}

// writeMeta handles metadata writes the buffer does not bypass: page-or-
// smaller writes are patched into the containing page; larger writes are
// multi-page metadata entries and occur only in SWMR writer mode.
func (pb *PageBuffer) writeMeta(addr uint64, buf []byte) error {
	size := uint64(len(buf))
	page := addr / pb.pageSize
	pageAddr := page * pb.pageSize

	if size > pb.pageSize {
		if !pb.swmrWriter {
			return pb.invariantf("multi-page metadata write at %d outside SWMR writer mode", addr)
		}
		if addr != pageAddr {
			return pb.invariantf("multi-page metadata write at unaligned address %d", addr)
		}

		e := pb.index[page]
		pb.stats.hit(true, e != nil)
		if e == nil {
			var err error
			if e, err = pb.createNewPage(addr, size, driver.Metadata); err != nil {
				return err
			}
			// treat the entry as loaded so the write-delay check fires
			e.loaded = true
		}
		if !e.mpmde {
			return pb.invariantf("multi-page metadata write at %d over a regular page", addr)
		}
		if size != e.size {
			return pb.invariantf("multi-page metadata write of %d bytes over an entry of %d bytes at %d",
				size, e.size, addr)
		}
		copy(e.image, buf)
		if err := pb.markEntryDirty(e); err != nil {
			return err
		}
		if !e.modifiedThisTick {
			pb.tl.insertHead(e)
		}
		return nil
	}

	offset := addr - pageAddr
	if offset+size > pb.pageSize {
		return pb.invariantf("metadata write at %d of %d bytes crosses a page boundary", addr, size)
	}

	e := pb.index[page]
	pb.stats.hit(true, e != nil)
	if e == nil {
		var err error
		if e, err = pb.loadPage(pageAddr, driver.Metadata); err != nil {
			return err
		}
	}
	if e.mpmde {
		return pb.invariantf("sub-page metadata write at %d over a multi-page entry", addr)
	}
	copy(e.image[offset:offset+size], buf)
	if err := pb.markEntryDirty(e); err != nil {
		return err
	}
	if pb.swmrWriter && !e.modifiedThisTick {
		pb.tl.insertHead(e)
	}
	return nil
}

// writeRaw handles raw data writes.  Writes of a page or more bypass the
// buffer; fully covered resident pages are discarded, partially covered
// ones patched and dirtied.  Smaller writes patch at most two pages.
func (pb *PageBuffer) writeRaw(addr uint64, buf []byte) error {
	size := uint64(len(buf))
	firstPage := addr / pb.pageSize
	lastPage := (addr + size - 1) / pb.pageSize

	if size >= pb.pageSize {
		pb.stats.Raw.Bypasses++
		if err := pb.lower.Write(driver.RawData, addr, buf); err != nil {
			return err
		}

		for page := firstPage; page <= lastPage; page++ {
			e := pb.index[page]
			pb.stats.hit(false, e != nil)
			if e == nil {
				continue
			}
			pageStart := page * pb.pageSize
			if addr <= pageStart && pageStart+pb.pageSize <= addr+size {
				// fully overwritten: the image is stale, drop it
				if e.isDirty {
					pb.markEntryClean(e)
				}
				if err := pb.evictEntry(e, true); err != nil {
					return err
				}
				continue
			}
			// partial overwrite of the first or last page
			from, to := pageStart, pageStart+pb.pageSize
			if from < addr {
				from = addr
			}
			if to > addr+size {
				to = addr + size
			}
			copy(e.image[from-pageStart:to-pageStart], buf[from-addr:to-addr])
			if err := pb.markEntryDirty(e); err != nil {
				return err
			}
		}
		return nil
	}

	firstPageAddr := firstPage * pb.pageSize
	offset := addr - firstPageAddr
	length := size
	if offset+size > pb.pageSize {
		length = pb.pageSize - offset
	}

	e := pb.index[firstPage]
	pb.stats.hit(false, e != nil)
	if e == nil {
		var err error
		if e, err = pb.loadPage(firstPageAddr, driver.RawData); err != nil {
			return err
		}
	}
	copy(e.image[offset:offset+length], buf[:length])
	if err := pb.markEntryDirty(e); err != nil {
		return err
	}

	if lastPage != firstPage {
		offset = length
		length = size - offset

		e = pb.index[lastPage]
		pb.stats.hit(false, e != nil)
		if e == nil {
			var err error
			if e, err = pb.loadPage(lastPage*pb.pageSize, driver.RawData); err != nil {
				return err
			}
		}
		copy(e.image[:length], buf[offset:])
		if err := pb.markEntryDirty(e); err != nil {
			return err
		}
	}
	return nil
}

// AddNewPage inserts a zeroed page for a freshly allocated address.  The
// allocator guarantees no earlier version of the page exists on file, so
// no read is needed and writes to it are never delayed.  Insertion skips
// makeSpace: the buffer may temporarily exceed its maximum.
func (pb *PageBuffer) AddNewPage(typ driver.AccessType, pageAddr uint64) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if pb.excludes(typ) {
		return nil
	}
	e, err := pb.createNewPage(pageAddr, pb.pageSize, typ)
	if err != nil {
		return err
	}
	e.loaded = false
	return nil
}

// RemoveEntry discards the entry at addr after the allocator deallocates
// the page.  The entry is detached from the tick and delayed write lists
// if present and force-evicted even when dirty: the image is simply
// dropped.  In SWMR writer mode the cognate metadata file index entry is
// left in place; see DESIGN.md for the known hazard.
func (pb *PageBuffer) RemoveEntry(addr uint64) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	page := addr / pb.pageSize
	if addr != page*pb.pageSize {
		return pb.invariantf("unaligned address %d", addr)
	}
	e := pb.index[page]
	if e == nil {
		return nil
	}
	if e.size != pb.pageSize && !(e.mpmde && pb.swmrWriter) {
		return pb.invariantf("remove of multi-page entry at %d outside SWMR writer mode", addr)
	}
	if e.modifiedThisTick {
		pb.tl.remove(e)
	}
	if e.delayWriteUntil > 0 {
		e.delayWriteUntil = 0
		pb.dwl.remove(e)
		if !e.mpmde {
			pb.lru.insertHead(e)
		}
	}
	if e.isDirty {
		logger.Warnf("discarding dirty entry at %d on deallocation", addr)
		pb.markEntryClean(e)
	}
	return pb.evictEntry(e, true)
}

// UpdateEntry patches a resident metadata page in place without dirtying
// it.  Under parallel semantics a peer process performed the actual write;
// the local image just has to match.
func (pb *PageBuffer) UpdateEntry(addr uint64, buf []byte) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	size := uint64(len(buf))
	if size == 0 || size > pb.pageSize {
		return pb.invariantf("update of %d bytes at %d", size, addr)
	}
	if pb.minRDPages == pb.maxPages {
		return nil
	}
	page := addr / pb.pageSize
	pageAddr := page * pb.pageSize
	e := pb.index[page]
	if e == nil {
		return nil
	}
	if !e.isMetadata() || e.mpmde {
		return pb.invariantf("update of non-metadata entry at %d", addr)
	}
	if addr+size > pageAddr+pb.pageSize {
		return pb.invariantf("update at %d of %d bytes crosses a page boundary", addr, size)
	}
	copy(e.image[addr-pageAddr:addr-pageAddr+size], buf)
	if e.delayWriteUntil == 0 {
		pb.lru.access(e)
	}
	return nil
}

// Flush writes back every dirty entry.  Pages stay resident and become
// clean.  Entries with outstanding write delays are forced out as well,
// with a warning: callers flushing mid-stream in SWMR writer mode give up
// the delay protection for those pages.
func (pb *PageBuffer) Flush() error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	return pb.flushAll()
}

func (pb *PageBuffer) flushAll() error {
	for _, e := range pb.index {
		if !e.isDirty {
			continue
		}
		if e.delayWriteUntil > 0 {
			logger.Warnf("flushing entry at %d before its delay expires (tick %d < %d)",
				e.addr, pb.curTick, e.delayWriteUntil)
			e.delayWriteUntil = 0
			pb.dwl.remove(e)
			if !e.mpmde {
				pb.lru.insertHead(e)
			}
		}
		if err := pb.flushEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and evicts everything, then discards the state.  Entries
// still on the tick list or delayed write list are released first; the
// choice to flush rather than fail on outstanding delayed writes is
// deliberate (see DESIGN.md).
func (pb *PageBuffer) Close() error {
	pb.Lock()
	defer pb.Unlock()
	if pb.poisoned {
		// still tear down what we can
		pb.index = make(map[uint64]*Entry)
		return errors.Wrap(ErrInvariant, "closing a poisoned page buffer")
	}

	for _, e := range pb.index {
		if e.modifiedThisTick {
			pb.tl.remove(e)
		}
		if e.delayWriteUntil > 0 {
			logger.Warnf("releasing delayed write at %d on close", e.addr)
			e.delayWriteUntil = 0
			pb.dwl.remove(e)
			if !e.mpmde {
				pb.lru.insertHead(e)
			}
		}
		if e.isDirty {
			if err := pb.flushEntry(e); err != nil {
				return err
			}
		}
		if err := pb.evictEntry(e, true); err != nil {
			return err
		}
	}

	if pb.currPages != 0 || pb.currMDPages != 0 || pb.currRDPages != 0 ||
		pb.lru.len != 0 || pb.dwl.len != 0 || pb.tl.len != 0 || len(pb.index) != 0 {
		return pb.invariantf("lists not empty after close: %d pages, lru %d, dwl %d, tl %d",
			pb.currPages, pb.lru.len, pb.dwl.len, pb.tl.len)
	}
	return nil
}

// loadPage reads the page at addr into a fresh entry, making space first
// when the buffer is full.  If addr lies at or past the physical EOF the
// page was allocated but never written; the image stays zeroed and the
// entry is marked not loaded.
func (pb *PageBuffer) loadPage(addr uint64, typ driver.AccessType) (*Entry, error) {
	eof, err := pb.lower.EOF()
	if err != nil {
		return nil, errors.Wrap(err, "get eof")
	}
	skipRead := addr >= eof

	if pb.currPages >= pb.maxPages {
		if err = pb.makeSpace(typ); err != nil {
			return nil, err
		}
	}

	e, err := pb.createNewPage(addr, pb.pageSize, typ)
	if err != nil {
		return nil, err
	}
	if !skipRead {
		if err = pb.lower.Read(typ, addr, e.image); err != nil {
			// roll back the partially constructed entry
			if evictErr := pb.evictEntry(e, true); evictErr != nil {
				return nil, evictErr
			}
			return nil, err
		}
	}
	e.loaded = !skipRead
	pb.stats.class(e.isMetadata()).Loads++
	return e, nil
}

// createNewPage allocates an entry with a fresh zeroed image and links it
// into the index (and LRU, unless it is an MPMDE).
func (pb *PageBuffer) createNewPage(addr, size uint64, typ driver.AccessType) (*Entry, error) {
	page := addr / pb.pageSize
	if addr != page*pb.pageSize {
		return nil, pb.invariantf("unaligned page address %d", addr)
	}
	if size < pb.pageSize {
		return nil, pb.invariantf("entry size %d below page size", size)
	}
	if size > pb.pageSize && (typ == driver.RawData || !pb.swmrWriter) {
		return nil, pb.invariantf("multi-page entry of %d bytes for %s outside SWMR writer mode", size, typ)
	}
	if _, ok := pb.index[page]; ok {
		return nil, pb.invariantf("page buffer already contains a page at %d", addr)
	}

	e := &Entry{
		addr:    addr,
		page:    page,
		size:    size,
		image:   make([]byte, size),
		memType: typ,
		mpmde:   typ == driver.Metadata && size > pb.pageSize,
	}

	pb.index[page] = e
	pb.currPages++
	if e.mpmde {
		pb.mpmdeCount++
		pb.stats.MPMDEInsertions++
	} else {
		if e.isMetadata() {
			pb.currMDPages++
		} else {
			pb.currRDPages++
		}
		pb.lru.insertHead(e)
		pb.stats.class(e.isMetadata()).Insertions++
	}
	return e, nil
}

// evictEntry unlinks the entry and drops its image.  Without force the
// entry must be clean and the class minima must hold; force skips both
// checks, marking a dirty entry clean first (the image is discarded).
func (pb *PageBuffer) evictEntry(e *Entry, force bool) error {
	if e.modifiedThisTick {
		return pb.invariantf("evicting entry at %d on the tick list", e.addr)
	}
	if e.delayWriteUntil != 0 {
		return pb.invariantf("evicting entry at %d on the delayed write list", e.addr)
	}

	if !force {
		if e.isDirty {
			return pb.invariantf("evicting dirty entry at %d", e.addr)
		}
		if e.isMetadata() && pb.currMDPages < pb.minMDPages {
			return errors.Wrapf(ErrCapacity, "evicting metadata page at %d below minimum", e.addr)
		}
		if !e.isMetadata() && pb.currRDPages < pb.minRDPages {
			return errors.Wrapf(ErrCapacity, "evicting raw page at %d below minimum", e.addr)
		}
	} else if e.isDirty {
		pb.markEntryClean(e)
	}

	if !e.mpmde && e.onLRU {
		pb.lru.remove(e)
	}
	delete(pb.index, e.page)
	pb.currPages--
	if e.mpmde {
		pb.mpmdeCount--
		pb.stats.MPMDEEvictions++
	} else {
		if e.isMetadata() {
			pb.currMDPages--
		} else {
			pb.currRDPages--
		}
		pb.stats.class(e.isMetadata()).Evictions++
	}
	e.image = nil
	return nil
}

// flushEntry writes the entry image back and marks the entry clean.  The
// file's allocation must already cover the entry.
func (pb *PageBuffer) flushEntry(e *Entry) error {
	if !e.isDirty {
		return pb.invariantf("flushing clean entry at %d", e.addr)
	}
	if e.delayWriteUntil != 0 {
		return pb.invariantf("flushing entry at %d with pending delay", e.addr)
	}
	eoa, err := pb.lower.EOA(e.memType)
	if err != nil {
		return errors.Wrap(err, "get eoa")
	}
	if eoa < e.addr+e.size {
		return pb.invariantf("entry at %d+%d extends past eoa %d", e.addr, e.size, eoa)
	}

	if err = pb.lower.Write(e.memType, e.addr, e.image); err != nil {
		return err
	}
	pb.markEntryClean(e)
	if !e.mpmde {
		pb.lru.access(e)
	}
	pb.stats.class(e.isMetadata()).Flushes++
	return nil
}

// markEntryDirty dirties the entry, consulting the delay policy on the
// first transition of a loaded metadata page in SWMR writer mode.  A
// delayed entry moves from the LRU to the delayed write list; otherwise
// the access just refreshes the LRU position.
func (pb *PageBuffer) markEntryDirty(e *Entry) error {
	if !e.isDirty {
		e.isDirty = true

		if e.delayWriteUntil != 0 {
			return pb.invariantf("clean entry at %d carries a delay", e.addr)
		}
		if pb.swmrWriter && e.loaded && e.isMetadata() {
			delta, err := pb.delay.RequestWriteDelay(e.page)
			if err != nil {
				return errors.Wrapf(err, "write delay request for page %d", e.page)
			}
			if delta > 0 {
				e.delayWriteUntil = pb.curTick + delta
			}
		}

		if e.delayWriteUntil > 0 {
			if !e.mpmde {
				pb.lru.remove(e)
			}
			depth := pb.dwl.insert(e)
			pb.stats.dwlInsert(depth, pb.dwl.len)
		} else if !e.mpmde {
			pb.lru.access(e)
		}
		// a dirty MPMDE without delay sits on the tick list only
		return nil
	}
	if !e.mpmde && e.delayWriteUntil == 0 {
		pb.lru.access(e)
	}
	return nil
}

// markEntryClean unsets dirty.  Replacement policy placement is the
// caller's job.
func (pb *PageBuffer) markEntryClean(e *Entry) {
	e.isDirty = false
}

// makeSpace evicts entries until the buffer drops below its maximum,
// scanning the LRU from the tail.  Tick-list members are skipped, as are
// entries of the other class sitting at their minimum.  Dirty candidates
// are flushed (staying resident, moving to the LRU head) and the scan
// continues from their predecessor.  In SWMR writer mode the tick and
// delayed write lists may pin enough pages that the maximum stays
// exceeded; that is acceptable.
func (pb *PageBuffer) makeSpace(insertedType driver.AccessType) error {
	insertingMD := insertedType != driver.RawData
	if insertingMD && pb.minRDPages == pb.maxPages {
		return errors.Wrap(ErrCapacity, "cannot make space for metadata in a raw-data-only buffer")
	}
	if !insertingMD && pb.minMDPages == pb.maxPages {
		return errors.Wrap(ErrCapacity, "cannot make space for raw data in a metadata-only buffer")
	}

	search := pb.lru.tail
	for search != nil && pb.currPages >= pb.maxPages {
		switch {
		case search.modifiedThisTick:
			search = search.lruPrev
			pb.stats.LRUTLSkips++

		case insertingMD && !search.isMetadata() && pb.currRDPages <= pb.minRDPages:
			search = search.lruPrev
			pb.stats.LRURDSkips++

		case !insertingMD && search.isMetadata() && pb.currMDPages <= pb.minMDPages:
			search = search.lruPrev
			pb.stats.LRUMDSkips++

		case search.isDirty:
			flush := search
			if search.lruPrev != nil {
				search = search.lruPrev
			}
			if err := pb.flushEntry(flush); err != nil {
				return err
			}

		default:
			evict := search
			search = search.lruPrev
			if err := pb.evictEntry(evict, false); err != nil {
				return err
			}
		}
	}
	return nil
}
