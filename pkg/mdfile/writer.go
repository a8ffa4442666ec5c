// pkg/mdfile/writer.go

package mdfile

import (
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// WriterEntry is the writer's in-memory view of one index entry, with the
// bookkeeping the per-tick merge needs on top of the on-disk fields.
type WriterEntry struct {
	PageOffset       uint32
	MDFilePageOffset uint32
	Length           uint32
	Checksum         uint32

	// Image points at the page buffer's image between the tick-list merge
	// and publication.  The publisher serializes it, then drops the
	// reference so the page buffer may discard the buffer freely.
	Image []byte

	TickLastChanged uint64
	Clean           bool
	TickLastFlushed uint64
	DelayedFlush    uint64

	// MovedToFile is true while the data file holds the entry's current
	// version, so readers would see the same bytes either way.
	MovedToFile bool
}

// Writer owns the shared metadata file on the writer side.  It keeps the
// persistent index sorted by PageOffset and republishes images, index and
// header at the end of every tick.
type Writer struct {
	path          string
	f             *os.File
	pageSize      uint32
	pagesReserved uint32
	session       string
	tick          uint64
	entries       []*WriterEntry
	nextFreePage  uint32
}

// CreateWriter creates (or truncates) the metadata file at path.  The
// first pagesReserved pages are reserved for the header and index.
func CreateWriter(path string, pageSize, pagesReserved uint32) (*Writer, error) {
	if pageSize == 0 || pagesReserved == 0 {
		return nil, errors.Errorf("invalid metadata file geometry: page size %d, reserved pages %d", pageSize, pagesReserved)
	}
	if uint64(pagesReserved)*uint64(pageSize) < HeaderSize+uint64(encodedIndexSize(0)) {
		return nil, errors.Errorf("%d reserved pages of %d bytes cannot hold header and index", pagesReserved, pageSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create metadata file %s", path)
	}
	w := &Writer{
		path:          path,
		f:             f,
		pageSize:      pageSize,
		pagesReserved: pagesReserved,
		session:       uuid.New().String(),
		nextFreePage:  pagesReserved,
	}
	logger.Infof("writer session %s opened metadata file %s (page size %d, %d reserved pages)",
		w.session, path, pageSize, pagesReserved)
	// publish an empty tick 0 so readers can open immediately
	if err = w.Publish(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Session returns the writer session id.
func (w *Writer) Session() string { return w.session }

// Tick returns the last published tick.
func (w *Writer) Tick() uint64 { return w.tick }

// NumEntries returns the number of entries in the persistent index.
func (w *Writer) NumEntries() int { return len(w.entries) }

// Lookup finds the entry for the given data-file page, or nil.
func (w *Writer) Lookup(page uint32) *WriterEntry {
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].PageOffset >= page
	})
	if i < len(w.entries) && w.entries[i].PageOffset == page {
		return w.entries[i]
	}
	return nil
}

// Insert adds a new entry, keeping the index sorted by PageOffset.  The
// index grows without bound; the published header carries the new length.
func (w *Writer) Insert(e *WriterEntry) {
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].PageOffset >= e.PageOffset
	})
	w.entries = append(w.entries, nil)
	copy(w.entries[i+1:], w.entries[i:])
	w.entries[i] = e
}

// Entries returns the persistent index entries in page order.
func (w *Writer) Entries() []*WriterEntry { return w.entries }

func (w *Writer) pagesFor(length uint32) uint32 {
	return (length + w.pageSize - 1) / w.pageSize
}

// Publish writes all images staged by the last merge, then the index, then
// the header, in that order.  Readers may observe torn intermediate states;
// the checksums and the header-written-last discipline let them detect and
// retry.
func (w *Writer) Publish(tick uint64) error {
	var staged int
	for _, e := range w.entries {
		if e.Image == nil {
			continue
		}
		if e.MDFilePageOffset == 0 || w.pagesFor(e.Length) != w.pagesFor(uint32(len(e.Image))) {
			// new entry, or the image no longer fits its slot
			e.MDFilePageOffset = w.nextFreePage
			w.nextFreePage += w.pagesFor(uint32(len(e.Image)))
		}
		e.Length = uint32(len(e.Image))
		e.Checksum = Checksum(e.Image)
		if _, err := w.f.WriteAt(e.Image, int64(e.MDFilePageOffset)*int64(w.pageSize)); err != nil {
			return errors.Wrapf(err, "write image of page %d to %s", e.PageOffset, w.path)
		}
		e.Image = nil
		staged++
	}

	idx := Index{TickNum: tick, Entries: make([]IndexEntry, len(w.entries))}
	for i, e := range w.entries {
		idx.Entries[i] = IndexEntry{
			PageOffset:       e.PageOffset,
			MDFilePageOffset: e.MDFilePageOffset,
			Length:           e.Length,
			Checksum:         e.Checksum,
		}
	}
	encoded := idx.encode()

	indexOffset := uint64(HeaderSize)
	if HeaderSize+uint64(len(encoded)) > uint64(w.pagesReserved)*uint64(w.pageSize) {
		// index has outgrown the reserved region: relocate it to fresh
		// pages past the image area and publish the new offset
		indexOffset = uint64(w.nextFreePage) * uint64(w.pageSize)
		w.nextFreePage += w.pagesFor(uint32(len(encoded)))
		logger.Warnf("index (%d entries) exceeds %d reserved pages, relocated to offset %d",
			len(idx.Entries), w.pagesReserved, indexOffset)
	}
	if _, err := w.f.WriteAt(encoded, int64(indexOffset)); err != nil {
		return errors.Wrapf(err, "write index to %s", w.path)
	}

	hdr := Header{
		PageSize:    w.pageSize,
		TickNum:     tick,
		IndexOffset: indexOffset,
		IndexLength: uint64(len(encoded)),
	}
	if _, err := w.f.WriteAt(hdr.encode(), 0); err != nil {
		return errors.Wrapf(err, "write header to %s", w.path)
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", w.path)
	}

	w.tick = tick
	var moved int
	for _, e := range w.entries {
		if e.MovedToFile {
			moved++
		}
	}
	logger.Debugf("session %s published tick %d: %d images, %d index entries (%d current in the data file)",
		w.session, tick, staged, len(w.entries), moved)
	return nil
}

func (w *Writer) Close() error {
	logger.Infof("writer session %s closed at tick %d", w.session, w.tick)
	return w.f.Close()
}
