// pkg/pagebuf/swmr.go

package pagebuf

import (
	"TickFS/pkg/mdfile"
)

// End-of-tick sequence for the SWMR writer:
//
//	pb.SetTick(tick)            // at the start of the tick
//	... metadata writes land on the tick list ...
//	pb.UpdateIndex(w)           // merge the tick list into the index
//	w.Publish(tick)             // serialize images, index, header
//	pb.ReleaseTickList()        // drain the tick list
//	pb.ReleaseDelayedWrites()   // release expired delays
//
// UpdateIndex hands image buffers to the writer by reference; the page
// buffer must not be mutated between UpdateIndex and Publish.

// UpdateCounts reports what the per-tick index merge did.
type UpdateCounts struct {
	Added          uint32 // tick list entries new to the index
	Modified       uint32 // tick list entries already present
	NotInTL        uint32 // index entries untouched this tick
	NotInTLFlushed uint32 // of those, dirty ones found flushed or evicted
}

// SetTick synchronizes the page buffer with the file's tick counter at
// the start of a tick.  The tick always advances by exactly 1.
func (pb *PageBuffer) SetTick(tick uint64) error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if !pb.swmrWriter {
		return pb.invariantf("tick advance outside SWMR writer mode")
	}
	if tick != pb.curTick+1 {
		return pb.invariantf("tick advanced from %d to %d", pb.curTick, tick)
	}
	pb.curTick = tick
	return nil
}

// Tick returns the current tick.
func (pb *PageBuffer) Tick() uint64 {
	pb.Lock()
	defer pb.Unlock()
	return pb.curTick
}

// UpdateIndex merges the tick list into the writer's persistent index.
//
// Every tick list entry either updates its existing index entry or appends
// a new one; in both cases the index entry takes the image reference, is
// stamped with the current tick, and inherits the entry's dirty state.
// Index entries untouched this tick that are dirty but no longer dirty in
// the page buffer (flushed or evicted during the tick) are marked clean.
func (pb *PageBuffer) UpdateIndex(w *mdfile.Writer) (UpdateCounts, error) {
	pb.Lock()
	defer pb.Unlock()
	var counts UpdateCounts
	if err := pb.checkUsable(); err != nil {
		return counts, err
	}
	if !pb.swmrWriter {
		return counts, pb.invariantf("index update outside SWMR writer mode")
	}

	for e := pb.tl.head; e != nil; e = e.tlNext {
		ie := w.Lookup(uint32(e.page))
		if ie == nil {
			ie = &mdfile.WriterEntry{
				PageOffset:   uint32(e.page),
				Length:       uint32(e.size),
				DelayedFlush: e.delayWriteUntil,
			}
			w.Insert(ie)
			counts.Added++
		} else {
			counts.Modified++
		}
		ie.Image = e.image
		ie.TickLastChanged = pb.curTick
		ie.Clean = !e.isDirty
		// a clean tick list entry was already written back, so the data
		// file holds the current version
		ie.MovedToFile = ie.Clean
		if ie.Clean {
			ie.TickLastFlushed = pb.curTick
		} else {
			ie.TickLastFlushed = 0
		}
	}

	for _, ie := range w.Entries() {
		if ie.TickLastChanged >= pb.curTick {
			continue
		}
		counts.NotInTL++
		if ie.Clean {
			continue
		}
		e := pb.index[uint64(ie.PageOffset)]
		if e == nil || !e.isDirty {
			counts.NotInTLFlushed++
			ie.Clean = true
			ie.MovedToFile = true
			ie.TickLastFlushed = pb.curTick
		}
	}
	return counts, nil
}

// ReleaseTickList drains the tick list after the metadata file has been
// updated.  Multi-page metadata entries not subject to a delayed write are
// flushed and evicted on the spot; regular pages already sit on the LRU or
// the delayed write list and are written back whenever possible.
func (pb *PageBuffer) ReleaseTickList() error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if !pb.swmrWriter {
		return pb.invariantf("tick list release outside SWMR writer mode")
	}

	for pb.tl.head != nil {
		e := pb.tl.head
		pb.tl.remove(e)

		if e.mpmde && e.delayWriteUntil == 0 {
			if !e.isDirty {
				return pb.invariantf("clean multi-page entry at %d on the tick list", e.addr)
			}
			if err := pb.flushEntry(e); err != nil {
				return err
			}
			if err := pb.evictEntry(e, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReleaseDelayedWrites releases entries whose delay expired before the
// current tick.  The delayed write list is sorted by decreasing deadline,
// so the scan walks up from the tail.  Multi-page metadata entries are
// flushed and evicted; regular pages rejoin the LRU at the tail.
func (pb *PageBuffer) ReleaseDelayedWrites() error {
	pb.Lock()
	defer pb.Unlock()
	if err := pb.checkUsable(); err != nil {
		return err
	}
	if !pb.swmrWriter {
		return pb.invariantf("delayed write release outside SWMR writer mode")
	}

	for pb.dwl.tail != nil && pb.dwl.tail.delayWriteUntil < pb.curTick {
		e := pb.dwl.tail
		if !e.isDirty {
			return pb.invariantf("clean entry at %d on the delayed write list", e.addr)
		}
		e.delayWriteUntil = 0
		pb.dwl.remove(e)

		if e.mpmde {
			if err := pb.flushEntry(e); err != nil {
				return err
			}
			if err := pb.evictEntry(e, true); err != nil {
				return err
			}
		} else {
			pb.lru.append(e)
		}
	}
	return nil
}
