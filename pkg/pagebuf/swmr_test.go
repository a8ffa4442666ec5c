// pkg/pagebuf/swmr_test.go

package pagebuf

import (
	"path/filepath"
	"testing"

	"TickFS/pkg/driver"
	"TickFS/pkg/mdfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetTickSequence(t *testing.T) {
	d := newMemDriver(1 << 20)
	pb := newTestBuffer(t, d, true, nil)

	require.NoError(t, pb.SetTick(1))
	require.NoError(t, pb.SetTick(2))
	assert.ErrorIs(t, pb.SetTick(4), ErrInvariant)
}

func TestTickOpsRequireWriterMode(t *testing.T) {
	d := newMemDriver(1 << 20)
	pb := newTestBuffer(t, d, false, nil)
	assert.ErrorIs(t, pb.SetTick(1), ErrInvariant)
}

func TestMetadataWriteLandsOnTickList(t *testing.T) {
	d := newMemDriver(1 << 20)
	pb := newTestBuffer(t, d, true, nil)
	require.NoError(t, pb.SetTick(1))

	require.NoError(t, pb.Write(driver.Metadata, 0x1000, fill(0x42, 64)))
	e := pb.index[1]
	require.NotNil(t, e)
	assert.True(t, e.modifiedThisTick)
	assert.Equal(t, 1, pb.tl.len)

	// a second write to the same page does not duplicate the membership
	require.NoError(t, pb.Write(driver.Metadata, 0x1000, fill(0x43, 64)))
	assert.Equal(t, 1, pb.tl.len)

	// tick list members are skipped by make-space
	tmp := make([]byte, 16)
	for i := 2; i < 6; i++ {
		require.NoError(t, pb.Read(driver.RawData, uint64(i)*testPageSize, tmp))
	}
	assert.NotNil(t, pb.index[1], "tick list pinned the page")

	require.NoError(t, pb.ReleaseTickList())
	assert.Equal(t, 0, pb.tl.len)
	assert.False(t, e.modifiedThisTick)
}

func TestDelayedWriteLifecycle(t *testing.T) {
	d := newMemDriver(1 << 20)
	d.Write(driver.RawData, 0, fill(0x01, 8*testPageSize))
	delay := &fixedDelay{delta: 3}
	pb := newTestBuffer(t, d, true, delay)
	require.NoError(t, pb.SetTick(1))

	// the page is on file, so the write-delay check fires
	require.NoError(t, pb.Write(driver.Metadata, 0x1000, fill(0x42, 64)))
	e := pb.index[1]
	require.NotNil(t, e)
	assert.Equal(t, 1, delay.calls)
	assert.Equal(t, uint64(4), e.delayWriteUntil)
	assert.True(t, e.onDWL)
	assert.False(t, e.onLRU)
	assert.True(t, e.isDirty)

	require.NoError(t, pb.ReleaseTickList())

	for tick := uint64(2); tick <= 4; tick++ {
		require.NoError(t, pb.SetTick(tick))
		require.NoError(t, pb.ReleaseDelayedWrites())
		assert.True(t, e.onDWL, "still delayed at tick %d", tick)
	}

	require.NoError(t, pb.SetTick(5))
	require.NoError(t, pb.ReleaseDelayedWrites())
	assert.False(t, e.onDWL)
	assert.True(t, e.onLRU)
	assert.True(t, e.isDirty)
	assert.Zero(t, e.delayWriteUntil)

	// now flushable
	require.NoError(t, pb.Flush())
	assert.False(t, e.isDirty)
}

func TestDWLSortedByDecreasingDeadline(t *testing.T) {
	d := newMemDriver(1 << 20)
	d.Write(driver.RawData, 0, fill(0x01, 8*testPageSize))
	delay := &fixedDelay{delta: 5}
	pb := newTestBuffer(t, d, true, delay)
	require.NoError(t, pb.SetTick(1))

	require.NoError(t, pb.Write(driver.Metadata, 0x0000, fill(1, 8)))
	delay.delta = 2
	require.NoError(t, pb.Write(driver.Metadata, 0x1000, fill(2, 8)))
	delay.delta = 9
	require.NoError(t, pb.Write(driver.Metadata, 0x2000, fill(3, 8)))

	var deadlines []uint64
	for e := pb.dwl.head; e != nil; e = e.dwlNext {
		deadlines = append(deadlines, e.delayWriteUntil)
	}
	assert.Equal(t, []uint64{10, 6, 3}, deadlines)
}

func TestMPMDEWritePublishRelease(t *testing.T) {
	dir := t.TempDir()
	d := newMemDriver(1 << 20)
	pb := newTestBuffer(t, d, true, nil)
	w, err := mdfile.CreateWriter(filepath.Join(dir, "test.md"), testPageSize, 2)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, pb.SetTick(1))

	payload := fill(0x99, 2*testPageSize)
	require.NoError(t, pb.Write(driver.Metadata, 0x2000, payload))

	e := pb.index[2]
	require.NotNil(t, e)
	assert.True(t, e.mpmde)
	assert.False(t, e.onLRU)
	assert.True(t, e.modifiedThisTick)
	assert.Equal(t, 1, pb.mpmdeCount)

	// a page-aligned oversized read is clipped to the entry
	big := make([]byte, 3*testPageSize)
	require.NoError(t, pb.Read(driver.Metadata, 0x2000, big))
	assert.Equal(t, payload, big[:2*testPageSize])

	// a small aligned read is served from the entry as well
	small := make([]byte, 1024)
	require.NoError(t, pb.Read(driver.Metadata, 0x2000, small))
	assert.Equal(t, payload[:1024], small)

	counts, err := pb.UpdateIndex(w)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), counts.Added)
	require.NoError(t, w.Publish(1))

	// with no delay pending, release flushes and evicts the entry
	require.NoError(t, pb.ReleaseTickList())
	assert.Nil(t, pb.index[2])
	assert.Equal(t, 0, pb.mpmdeCount)
	assert.Equal(t, payload, d.data[0x2000:0x2000+2*testPageSize])
}

func TestUpdateIndexCounts(t *testing.T) {
	dir := t.TempDir()
	d := newMemDriver(1 << 20)
	pb := newTestBuffer(t, d, true, nil)
	w, err := mdfile.CreateWriter(filepath.Join(dir, "test.md"), testPageSize, 2)
	require.NoError(t, err)
	defer w.Close()

	// tick 1: two new pages
	require.NoError(t, pb.SetTick(1))
	require.NoError(t, pb.Write(driver.Metadata, 0x0000, fill(0xA1, 64)))
	require.NoError(t, pb.Write(driver.Metadata, 0x1000, fill(0xB2, 64)))

	counts, err := pb.UpdateIndex(w)
	require.NoError(t, err)
	assert.Equal(t, UpdateCounts{Added: 2}, counts)
	require.NoError(t, w.Publish(1))
	require.NoError(t, pb.ReleaseTickList())
	require.NoError(t, pb.ReleaseDelayedWrites())

	// tick 2: one page modified again, the other untouched and still dirty
	require.NoError(t, pb.SetTick(2))
	require.NoError(t, pb.Write(driver.Metadata, 0x0000, fill(0xA2, 64)))

	counts, err = pb.UpdateIndex(w)
	require.NoError(t, err)
	assert.Equal(t, UpdateCounts{Modified: 1, NotInTL: 1}, counts)
	require.NotNil(t, w.Lookup(0))
	assert.False(t, w.Lookup(0).MovedToFile, "modified page is newer than the data file")
	require.NoError(t, w.Publish(2))
	require.NoError(t, pb.ReleaseTickList())
	require.NoError(t, pb.ReleaseDelayedWrites())

	// tick 3: nothing written, everything flushed during the tick
	require.NoError(t, pb.SetTick(3))
	require.NoError(t, pb.Flush())

	counts, err = pb.UpdateIndex(w)
	require.NoError(t, err)
	assert.Equal(t, UpdateCounts{NotInTL: 2, NotInTLFlushed: 2}, counts)
	for _, ie := range w.Entries() {
		assert.True(t, ie.MovedToFile, "page %d flushed to the data file", ie.PageOffset)
	}
	require.NoError(t, w.Publish(3))
	require.NoError(t, pb.ReleaseTickList())
	require.NoError(t, pb.ReleaseDelayedWrites())
}

func TestEndToEndPublishAndRead(t *testing.T) {
	dir := t.TempDir()
	mdPath := filepath.Join(dir, "e2e.md")

	// writer side: page buffer over the data file, publisher over the
	// metadata file
	data := newMemDriver(1 << 20)
	pb := newTestBuffer(t, data, true, nil)
	w, err := mdfile.CreateWriter(mdPath, testPageSize, 2)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, pb.SetTick(1))
	payload := fill(0x7E, 200)
	require.NoError(t, pb.Write(driver.Metadata, 0x3000, payload))

	_, err = pb.UpdateIndex(w)
	require.NoError(t, err)
	require.NoError(t, w.Publish(1))
	require.NoError(t, pb.ReleaseTickList())
	require.NoError(t, pb.ReleaseDelayedWrites())

	// reader side: the data file has never seen the write, but the
	// metadata file serves it
	lower := newMemDriver(1 << 20)
	cfg := mdfile.DefaultReaderConfig(mdPath)
	cfg.PagesReserved = 2
	r, err := mdfile.OpenReader(lower, cfg)
	require.NoError(t, err)
	defer r.Close()
	r.SetPageBufferConfigured()

	assert.Equal(t, uint64(1), r.Tick())
	require.Len(t, r.Index(), 1)

	got := make([]byte, testPageSize)
	require.NoError(t, r.Read(driver.Metadata, 0x3000, got))
	assert.Equal(t, payload, got[:200])

	// pages outside the index fall through to the data file
	other := make([]byte, 64)
	require.NoError(t, r.Read(driver.Metadata, 0x9000, other))
	assert.Equal(t, 1, lower.reads)
}
