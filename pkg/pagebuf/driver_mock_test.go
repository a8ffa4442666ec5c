// pkg/pagebuf/driver_mock_test.go

package pagebuf

import (
	"TickFS/pkg/driver"
)

// memDriver is an in-memory Driver for engine tests.  It counts the reads
// and writes reaching the file so bypass behavior can be asserted.
type memDriver struct {
	data   []byte
	eoa    [2]uint64
	reads  int
	writes int
	locked bool
}

func newMemDriver(size int) *memDriver {
	d := &memDriver{data: make([]byte, 0, size)}
	d.eoa[driver.RawData] = uint64(size)
	d.eoa[driver.Metadata] = uint64(size)
	return d
}

func (d *memDriver) Read(typ driver.AccessType, addr uint64, buf []byte) error {
	d.reads++
	for i := range buf {
		buf[i] = 0
	}
	if addr < uint64(len(d.data)) {
		copy(buf, d.data[addr:])
	}
	return nil
}

func (d *memDriver) Write(typ driver.AccessType, addr uint64, buf []byte) error {
	d.writes++
	if end := addr + uint64(len(buf)); end > uint64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	copy(d.data[addr:], buf)
	return nil
}

func (d *memDriver) EOA(typ driver.AccessType) (uint64, error) { return d.eoa[typ], nil }

func (d *memDriver) SetEOA(typ driver.AccessType, addr uint64) error {
	d.eoa[typ] = addr
	return nil
}

func (d *memDriver) EOF() (uint64, error) { return uint64(len(d.data)), nil }

func (d *memDriver) Lock(rw bool) error { d.locked = true; return nil }

func (d *memDriver) Unlock() error { d.locked = false; return nil }

func (d *memDriver) Truncate(closing bool) error { return nil }

func (d *memDriver) Close() error { return nil }

// fixedDelay delays writes of every page by the same number of ticks.
type fixedDelay struct {
	delta uint64
	calls int
}

func (p *fixedDelay) RequestWriteDelay(page uint64) (uint64, error) {
	p.calls++
	return p.delta, nil
}
