// pkg/driver/file.go

package driver

import (
	"io"
	"os"

	"TickFS/pkg/utils"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var logger = utils.GetLogger("tickfs")

// FileDriver implements Driver on top of a plain POSIX file.
type FileDriver struct {
	name string
	f    *os.File
	eoa  [2]uint64
}

func Open(name string, readOnly bool) (*FileDriver, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(name, flag, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	d := &FileDriver{name: name, f: f}
	if info, err := f.Stat(); err == nil {
		d.eoa[RawData] = uint64(info.Size())
		d.eoa[Metadata] = uint64(info.Size())
	}
	return d, nil
}

func (d *FileDriver) Read(typ AccessType, addr uint64, buf []byte) error {
	n, err := d.f.ReadAt(buf, int64(addr))
	if err == io.EOF {
		// allocated but never written: the tail reads as zero
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read %d bytes at %d from %s", len(buf), addr, d.name)
	}
	return nil
}

func (d *FileDriver) Write(typ AccessType, addr uint64, buf []byte) error {
	if _, err := d.f.WriteAt(buf, int64(addr)); err != nil {
		return errors.Wrapf(err, "write %d bytes at %d to %s", len(buf), addr, d.name)
	}
	return nil
}

func (d *FileDriver) EOA(typ AccessType) (uint64, error) {
	return d.eoa[typ], nil
}

func (d *FileDriver) SetEOA(typ AccessType, addr uint64) error {
	d.eoa[typ] = addr
	return nil
}

func (d *FileDriver) EOF() (uint64, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", d.name)
	}
	return uint64(info.Size()), nil
}

func (d *FileDriver) Lock(rw bool) error {
	how := unix.LOCK_SH
	if rw {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(d.f.Fd()), how|unix.LOCK_NB); err != nil {
		return errors.Wrapf(err, "lock %s", d.name)
	}
	return nil
}

func (d *FileDriver) Unlock() error {
	if err := unix.Flock(int(d.f.Fd()), unix.LOCK_UN); err != nil {
		return errors.Wrapf(err, "unlock %s", d.name)
	}
	return nil
}

func (d *FileDriver) Truncate(closing bool) error {
	eoa := d.eoa[RawData]
	if d.eoa[Metadata] > eoa {
		eoa = d.eoa[Metadata]
	}
	eof, err := d.EOF()
	if err != nil {
		return err
	}
	if eof == eoa {
		return nil
	}
	if closing {
		logger.Debugf("truncate %s from %d to %d on close", d.name, eof, eoa)
	}
	if err := d.f.Truncate(int64(eoa)); err != nil {
		return errors.Wrapf(err, "truncate %s to %d", d.name, eoa)
	}
	return nil
}

func (d *FileDriver) Close() error {
	return d.f.Close()
}
