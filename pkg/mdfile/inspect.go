// pkg/mdfile/inspect.go

package mdfile

import (
	"os"

	"github.com/pkg/errors"
)

// ReadFile decodes the header and index of a metadata file in one shot,
// without the reader's retry machinery.  Meant for offline inspection of
// quiescent files; a file mid-publish will simply report ErrCorrupt.
func ReadFile(path string) (Header, Index, error) {
	var hdr Header
	var idx Index

	data, err := os.ReadFile(path)
	if err != nil {
		return hdr, idx, errors.Wrapf(err, "read %s", path)
	}
	if hdr, err = decodeHeader(data); err != nil {
		return hdr, idx, err
	}
	if hdr.IndexOffset+hdr.IndexLength > uint64(len(data)) {
		return hdr, idx, errors.Wrapf(ErrCorrupt, "index at %d+%d outside file of %d bytes",
			hdr.IndexOffset, hdr.IndexLength, len(data))
	}
	if idx, err = decodeIndex(data[hdr.IndexOffset : hdr.IndexOffset+hdr.IndexLength]); err != nil {
		return hdr, idx, err
	}
	if hdr.TickNum != idx.TickNum {
		return hdr, idx, errors.Wrapf(ErrCorrupt, "header tick %d vs index tick %d", hdr.TickNum, idx.TickNum)
	}
	return hdr, idx, nil
}
