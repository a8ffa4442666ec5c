// pkg/pagebuf/errors.go

package pagebuf

import (
	"TickFS/pkg/mdfile"

	"github.com/pkg/errors"
)

var (
	// ErrConfig reports invalid sizes, percentages or page-strategy
	// mismatches at creation time.
	ErrConfig = errors.New("invalid page buffer configuration")

	// ErrCapacity reports an eviction that would violate the minimum
	// page reservation of a class without force.
	ErrCapacity = errors.New("eviction would violate minimum page reservation")

	// ErrInvariant reports an internal state violation.  The page buffer
	// is poisoned afterwards: further operations refuse.
	ErrInvariant = errors.New("page buffer invariant violated")

	// ErrCorrupt and ErrRetryExhausted are shared with the metadata file
	// layer so callers can match either origin with errors.Is.
	ErrCorrupt        = mdfile.ErrCorrupt
	ErrRetryExhausted = mdfile.ErrRetryExhausted
)
