// pkg/pagebuf/stats.go

package pagebuf

// ClassStats counts events for one access class.
type ClassStats struct {
	Accesses   uint64
	Hits       uint64
	Misses     uint64
	Loads      uint64
	Insertions uint64
	Evictions  uint64
	Flushes    uint64
	Bypasses   uint64
}

// Stats aggregates page buffer counters since the last reset.
type Stats struct {
	Meta ClassStats
	Raw  ClassStats

	MPMDEInsertions uint64
	MPMDEEvictions  uint64

	// make-space scan skips
	LRUTLSkips uint64
	LRUMDSkips uint64
	LRURDSkips uint64

	// delayed write list shape
	DWLInserts    uint64
	DWLTotalDepth uint64
	DWLMaxDepth   uint64
	DWLMaxLen     uint64

	MaxPages uint64
}

func (s *Stats) class(meta bool) *ClassStats {
	if meta {
		return &s.Meta
	}
	return &s.Raw
}

func (s *Stats) hit(meta, hit bool) {
	c := s.class(meta)
	c.Accesses++
	if hit {
		c.Hits++
	} else {
		c.Misses++
	}
}

func (s *Stats) dwlInsert(depth, listLen int) {
	s.DWLInserts++
	s.DWLTotalDepth += uint64(depth)
	if uint64(depth) > s.DWLMaxDepth {
		s.DWLMaxDepth = uint64(depth)
	}
	if uint64(listLen) > s.DWLMaxLen {
		s.DWLMaxLen = uint64(listLen)
	}
}

// HitRate returns the combined hit fraction, or 0 with no accesses.
func (s *Stats) HitRate() float64 {
	accesses := s.Meta.Accesses + s.Raw.Accesses
	if accesses == 0 {
		return 0
	}
	return float64(s.Meta.Hits+s.Raw.Hits) / float64(accesses)
}

// Stats returns a copy of the current counters.
func (pb *PageBuffer) Stats() Stats {
	pb.Lock()
	defer pb.Unlock()
	return pb.stats
}

// ResetStats zeroes all counters.
func (pb *PageBuffer) ResetStats() {
	pb.Lock()
	defer pb.Unlock()
	pb.stats = Stats{}
}

// LogStats writes a counter summary to the log.
func (pb *PageBuffer) LogStats() {
	pb.Lock()
	s := pb.stats
	pb.Unlock()
	logger.Infof("page buffer: hit rate %.2f%%, md %d/%d hits, raw %d/%d hits, %d md bypasses, %d raw bypasses",
		s.HitRate()*100, s.Meta.Hits, s.Meta.Accesses, s.Raw.Hits, s.Raw.Accesses,
		s.Meta.Bypasses, s.Raw.Bypasses)
	logger.Infof("page buffer: loads md/raw %d/%d, evictions md/raw/mpmde %d/%d/%d, flushes md/raw %d/%d",
		s.Meta.Loads, s.Raw.Loads, s.Meta.Evictions, s.Raw.Evictions, s.MPMDEEvictions,
		s.Meta.Flushes, s.Raw.Flushes)
	logger.Infof("page buffer: lru skips tl/md/raw %d/%d/%d, dwl inserts %d (max depth %d, max len %d)",
		s.LRUTLSkips, s.LRUMDSkips, s.LRURDSkips, s.DWLInserts, s.DWLMaxDepth, s.DWLMaxLen)
}
