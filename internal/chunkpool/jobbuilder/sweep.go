package jobbuilder

import (
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
)

type primaryEntry struct {
	dataSlice *chunk.DataSlice
	// Truncated key range.
	lower     keys.Key
	upper     keys.Key
	singleKey bool
}

// openSlice is a multi-key data slice whose key range is still being swept. Everything below cur has already been
// assigned to jobs.
type openSlice struct {
	entry *primaryEntry
	cur   keys.Key
}

type sweep struct {
	options Options
	streams chunk.StreamDirectory
	foreign *foreignIndex

	entries []*primaryEntry
	pivots  []keys.Key

	open []*openSlice
	// Primary pieces of the job being built.
	current     []*chunk.DataSlice
	chargedSize int64
	// Lowest key of the job being built, or nil if it is empty.
	jobLower keys.Key
	jobs     []*Job
}

func (s *sweep) addPrimary(ds *chunk.DataSlice) {
	p := s.options.PrimaryPrefixLength
	s.entries = append(s.entries, &primaryEntry{
		dataSlice: ds,
		lower:     keys.Prefix(ds.LowerKey(), p),
		upper:     keys.TruncateUpper(ds.UpperKey(), p),
		singleKey: ds.IsSingleKey(p),
	})
}

// addPivots forces job boundaries around a teleported chunk.
func (s *sweep) addPivots(bk *chunk.BoundaryKeys) {
	p := s.options.PrimaryPrefixLength
	if s.options.KeyGuarantee {
		s.pivots = append(s.pivots, keys.Prefix(bk.MinKey, p), keys.PrefixSuccessor(bk.MaxKey, p))
	} else {
		s.pivots = append(s.pivots, keys.Prefix(bk.MinKey, p), keys.Prefix(bk.MaxKey, p))
	}
}

func (s *sweep) run() []*Job {
	slices.SortStableFunc(s.entries, func(a, b *primaryEntry) bool {
		return keys.Less(a.lower, b.lower)
	})
	slices.SortFunc(s.pivots, keys.Less)

	points := make([]keys.Key, 0, 2*len(s.entries)+len(s.pivots))
	for _, e := range s.entries {
		points = append(points, e.lower)
		if !e.singleKey {
			points = append(points, e.upper)
		}
	}
	points = append(points, s.pivots...)
	slices.SortFunc(points, keys.Less)
	points = slices.CompactFunc(points, keys.Equal)

	next, nextPivot := 0, 0
	for _, k := range points {
		s.closeAt(k)

		pivot := false
		for nextPivot < len(s.pivots) && !keys.Less(k, s.pivots[nextPivot]) {
			pivot = true
			nextPivot++
		}
		if pivot {
			s.endJob(k)
		}
		if count, size := s.usage(k); count > s.options.MaxDataSlicesPerJob || size >= s.options.DataSizePerJob {
			s.endJob(k)
		}

		start := next
		for next < len(s.entries) && keys.Equal(s.entries[next].lower, k) {
			next++
		}
		// Without the key guarantee a job may end between two slices that share a key.
		splittable := !s.options.KeyGuarantee
		for _, e := range s.entries[start:next] {
			if e.singleKey {
				s.addWhole(e, k)
				if splittable && s.full(k) {
					s.endJob(k)
				}
			}
		}
		for _, e := range s.entries[start:next] {
			if !e.singleKey {
				if splittable && s.full(k) {
					s.endJob(k)
				}
				s.openAt(e, k)
			}
		}
		// Slices opened at k are read by the current job only if it goes on past k.
		if splittable && s.continuedCount(k) > s.options.MaxDataSlicesPerJob {
			s.endJob(k)
		}
	}
	s.emit()
	return s.jobs
}

// closeAt completes the open slices that end at k.
func (s *sweep) closeAt(k keys.Key) {
	remaining := s.open[:0]
	for _, o := range s.open {
		if keys.Equal(o.entry.upper, k) {
			s.current = append(s.current, o.entry.dataSlice.Narrow(o.cur, nil))
		} else {
			remaining = append(remaining, o)
		}
	}
	s.open = remaining
}

// usage returns the number of data slices and amount of data the current job would have if it ended at k.
func (s *sweep) usage(k keys.Key) (int, int64) {
	count := len(s.current)
	for _, o := range s.open {
		if keys.Less(o.cur, k) {
			count++
		}
	}
	size := s.chargedSize
	if s.jobLower != nil {
		foreignCount, foreignSize := s.foreign.estimate(s.jobLower, keys.Successor(k))
		count += foreignCount
		size += foreignSize
	}
	return count, size
}

// continuedCount returns the number of data slices the current job would have if it went on past k.
func (s *sweep) continuedCount(k keys.Key) int {
	count := len(s.current) + len(s.open)
	if s.jobLower != nil {
		foreignCount, _ := s.foreign.estimate(s.jobLower, keys.Successor(k))
		count += foreignCount
	}
	return count
}

func (s *sweep) full(k keys.Key) bool {
	count, size := s.usage(k)
	return count >= s.options.MaxDataSlicesPerJob || size >= s.options.DataSizePerJob
}

func (s *sweep) addWhole(e *primaryEntry, k keys.Key) {
	s.current = append(s.current, e.dataSlice)
	s.chargedSize += e.dataSlice.DataSize()
	if s.jobLower == nil {
		s.jobLower = k
	}
}

func (s *sweep) openAt(e *primaryEntry, k keys.Key) {
	s.open = append(s.open, &openSlice{entry: e, cur: k})
	s.chargedSize += e.dataSlice.DataSize()
	if s.jobLower == nil {
		s.jobLower = k
	}
}

// endJob cuts every open slice at k and emits the current job.
func (s *sweep) endJob(k keys.Key) {
	for _, o := range s.open {
		if keys.Less(o.cur, k) {
			s.current = append(s.current, o.entry.dataSlice.Narrow(o.cur, k))
			o.cur = k
		}
	}
	s.emit()
	s.chargedSize = 0
	s.jobLower = nil
	if len(s.open) > 0 {
		s.jobLower = k
	}
}

func (s *sweep) emit() {
	if len(s.current) == 0 {
		return
	}
	p := s.options.PrimaryPrefixLength
	job := &Job{
		StripeList:        &chunk.StripeList{},
		PrimarySliceCount: len(s.current),
	}
	byTable := make(map[int][]*chunk.DataSlice)
	for _, ds := range s.current {
		lower := keys.Prefix(ds.LowerKey(), p)
		upper := keys.TruncateUpper(ds.UpperKey(), p)
		if job.LowerKey == nil || keys.Less(lower, job.LowerKey) {
			job.LowerKey = lower
		}
		if job.UpperKey == nil || keys.Less(job.UpperKey, upper) {
			job.UpperKey = upper
		}
		byTable[ds.TableIndex] = append(byTable[ds.TableIndex], ds)
	}
	for _, ds := range s.foreign.attach(job.LowerKey, job.UpperKey) {
		byTable[ds.TableIndex] = append(byTable[ds.TableIndex], ds)
	}

	tables := make([]int, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	for _, t := range tables {
		dataSlices := byTable[t]
		chunk.SortDataSlices(dataSlices)
		stripe := chunk.NewStripe(dataSlices...)
		stripe.Foreign = !s.streams.Get(t).IsPrimary
		job.StripeList.AddStripe(stripe)
	}

	s.jobs = append(s.jobs, job)
	s.current = nil
}
