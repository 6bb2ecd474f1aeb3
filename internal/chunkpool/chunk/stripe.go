package chunk

// Stripe is an ordered sequence of data slices delivered to a job as one unit.
type Stripe struct {
	DataSlices []*DataSlice
	// Foreign is set for stripes of joined-in tables.
	Foreign bool
}

func NewStripe(dataSlices ...*DataSlice) *Stripe {
	return &Stripe{DataSlices: dataSlices}
}

// TableIndex returns the table index of the first data slice, or -1 for an empty stripe.
func (s *Stripe) TableIndex() int {
	if len(s.DataSlices) == 0 {
		return -1
	}
	return s.DataSlices[0].TableIndex
}

type StripeStatistics struct {
	ChunkCount int
	DataSize   int64
	RowCount   int64
}

func (s *Stripe) Statistics() StripeStatistics {
	var rv StripeStatistics
	for _, d := range s.DataSlices {
		rv.ChunkCount += d.ChunkCount()
		rv.DataSize += d.DataSize()
		rv.RowCount += d.RowCount()
	}
	return rv
}

// Chunks returns the distinct chunks referenced by the stripe in order of first appearance.
func (s *Stripe) Chunks() []*InputChunk {
	var rv []*InputChunk
	seen := make(map[*InputChunk]bool)
	for _, d := range s.DataSlices {
		for _, cs := range d.ChunkSlices {
			if !seen[cs.Chunk] {
				seen[cs.Chunk] = true
				rv = append(rv, cs.Chunk)
			}
		}
	}
	return rv
}

// MatchStripes checks whether next holds the same data as prev, possibly backed by different chunk instances.
// If so it returns the mapping from chunks of prev to the corresponding chunks of next.
func MatchStripes(prev, next *Stripe) (map[*InputChunk]*InputChunk, bool) {
	if len(prev.DataSlices) != len(next.DataSlices) {
		return nil, false
	}
	mapping := make(map[*InputChunk]*InputChunk)
	for i, pd := range prev.DataSlices {
		nd := next.DataSlices[i]
		if len(pd.ChunkSlices) != len(nd.ChunkSlices) || pd.TableIndex != nd.TableIndex {
			return nil, false
		}
		for j, ps := range pd.ChunkSlices {
			ns := nd.ChunkSlices[j]
			if !EquivalentChunks(ps.Chunk, ns.Chunk) ||
				!ps.LowerLimit.Equal(ns.LowerLimit) ||
				!ps.UpperLimit.Equal(ns.UpperLimit) {
				return nil, false
			}
			if mapped, ok := mapping[ps.Chunk]; ok && mapped != ns.Chunk {
				return nil, false
			}
			mapping[ps.Chunk] = ns.Chunk
		}
	}
	return mapping, true
}

// StripeList is the complete input of one job.
type StripeList struct {
	Stripes         []*Stripe
	TotalChunkCount int
	TotalRowCount   int64
	TotalDataSize   int64
	// IsApproximate is set when statistics were estimated rather than computed from the slices.
	IsApproximate bool
}

// AddStripe appends the stripe and accumulates its statistics.
func (l *StripeList) AddStripe(s *Stripe) {
	stat := s.Statistics()
	l.Stripes = append(l.Stripes, s)
	l.TotalChunkCount += stat.ChunkCount
	l.TotalRowCount += stat.RowCount
	l.TotalDataSize += stat.DataSize
}

// DataSliceCount returns the number of data slices across all stripes.
func (l *StripeList) DataSliceCount() int {
	n := 0
	for _, s := range l.Stripes {
		n += len(s.DataSlices)
	}
	return n
}
