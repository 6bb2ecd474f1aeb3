package testfixtures

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
)

// CheckDataIntegrity verifies that every primary chunk is either teleported or covered exactly once by the slices
// of stripeLists, taken in the order given. Teleported chunks must not appear in any stripe list.
func CheckDataIntegrity(streams chunk.StreamDirectory, stripeLists []*chunk.StripeList, teleported, inputs []*chunk.InputChunk) error {
	slicesByChunk := make(map[*chunk.InputChunk][]*chunk.Slice)
	for _, list := range stripeLists {
		for _, stripe := range list.Stripes {
			for _, ds := range stripe.DataSlices {
				for _, s := range ds.ChunkSlices {
					slicesByChunk[s.Chunk] = append(slicesByChunk[s.Chunk], s)
				}
			}
		}
	}

	var result *multierror.Error
	for _, c := range teleported {
		if _, ok := slicesByChunk[c]; ok {
			result = multierror.Append(result, errors.Errorf("teleported chunk %s is read by a job", c.ID))
		}
	}
	for _, c := range inputs {
		if !streams.Get(c.TableIndex).IsPrimary || slices.Contains(teleported, c) {
			continue
		}
		if err := chunk.CheckTiling(c, slicesByChunk[c]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CheckKeyGuarantee verifies that the truncated primary key ranges of the stripe lists do not overlap.
func CheckKeyGuarantee(stripeLists []*chunk.StripeList, prefixLength int) error {
	type keyRange struct {
		lower keys.Key
		upper keys.Key
	}
	var ranges []keyRange
	for _, list := range stripeLists {
		var r keyRange
		for _, stripe := range list.Stripes {
			if stripe.Foreign {
				continue
			}
			for _, ds := range stripe.DataSlices {
				lower := keys.Prefix(ds.LowerKey(), prefixLength)
				upper := keys.TruncateUpper(ds.UpperKey(), prefixLength)
				if r.lower == nil || keys.Less(lower, r.lower) {
					r.lower = lower
				}
				if r.upper == nil || keys.Less(r.upper, upper) {
					r.upper = upper
				}
			}
		}
		if r.lower != nil {
			ranges = append(ranges, r)
		}
	}
	slices.SortFunc(ranges, func(a, b keyRange) bool {
		return keys.Less(a.lower, b.lower)
	})
	for i := 1; i < len(ranges); i++ {
		if keys.Less(ranges[i].lower, ranges[i-1].upper) {
			return errors.Errorf(
				"job key ranges [%v, %v) and [%v, %v) overlap",
				ranges[i-1].lower, ranges[i-1].upper, ranges[i].lower, ranges[i].upper,
			)
		}
	}
	return nil
}

// CheckForeignMarked verifies that stripes are marked foreign exactly when they hold data of foreign tables.
func CheckForeignMarked(streams chunk.StreamDirectory, stripeLists []*chunk.StripeList) error {
	for _, list := range stripeLists {
		for _, stripe := range list.Stripes {
			for _, ds := range stripe.DataSlices {
				if streams.Get(ds.TableIndex).IsPrimary == stripe.Foreign {
					return errors.Errorf("stripe of table %d has Foreign=%t", ds.TableIndex, stripe.Foreign)
				}
			}
		}
	}
	return nil
}

// CheckSliceCount verifies that no stripe list holds more than maxDataSlicesPerJob + tableCount - 1 data slices.
func CheckSliceCount(stripeLists []*chunk.StripeList, maxDataSlicesPerJob, tableCount int) error {
	limit := maxDataSlicesPerJob + tableCount - 1
	var result *multierror.Error
	for i, list := range stripeLists {
		if count := list.DataSliceCount(); count > limit {
			result = multierror.Append(result, errors.Errorf("stripe list %d has %d data slices; at most %d are allowed", i, count, limit))
		}
	}
	return result.ErrorOrNil()
}

// CheckTeleportChunks verifies that every teleported chunk is large and complete.
func CheckTeleportChunks(teleported []*chunk.InputChunk, minTeleportChunkSize int64) error {
	for _, c := range teleported {
		if !c.IsLargeCompleteChunk(minTeleportChunkSize) {
			return errors.Errorf("teleported chunk %s is smaller than %d or has read limits", c.ID, minTeleportChunkSize)
		}
	}
	return nil
}
