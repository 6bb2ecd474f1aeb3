package chunk

import (
	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
)

// CheckTiling verifies that slices, in the order given, exactly cover the range of c allowed by its read limits.
// Consecutive slices must continue each other either by key, or by row index over the same key range.
func CheckTiling(c *InputChunk, slices []*Slice) error {
	chunkLowerKey, err := c.LowerKey()
	if err != nil {
		return err
	}
	chunkUpperKey, err := c.UpperKey()
	if err != nil {
		return err
	}
	chunkLowerRowIndex := c.LowerRowIndex()
	chunkUpperRowIndex := c.UpperRowIndex()

	var lastLowerKey keys.Key
	lastUpperKey := chunkLowerKey
	lastLowerRowIndex := int64(-1)
	lastUpperRowIndex := chunkLowerRowIndex
	for i, s := range slices {
		if s.Chunk != c {
			return errors.Errorf("slice %d of chunk %s refers to chunk %s", i, c.ID, s.Chunk.ID)
		}
		lowerRowIndex := chunkLowerRowIndex
		if s.LowerLimit.HasRowIndex {
			lowerRowIndex = s.LowerLimit.RowIndex
		}
		upperRowIndex := chunkUpperRowIndex
		if s.UpperLimit.HasRowIndex {
			upperRowIndex = s.UpperLimit.RowIndex
		}

		keysCoincide := keys.Equal(lastUpperKey, s.LowerLimit.Key)
		rowIndicesCoincide := lastUpperRowIndex == lowerRowIndex
		if !keysCoincide && !rowIndicesCoincide {
			return errors.Errorf(
				"slice %d of chunk %s starts at %v row %d but previous slice ends at %v row %d",
				i, c.ID, s.LowerLimit.Key, lowerRowIndex, lastUpperKey, lastUpperRowIndex,
			)
		}
		if !keysCoincide && (!keys.Equal(lastLowerKey, s.LowerLimit.Key) || !keys.Equal(lastUpperKey, s.UpperLimit.Key)) {
			return errors.Errorf("slice %d of chunk %s continues by row index but covers a different key range", i, c.ID)
		}
		if !rowIndicesCoincide && (lastLowerRowIndex != lowerRowIndex || lastUpperRowIndex != upperRowIndex) {
			return errors.Errorf("slice %d of chunk %s continues by key but covers a different row range", i, c.ID)
		}
		lastLowerKey = s.LowerLimit.Key
		lastUpperKey = s.UpperLimit.Key
		lastLowerRowIndex = lowerRowIndex
		lastUpperRowIndex = upperRowIndex
	}
	if !keys.Equal(lastUpperKey, chunkUpperKey) {
		return errors.Errorf("slices of chunk %s end at key %v; expected %v", c.ID, lastUpperKey, chunkUpperKey)
	}
	if lastUpperRowIndex != chunkUpperRowIndex {
		return errors.Errorf("slices of chunk %s end at row %d; expected %d", c.ID, lastUpperRowIndex, chunkUpperRowIndex)
	}
	return nil
}
