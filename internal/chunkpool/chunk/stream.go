package chunk

// StreamDescriptor describes the role of one input table.
type StreamDescriptor struct {
	// Primary tables are partitioned into jobs. Other tables are foreign and attached to jobs by key range.
	IsPrimary bool
	// Whole chunks of teleportable tables may bypass the jobs.
	IsTeleportable bool
	// Versioned tables are read through versioned data slices, which are never teleported or sliced.
	IsVersioned bool
}

// StreamDirectory maps table indexes to stream descriptors.
type StreamDirectory []StreamDescriptor

// Get returns the descriptor of the table. Tables not in the directory are primary.
func (d StreamDirectory) Get(tableIndex int) StreamDescriptor {
	if tableIndex < 0 || tableIndex >= len(d) {
		return StreamDescriptor{IsPrimary: true}
	}
	return d[tableIndex]
}

func (d StreamDirectory) HasForeign() bool {
	for _, s := range d {
		if !s.IsPrimary {
			return true
		}
	}
	return false
}
