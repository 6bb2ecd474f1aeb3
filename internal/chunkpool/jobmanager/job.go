package jobmanager

import (
	"github.com/hashicorp/go-memdb"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
)

const (
	jobsTable  = "jobs"
	idIndex    = "id"    // index for looking up jobs by output cookie
	orderIndex = "order" // index for iterating over extractable jobs in the order they entered the pool
)

type JobState int

const (
	Pending JobState = iota
	Running
	Completed
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Job is the job manager's record of one job. Records stored in the job table must not be modified; they are
// copied, changed and inserted again.
type Job struct {
	// Output cookie of the job.
	Cookie     int
	State      JobState
	StripeList *chunk.StripeList
	// Distinct input cookies of the data slices of the job.
	InputCookies []int
	// Number of input cookies of the job that are currently suspended.
	SuspendedStripeCount int
	// Invalidated jobs are never extracted again and their stripe list is empty.
	Invalidated bool
	// InPool is set while the job can be extracted.
	InPool bool
	// Position of the job in the pool. Jobs that enter the pool again go to the back.
	PoolSeq  uint64
	DataSize int64
	RowCount int64
}

func (j *Job) inPoolDesired() bool {
	return j.State == Pending && j.SuspendedStripeCount == 0 && !j.Invalidated
}

// Suspended returns true if the job would be pending if all of its inputs were resumed.
func (j *Job) Suspended() bool {
	return j.State == Pending && j.SuspendedStripeCount > 0 && !j.Invalidated
}

func (j *Job) copy() *Job {
	rv := *j
	return &rv
}

func jobDbSchema() *memdb.DBSchema {
	indexes := make(map[string]*memdb.IndexSchema)
	indexes[idIndex] = &memdb.IndexSchema{
		Name:    idIndex,
		Unique:  true,
		Indexer: &memdb.IntFieldIndex{Field: "Cookie"},
	}
	indexes[orderIndex] = &memdb.IndexSchema{
		Name:   orderIndex,
		Unique: false,
		Indexer: &memdb.CompoundIndex{
			Indexes: []memdb.Indexer{
				&memdb.BoolFieldIndex{Field: "InPool"},
				&memdb.UintFieldIndex{Field: "PoolSeq"},
			},
		},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			jobsTable: {
				Name:    jobsTable,
				Indexes: indexes,
			},
		},
	}
}
