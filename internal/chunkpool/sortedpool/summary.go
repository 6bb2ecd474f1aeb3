package sortedpool

import (
	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
)

// InterruptReason says why a completed job did not read all of its input.
type InterruptReason int

const (
	NotInterrupted InterruptReason = iota
	// The job was stopped so that its node could be used by something else.
	Preemption
	// The job was too slow and asked for the rest of its input to be split between several new jobs.
	JobSplit
)

func (r InterruptReason) String() string {
	switch r {
	case NotInterrupted:
		return "none"
	case Preemption:
		return "preemption"
	case JobSplit:
		return "job split"
	default:
		return "unknown"
	}
}

// CompletedJobSummary describes how a job finished.
type CompletedJobSummary struct {
	InterruptReason InterruptReason
	// Primary data slices the job did not read. Only used if the job was interrupted.
	UnreadDataSlices []*chunk.DataSlice
	// Number of jobs the unread data should be split into. Only used for JobSplit.
	SplitJobCount int
}

// AbortReason says why a job was aborted. It is only used for logging; every aborted job goes back to the pool.
type AbortReason int

const (
	AbortUnknown AbortReason = iota
	AbortScheduling
	AbortNodeLost
	AbortUser
)

func (r AbortReason) String() string {
	switch r {
	case AbortScheduling:
		return "scheduling"
	case AbortNodeLost:
		return "node lost"
	case AbortUser:
		return "user request"
	default:
		return "unknown"
	}
}
