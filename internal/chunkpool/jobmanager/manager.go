// Package jobmanager tracks the jobs built by a sorted pool: their states, which of their inputs are suspended and
// the order in which pending jobs are handed out.
//
// Jobs are stored in a go-memdb table indexed by output cookie and by pool order, in the same way the scheduler
// stores its job queues.
package jobmanager

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobbuilder"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// NullCookie is returned by ExtractCookie when no job is pending.
const NullCookie = -1

// Progress counts jobs by state and job events since the job manager was created.
type Progress struct {
	// Jobs that have not been invalidated.
	Total     int
	Pending   int
	Suspended int
	Running   int
	Completed int

	Failed      int
	Aborted     int
	Interrupted int
	Invalidated int
}

type JobManager struct {
	db       *memdb.MemDB
	jobCount int
	nextSeq  uint64
	// Output cookies of the jobs that read each input cookie.
	affected        map[int][]int
	suspendedInputs map[int]bool
	// Jobs below this cookie are all invalidated.
	firstValidJob int
	progress      Progress
	metrics       *metrics.PoolMetrics
	log           *logrus.Entry
}

func New(poolMetrics *metrics.PoolMetrics, log *logrus.Entry) (*JobManager, error) {
	db, err := memdb.NewMemDB(jobDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &JobManager{
		db:              db,
		affected:        make(map[int][]int),
		suspendedInputs: make(map[int]bool),
		metrics:         poolMetrics,
		log:             log,
	}, nil
}

// AddJobs adds the jobs and returns their output cookies. Jobs reading a suspended input are not pending until it is
// resumed.
func (m *JobManager) AddJobs(jobs []*jobbuilder.Job) ([]int, error) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	cookies := make([]int, 0, len(jobs))
	for _, built := range jobs {
		job := &Job{
			Cookie:       m.jobCount,
			State:        Pending,
			StripeList:   built.StripeList,
			InputCookies: built.InputCookies(),
			DataSize:     built.StripeList.TotalDataSize,
			RowCount:     built.StripeList.TotalRowCount,
		}
		for _, inputCookie := range job.InputCookies {
			m.affected[inputCookie] = append(m.affected[inputCookie], job.Cookie)
			if m.suspendedInputs[inputCookie] {
				job.SuspendedStripeCount++
			}
		}
		m.place(job)
		m.account(job, 1)
		if err := txn.Insert(jobsTable, job); err != nil {
			return nil, errors.WithStack(err)
		}
		m.jobCount++
		cookies = append(cookies, job.Cookie)

		m.log.WithField("outputCookie", job.Cookie).Debugf(
			"added job with %d data slices, %d bytes and %d rows from primary keys [%v, %v)",
			built.StripeList.DataSliceCount(), job.DataSize, job.RowCount, built.LowerKey, built.UpperKey,
		)
	}
	txn.Commit()

	m.metrics.ReportJobEvent(metrics.Created, len(cookies))
	m.reportCounts()
	return cookies, nil
}

// ExtractCookie moves the job that has been pending longest to Running and returns its cookie, or NullCookie.
func (m *JobManager) ExtractCookie() int {
	txn := m.db.Txn(false)
	it, err := txn.LowerBound(jobsTable, orderIndex, true, uint64(0))
	if err != nil {
		panic(fmt.Sprintf("order index lookup failed: %v", err))
	}
	obj := it.Next()
	if obj == nil || !obj.(*Job).InPool {
		return NullCookie
	}
	cookie := obj.(*Job).Cookie
	if err := m.modify(cookie, func(job *Job) error {
		job.State = Running
		return nil
	}); err != nil {
		panic(fmt.Sprintf("extracting job %d failed: %v", cookie, err))
	}
	m.metrics.ReportJobEvent(metrics.Extracted, 1)
	return cookie
}

// Completed marks a running job as done. An interrupted job is done as well; the caller is responsible for the data
// it did not read.
func (m *JobManager) Completed(cookie int, interrupted bool) error {
	err := m.modify(cookie, func(job *Job) error {
		if err := requireState(job, Running, "complete"); err != nil {
			return err
		}
		job.State = Completed
		return nil
	})
	if err != nil {
		return err
	}
	if interrupted {
		m.progress.Interrupted++
		m.metrics.ReportJobEvent(metrics.Interrupted, 1)
	}
	m.metrics.ReportJobEvent(metrics.Finished, 1)
	return nil
}

// Failed returns a running job to the pool.
func (m *JobManager) Failed(cookie int) error {
	if err := m.requeue(cookie, "fail"); err != nil {
		return err
	}
	m.progress.Failed++
	m.metrics.ReportJobEvent(metrics.Failed, 1)
	return nil
}

// Aborted returns a running job to the pool.
func (m *JobManager) Aborted(cookie int) error {
	if err := m.requeue(cookie, "abort"); err != nil {
		return err
	}
	m.progress.Aborted++
	m.metrics.ReportJobEvent(metrics.Aborted, 1)
	return nil
}

func (m *JobManager) requeue(cookie int, operation string) error {
	return m.modify(cookie, func(job *Job) error {
		if err := requireState(job, Running, operation); err != nil {
			return err
		}
		job.State = Pending
		return nil
	})
}

// Suspend marks an input cookie as suspended. Pending jobs reading it leave the pool; running jobs are unaffected.
func (m *JobManager) Suspend(inputCookie int) error {
	if m.suspendedInputs[inputCookie] {
		return errors.WithStack(&poolerrors.ErrAlreadyExists{Type: "suspended input cookie", Value: strconv.Itoa(inputCookie)})
	}
	m.suspendedInputs[inputCookie] = true
	return m.changeSuspendedCount(inputCookie, 1)
}

func (m *JobManager) Resume(inputCookie int) error {
	if !m.suspendedInputs[inputCookie] {
		return errors.WithStack(&poolerrors.ErrNotFound{Type: "suspended input cookie", Value: strconv.Itoa(inputCookie)})
	}
	delete(m.suspendedInputs, inputCookie)
	return m.changeSuspendedCount(inputCookie, -1)
}

func (m *JobManager) changeSuspendedCount(inputCookie, delta int) error {
	for _, cookie := range m.affected[inputCookie] {
		if err := m.modify(cookie, func(job *Job) error {
			job.SuspendedStripeCount += delta
			if job.SuspendedStripeCount < 0 {
				return errors.Errorf("job %d has a negative number of suspended stripes", cookie)
			}
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// IsSuspended returns true if the input cookie is suspended.
func (m *JobManager) IsSuspended(inputCookie int) bool {
	return m.suspendedInputs[inputCookie]
}

// Invalidate removes the job from the pool for good and clears its stripe list.
func (m *JobManager) Invalidate(cookie int) error {
	err := m.modify(cookie, func(job *Job) error {
		if job.Invalidated {
			return errors.WithStack(&poolerrors.ErrInvalidState{
				Operation: fmt.Sprintf("invalidate job %d", cookie),
				State:     "invalidated",
			})
		}
		job.Invalidated = true
		job.StripeList = &chunk.StripeList{}
		return nil
	})
	if err != nil {
		return err
	}
	m.progress.Invalidated++
	m.metrics.ReportJobEvent(metrics.Invalidated, 1)
	return nil
}

// InvalidateAllJobs invalidates every job that has not been invalidated yet.
func (m *JobManager) InvalidateAllJobs() error {
	for ; m.firstValidJob < m.jobCount; m.firstValidJob++ {
		job, err := m.Job(m.firstValidJob)
		if err != nil {
			return err
		}
		if job.Invalidated {
			continue
		}
		if err := m.Invalidate(job.Cookie); err != nil {
			return err
		}
	}
	return nil
}

// GetStripeList returns the stripe list of a running job.
func (m *JobManager) GetStripeList(cookie int) (*chunk.StripeList, error) {
	job, err := m.Job(cookie)
	if err != nil {
		return nil, err
	}
	if err := requireState(job, Running, "get stripe list"); err != nil {
		return nil, err
	}
	return job.StripeList, nil
}

// Job returns the record of the job. The record must not be modified.
func (m *JobManager) Job(cookie int) (*Job, error) {
	return m.get(m.db.Txn(false), cookie)
}

// Jobs returns every job in cookie order.
func (m *JobManager) Jobs() []*Job {
	txn := m.db.Txn(false)
	it, err := txn.Get(jobsTable, idIndex)
	if err != nil {
		panic(fmt.Sprintf("id index lookup failed: %v", err))
	}
	rv := make([]*Job, 0, m.jobCount)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rv = append(rv, obj.(*Job))
	}
	slices.SortFunc(rv, func(a, b *Job) bool {
		return a.Cookie < b.Cookie
	})
	return rv
}

// PendingJobs returns the jobs that can be extracted, in the order ExtractCookie would return them.
func (m *JobManager) PendingJobs() []*Job {
	txn := m.db.Txn(false)
	it, err := txn.LowerBound(jobsTable, orderIndex, true, uint64(0))
	if err != nil {
		panic(fmt.Sprintf("order index lookup failed: %v", err))
	}
	var rv []*Job
	for obj := it.Next(); obj != nil && obj.(*Job).InPool; obj = it.Next() {
		rv = append(rv, obj.(*Job))
	}
	return rv
}

// ApproximateStripeStatistics returns the statistics of the stripes of the next job to be extracted.
func (m *JobManager) ApproximateStripeStatistics() []chunk.StripeStatistics {
	pending := m.PendingJobs()
	if len(pending) == 0 {
		return nil
	}
	stripes := pending[0].StripeList.Stripes
	rv := make([]chunk.StripeStatistics, len(stripes))
	for i, s := range stripes {
		rv[i] = s.Statistics()
	}
	return rv
}

func (m *JobManager) PendingJobCount() int {
	return m.progress.Pending
}

func (m *JobManager) SuspendedJobCount() int {
	return m.progress.Suspended
}

func (m *JobManager) RunningJobCount() int {
	return m.progress.Running
}

func (m *JobManager) JobCount() int {
	return m.jobCount
}

func (m *JobManager) Progress() Progress {
	return m.progress
}

// modify applies f to a copy of the job and stores the result, moving the job in or out of the pool as needed.
func (m *JobManager) modify(cookie int, f func(job *Job) error) error {
	txn := m.db.Txn(true)
	defer txn.Abort()

	job, err := m.get(txn, cookie)
	if err != nil {
		return err
	}
	updated := job.copy()
	if err := f(updated); err != nil {
		return err
	}
	m.place(updated)
	m.account(job, -1)
	m.account(updated, 1)
	if err := txn.Insert(jobsTable, updated); err != nil {
		return errors.WithStack(err)
	}
	txn.Commit()
	m.reportCounts()
	return nil
}

func (m *JobManager) get(txn *memdb.Txn, cookie int) (*Job, error) {
	obj, err := txn.First(jobsTable, idIndex, cookie)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, errors.WithStack(&poolerrors.ErrNotFound{Type: "output cookie", Value: strconv.Itoa(cookie)})
	}
	return obj.(*Job), nil
}

func (m *JobManager) place(job *Job) {
	desired := job.inPoolDesired()
	if desired && !job.InPool {
		job.PoolSeq = m.nextSeq
		m.nextSeq++
	}
	job.InPool = desired
}

func (m *JobManager) account(job *Job, delta int) {
	if !job.Invalidated {
		m.progress.Total += delta
		if job.State == Completed {
			m.progress.Completed += delta
		}
	}
	if job.InPool {
		m.progress.Pending += delta
	}
	if job.Suspended() {
		m.progress.Suspended += delta
	}
	if job.State == Running {
		m.progress.Running += delta
	}
}

func (m *JobManager) reportCounts() {
	m.metrics.ReportJobCounts(m.progress.Pending, m.progress.Running, m.progress.Suspended, m.progress.Completed)
}

func requireState(job *Job, state JobState, operation string) error {
	if job.State != state {
		return errors.WithStack(&poolerrors.ErrInvalidState{
			Operation: fmt.Sprintf("%s job %d", operation, job.Cookie),
			State:     job.State.String(),
		})
	}
	return nil
}

// State is everything needed to recreate a job manager.
type State struct {
	Jobs            []*Job
	SuspendedInputs []int
	FirstValidJob   int
	Progress        Progress
}

func (m *JobManager) State() State {
	suspended := maps.Keys(m.suspendedInputs)
	slices.Sort(suspended)
	return State{
		Jobs:            m.Jobs(),
		SuspendedInputs: suspended,
		FirstValidJob:   m.firstValidJob,
		Progress:        m.progress,
	}
}

// FromState recreates a job manager. Counts of jobs by state are recomputed from the jobs; event counts are taken
// from state.Progress.
func FromState(state State, poolMetrics *metrics.PoolMetrics, log *logrus.Entry) (*JobManager, error) {
	m, err := New(poolMetrics, log)
	if err != nil {
		return nil, err
	}
	m.progress = Progress{
		Failed:      state.Progress.Failed,
		Aborted:     state.Progress.Aborted,
		Interrupted: state.Progress.Interrupted,
		Invalidated: state.Progress.Invalidated,
	}
	m.firstValidJob = state.FirstValidJob
	for _, inputCookie := range state.SuspendedInputs {
		m.suspendedInputs[inputCookie] = true
	}

	txn := m.db.Txn(true)
	defer txn.Abort()
	for i, job := range state.Jobs {
		if job.Cookie != i {
			return nil, errors.WithStack(&poolerrors.ErrInvalidArgument{
				Name:    "Jobs",
				Value:   job.Cookie,
				Message: fmt.Sprintf("expected job %d", i),
			})
		}
		for _, inputCookie := range job.InputCookies {
			m.affected[inputCookie] = append(m.affected[inputCookie], job.Cookie)
		}
		if job.InPool && job.PoolSeq >= m.nextSeq {
			m.nextSeq = job.PoolSeq + 1
		}
		m.account(job, 1)
		if err := txn.Insert(jobsTable, job); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	txn.Commit()
	m.jobCount = len(state.Jobs)
	m.reportCounts()
	return m, nil
}
