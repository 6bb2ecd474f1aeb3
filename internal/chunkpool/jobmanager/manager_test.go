package jobmanager

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobbuilder"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/chunkpool/testfixtures"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
)

// testJob builds a job with one data slice per input cookie.
func testJob(tables *testfixtures.Tables, inputCookies ...int) *jobbuilder.Job {
	list := &chunk.StripeList{}
	stripe := chunk.NewStripe()
	for i, inputCookie := range inputCookies {
		ds := tables.DataSlice(tables.CreateChunk(testfixtures.K(int64(i)), testfixtures.K(int64(i)), 0))
		ds.Tag = inputCookie
		stripe.DataSlices = append(stripe.DataSlices, ds)
	}
	list.AddStripe(stripe)
	return &jobbuilder.Job{StripeList: list, PrimarySliceCount: len(inputCookies)}
}

func newTestManager(t *testing.T, jobs ...*jobbuilder.Job) *JobManager {
	m, err := New(metrics.New(), logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	_, err = m.AddJobs(jobs)
	require.NoError(t, err)
	return m
}

func extractAll(m *JobManager) []int {
	var rv []int
	for cookie := m.ExtractCookie(); cookie != NullCookie; cookie = m.ExtractCookie() {
		rv = append(rv, cookie)
	}
	return rv
}

func TestJobManager_ExtractsInPoolOrder(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0), testJob(tables, 1), testJob(tables, 2))
	assert.Equal(t, 3, m.PendingJobCount())

	assert.Equal(t, []int{0, 1, 2}, extractAll(m))
	assert.Equal(t, 0, m.PendingJobCount())
	assert.Equal(t, 3, m.RunningJobCount())

	require.NoError(t, m.Failed(1))
	require.NoError(t, m.Aborted(0))
	require.NoError(t, m.Completed(2, false))
	assert.Equal(t, []int{1, 0}, extractAll(m))

	progress := m.Progress()
	assert.Equal(t, 3, progress.Total)
	assert.Equal(t, 2, progress.Running)
	assert.Equal(t, 1, progress.Completed)
	assert.Equal(t, 1, progress.Failed)
	assert.Equal(t, 1, progress.Aborted)
}

func TestJobManager_Suspension(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0, 1), testJob(tables, 1), testJob(tables, 2))

	require.NoError(t, m.Suspend(1))
	assert.Equal(t, 1, m.PendingJobCount())
	assert.Equal(t, 2, m.SuspendedJobCount())
	assert.True(t, m.IsSuspended(1))

	require.NoError(t, m.Resume(1))
	assert.Equal(t, 3, m.PendingJobCount())
	assert.Equal(t, 0, m.SuspendedJobCount())
	// Resumed jobs go to the back of the pool.
	assert.Equal(t, []int{2, 0, 1}, extractAll(m))
}

func TestJobManager_SuspendBeforeJobsAreAdded(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t)
	require.NoError(t, m.Suspend(5))

	cookies, err := m.AddJobs([]*jobbuilder.Job{testJob(tables, 5), testJob(tables, 6)})
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, []int{0, 1}, cookies)
	assert.Equal(t, 1, m.PendingJobCount())
	assert.Equal(t, 1, m.SuspendedJobCount())

	require.NoError(t, m.Resume(5))
	assert.Equal(t, []int{1, 0}, extractAll(m))
}

func TestJobManager_SuspendDoesNotInterruptRunningJobs(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0))
	cookie := m.ExtractCookie()
	require.Equal(t, 0, cookie)

	require.NoError(t, m.Suspend(0))
	assert.Equal(t, 1, m.RunningJobCount())
	assert.Equal(t, 0, m.SuspendedJobCount())

	// A job that fails while its input is suspended waits for the input.
	require.NoError(t, m.Failed(cookie))
	assert.Equal(t, 0, m.PendingJobCount())
	assert.Equal(t, 1, m.SuspendedJobCount())
}

func TestJobManager_Invalidation(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0), testJob(tables, 1), testJob(tables, 2))
	running := m.ExtractCookie()

	require.NoError(t, m.InvalidateAllJobs())
	assert.Equal(t, 0, m.PendingJobCount())
	assert.Equal(t, NullCookie, m.ExtractCookie())
	assert.Equal(t, 3, m.Progress().Invalidated)
	assert.Equal(t, 0, m.Progress().Total)

	list, err := m.GetStripeList(running)
	if !assert.NoError(t, err) {
		return
	}
	assert.Empty(t, list.Stripes)

	// Jobs added later are unaffected by the earlier invalidation.
	cookies, err := m.AddJobs([]*jobbuilder.Job{testJob(tables, 0)})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, cookies)
	require.NoError(t, m.InvalidateAllJobs())
	assert.Equal(t, 4, m.Progress().Invalidated)
}

func TestJobManager_Errors(t *testing.T) {
	tests := map[string]struct {
		action          func(m *JobManager) error
		expectedErrorAs interface{}
	}{
		"complete a pending job": {
			action:          func(m *JobManager) error { return m.Completed(0, false) },
			expectedErrorAs: &poolerrors.ErrInvalidState{},
		},
		"fail an unknown job": {
			action:          func(m *JobManager) error { return m.Failed(42) },
			expectedErrorAs: &poolerrors.ErrNotFound{},
		},
		"suspend twice": {
			action: func(m *JobManager) error {
				if err := m.Suspend(0); err != nil {
					return err
				}
				return m.Suspend(0)
			},
			expectedErrorAs: &poolerrors.ErrAlreadyExists{},
		},
		"resume an input that is not suspended": {
			action:          func(m *JobManager) error { return m.Resume(0) },
			expectedErrorAs: &poolerrors.ErrNotFound{},
		},
		"stripe list of a pending job": {
			action: func(m *JobManager) error {
				_, err := m.GetStripeList(0)
				return err
			},
			expectedErrorAs: &poolerrors.ErrInvalidState{},
		},
		"invalidate twice": {
			action: func(m *JobManager) error {
				if err := m.Invalidate(0); err != nil {
					return err
				}
				return m.Invalidate(0)
			},
			expectedErrorAs: &poolerrors.ErrInvalidState{},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t, testJob(testfixtures.PrimaryTables(1), 0))
			err := tc.action(m)
			if !assert.Error(t, err) {
				return
			}
			switch target := tc.expectedErrorAs.(type) {
			case *poolerrors.ErrInvalidState:
				assert.True(t, errors.As(err, &target))
			case *poolerrors.ErrNotFound:
				assert.True(t, errors.As(err, &target))
			case *poolerrors.ErrAlreadyExists:
				assert.True(t, errors.As(err, &target))
			}
		})
	}
}

func TestJobManager_StateRoundTrip(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0), testJob(tables, 1), testJob(tables, 2), testJob(tables, 3))
	running := m.ExtractCookie()
	require.NoError(t, m.Failed(running))
	require.NoError(t, m.Suspend(2))
	require.NoError(t, m.Invalidate(3))

	restored, err := FromState(m.State(), metrics.New(), logrus.NewEntry(logrus.New()))
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, m.Progress(), restored.Progress())
	assert.Equal(t, 4, restored.JobCount())
	assert.True(t, restored.IsSuspended(2))

	require.NoError(t, restored.Resume(2))
	require.NoError(t, m.Resume(2))
	assert.Equal(t, extractAll(m), extractAll(restored))
}

func TestJobManager_ApproximateStripeStatistics(t *testing.T) {
	tables := testfixtures.PrimaryTables(1)
	m := newTestManager(t, testJob(tables, 0, 1), testJob(tables, 2))

	stats := m.ApproximateStripeStatistics()
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].ChunkCount)
	assert.Equal(t, int64(2*testfixtures.DefaultChunkSize), stats[0].DataSize)

	extractAll(m)
	assert.Nil(t, m.ApproximateStripeStatistics())
}
