// Package sortedpool implements the sorted chunk pool: it takes stripes of sorted input chunks, cuts them into jobs
// by key range and tracks the jobs until every one of them has completed.
//
// A pool goes through two phases. Before Finish stripes are added and may be suspended and resumed. Finish builds the
// jobs, after which they are extracted, completed, failed or aborted. Inputs may still be suspended and resumed; a
// resumed input whose data changed invalidates every job built so far and the pool builds them again.
//
// A Pool is not safe for concurrent use.
package sortedpool

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobmanager"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/chunkpool/slicing"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
	"github.com/G-Research/chunkpool/internal/common/util"
)

// NullCookie is returned by Add for an empty stripe and by Extract when no job is pending.
const NullCookie = jobmanager.NullCookie

// Dependencies are the parts of a pool that are not persisted and must be supplied again on Restore.
type Dependencies struct {
	// Creates the fetchers used to slice large chunks. If nil, chunks are never sliced by key.
	FetcherFactory slicing.FetcherFactory
	// Defaults to the standard logger.
	Log *logrus.Entry
	// Defaults to a new, unregistered PoolMetrics.
	Metrics *metrics.PoolMetrics
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return d
}

// input is everything the pool knows about one input cookie.
type input struct {
	// Stripe the current jobs were built from. Data slices are tagged with the input cookie.
	Stripe    *chunk.Stripe
	Suspended bool
	// Set when the input was resumed with equivalent chunks. Maps chunks of Stripe to the chunks that replaced them.
	Mapping map[*chunk.InputChunk]*chunk.InputChunk
}

type Pool struct {
	id             string
	config         configuration.PoolConfig
	streams        chunk.StreamDirectory
	fetcherFactory slicing.FetcherFactory
	metrics        *metrics.PoolMetrics
	log            *logrus.Entry

	// Indexed by input cookie.
	inputs   []*input
	finished bool
	// Primary data slices whose chunks bypass the jobs, ordered by key.
	teleported []*chunk.DataSlice
	jobs       *jobmanager.JobManager
	// Number of data slices in all jobs ever built.
	dataSliceCount int64
	subscribers    []func(error)
}

func New(config configuration.PoolConfig, streams chunk.StreamDirectory, deps Dependencies) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid pool configuration")
	}
	return newPool(util.NewULID(), config, streams, deps)
}

func newPool(id string, config configuration.PoolConfig, streams chunk.StreamDirectory, deps Dependencies) (*Pool, error) {
	deps = deps.withDefaults()
	log := deps.Log.WithField("poolId", id)
	jobs, err := jobmanager.New(deps.Metrics, log)
	if err != nil {
		return nil, err
	}
	return &Pool{
		id:             id,
		config:         config,
		streams:        streams,
		fetcherFactory: deps.FetcherFactory,
		metrics:        deps.Metrics,
		log:            log,
		jobs:           jobs,
	}, nil
}

// Id returns the identifier the pool logs and persists itself with.
func (p *Pool) Id() string {
	return p.id
}

// Add registers a stripe and returns its input cookie. The data slices of the stripe are copied and tagged with the
// cookie; the caller's stripe is left alone. An empty stripe is ignored and NullCookie returned.
func (p *Pool) Add(stripe *chunk.Stripe) (int, error) {
	if p.finished {
		return NullCookie, errors.WithStack(&poolerrors.ErrInvalidState{Operation: "add stripe", State: "finished"})
	}
	if stripe == nil || len(stripe.DataSlices) == 0 {
		return NullCookie, nil
	}
	cookie := len(p.inputs)
	tagged, err := p.tag(stripe, cookie)
	if err != nil {
		return NullCookie, err
	}
	p.inputs = append(p.inputs, &input{Stripe: tagged})
	p.log.WithField("inputCookie", cookie).Debugf("added stripe with %d data slices", len(tagged.DataSlices))
	return cookie, nil
}

// tag copies the stripe, validates its chunks and tags its data slices with cookie. Missing key limits are inferred
// from boundary keys.
func (p *Pool) tag(stripe *chunk.Stripe, cookie int) (*chunk.Stripe, error) {
	var result *multierror.Error
	rv := &chunk.Stripe{DataSlices: make([]*chunk.DataSlice, 0, len(stripe.DataSlices))}
	for _, ds := range stripe.DataSlices {
		copied := ds.Copy()
		for i, s := range copied.ChunkSlices {
			if err := s.Chunk.Validate(); err != nil {
				result = multierror.Append(result, err)
			}
			copied.ChunkSlices[i] = s.Copy()
		}
		if copied.LowerKey() == nil || copied.UpperKey() == nil {
			if err := copied.InferLimitsFromBoundaryKeys(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		copied.Tag = cookie
		rv.DataSlices = append(rv.DataSlices, copied)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, errors.WithMessagef(err, "invalid stripe for input cookie %d", cookie)
	}
	rv.Foreign = !p.streams.Get(rv.TableIndex()).IsPrimary
	return rv, nil
}

func (p *Pool) input(cookie int) (*input, error) {
	if cookie < 0 || cookie >= len(p.inputs) {
		return nil, errors.WithStack(&poolerrors.ErrNotFound{Type: "input cookie", Value: strconv.Itoa(cookie)})
	}
	return p.inputs[cookie], nil
}

// Suspend marks an input as unavailable. Jobs reading it are not handed out until it is resumed. Jobs that are
// already running are not affected.
func (p *Pool) Suspend(cookie int) error {
	in, err := p.input(cookie)
	if err != nil {
		return err
	}
	if err := p.jobs.Suspend(cookie); err != nil {
		return err
	}
	in.Suspended = true
	p.log.WithField("inputCookie", cookie).Debug("suspended input")
	return nil
}

// Resume makes a suspended input available again with the data of stripe. If stripe holds the same data as before,
// possibly in different chunk instances, jobs refer to the new instances from now on. Otherwise, once the pool is
// finished, every job is invalidated and built again.
func (p *Pool) Resume(cookie int, stripe *chunk.Stripe) error {
	in, err := p.input(cookie)
	if err != nil {
		return err
	}
	if !in.Suspended {
		return errors.WithStack(&poolerrors.ErrInvalidState{
			Operation: fmt.Sprintf("resume input cookie %d", cookie),
			State:     "not suspended",
		})
	}
	if stripe == nil {
		stripe = chunk.NewStripe()
	}
	next, err := p.tag(stripe, cookie)
	if err != nil {
		return err
	}
	logger := p.log.WithField("inputCookie", cookie)

	if mapping, ok := chunk.MatchStripes(in.Stripe, next); ok {
		in.Mapping = mapping
		in.Suspended = false
		logger.Debug("resumed input with equivalent chunks")
		return p.jobs.Resume(cookie)
	}

	in.Stripe = next
	in.Mapping = nil
	in.Suspended = false
	if !p.finished {
		logger.Debug("resumed input with new chunks")
		return p.jobs.Resume(cookie)
	}
	return p.invalidateOutput(poolcontext.New(context.Background(), logger), cookie)
}

// invalidateOutput discards every job after the data of an input changed, notifies the subscribers and builds the
// jobs again from the current stripes.
func (p *Pool) invalidateOutput(ctx *poolcontext.Context, cookie int) error {
	reason := "resumed stripe differs from the suspended one"
	ctx.Log.Warnf("invalidating %d jobs: %s", p.jobs.Progress().Total, reason)
	if err := p.jobs.InvalidateAllJobs(); err != nil {
		return err
	}
	if err := p.jobs.Resume(cookie); err != nil {
		return err
	}
	p.metrics.ReportInvalidation()
	invalidated := &poolerrors.ErrOutputInvalidated{InputCookie: cookie, Reason: reason}
	for _, subscriber := range p.subscribers {
		subscriber(invalidated)
	}
	p.applyMappings()
	return p.buildJobs(ctx)
}

// Finish builds the jobs. No stripes can be added afterwards.
func (p *Pool) Finish(ctx *poolcontext.Context) error {
	if p.finished {
		return errors.WithStack(&poolerrors.ErrInvalidState{Operation: "finish", State: "finished"})
	}
	p.finished = true
	return p.buildJobs(poolcontext.WithLogField(ctx, "poolId", p.id))
}

func (p *Pool) IsFinished() bool {
	return p.finished
}

// GetPendingJobCount returns the number of jobs that can be extracted right now.
func (p *Pool) GetPendingJobCount() int {
	return p.jobs.PendingJobCount()
}

// Extract hands out the job that has been pending longest and returns its output cookie, or NullCookie if no job is
// pending. The node hint does not affect the choice.
func (p *Pool) Extract(nodeHint string) int {
	cookie := p.jobs.ExtractCookie()
	if cookie != NullCookie {
		p.log.WithFields(logrus.Fields{"outputCookie": cookie, "node": nodeHint}).Debug("extracted job")
	}
	return cookie
}

// GetStripeList returns the input of a running job. The list of an invalidated job is empty.
func (p *Pool) GetStripeList(cookie int) (*chunk.StripeList, error) {
	list, err := p.jobs.GetStripeList(cookie)
	if err != nil {
		return nil, err
	}
	return p.mapStripeList(list), nil
}

// Completed marks a running job as done. If the job was interrupted, the unread data of the summary is put back into
// the pool as new jobs together with the foreign data the job was given.
func (p *Pool) Completed(cookie int, summary CompletedJobSummary) error {
	logger := p.log.WithField("outputCookie", cookie)
	if summary.InterruptReason == NotInterrupted {
		if err := p.jobs.Completed(cookie, false); err != nil {
			return err
		}
		logger.Debug("job completed")
		return nil
	}

	job, err := p.jobs.Job(cookie)
	if err != nil {
		return err
	}
	if err := p.jobs.Completed(cookie, true); err != nil {
		return err
	}
	logger.Infof("job interrupted by %s with %d unread data slices", summary.InterruptReason, len(summary.UnreadDataSlices))
	return p.readmit(logger, job.StripeList, summary)
}

// Aborted returns a running job to the pool.
func (p *Pool) Aborted(cookie int, reason AbortReason) error {
	if err := p.jobs.Aborted(cookie); err != nil {
		return err
	}
	p.log.WithField("outputCookie", cookie).Infof("job aborted: %s", reason)
	return nil
}

// Failed returns a running job to the pool.
func (p *Pool) Failed(cookie int) error {
	if err := p.jobs.Failed(cookie); err != nil {
		return err
	}
	p.log.WithField("outputCookie", cookie).Info("job failed")
	return nil
}

// GetTeleportChunks returns the chunks that bypass the jobs, ordered by key.
func (p *Pool) GetTeleportChunks() []*chunk.InputChunk {
	rv := make([]*chunk.InputChunk, len(p.teleported))
	for i, ds := range p.teleported {
		rv[i] = p.mapChunk(ds.Tag, ds.ChunkSlices[0].Chunk)
	}
	return rv
}

// IsCompleted returns true once the pool is finished and every job has completed or has been invalidated.
func (p *Pool) IsCompleted() bool {
	return p.finished &&
		p.jobs.PendingJobCount() == 0 &&
		p.jobs.RunningJobCount() == 0 &&
		p.jobs.SuspendedJobCount() == 0
}

// SubscribePoolOutputInvalidated registers a callback that receives an *poolerrors.ErrOutputInvalidated every time
// the jobs are invalidated.
func (p *Pool) SubscribePoolOutputInvalidated(callback func(error)) {
	p.subscribers = append(p.subscribers, callback)
}

// GetApproximateStripeStatistics returns the statistics of the stripes of the next job to be extracted, or nil if
// no job is pending.
func (p *Pool) GetApproximateStripeStatistics() []chunk.StripeStatistics {
	return p.jobs.ApproximateStripeStatistics()
}

// GetTotalDataSliceCount returns the number of data slices in all jobs built so far.
func (p *Pool) GetTotalDataSliceCount() int64 {
	return p.dataSliceCount
}

func (p *Pool) Progress() jobmanager.Progress {
	return p.jobs.Progress()
}

// Jobs returns the records of every job built so far in cookie order.
func (p *Pool) Jobs() []*jobmanager.Job {
	return p.jobs.Jobs()
}
