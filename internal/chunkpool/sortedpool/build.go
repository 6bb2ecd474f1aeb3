package sortedpool

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobbuilder"
	"github.com/G-Research/chunkpool/internal/chunkpool/slicing"
	"github.com/G-Research/chunkpool/internal/chunkpool/teleport"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
	"github.com/G-Research/chunkpool/internal/common/poolerrors"
	"github.com/G-Research/chunkpool/internal/common/util"
)

// buildJobs detects teleport chunks among the current stripes, slices what is left and builds jobs from it.
func (p *Pool) buildJobs(ctx *poolcontext.Context) error {
	var primary, foreign []*chunk.DataSlice
	for _, in := range p.inputs {
		for _, ds := range in.Stripe.DataSlices {
			if p.streams.Get(ds.TableIndex).IsPrimary {
				primary = append(primary, ds)
			} else {
				foreign = append(foreign, ds)
			}
		}
	}

	teleported, err := teleport.NewDetector(p.config, p.streams).Detect(primary)
	if err != nil {
		return err
	}
	p.teleported = teleported
	p.metrics.ReportTeleportedChunks(len(teleported))
	if len(teleported) > 0 {
		isTeleported := make(map[*chunk.DataSlice]bool, len(teleported))
		for _, ds := range teleported {
			isTeleported[ds] = true
		}
		rest := make([]*chunk.DataSlice, 0, len(primary)-len(teleported))
		for _, ds := range primary {
			if !isTeleported[ds] {
				rest = append(rest, ds)
			}
		}
		primary = rest
	}

	sliced, err := slicing.NewCoordinator(p.config, p.fetcherFactory).Slice(ctx, primary)
	if err != nil {
		return err
	}
	builder := jobbuilder.NewBuilder(jobbuilder.OptionsFromConfig(p.config), p.streams, ctx.Log)
	jobs, err := builder.Build(sliced, foreign, teleport.Chunks(teleported))
	if err != nil {
		return err
	}
	ctx.Log.WithFields(logrus.Fields{
		"jobCount":           len(jobs),
		"teleportChunkCount": len(teleported),
	}).Infof("built jobs from %d primary and %d foreign data slices", len(sliced), len(foreign))
	return p.addJobs(jobs)
}

// readmit builds jobs from the data an interrupted job did not read. Foreign data slices of the job are attached to
// the new jobs by key range again.
func (p *Pool) readmit(logger *logrus.Entry, list *chunk.StripeList, summary CompletedJobSummary) error {
	var primary, foreign []*chunk.DataSlice
	var unreadSize int64
	for _, ds := range summary.UnreadDataSlices {
		if !p.streams.Get(ds.TableIndex).IsPrimary {
			continue
		}
		if ds.LowerKey() == nil || ds.UpperKey() == nil {
			copied := ds.Copy()
			for i, s := range copied.ChunkSlices {
				copied.ChunkSlices[i] = s.Copy()
			}
			if err := copied.InferLimitsFromBoundaryKeys(); err != nil {
				return err
			}
			ds = copied
		}
		primary = append(primary, ds)
		unreadSize += ds.DataSize()
	}
	if len(primary) == 0 {
		return nil
	}
	for _, stripe := range list.Stripes {
		if stripe.Foreign {
			foreign = append(foreign, stripe.DataSlices...)
		}
	}

	options := jobbuilder.OptionsFromConfig(p.config)
	if summary.InterruptReason == JobSplit && summary.SplitJobCount > 1 {
		options = options.WithDataSizePerJob(util.Max(util.DivCeil(unreadSize, int64(summary.SplitJobCount)), 1))
	} else {
		options = options.Unlimited()
	}
	jobs, err := jobbuilder.NewBuilder(options, p.streams, logger).Build(primary, foreign, nil)
	if err != nil {
		return err
	}
	logger.WithField("jobCount", len(jobs)).Infof("readmitted %d bytes of unread data", unreadSize)
	return p.addJobs(jobs)
}

// addJobs hands the jobs to the job manager unless that would take the pool over its data slice limit.
func (p *Pool) addJobs(jobs []*jobbuilder.Job) error {
	var count int64
	for _, job := range jobs {
		count += int64(job.StripeList.DataSliceCount())
	}
	total := p.dataSliceCount + count
	if total > p.config.MaxTotalSliceCount {
		return errors.WithStack(&poolerrors.ErrSliceLimitExceeded{
			Actual:   total,
			Limit:    p.config.MaxTotalSliceCount,
			JobCount: p.jobs.JobCount() + len(jobs),
		})
	}
	if _, err := p.jobs.AddJobs(jobs); err != nil {
		return err
	}
	p.dataSliceCount = total
	p.metrics.ReportChunkSlices(int(count))
	return nil
}

// mapChunk returns the chunk that replaced c after the input was resumed, or c itself.
func (p *Pool) mapChunk(inputCookie int, c *chunk.InputChunk) *chunk.InputChunk {
	if inputCookie < 0 || inputCookie >= len(p.inputs) {
		return c
	}
	if mapped, ok := p.inputs[inputCookie].Mapping[c]; ok {
		return mapped
	}
	return c
}

func (p *Pool) hasMappings() bool {
	for _, in := range p.inputs {
		if len(in.Mapping) > 0 {
			return true
		}
	}
	return false
}

func (p *Pool) mapDataSlice(ds *chunk.DataSlice) *chunk.DataSlice {
	rv := ds
	for i, s := range ds.ChunkSlices {
		mapped := p.mapChunk(ds.Tag, s.Chunk)
		if mapped == s.Chunk {
			continue
		}
		if rv == ds {
			rv = ds.Copy()
		}
		rv.ChunkSlices[i] = s.WithChunk(mapped)
	}
	return rv
}

func (p *Pool) mapStripe(stripe *chunk.Stripe) *chunk.Stripe {
	rv := &chunk.Stripe{Foreign: stripe.Foreign, DataSlices: make([]*chunk.DataSlice, len(stripe.DataSlices))}
	for i, ds := range stripe.DataSlices {
		rv.DataSlices[i] = p.mapDataSlice(ds)
	}
	return rv
}

// mapStripeList returns list with every chunk replaced according to the input mappings.
func (p *Pool) mapStripeList(list *chunk.StripeList) *chunk.StripeList {
	if !p.hasMappings() {
		return list
	}
	rv := &chunk.StripeList{IsApproximate: list.IsApproximate}
	for _, stripe := range list.Stripes {
		rv.AddStripe(p.mapStripe(stripe))
	}
	return rv
}

// applyMappings replaces the stripes of every input with their mapped versions. Only valid once no job refers to the
// old stripes.
func (p *Pool) applyMappings() {
	for _, in := range p.inputs {
		if len(in.Mapping) > 0 {
			in.Stripe = p.mapStripe(in.Stripe)
			in.Mapping = nil
		}
	}
}
