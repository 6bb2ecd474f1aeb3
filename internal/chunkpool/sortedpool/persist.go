package sortedpool

import (
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobmanager"
	"github.com/G-Research/chunkpool/internal/chunkpool/snapshot"
	"github.com/G-Research/chunkpool/internal/common/compress"
)

// Snapshot returns the complete state of the pool, compressed with the configured codec. Dependencies and
// invalidation subscribers are not included. The result only depends on the state of the pool.
func (p *Pool) Snapshot() ([]byte, error) {
	e := snapshot.NewEncoder()
	e.String(p.id)
	writeConfig(e, p.config)
	e.Len(len(p.streams))
	for _, s := range p.streams {
		e.Bool(s.IsPrimary)
		e.Bool(s.IsTeleportable)
		e.Bool(s.IsVersioned)
	}

	type position struct{ cookie, index int }
	positions := make(map[*chunk.DataSlice]position)
	e.Len(len(p.inputs))
	for cookie, in := range p.inputs {
		e.Stripe(in.Stripe)
		e.Bool(in.Suspended)
		// Mapping entries follow the order of the stripe so that the encoding is deterministic.
		var from []*chunk.InputChunk
		seen := make(map[*chunk.InputChunk]bool)
		for index, ds := range in.Stripe.DataSlices {
			positions[ds] = position{cookie: cookie, index: index}
			for _, s := range ds.ChunkSlices {
				if _, ok := in.Mapping[s.Chunk]; ok && !seen[s.Chunk] {
					seen[s.Chunk] = true
					from = append(from, s.Chunk)
				}
			}
		}
		e.Len(len(from))
		for _, c := range from {
			e.Chunk(c)
			e.Chunk(in.Mapping[c])
		}
	}

	e.Bool(p.finished)
	e.Len(len(p.teleported))
	for _, ds := range p.teleported {
		pos, ok := positions[ds]
		if !ok {
			return nil, errors.Errorf("teleported data slice of input cookie %d is not part of its stripe", ds.Tag)
		}
		e.Int(int64(pos.cookie))
		e.Int(int64(pos.index))
	}
	e.Int(p.dataSliceCount)
	writeJobManagerState(e, p.jobs.State())

	data, err := e.Finish(p.config.Snapshot.Compression)
	if err != nil {
		return nil, errors.WithMessagef(err, "persisting pool %s", p.id)
	}
	p.log.Debugf("persisted pool with %d inputs and %d jobs into %d bytes", len(p.inputs), p.jobs.JobCount(), len(data))
	return data, nil
}

// Restore recreates a pool from a snapshot taken by Snapshot. Invalidation subscribers must be registered again.
func Restore(data []byte, deps Dependencies) (*Pool, error) {
	d, err := snapshot.NewDecoder(data, configuration.Default().KeyInternerSize)
	if err != nil {
		return nil, err
	}
	id := d.String()
	config := readConfig(d)
	streams := make(chunk.StreamDirectory, d.Len())
	for i := range streams {
		streams[i] = chunk.StreamDescriptor{
			IsPrimary:      d.Bool(),
			IsTeleportable: d.Bool(),
			IsVersioned:    d.Bool(),
		}
	}
	if d.Err() != nil {
		return nil, errors.WithMessage(d.Err(), "reading pool header")
	}
	p, err := newPool(id, config, streams, deps)
	if err != nil {
		return nil, err
	}

	n := d.Len()
	for cookie := 0; cookie < n && d.Err() == nil; cookie++ {
		in := &input{Stripe: d.Stripe()}
		if in.Stripe == nil {
			in.Stripe = chunk.NewStripe()
		}
		in.Suspended = d.Bool()
		if m := d.Len(); m > 0 {
			in.Mapping = make(map[*chunk.InputChunk]*chunk.InputChunk, m)
			for i := 0; i < m && d.Err() == nil; i++ {
				from := d.Chunk()
				in.Mapping[from] = d.Chunk()
			}
		}
		p.inputs = append(p.inputs, in)
	}

	p.finished = d.Bool()
	n = d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		cookie, index := int(d.Int()), int(d.Int())
		if cookie < 0 || cookie >= len(p.inputs) || index < 0 || index >= len(p.inputs[cookie].Stripe.DataSlices) {
			return nil, errors.Errorf("teleported data slice %d of input cookie %d does not exist", index, cookie)
		}
		p.teleported = append(p.teleported, p.inputs[cookie].Stripe.DataSlices[index])
	}
	p.dataSliceCount = d.Int()
	state := readJobManagerState(d)
	if d.Err() != nil {
		return nil, errors.WithMessagef(d.Err(), "restoring pool %s", id)
	}

	if p.jobs, err = jobmanager.FromState(state, p.metrics, p.log); err != nil {
		return nil, err
	}
	p.metrics.ReportTeleportedChunks(len(p.teleported))
	p.log.Debugf("restored pool with %d inputs and %d jobs", len(p.inputs), p.jobs.JobCount())
	return p, nil
}

func writeConfig(e *snapshot.Encoder, c configuration.PoolConfig) {
	e.Bool(c.EnableKeyGuarantee)
	e.Int(int64(c.PrimaryPrefixLength))
	e.Int(int64(c.ForeignPrefixLength))
	e.Int(int64(c.MinTeleportChunkSize))
	e.Int(c.MaxTotalSliceCount)
	e.Int(int64(c.DataSizePerJob))
	e.Int(int64(c.MaxDataSlicesPerJob))
	e.Int(int64(c.InputSliceDataSize))
	e.Int(int64(c.InputSliceRowCount))
	e.Bool(c.SliceByKeys)
	e.Int(int64(c.Fetcher.Concurrency))
	e.Uint(uint64(c.Fetcher.Attempts))
	e.Int(int64(c.Fetcher.CacheTTL))
	e.Uint(uint64(c.Snapshot.Compression))
	e.Uint(uint64(c.KeyInternerSize))
}

func readConfig(d *snapshot.Decoder) configuration.PoolConfig {
	var c configuration.PoolConfig
	c.EnableKeyGuarantee = d.Bool()
	c.PrimaryPrefixLength = int(d.Int())
	c.ForeignPrefixLength = int(d.Int())
	c.MinTeleportChunkSize = configuration.Size(d.Int())
	c.MaxTotalSliceCount = d.Int()
	c.DataSizePerJob = configuration.Size(d.Int())
	c.MaxDataSlicesPerJob = int(d.Int())
	c.InputSliceDataSize = configuration.Size(d.Int())
	c.InputSliceRowCount = configuration.Size(d.Int())
	c.SliceByKeys = d.Bool()
	c.Fetcher.Concurrency = int(d.Int())
	c.Fetcher.Attempts = uint(d.Uint())
	c.Fetcher.CacheTTL = time.Duration(d.Int())
	c.Snapshot.Compression = compress.Codec(d.Uint())
	c.KeyInternerSize = uint32(d.Uint())
	return c
}

func writeJobManagerState(e *snapshot.Encoder, state jobmanager.State) {
	e.Len(len(state.Jobs))
	for _, job := range state.Jobs {
		e.Int(int64(job.Cookie))
		e.Uint(uint64(job.State))
		e.StripeList(job.StripeList)
		e.Ints(job.InputCookies)
		e.Int(int64(job.SuspendedStripeCount))
		e.Bool(job.Invalidated)
		e.Bool(job.InPool)
		e.Uint(job.PoolSeq)
		e.Int(job.DataSize)
		e.Int(job.RowCount)
	}
	e.Ints(state.SuspendedInputs)
	e.Int(int64(state.FirstValidJob))
	progress := state.Progress
	for _, v := range []int{
		progress.Total, progress.Pending, progress.Suspended, progress.Running, progress.Completed,
		progress.Failed, progress.Aborted, progress.Interrupted, progress.Invalidated,
	} {
		e.Int(int64(v))
	}
}

func readJobManagerState(d *snapshot.Decoder) jobmanager.State {
	var state jobmanager.State
	n := d.Len()
	for i := 0; i < n && d.Err() == nil; i++ {
		job := &jobmanager.Job{}
		job.Cookie = int(d.Int())
		job.State = jobmanager.JobState(d.Uint())
		job.StripeList = d.StripeList()
		job.InputCookies = d.Ints()
		job.SuspendedStripeCount = int(d.Int())
		job.Invalidated = d.Bool()
		job.InPool = d.Bool()
		job.PoolSeq = d.Uint()
		job.DataSize = d.Int()
		job.RowCount = d.Int()
		state.Jobs = append(state.Jobs, job)
	}
	state.SuspendedInputs = d.Ints()
	state.FirstValidJob = int(d.Int())
	state.Progress = jobmanager.Progress{
		Total:       int(d.Int()),
		Pending:     int(d.Int()),
		Suspended:   int(d.Int()),
		Running:     int(d.Int()),
		Completed:   int(d.Int()),
		Failed:      int(d.Int()),
		Aborted:     int(d.Int()),
		Interrupted: int(d.Int()),
		Invalidated: int(d.Int()),
	}
	return state
}
