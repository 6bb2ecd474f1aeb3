// Package chunkpoolctl implements the commands of the chunkpool tool: planning jobs for a manifest of chunks and
// writing or inspecting pool snapshots.
package chunkpoolctl

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/chunkpool/internal/chunkpool/configuration"
	"github.com/G-Research/chunkpool/internal/chunkpool/manifest"
	"github.com/G-Research/chunkpool/internal/chunkpool/metrics"
	"github.com/G-Research/chunkpool/internal/chunkpool/slicing"
	"github.com/G-Research/chunkpool/internal/chunkpool/sortedpool"
	"github.com/G-Research/chunkpool/internal/common"
	"github.com/G-Research/chunkpool/internal/common/poolcontext"
)

type App struct {
	Params *Params
	// Output of the commands. Logs go to the standard logger.
	Out io.Writer
}

type Params struct {
	Config configuration.PoolConfig
	// Print the full job records in addition to the summary table.
	Dump bool
}

func New(params *Params) *App {
	return &App{
		Params: params,
		Out:    os.Stdout,
	}
}

// buildPool adds every stripe of the manifest to a new pool and finishes it.
func (a *App) buildPool(manifestPath string) (*sortedpool.Pool, *manifest.Input, error) {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	input, err := m.Resolve(a.Params.Config.KeyInternerSize)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "resolving manifest %s", manifestPath)
	}

	logger := log.WithField("manifest", manifestPath)
	poolMetrics := metrics.New()
	p, err := sortedpool.New(a.Params.Config, input.Streams, sortedpool.Dependencies{
		FetcherFactory: fetcherFactory(a.Params.Config, input, poolMetrics),
		Log:            logger,
		Metrics:        poolMetrics,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, stripe := range input.Stripes {
		if _, err := p.Add(stripe); err != nil {
			return nil, nil, err
		}
	}
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	if err := p.Finish(poolcontext.New(ctx, logger)); err != nil {
		return nil, nil, err
	}
	return p, input, nil
}

// fetcherFactory slices at the sampled keys of the manifest if there are any and slicing by key is enabled, and
// by row index otherwise.
func fetcherFactory(config configuration.PoolConfig, input *manifest.Input, poolMetrics *metrics.PoolMetrics) slicing.FetcherFactory {
	var source slicing.SliceSource = slicing.RowSource{}
	if config.SliceByKeys && len(input.Samples) > 0 {
		samples := slicing.NewSampleSource()
		for id, keys := range input.Samples {
			samples.AddSamples(id, keys)
		}
		source = samples
	}
	return slicing.NewSourceFetcherFactory(source, config, poolMetrics)
}
