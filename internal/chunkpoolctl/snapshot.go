package chunkpoolctl

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/chunkpool/internal/chunkpool/slicing"
	"github.com/G-Research/chunkpool/internal/chunkpool/sortedpool"
	"github.com/G-Research/chunkpool/internal/common/util"
)

// Snapshot builds the jobs for the chunks of a manifest and writes the state of the pool to outPath.
func (a *App) Snapshot(manifestPath, outPath string) error {
	p, _, err := a.buildPool(manifestPath)
	if err != nil {
		return err
	}
	data, err := p.Snapshot()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return errors.WithStack(err)
	}
	log.WithField("poolId", p.Id()).Infof("wrote %d bytes to %s", len(data), outPath)
	fmt.Fprintf(a.Out, "Pool %s with %d jobs written to %s\n", p.Id(), p.Progress().Total, outPath)
	return nil
}

// Inspect restores the pool snapshot at inPath and prints its jobs.
func (a *App) Inspect(inPath string) error {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return errors.WithStack(err)
	}
	p, err := sortedpool.Restore(data, sortedpool.Dependencies{
		// Inspecting never rebuilds jobs.
		FetcherFactory: slicing.NewTrivialFetcherFactory(),
		Log:            log.WithField("snapshot", inPath),
	})
	if err != nil {
		return errors.WithMessagef(err, "restoring %s", inPath)
	}
	fmt.Fprintf(a.Out, "Pool %s (finished: %t, completed: %t)\n", p.Id(), p.IsFinished(), p.IsCompleted())
	if created, err := util.ULIDTime(p.Id()); err == nil {
		fmt.Fprintf(a.Out, "Created %s\n", created.UTC().Format(time.RFC3339))
	}
	fmt.Fprint(a.Out, formatJobs(p.Jobs(), nil))
	fmt.Fprint(a.Out, formatTeleports(p.GetTeleportChunks(), nil))
	fmt.Fprint(a.Out, formatProgress(p.Progress(), p.GetTotalDataSliceCount()))
	if a.Params.Dump {
		fmt.Fprintln(a.Out, dumpOptions.Sdump(p.Jobs()))
	}
	return nil
}
