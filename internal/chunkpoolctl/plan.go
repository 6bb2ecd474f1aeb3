package chunkpoolctl

import (
	"fmt"

	"github.com/sanity-io/litter"
)

// Plan builds the jobs for the chunks of a manifest and prints them along with the teleported chunks.
func (a *App) Plan(manifestPath string) error {
	p, input, err := a.buildPool(manifestPath)
	if err != nil {
		return err
	}
	fmt.Fprint(a.Out, formatJobs(p.Jobs(), input.TableNames))
	fmt.Fprint(a.Out, formatTeleports(p.GetTeleportChunks(), input.TableNames))
	fmt.Fprint(a.Out, formatProgress(p.Progress(), p.GetTotalDataSliceCount()))
	if a.Params.Dump {
		fmt.Fprintln(a.Out, dumpOptions.Sdump(p.Jobs()))
	}
	return nil
}

var dumpOptions = litter.Options{
	HidePrivateFields: true,
	StripPackageNames: true,
}
