package chunkpoolctl

import (
	"fmt"

	"github.com/G-Research/chunkpool/internal/chunkpool/chunk"
	"github.com/G-Research/chunkpool/internal/chunkpool/jobmanager"
	"github.com/G-Research/chunkpool/internal/chunkpool/keys"
	"github.com/G-Research/chunkpool/internal/common/util"
)

func newTable() *util.TabbedStringBuilder {
	return util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
}

func formatJobs(jobs []*jobmanager.Job, tableNames []string) string {
	w := newTable()
	w.Writef("Job\tState\tStripes\tData slices\tData size\tRows\tLower key\tUpper key\tTables\n")
	for _, job := range jobs {
		if job.Invalidated {
			w.Writef("%d\t%s (invalidated)\t\t\t\t\t\t\t\n", job.Cookie, job.State)
			continue
		}
		lower, upper := keyRange(job.StripeList)
		w.Writef(
			"%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			job.Cookie, job.State, len(job.StripeList.Stripes), job.StripeList.DataSliceCount(),
			job.DataSize, job.RowCount, lower, upper, tablesOf(job.StripeList, tableNames),
		)
	}
	return w.String()
}

func formatTeleports(teleports []*chunk.InputChunk, tableNames []string) string {
	if len(teleports) == 0 {
		return "No teleported chunks\n"
	}
	w := newTable()
	w.Writef("Teleported chunk\tTable\tRows\tData size\tMin key\tMax key\n")
	for _, c := range teleports {
		w.Writef(
			"%s\t%s\t%d\t%d\t%s\t%s\n",
			c.ID, tableName(c.TableIndex, tableNames), c.RowCount, c.CompressedDataSize,
			c.BoundaryKeys.MinKey, c.BoundaryKeys.MaxKey,
		)
	}
	return w.String()
}

func formatProgress(progress jobmanager.Progress, dataSliceCount int64) string {
	w := newTable()
	w.Writef("Total\tPending\tSuspended\tRunning\tCompleted\tInvalidated\tData slices\n")
	w.Writef(
		"%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		progress.Total, progress.Pending, progress.Suspended, progress.Running, progress.Completed,
		progress.Invalidated, dataSliceCount,
	)
	return w.String()
}

// keyRange returns the smallest lower key and the largest upper key of the primary stripes of the list.
func keyRange(list *chunk.StripeList) (string, string) {
	var lower, upper keys.Key
	for _, stripe := range list.Stripes {
		if stripe.Foreign {
			continue
		}
		for _, ds := range stripe.DataSlices {
			if l := ds.LowerKey(); l != nil && (lower == nil || keys.Less(l, lower)) {
				lower = l
			}
			if u := ds.UpperKey(); u != nil && (upper == nil || keys.Less(upper, u)) {
				upper = u
			}
		}
	}
	return formatKey(lower), formatKey(upper)
}

func formatKey(k keys.Key) string {
	if k == nil {
		return "-"
	}
	return k.String()
}

func tablesOf(list *chunk.StripeList, tableNames []string) string {
	var rv string
	for i, stripe := range list.Stripes {
		if i > 0 {
			rv += ","
		}
		rv += tableName(stripe.TableIndex(), tableNames)
	}
	return rv
}

// tableName returns the name of the table, or its index if names are unknown, as for restored pools.
func tableName(tableIndex int, tableNames []string) string {
	if tableIndex >= 0 && tableIndex < len(tableNames) {
		return tableNames[tableIndex]
	}
	return fmt.Sprintf("#%d", tableIndex)
}
