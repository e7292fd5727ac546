package archive

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ProbeResult is one batch member's outcome from ProbeBatch.
type ProbeResult struct {
	Index int
	Err   error
}

// ProbeBatch runs probe concurrently across n independently-opened
// archives, the fan-out shape the teacher's layer fetcher uses for
// concurrent per-layer work (errgroup.WithContext, one goroutine per
// item). Unlike that fetcher, a probe failure never cancels its
// siblings: probe is expected to open its own archive, walk its
// entries, and report the first one CanReadEntryData refuses (or any
// error encountered while walking), and callers want every member's
// result even when some fail.
func ProbeBatch(ctx context.Context, n int, probe func(ctx context.Context, i int) error) []ProbeResult {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]ProbeResult, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = ProbeResult{Index: i, Err: probe(gctx, i)}
			return nil
		})
	}
	g.Wait()
	return results
}
