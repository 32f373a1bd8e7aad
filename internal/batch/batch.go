// Package batch tiles many requests concurrently.
package batch

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/cubetile/internal/cubetiling"
	"github.com/samcharles93/cubetile/internal/logger"
)

// Generator produces one tiling. *cubetiling.Tiler implements it.
type Generator interface {
	GenTiling(ctx context.Context, params *cubetiling.CubeTilingParam) (cubetiling.CubeTiling, error)
}

// Item is one request of a batch.
type Item struct {
	Label  string
	Params cubetiling.CubeTilingParam
}

// Result is the outcome of one item. Results keep the order of the items.
type Result struct {
	Index    int
	Label    string
	OpType   cubetiling.OpType
	Tiling   cubetiling.CubeTiling
	Err      error
	Duration time.Duration
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Fallbacks int

	// ByStage counts failures per pipeline stage; failures before the
	// pipeline ran are counted under "params".
	ByStage map[string]int
}

// Run tiles every item with at most parallelism concurrent calls. A failing
// item does not stop the others; once ctx is done the remaining items fail
// with the context error.
func Run(ctx context.Context, gen Generator, items []Item, parallelism int) []Result {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	log := logger.FromContext(ctx)
	results := make([]Result, len(items))

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := range items {
		it := &items[i]
		g.Go(func() error {
			res := Result{Index: i, Label: it.Label, OpType: it.Params.OpType}
			if err := ctx.Err(); err != nil {
				res.Err = err
				results[i] = res
				return nil
			}
			start := time.Now()
			p := it.Params
			res.Tiling, res.Err = gen.GenTiling(ctx, &p)
			res.Duration = time.Since(start)
			if res.Err != nil {
				log.Debug("batch item failed", "index", i, "label", it.Label, "error", res.Err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Summarize counts results.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results), ByStage: map[string]int{}}
	for _, r := range results {
		if r.Err == nil {
			s.Succeeded++
			if r.Tiling.SingleCoreFallback {
				s.Fallbacks++
			}
			continue
		}
		s.Failed++
		stage := "params"
		if st, ok := cubetiling.FailedStage(r.Err); ok {
			stage = string(st)
		}
		s.ByStage[stage]++
	}
	return s
}
