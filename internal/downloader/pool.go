package downloader

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"mediafetch/pkg/logger"
	"mediafetch/pkg/transfer"
)

// Pool is an in-process transfer agent: asset GETs for one batch fan out
// across a bounded set of workers. It implements transfer.Agent and is the
// parallel strategy when aria2c is unavailable or disabled.
//
// Only asset bytes go through here. Metadata API calls stay on the single
// control thread so the rate-limiter window stays accurate.
type Pool struct {
	workers int
	fetch   transfer.FetchFunc
	log     logger.Logger
}

// NewPool creates a pool with the given worker bound.
func NewPool(workers int, fetch transfer.FetchFunc, log logger.Logger) *Pool {
	if workers <= 0 {
		workers = transfer.DefaultConcurrency
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{workers: workers, fetch: fetch, log: log}
}

func (p *Pool) Name() string { return "worker-pool" }

// Transfer runs the whole batch and blocks until every item has an
// outcome. A failed item never stops its siblings; completion order within
// the batch is not guaranteed, results come back in input order.
func (p *Pool) Transfer(ctx context.Context, batch []transfer.Descriptor) ([]transfer.Result, error) {
	results := make([]transfer.Result, len(batch))

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, d := range batch {
		i, d := i, d
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = transfer.Result{ID: d.ID, Dest: d.Dest, Err: err}
				return nil
			}

			start := time.Now()
			err := p.fetch(ctx, d.URL, d.Dest)
			results[i] = transfer.Result{ID: d.ID, Dest: d.Dest, Err: err}

			if err != nil {
				p.log.DebugWithFields("worker transfer failed", map[string]interface{}{
					"id":       d.ID,
					"err":      err.Error(),
					"duration": time.Since(start).String(),
				})
			}
			return nil
		})
	}

	// Workers never return errors; failures live in the per-item results.
	_ = g.Wait()
	return results, nil
}
