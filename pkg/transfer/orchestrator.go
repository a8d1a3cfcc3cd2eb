package transfer

import (
	"context"
	"fmt"

	"mediafetch/pkg/archive"
	"mediafetch/pkg/logger"
)

// DefaultBatchSize bounds how many descriptors wait behind one transfer
// pass. Upstream-issued asset URLs expire after a bounded time, so large
// result sets must not queue behind a single giant transfer.
const DefaultBatchSize = 50

// Orchestrator drives asset transfers: archive dedup, fixed-size batches,
// agent or sequential delivery, and incremental success recording so an
// interrupted run resumes where it stopped.
type Orchestrator struct {
	archive   *archive.Archive
	agent     Agent // nil means sequential fallback
	fetch     FetchFunc
	batchSize int
	log       logger.Logger
}

// NewOrchestrator creates an orchestrator. agent may be nil, in which case
// every batch is transferred sequentially via fetch.
func NewOrchestrator(arch *archive.Archive, agent Agent, fetch FetchFunc, batchSize int, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		archive:   arch,
		agent:     agent,
		fetch:     fetch,
		batchSize: batchSize,
		log:       log,
	}
}

// Transfer moves every descriptor not yet archived and returns the
// aggregate report. One descriptor's failure never aborts its batch or the
// run. Cancellation stops at the next batch boundary; everything confirmed
// up to that point is already recorded in the archive, so the returned
// report and context error let the caller resume later without rework.
func (o *Orchestrator) Transfer(ctx context.Context, descriptors []Descriptor) (Report, error) {
	var report Report

	pending := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if o.archive.Contains(d.ID) {
			report.Skipped++
			continue
		}
		pending = append(pending, d)
	}

	if len(pending) == 0 {
		return report, nil
	}

	o.log.InfoWithFields("starting transfer", map[string]interface{}{
		"pending":    len(pending),
		"skipped":    report.Skipped,
		"batch_size": o.batchSize,
		"strategy":   o.strategyName(),
	})

	for start := 0; start < len(pending); start += o.batchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		end := start + o.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		results := o.runBatch(ctx, batch)
		for _, res := range results {
			if res.Err == nil && confirmed(res.Dest) {
				// Record before moving on so a crash after this point
				// never re-fetches the asset.
				if err := o.archive.Add(res.ID); err != nil {
					o.log.ErrorWithFields("failed to record transfer in archive", map[string]interface{}{
						"id":  res.ID,
						"err": err.Error(),
					})
				}
				report.Succeeded++
				continue
			}

			err := res.Err
			if err == nil {
				err = fmt.Errorf("transfer unconfirmed at %s", res.Dest)
			}
			report.Failed++
			report.Failures = append(report.Failures, Failure{ID: res.ID, Err: err})
			o.log.WarnWithFields("transfer failed", map[string]interface{}{
				"id":  res.ID,
				"err": err.Error(),
			})
		}
	}

	o.log.InfoWithFields("transfer finished", map[string]interface{}{
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
	return report, nil
}

// runBatch delegates one batch to the agent or walks it sequentially.
func (o *Orchestrator) runBatch(ctx context.Context, batch []Descriptor) []Result {
	if o.agent != nil {
		results, err := o.agent.Transfer(ctx, batch)
		if err == nil {
			return results
		}
		o.log.WarnWithFields("transfer agent failed, judging batch by destinations", map[string]interface{}{
			"agent": o.agent.Name(),
			"err":   err.Error(),
		})
		return resultsFromDestinations(batch, err)
	}
	return o.sequential(ctx, batch)
}

// sequential transfers descriptors one at a time. Failures are recorded
// per item and iteration continues.
func (o *Orchestrator) sequential(ctx context.Context, batch []Descriptor) []Result {
	results := make([]Result, 0, len(batch))
	for _, d := range batch {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{ID: d.ID, Dest: d.Dest, Err: err})
			continue
		}
		err := o.fetch(ctx, d.URL, d.Dest)
		results = append(results, Result{ID: d.ID, Dest: d.Dest, Err: err})
	}
	return results
}

// resultsFromDestinations reconstructs per-item outcomes after an agent
// breakdown: whatever reached disk intact counts, the rest carries the
// agent error.
func resultsFromDestinations(batch []Descriptor, agentErr error) []Result {
	results := make([]Result, 0, len(batch))
	for _, d := range batch {
		res := Result{ID: d.ID, Dest: d.Dest}
		if !confirmed(d.Dest) {
			res.Err = agentErr
		}
		results = append(results, res)
	}
	return results
}

func (o *Orchestrator) strategyName() string {
	if o.agent != nil {
		return o.agent.Name()
	}
	return "sequential"
}
