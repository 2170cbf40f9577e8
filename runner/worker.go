package runner

import (
	"context"

	"github.com/hairizuanbinnoorazman/guiagent/run"
)

// worker waits for queue notifications and drains every queued run before
// waiting again. Claims are taken under the registry lock so a concurrent
// Cancel sees either the queued record or the registered cancel func.
func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	r.logger.Info(ctx, "worker started", map[string]interface{}{
		"worker_id": id,
	})
	for {
		select {
		case <-r.Work:
			for ctx.Err() == nil {
				rec, runCtx, err := r.claim(ctx)
				if err != nil {
					r.logger.Error(ctx, "worker failed to claim run", map[string]interface{}{
						"worker_id": id,
						"error":     err.Error(),
					})
					break
				}
				if rec == nil {
					break
				}
				r.logger.Info(ctx, "worker processing run", map[string]interface{}{
					"worker_id": id,
					"run_id":    rec.ID.String(),
				})
				r.pipeline.Run(runCtx, rec)
				r.release(rec)
			}
		case <-ctx.Done():
			r.logger.Info(context.WithoutCancel(ctx), "worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		}
	}
}

func (r *Runner) claim(ctx context.Context) (*run.Run, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.runStore.ClaimNextQueued(ctx)
	if err != nil || rec == nil {
		return nil, nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.active[rec.ID] = cancel
	return rec, runCtx, nil
}

func (r *Runner) release(rec *run.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.active[rec.ID]; ok {
		cancel()
		delete(r.active, rec.ID)
	}
}
