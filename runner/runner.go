// Package runner executes queued runs on a bounded pool of workers. Each run
// gets its own operator, agent and cancel function.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/hairizuanbinnoorazman/guiagent/agent"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/run"
)

// DefaultMaxConcurrentRuns is used when New is given a non-positive limit.
const DefaultMaxConcurrentRuns = 2

var ErrNotStarted = errors.New("runner not started")

// Request describes a run to queue.
type Request struct {
	Instruction  string `json:"instruction"`
	Operator     string `json:"operator"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Runner manages a pool of workers that claim queued runs from the store.
// Workers are notified through Work when a run is queued.
type Runner struct {
	Work       chan struct{}
	maxWorkers int
	runStore   run.Store
	pipeline   *Pipeline
	logger     logger.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner with at most maxWorkers runs in flight.
func New(maxWorkers int, runStore run.Store, pipeline *Pipeline, log logger.Logger) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxConcurrentRuns
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		Work:       make(chan struct{}, maxWorkers),
		maxWorkers: maxWorkers,
		runStore:   runStore,
		pipeline:   pipeline,
		logger:     log,
		active:     map[uuid.UUID]context.CancelFunc{},
	}
}

// Start spawns the workers. Runs left queued by an earlier process are
// picked up immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, stop := context.WithCancel(ctx)

	r.mu.Lock()
	r.stop = stop
	r.mu.Unlock()

	r.logger.Info(ctx, "starting worker pool", map[string]interface{}{
		"max_workers": r.maxWorkers,
	})
	r.wg.Add(r.maxWorkers)
	for i := 0; i < r.maxWorkers; i++ {
		go r.worker(ctx, i)
	}
	r.Notify()
}

// Notify wakes an idle worker. It never blocks.
func (r *Runner) Notify() {
	select {
	case r.Work <- struct{}{}:
	default:
	}
}

// Submit records a queued run and wakes a worker.
func (r *Runner) Submit(ctx context.Context, req Request) (*run.Run, error) {
	rec := &run.Run{
		Instruction:  req.Instruction,
		Operator:     req.Operator,
		SystemPrompt: req.SystemPrompt,
	}
	if err := r.runStore.Create(ctx, rec); err != nil {
		return nil, err
	}
	r.Notify()
	return rec, nil
}

// Cancel stops a run. An in-flight run has its context cancelled and records
// itself as cancelled when the loop returns. A queued run is marked cancelled
// directly. Returns run.ErrRunNotActive for runs that already ended.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.active[id]; ok {
		cancel()
		r.logger.Info(ctx, "run cancel requested", map[string]interface{}{
			"run_id": id.String(),
		})
		return nil
	}

	return r.runStore.Complete(ctx, id, run.StatusCancelled, run.Outcome{
		StopReason: agent.StopCancelled,
	})
}

// Active returns the ids of the runs currently executing.
func (r *Runner) Active() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every in-flight run and waits for the workers to exit or
// for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	stop := r.stop
	r.mu.Unlock()
	if stop == nil {
		return ErrNotStarted
	}
	stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info(ctx, "worker pool stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
