package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hairizuanbinnoorazman/guiagent/agent"
	"github.com/hairizuanbinnoorazman/guiagent/artifact"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/model"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/run"
)

// OperatorFactory opens a fresh operator for each run. Operators that
// implement io.Closer are closed when the run ends.
type OperatorFactory interface {
	Open(ctx context.Context, name string) (operator.Operator, error)
}

// OperatorFactoryFunc adapts a function to OperatorFactory.
type OperatorFactoryFunc func(ctx context.Context, name string) (operator.Operator, error)

func (f OperatorFactoryFunc) Open(ctx context.Context, name string) (operator.Operator, error) {
	return f(ctx, name)
}

// AgentConfig holds the loop settings shared by every run.
type AgentConfig struct {
	SystemPrompt string
	Retry        agent.RetryConfigs
	MaxLoopCount int
	LoopInterval time.Duration
}

// Pipeline executes one claimed run from operator setup to its final record.
type Pipeline struct {
	config    AgentConfig
	model     model.Invoker
	operators OperatorFactory
	runStore  run.Store
	artifacts artifact.Store
	logger    logger.Logger
}

// NewPipeline creates a new run pipeline. artifacts may be nil, in which case
// screenshots are not kept.
func NewPipeline(
	config AgentConfig,
	invoker model.Invoker,
	operators OperatorFactory,
	runStore run.Store,
	artifacts artifact.Store,
	log logger.Logger,
) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		config:    config,
		model:     invoker,
		operators: operators,
		runStore:  runStore,
		artifacts: artifacts,
		logger:    log,
	}
}

// Run executes a run that has already been claimed. Record updates use a
// context that outlives cancellation of ctx so the final state is always
// written.
func (p *Pipeline) Run(ctx context.Context, r *run.Run) agent.RunState {
	storeCtx := context.WithoutCancel(ctx)
	runID := r.ID.String()

	p.logger.Info(ctx, "starting run pipeline", map[string]interface{}{
		"run_id":   runID,
		"operator": r.Operator,
	})

	op, err := p.operators.Open(ctx, r.Operator)
	if err != nil {
		return p.failRun(storeCtx, r, fmt.Sprintf("failed to open operator %q: %v", r.Operator, err))
	}
	if closer, ok := op.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				p.logger.Warn(storeCtx, "failed to close operator", map[string]interface{}{
					"run_id": runID,
					"error":  err.Error(),
				})
			}
		}()
	}

	systemPrompt := p.config.SystemPrompt
	if r.SystemPrompt != "" {
		systemPrompt = r.SystemPrompt
	}

	saved, screenshots := 0, 0
	onData := func(s agent.RunState) {
		setters := []run.UpdateSetter{run.SetProgress(s.Iteration, attemptsMap(s))}
		if p.artifacts != nil && s.Screenshot != nil && s.Iteration > saved {
			if _, err := artifact.SaveScreenshot(storeCtx, p.artifacts, runID, s.Iteration, s.Screenshot.Base64); err != nil {
				p.logger.Warn(storeCtx, "failed to store screenshot", map[string]interface{}{
					"run_id":    runID,
					"iteration": s.Iteration,
					"error":     err.Error(),
				})
			} else {
				saved = s.Iteration
				screenshots++
				setters = append(setters, run.SetScreenshots(screenshots))
			}
		}
		if s.Status.IsTerminal() {
			// The final record is written by Complete.
			if len(setters) == 1 {
				return
			}
			setters = setters[1:]
		}
		if err := p.runStore.Update(storeCtx, r.ID, setters...); err != nil {
			p.logger.Warn(storeCtx, "failed to record run progress", map[string]interface{}{
				"run_id": runID,
				"error":  err.Error(),
			})
		}
	}

	a, err := agent.New(agent.Config{
		Operator:     op,
		Model:        p.model,
		SystemPrompt: systemPrompt,
		Retry:        p.config.Retry,
		OnData:       onData,
		Logger:       p.logger,
		MaxLoopCount: p.config.MaxLoopCount,
		LoopInterval: p.config.LoopInterval,
	})
	if err != nil {
		return p.failRun(storeCtx, r, fmt.Sprintf("invalid agent config: %v", err))
	}

	final := a.Run(ctx, runID, r.Instruction)

	if err := p.runStore.Complete(storeCtx, r.ID, recordStatus(final.Status), outcome(final)); err != nil {
		p.logger.Error(storeCtx, "failed to record run outcome", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
	}

	p.logger.Info(storeCtx, "run pipeline completed", map[string]interface{}{
		"run_id":     runID,
		"status":     string(final.Status),
		"iterations": final.Iteration,
	})
	return final
}

// failRun records a run that could not get its loop started.
func (p *Pipeline) failRun(ctx context.Context, r *run.Run, reason string) agent.RunState {
	p.logger.Error(ctx, "run pipeline failed", map[string]interface{}{
		"run_id": r.ID.String(),
		"reason": reason,
	})

	code := int(agent.CodeUnknown)
	if err := p.runStore.Complete(ctx, r.ID, run.StatusErrored, run.Outcome{
		StopReason:   agent.StopError,
		ErrorCode:    &code,
		ErrorMessage: reason,
	}); err != nil {
		p.logger.Error(ctx, "failed to mark run as errored", map[string]interface{}{
			"error":  err.Error(),
			"run_id": r.ID.String(),
		})
	}

	return agent.RunState{
		ID:          r.ID.String(),
		Instruction: r.Instruction,
		Status:      agent.StatusErrored,
		StopReason:  agent.StopError,
		Error:       &agent.Error{Code: agent.CodeUnknown, Message: reason},
	}
}

func recordStatus(s agent.Status) run.Status {
	switch s {
	case agent.StatusFinished:
		return run.StatusFinished
	case agent.StatusCancelled:
		return run.StatusCancelled
	}
	return run.StatusErrored
}

func outcome(s agent.RunState) run.Outcome {
	out := run.Outcome{
		Iterations:  s.Iteration,
		Attempts:    attemptsMap(s),
		StopReason:  s.StopReason,
		FinalAnswer: s.FinalAnswer,
	}
	if s.Error != nil {
		code := int(s.Error.Code)
		out.ErrorCode = &code
		out.ErrorMessage = s.Error.Message
	}
	return out
}

func attemptsMap(s agent.RunState) run.JSONMap {
	m := run.JSONMap{}
	for class, n := range s.Attempts {
		m[string(class)] = n
	}
	return m
}
