// Package agent runs the capture, decide and act loop of a GUI agent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuanbinnoorazman/guiagent/action"
	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/model"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/retry"
)

// Defaults for Config.
const (
	DefaultMaxLoopCount = 100
	DefaultMaxRetries   = 3
)

// RetryConfigs holds the budget of each operation class.
type RetryConfigs struct {
	Model      retry.Config
	Screenshot retry.Config
	Execute    retry.Config
}

// Config configures an Agent. Operator and Model are required.
type Config struct {
	Operator     operator.Operator
	Model        model.Invoker
	SystemPrompt string
	Retry        RetryConfigs

	// OnData receives a snapshot after every iteration and once more when the
	// run ends.
	OnData func(RunState)
	// OnError receives the snapshot and the error when a run errors.
	OnError func(RunState, *Error)

	Logger       logger.Logger
	MaxLoopCount int
	// LoopInterval pauses between iterations.
	LoopInterval time.Duration
}

// Agent drives one operator. Concurrent runs need an Agent per operator.
type Agent struct {
	cfg Config
	log logger.Logger
}

// New validates cfg and creates an Agent. Retry classes left at zero get
// DefaultMaxRetries attempts.
func New(cfg Config) (*Agent, error) {
	if cfg.Operator == nil {
		return nil, errors.New("agent: operator is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("agent: model is required")
	}
	for class, rc := range map[retry.Class]*retry.Config{
		retry.ClassModel:      &cfg.Retry.Model,
		retry.ClassScreenshot: &cfg.Retry.Screenshot,
		retry.ClassExecute:    &cfg.Retry.Execute,
	} {
		if rc.MaxRetries == 0 {
			rc.MaxRetries = DefaultMaxRetries
		}
		if err := rc.Validate(); err != nil {
			return nil, fmt.Errorf("agent: %s: %w", class, err)
		}
	}
	if cfg.MaxLoopCount <= 0 {
		cfg.MaxLoopCount = DefaultMaxLoopCount
	}
	if cfg.LoopInterval < 0 {
		cfg.LoopInterval = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Agent{cfg: cfg, log: cfg.Logger}, nil
}

// Run executes one run until a terminal action, an exhausted retry budget,
// the loop limit or ctx cancellation, and returns the final state. An empty
// runID gets a generated one.
func (a *Agent) Run(ctx context.Context, runID, instruction string) (final RunState) {
	if runID == "" {
		runID = uuid.New().String()
	}
	st := &RunState{
		ID:          runID,
		Instruction: instruction,
		Status:      StatusIdle,
		Attempts: map[retry.Class]int{
			retry.ClassModel:      0,
			retry.ClassScreenshot: 0,
			retry.ClassExecute:    0,
		},
		StartedAt: time.Now().UTC(),
	}
	log := a.log.WithField("run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			if st.Status.IsTerminal() {
				final = st.Snapshot()
				return
			}
			final = a.fail(ctx, log, st, &Error{
				Code:    CodeUnknown,
				Message: fmt.Sprintf("panic: %v", r),
				Stack:   string(debug.Stack()),
			})
		}
	}()

	st.Conversation = append(st.Conversation, model.Turn{
		Role: model.RoleHuman,
		Text: FirstTurn(a.cfg.SystemPrompt, instruction),
	})
	st.Status = StatusRunning
	log.Info(ctx, "agent run started", map[string]interface{}{
		"max_loop_count": a.cfg.MaxLoopCount,
	})

	var images []string
	for {
		if ctx.Err() != nil {
			return a.cancel(ctx, log, st)
		}
		if st.Iteration >= a.cfg.MaxLoopCount {
			return a.fail(ctx, log, st, &Error{
				Code:    CodeReachedMaxLoop,
				Message: fmt.Sprintf("reached max loop count %d", a.cfg.MaxLoopCount),
			})
		}
		st.Iteration++
		log.Debug(ctx, "agent iteration", map[string]interface{}{"iteration": st.Iteration})

		shot, n, err := retry.Do(ctx, retry.ClassScreenshot, a.retryConfig(ctx, log, retry.ClassScreenshot), a.cfg.Operator.Screenshot)
		st.Attempts[retry.ClassScreenshot] += n
		if err != nil {
			if ctx.Err() != nil {
				return a.cancel(ctx, log, st)
			}
			return a.fail(ctx, log, st, newError(CodeScreenshotRetry, err))
		}
		st.Screenshot = shot
		st.Conversation = append(st.Conversation, model.Turn{Role: model.RoleHuman, HasImage: true})
		images = append(images, shot.Base64)

		params := model.InvokeParams{
			Conversation: append([]model.Turn(nil), st.Conversation...),
			Images:       append([]string(nil), images...),
		}
		out, n, err := retry.Do(ctx, retry.ClassModel, a.retryConfig(ctx, log, retry.ClassModel), func(ctx context.Context) (*model.InvokeOutput, error) {
			return a.cfg.Model.Invoke(ctx, params)
		})
		st.Attempts[retry.ClassModel] += n
		if err != nil {
			if ctx.Err() != nil {
				return a.cancel(ctx, log, st)
			}
			return a.fail(ctx, log, st, newError(CodeInvokeRetry, err))
		}
		st.Prediction = out.Prediction
		st.Conversation = append(st.Conversation, model.Turn{Role: model.RoleAssistant, Text: out.Prediction})

		if len(out.Parsed) == 0 {
			log.Warn(ctx, "model reply has no actions", map[string]interface{}{
				"iteration": st.Iteration,
			})
		}

		for _, act := range out.Parsed {
			if act.Kind.IsTerminal() {
				st.StopReason = string(act.Kind)
				st.FinalAnswer = act.Content
				return a.end(ctx, log, st, StatusFinished)
			}

			exec := operator.ExecuteParams{
				Prediction:   out.Prediction,
				Action:       act.Resolve(shot.Width, shot.Height),
				ScreenWidth:  shot.Width,
				ScreenHeight: shot.Height,
				ScaleFactor:  shot.ScaleFactor,
			}
			_, n, err := retry.Do(ctx, retry.ClassExecute, a.retryConfig(ctx, log, retry.ClassExecute), func(ctx context.Context) (struct{}, error) {
				return struct{}{}, a.cfg.Operator.Execute(ctx, exec)
			})
			st.Attempts[retry.ClassExecute] += n
			if err != nil {
				if ctx.Err() != nil {
					return a.cancel(ctx, log, st)
				}
				return a.fail(ctx, log, st, newError(CodeExecuteRetry, err))
			}
			log.Debug(ctx, "action executed", actionFields(exec))
		}

		a.emit(ctx, log, st.Snapshot())

		if a.cfg.LoopInterval > 0 {
			t := time.NewTimer(a.cfg.LoopInterval)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}
}

func (a *Agent) retryConfig(ctx context.Context, log logger.Logger, class retry.Class) retry.Config {
	var cfg retry.Config
	switch class {
	case retry.ClassModel:
		cfg = a.cfg.Retry.Model
	case retry.ClassScreenshot:
		cfg = a.cfg.Retry.Screenshot
	default:
		cfg = a.cfg.Retry.Execute
	}
	hook := cfg.OnRetry
	cfg.OnRetry = func(err error, attempt int) error {
		log.Warn(ctx, "retrying operation", map[string]interface{}{
			"class":   string(class),
			"attempt": attempt,
			"error":   err.Error(),
		})
		if hook != nil {
			return hook(err, attempt)
		}
		return nil
	}
	return cfg
}

func (a *Agent) end(ctx context.Context, log logger.Logger, st *RunState, status Status) RunState {
	st.Status = status
	st.EndedAt = time.Now().UTC()
	log.Info(ctx, "agent run ended", map[string]interface{}{
		"status":      string(status),
		"stop_reason": st.StopReason,
		"iterations":  st.Iteration,
	})
	a.emit(ctx, log, st.Snapshot())
	return st.Snapshot()
}

func (a *Agent) cancel(ctx context.Context, log logger.Logger, st *RunState) RunState {
	st.StopReason = StopCancelled
	return a.end(ctx, log, st, StatusCancelled)
}

func (a *Agent) fail(ctx context.Context, log logger.Logger, st *RunState, e *Error) RunState {
	st.Status = StatusErrored
	st.StopReason = StopError
	st.Error = e
	st.EndedAt = time.Now().UTC()
	log.Error(ctx, "agent run errored", map[string]interface{}{
		"code":       int(e.Code),
		"error":      e.Message,
		"iterations": st.Iteration,
	})
	if a.cfg.OnError != nil {
		snap := st.Snapshot()
		a.observe(ctx, log, "OnError", func() { a.cfg.OnError(snap, snap.Error) })
	}
	a.emit(ctx, log, st.Snapshot())
	return st.Snapshot()
}

func (a *Agent) emit(ctx context.Context, log logger.Logger, snap RunState) {
	if a.cfg.OnData != nil {
		a.observe(ctx, log, "OnData", func() { a.cfg.OnData(snap) })
	}
}

// observe runs an observer callback. A panicking observer is logged and
// does not change the run's state.
func (a *Agent) observe(ctx context.Context, log logger.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(ctx, "observer panicked", map[string]interface{}{
				"observer": name,
				"panic":    fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func newError(code ErrorCode, err error) *Error {
	e := &Error{Code: code, Message: err.Error(), Err: err}
	var respErr *model.ResponseError
	if errors.As(err, &respErr) {
		e.Stack = respErr.Raw
	}
	return e
}

func actionFields(p operator.ExecuteParams) map[string]interface{} {
	fields := map[string]interface{}{"kind": string(p.Action.Kind)}
	if p.Action.Start != nil {
		fields["x"] = p.Action.Start.X
		fields["y"] = p.Action.Start.Y
	}
	if p.Action.Kind == action.KindType {
		fields["content_length"] = len(p.Action.Content)
	}
	return fields
}
