package agent

import (
	"fmt"
	"time"

	"github.com/hairizuanbinnoorazman/guiagent/model"
	"github.com/hairizuanbinnoorazman/guiagent/operator"
	"github.com/hairizuanbinnoorazman/guiagent/retry"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusErrored || s == StatusCancelled
}

// ErrorCode identifies why a run errored.
type ErrorCode int

const (
	CodeScreenshotRetry ErrorCode = -100000
	CodeInvokeRetry     ErrorCode = -100001
	CodeExecuteRetry    ErrorCode = -100002
	CodeReachedMaxLoop  ErrorCode = -100003
	CodeUnknown         ErrorCode = -100099
)

func (c ErrorCode) String() string {
	switch c {
	case CodeScreenshotRetry:
		return "ScreenshotRetryError"
	case CodeInvokeRetry:
		return "InvokeRetryError"
	case CodeExecuteRetry:
		return "ExecuteRetryError"
	case CodeReachedMaxLoop:
		return "ReachedMaxLoop"
	}
	return "UnknownError"
}

// Error is the terminal failure of a run.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"error"`
	// Stack carries diagnostic context, such as the raw model reply.
	Stack string `json:"stack,omitempty"`

	Err error `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, int(e.Code), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Stop reasons recorded on runs that did not end on a terminal action.
const (
	StopCancelled = "cancelled"
	StopError     = "error"
)

// RunState is the state of one run. Observers receive copies that stay valid
// after the loop moves on.
type RunState struct {
	ID           string       `json:"id"`
	Instruction  string       `json:"instruction"`
	Status       Status       `json:"status"`
	Conversation []model.Turn `json:"conversation"`
	// Screenshot is the latest capture.
	Screenshot *operator.Screenshot `json:"screenshot,omitempty"`
	// Attempts counts the calls made per retry class over the run.
	Attempts  map[retry.Class]int `json:"attempts"`
	Iteration int                 `json:"iteration"`
	// Prediction is the latest raw model reply.
	Prediction string `json:"prediction,omitempty"`
	// StopReason is the terminal action kind, or StopCancelled / StopError.
	StopReason  string    `json:"stop_reason,omitempty"`
	FinalAnswer string    `json:"final_answer,omitempty"`
	Error       *Error    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// Snapshot returns a deep copy of the state.
func (s *RunState) Snapshot() RunState {
	out := *s
	out.Conversation = append([]model.Turn(nil), s.Conversation...)
	if s.Screenshot != nil {
		shot := *s.Screenshot
		out.Screenshot = &shot
	}
	out.Attempts = make(map[retry.Class]int, len(s.Attempts))
	for k, v := range s.Attempts {
		out.Attempts[k] = v
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
