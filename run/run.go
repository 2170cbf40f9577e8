// Package run persists the summary record of each agent run. The
// conversation itself is never stored.
package run

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrInvalidInstruction = errors.New("instruction is required")
	ErrInvalidOperator    = errors.New("operator is required")
	ErrInvalidStatus      = errors.New("invalid run status")
	ErrRunAlreadyStarted  = errors.New("run already started")
	ErrRunNotActive       = errors.New("run is not active")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusFinished  Status = "finished"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusFinished, StatusErrored, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether a run in this status is over.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusErrored || s == StatusCancelled
}

// JSONMap is a custom type for JSON columns.
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]interface{}{})
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONMap)
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan JSONMap: not a byte slice")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*j = m
	return nil
}

type Run struct {
	ID           uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Instruction  string    `json:"instruction" gorm:"type:text;not null"`
	Operator     string    `json:"operator" gorm:"type:varchar(50);not null"`
	SystemPrompt string    `json:"system_prompt,omitempty" gorm:"type:text"`
	Status       Status    `json:"status" gorm:"type:varchar(20);not null;default:'queued';index:idx_runs_status"`

	Iterations   int     `json:"iterations" gorm:"not null;default:0"`
	Screenshots  int     `json:"screenshots" gorm:"not null;default:0"`
	Attempts     JSONMap `json:"attempts" gorm:"type:json"`
	StopReason   string  `json:"stop_reason,omitempty" gorm:"type:varchar(32)"`
	FinalAnswer  string  `json:"final_answer,omitempty" gorm:"type:text"`
	ErrorCode    *int    `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty" gorm:"type:text"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Duration  *int64     `json:"duration,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusQueued
	}
	return nil
}

func (r *Run) Validate() error {
	if r.Instruction == "" {
		return ErrInvalidInstruction
	}
	if r.Operator == "" {
		return ErrInvalidOperator
	}
	if r.Status != "" && !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// Outcome is what a finished run reports back to its record.
type Outcome struct {
	Iterations   int
	Attempts     JSONMap
	StopReason   string
	FinalAnswer  string
	ErrorCode    *int
	ErrorMessage string
}

// Start marks the run as running.
func (r *Run) Start() error {
	if r.Status != StatusQueued {
		return ErrRunAlreadyStarted
	}
	now := time.Now()
	r.Status = StatusRunning
	r.StartTime = &now
	return nil
}

// Complete moves the run to a terminal status. A queued run can only be
// cancelled.
func (r *Run) Complete(status Status, out Outcome) error {
	if !status.IsTerminal() {
		return ErrInvalidStatus
	}
	switch {
	case r.Status == StatusRunning:
	case r.Status == StatusQueued && status == StatusCancelled:
	default:
		return ErrRunNotActive
	}
	now := time.Now()
	r.Status = status
	r.EndTime = &now
	r.Iterations = out.Iterations
	r.Attempts = out.Attempts
	r.StopReason = out.StopReason
	r.FinalAnswer = out.FinalAnswer
	r.ErrorCode = out.ErrorCode
	r.ErrorMessage = out.ErrorMessage
	if r.StartTime != nil {
		duration := now.Sub(*r.StartTime).Milliseconds()
		r.Duration = &duration
	}
	return nil
}
