package run

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, run *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error
	List(ctx context.Context, status Status, limit, offset int) ([]*Run, error)
	Count(ctx context.Context, status Status) (int, error)
	Start(ctx context.Context, id uuid.UUID) error
	// ClaimNextQueued starts the oldest queued run. It returns nil when the
	// queue is empty.
	ClaimNextQueued(ctx context.Context) (*Run, error)
	Complete(ctx context.Context, id uuid.UUID, status Status, out Outcome) error
}

type UpdateSetter func(*Run) error
