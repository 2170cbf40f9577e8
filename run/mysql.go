package run

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
)

// claimAttempts bounds how often ClaimNextQueued retries after losing a race
// for the same row.
const claimAttempts = 5

// MySQLStore implements the Store interface using GORM. It also runs on the
// SQLite dialect.
type MySQLStore struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewMySQLStore creates a new GORM-backed run store.
func NewMySQLStore(db *gorm.DB, log logger.Logger) *MySQLStore {
	return &MySQLStore{
		db:     db,
		logger: log,
	}
}

// Create creates a new run in the database.
func (s *MySQLStore) Create(ctx context.Context, r *Run) error {
	if err := r.Validate(); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		s.logger.Error(ctx, "failed to create run", map[string]interface{}{
			"error":    err.Error(),
			"operator": r.Operator,
		})
		return err
	}

	s.logger.Info(ctx, "run created", map[string]interface{}{
		"run_id":   r.ID.String(),
		"operator": r.Operator,
	})

	return nil
}

// GetByID retrieves a run by its ID.
func (s *MySQLStore) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	var r Run
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&r).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		s.logger.Error(ctx, "failed to get run by ID", map[string]interface{}{
			"error":  err.Error(),
			"run_id": id.String(),
		})
		return nil, err
	}

	return &r, nil
}

// Update updates a run with the given setters.
func (s *MySQLStore) Update(ctx context.Context, id uuid.UUID, setters ...UpdateSetter) error {
	r, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}

	for _, setter := range setters {
		if err := setter(r); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		s.logger.Error(ctx, "failed to update run", map[string]interface{}{
			"error":  err.Error(),
			"run_id": id.String(),
		})
		return err
	}

	s.logger.Debug(ctx, "run updated", map[string]interface{}{
		"run_id": id.String(),
	})

	return nil
}

// List retrieves a paginated list of runs, newest first. An empty status
// lists every run.
func (s *MySQLStore) List(ctx context.Context, status Status, limit, offset int) ([]*Run, error) {
	var runs []*Run
	q := s.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error

	if err != nil {
		s.logger.Error(ctx, "failed to list runs", map[string]interface{}{
			"error":  err.Error(),
			"status": string(status),
			"limit":  limit,
			"offset": offset,
		})
		return nil, err
	}

	return runs, nil
}

// Count returns the number of runs, optionally filtered by status.
func (s *MySQLStore) Count(ctx context.Context, status Status) (int, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&Run{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Count(&count).Error; err != nil {
		s.logger.Error(ctx, "failed to count runs", map[string]interface{}{
			"error":  err.Error(),
			"status": string(status),
		})
		return 0, err
	}

	return int(count), nil
}

// Start marks a run as running.
func (s *MySQLStore) Start(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Run
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRunNotFound
			}
			return err
		}

		if err := r.Start(); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&r).Error
	})

	if err != nil {
		if !errors.Is(err, ErrRunNotFound) && !errors.Is(err, ErrRunAlreadyStarted) {
			s.logger.Error(ctx, "failed to start run", map[string]interface{}{
				"error":  err.Error(),
				"run_id": id.String(),
			})
		}
		return err
	}

	s.logger.Info(ctx, "run started", map[string]interface{}{
		"run_id": id.String(),
	})

	return nil
}

// ClaimNextQueued moves the oldest queued run to running. The conditional
// update makes the claim safe across workers without row locks.
func (s *MySQLStore) ClaimNextQueued(ctx context.Context) (*Run, error) {
	for i := 0; i < claimAttempts; i++ {
		var r Run
		err := s.db.WithContext(ctx).
			Where("status = ?", StatusQueued).
			Order("created_at ASC").
			First(&r).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			s.logger.Error(ctx, "failed to find queued run", map[string]interface{}{
				"error": err.Error(),
			})
			return nil, err
		}

		now := time.Now()
		res := s.db.WithContext(ctx).
			Model(&Run{}).
			Where("id = ? AND status = ?", r.ID, StatusQueued).
			Updates(map[string]interface{}{
				"status":     StatusRunning,
				"start_time": now,
			})
		if res.Error != nil {
			s.logger.Error(ctx, "failed to claim run", map[string]interface{}{
				"error":  res.Error.Error(),
				"run_id": r.ID.String(),
			})
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		r.Status = StatusRunning
		r.StartTime = &now
		s.logger.Info(ctx, "run claimed", map[string]interface{}{
			"run_id": r.ID.String(),
		})
		return &r, nil
	}
	return nil, nil
}

// Complete moves a run to a terminal status with its outcome.
func (s *MySQLStore) Complete(ctx context.Context, id uuid.UUID, status Status, out Outcome) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Run
		if err := tx.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRunNotFound
			}
			return err
		}

		if err := r.Complete(status, out); err != nil {
			return err
		}

		return tx.WithContext(ctx).Save(&r).Error
	})

	if err != nil {
		if !errors.Is(err, ErrRunNotFound) && !errors.Is(err, ErrRunNotActive) {
			s.logger.Error(ctx, "failed to complete run", map[string]interface{}{
				"error":  err.Error(),
				"run_id": id.String(),
				"status": string(status),
			})
		}
		return err
	}

	s.logger.Info(ctx, "run completed", map[string]interface{}{
		"run_id": id.String(),
		"status": string(status),
	})

	return nil
}
