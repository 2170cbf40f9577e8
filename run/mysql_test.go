package run

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/testutil"
)

func TestMySQLStore_Create(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("successfully create run", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		assert.NotEqual(t, uuid.Nil, r.ID)
		assert.Equal(t, StatusQueued, r.Status)
	})

	t.Run("missing instruction returns error", func(t *testing.T) {
		err := store.Create(ctx, &Run{Operator: "shell"})
		assert.ErrorIs(t, err, ErrInvalidInstruction)
	})

	t.Run("missing operator returns error", func(t *testing.T) {
		err := store.Create(ctx, &Run{Instruction: "list files"})
		assert.ErrorIs(t, err, ErrInvalidOperator)
	})

	t.Run("invalid status returns error", func(t *testing.T) {
		r := newRun()
		r.Status = Status("paused")
		assert.ErrorIs(t, store.Create(ctx, r), ErrInvalidStatus)
	})
}

func TestMySQLStore_GetByID(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("retrieve existing run", func(t *testing.T) {
		r := newRun()
		r.SystemPrompt = "be brief"
		require.NoError(t, store.Create(ctx, r))

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, retrieved.ID)
		assert.Equal(t, r.Instruction, retrieved.Instruction)
		assert.Equal(t, "browser", retrieved.Operator)
		assert.Equal(t, "be brief", retrieved.SystemPrompt)
		assert.Equal(t, StatusQueued, retrieved.Status)
	})

	t.Run("non-existent run returns error", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

func TestMySQLStore_Update(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("update progress", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))

		err := store.Update(ctx, r.ID, SetProgress(4, JSONMap{"model": float64(5)}), SetScreenshots(4))
		require.NoError(t, err)

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, retrieved.Iterations)
		assert.Equal(t, 4, retrieved.Screenshots)
		assert.Equal(t, float64(5), retrieved.Attempts["model"])
	})

	t.Run("invalid status setter returns error", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		assert.ErrorIs(t, store.Update(ctx, r.ID, SetStatus("paused")), ErrInvalidStatus)
	})

	t.Run("update non-existent run returns error", func(t *testing.T) {
		assert.ErrorIs(t, store.Update(ctx, uuid.New(), SetScreenshots(1)), ErrRunNotFound)
	})
}

func TestMySQLStore_ListAndCount(t *testing.T) {
	db, store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, newRun()))
	}
	started := newRun()
	require.NoError(t, store.Create(ctx, started))
	require.NoError(t, store.Start(ctx, started.ID))
	testutil.CreateFixtures(t, db,
		&Run{Instruction: "done already", Operator: "shell", Status: StatusFinished},
		&Run{Instruction: "done too", Operator: "shell", Status: StatusFinished},
	)

	t.Run("list with pagination", func(t *testing.T) {
		page1, err := store.List(ctx, "", 4, 0)
		require.NoError(t, err)
		assert.Len(t, page1, 4)

		page2, err := store.List(ctx, "", 4, 4)
		require.NoError(t, err)
		assert.Len(t, page2, 4)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})

	t.Run("list by status", func(t *testing.T) {
		runs, err := store.List(ctx, StatusRunning, 10, 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, started.ID, runs[0].ID)
	})

	t.Run("count", func(t *testing.T) {
		total, err := store.Count(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 8, total)

		queued, err := store.Count(ctx, StatusQueued)
		require.NoError(t, err)
		assert.Equal(t, 5, queued)

		finished, err := store.Count(ctx, StatusFinished)
		require.NoError(t, err)
		assert.Equal(t, 2, finished)
	})
}

func TestMySQLStore_Start(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("start a queued run", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, retrieved.Status)
		assert.NotNil(t, retrieved.StartTime)
	})

	t.Run("start already running run returns error", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))
		assert.ErrorIs(t, store.Start(ctx, r.ID), ErrRunAlreadyStarted)
	})

	t.Run("start non-existent run returns error", func(t *testing.T) {
		assert.ErrorIs(t, store.Start(ctx, uuid.New()), ErrRunNotFound)
	})
}

func TestMySQLStore_ClaimNextQueued(t *testing.T) {
	t.Run("claims oldest first", func(t *testing.T) {
		_, store := setupTestStore(t)
		ctx := context.Background()

		base := time.Now().Add(-time.Hour)
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			r := newRun()
			r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.Create(ctx, r))
			ids = append(ids, r.ID)
		}

		for _, want := range ids {
			r, err := store.ClaimNextQueued(ctx)
			require.NoError(t, err)
			require.NotNil(t, r)
			assert.Equal(t, want, r.ID)
			assert.Equal(t, StatusRunning, r.Status)
			assert.NotNil(t, r.StartTime)
		}

		r, err := store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		assert.Nil(t, r)
	})

	t.Run("concurrent claims never share a run", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		testutil.AutoMigrate(t, db, &Run{})
		store := NewMySQLStore(db, logger.Nop())
		ctx := context.Background()

		for i := 0; i < 10; i++ {
			require.NoError(t, store.Create(ctx, newRun()))
		}

		var (
			mu      sync.Mutex
			claimed = map[uuid.UUID]int{}
			wg      sync.WaitGroup
		)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					r, err := store.ClaimNextQueued(ctx)
					if err != nil || r == nil {
						return
					}
					mu.Lock()
					claimed[r.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, 10)
		for id, n := range claimed {
			assert.Equal(t, 1, n, "run %s claimed more than once", id)
		}
	})
}

func TestMySQLStore_Complete(t *testing.T) {
	_, store := setupTestStore(t)
	ctx := context.Background()

	t.Run("complete running run as finished", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))

		out := Outcome{
			Iterations:  3,
			Attempts:    JSONMap{"screenshot": float64(3), "model": float64(3), "execute": float64(2)},
			StopReason:  "finished",
			FinalAnswer: "settings opened",
		}
		require.NoError(t, store.Complete(ctx, r.ID, StatusFinished, out))

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFinished, retrieved.Status)
		assert.Equal(t, 3, retrieved.Iterations)
		assert.Equal(t, "settings opened", retrieved.FinalAnswer)
		assert.Equal(t, float64(2), retrieved.Attempts["execute"])
		assert.NotNil(t, retrieved.EndTime)
		assert.NotNil(t, retrieved.Duration)
		assert.Nil(t, retrieved.ErrorCode)
	})

	t.Run("complete running run as errored", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))

		code := -100001
		require.NoError(t, store.Complete(ctx, r.ID, StatusErrored, Outcome{ErrorCode: &code, ErrorMessage: "vlm response error", StopReason: "error"}))

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusErrored, retrieved.Status)
		require.NotNil(t, retrieved.ErrorCode)
		assert.Equal(t, -100001, *retrieved.ErrorCode)
		assert.Equal(t, "vlm response error", retrieved.ErrorMessage)
	})

	t.Run("queued run can be cancelled", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Complete(ctx, r.ID, StatusCancelled, Outcome{StopReason: "cancelled"}))

		retrieved, err := store.GetByID(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, retrieved.Status)
		assert.Nil(t, retrieved.Duration)
	})

	t.Run("queued run cannot finish", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		assert.ErrorIs(t, store.Complete(ctx, r.ID, StatusFinished, Outcome{}), ErrRunNotActive)
	})

	t.Run("non-terminal status returns error", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))
		assert.ErrorIs(t, store.Complete(ctx, r.ID, StatusRunning, Outcome{}), ErrInvalidStatus)
	})

	t.Run("complete already completed run returns error", func(t *testing.T) {
		r := newRun()
		require.NoError(t, store.Create(ctx, r))
		require.NoError(t, store.Start(ctx, r.ID))
		require.NoError(t, store.Complete(ctx, r.ID, StatusFinished, Outcome{}))
		assert.ErrorIs(t, store.Complete(ctx, r.ID, StatusCancelled, Outcome{}), ErrRunNotActive)
	})

	t.Run("complete non-existent run returns error", func(t *testing.T) {
		assert.ErrorIs(t, store.Complete(ctx, uuid.New(), StatusFinished, Outcome{}), ErrRunNotFound)
	})
}
