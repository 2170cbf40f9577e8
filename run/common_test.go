package run

import (
	"testing"

	"gorm.io/gorm"

	"github.com/hairizuanbinnoorazman/guiagent/logger"
	"github.com/hairizuanbinnoorazman/guiagent/testutil"
)

// setupTestStore creates a test database and run store for testing.
func setupTestStore(t *testing.T) (*gorm.DB, Store) {
	db := testutil.SetupTestDB(t)
	testutil.AutoMigrate(t, db, &Run{})

	log := logger.NewTestLogger()
	store := NewMySQLStore(db, log)

	return db, store
}

func newRun() *Run {
	return &Run{Instruction: "open the settings page", Operator: "browser"}
}
