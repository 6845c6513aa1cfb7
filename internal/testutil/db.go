package testutil

import (
	"fmt"
	"testing"

	"discussify/internal/config"
	"discussify/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenDB returns a migrated in-memory SQLite database private to the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		Env:   "test",
		DBDSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}
	db, err := database.Connect(cfg)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}
