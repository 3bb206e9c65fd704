// Package dbtest opens throwaway in-memory stores for tests so the
// uniqueness constraints and conditional updates run against a real engine.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-vpnshop/web/db"
)

// New returns a migrated in-memory store unique to the calling test.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}

	if err := db.Sync(conn); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return conn
}
