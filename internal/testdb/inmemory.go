package testdb

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/kuitang/catmaid-guitest/internal/db"
)

// NewStoreInMemory creates an isolated in-memory store with the CATMAID test schema.
func NewStoreInMemory() (*db.Store, error) {
	sqlDB, err := Open()
	if err != nil {
		return nil, err
	}
	return db.NewStore(sqlDB), nil
}

// Open returns the pool behind a fresh in-memory database with the CATMAID
// test schema, for tests that inspect tables directly.
func Open() (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())

	sqlDB, err := sqlx.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// A shared-cache memory database lives as long as one connection does.
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	var sqliteVersion string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&sqliteVersion); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify in-memory database: %w", err)
	}

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	if _, err := sqlDB.Exec(db.SQLiteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}

	return sqlDB, nil
}

func applyFastSQLitePragmas(sqlDB *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
