package db

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver used for local stores and tests.
	SQLiteDriverName = "sqlite3_catmaid_guitest"

	// PostgresDriverName is registered by lib/pq.
	PostgresDriverName = "postgres"
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// data_view references data_view_type; deletes must respect it like Postgres does.
			if _, err := conn.Exec("PRAGMA foreign_keys = ON", nil); err != nil {
				return fmt.Errorf("enable foreign keys: %w", err)
			}
			return nil
		},
	})
	sqlx.BindDriver(SQLiteDriverName, sqlx.QUESTION)
}
