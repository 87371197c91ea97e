// Package db reads and writes the few CATMAID tables the GUI harness needs.
// It talks to the application's PostgreSQL database directly; the SQLCipher
// driver serves local stores and unit tests with the same queries.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	// MaxOpenConns bounds connections to the application database. Fixture
	// setup is sequential, so a handful is plenty.
	MaxOpenConns = 4

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns = 1
)

// User is a row of auth_user.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	Email       string    `db:"email" json:"email"`
	Password    string    `db:"password" json:"-"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	IsStaff     bool      `db:"is_staff" json:"is_staff"`
	IsSuperuser bool      `db:"is_superuser" json:"is_superuser"`
	DateJoined  time.Time `db:"date_joined" json:"date_joined"`
}

// UserProfile is a row of catmaid_userprofile. CATMAID creates one for every
// new user from a post_save signal and its login view reads it.
type UserProfile struct {
	ID     int64 `db:"id" json:"id"`
	UserID int64 `db:"user_id" json:"user_id"`
}

// DataViewType is a row of data_view_type.
type DataViewType struct {
	ID       int64  `db:"id" json:"id"`
	Title    string `db:"title" json:"title"`
	CodeType string `db:"code_type" json:"code_type"`
}

// DataView is a row of data_view.
type DataView struct {
	ID             int64  `db:"id" json:"id"`
	Title          string `db:"title" json:"title"`
	DataViewTypeID int64  `db:"data_view_type_id" json:"data_view_type_id"`
	Config         string `db:"config" json:"config"`
	IsDefault      bool   `db:"is_default" json:"is_default"`
	Position       int    `db:"position" json:"position"`
}

// Store wraps the application database.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "sqlite" || driver == "sqlite3" {
		driver = SQLiteDriverName
	}
	sqlDB, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return NewStore(sqlDB), nil
}

// NewStore wraps an existing connection pool.
func NewStore(sqlDB *sqlx.DB) *Store {
	return &Store{db: sqlDB}
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// insert runs an INSERT and returns the new id. PostgreSQL reports it through
// RETURNING; the SQLCipher build predates RETURNING support, so SQLite uses
// LastInsertId instead.
func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.db.DriverName() == PostgresDriverName {
		var id int64
		if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) deleteByID(ctx context.Context, table string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM "+table+" WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", table, id, err)
	}
	return n > 0, nil
}

const userColumns = "id, username, email, password, is_active, is_staff, is_superuser, date_joined"

// GetUserByUsername returns sql.ErrNoRows when the user does not exist.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, s.db.Rebind("SELECT "+userColumns+" FROM auth_user WHERE username = ?"), username)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser looks a user up by username and inserts an active,
// unprivileged user with the given email if none exists. The bool reports
// whether a row was inserted.
func (s *Store) GetOrCreateUser(ctx context.Context, username, email string) (*User, bool, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get user %q: %w", username, err)
	}

	u = &User{
		Username:   username,
		Email:      email,
		IsActive:   true,
		DateJoined: time.Now().UTC(),
	}
	id, err := s.insert(ctx,
		`INSERT INTO auth_user (password, is_superuser, username, first_name, last_name, email, is_staff, is_active, date_joined)
		 VALUES (?, ?, ?, '', '', ?, ?, ?, ?)`,
		u.Password, u.IsSuperuser, u.Username, u.Email, u.IsStaff, u.IsActive, u.DateJoined)
	if err != nil {
		return nil, false, fmt.Errorf("create user %q: %w", username, err)
	}
	u.ID = id
	return u, true, nil
}

// SetPassword stores an already encoded password hash.
func (s *Store) SetPassword(ctx context.Context, userID int64, encoded string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE auth_user SET password = ? WHERE id = ?"), encoded, userID)
	if err != nil {
		return fmt.Errorf("set password for user %d: %w", userID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set password for user %d: %w", userID, sql.ErrNoRows)
	}
	return nil
}

// DeleteUser removes a user. It reports false if the row was already gone.
func (s *Store) DeleteUser(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "auth_user", id)
}

// Profile defaults follow CATMAID's settings defaults. The color column is a
// PostgreSQL composite type; its text form casts implicitly.
const (
	defaultProfileColor = "(1,0.8,0.2,1)"
	defaultProfileScale = 1.0
)

// GetOrCreateUserProfile returns the profile of userID, inserting one with
// CATMAID's default settings if the user has none.
func (s *Store) GetOrCreateUserProfile(ctx context.Context, userID int64) (*UserProfile, bool, error) {
	var p UserProfile
	err := s.db.GetContext(ctx, &p, s.db.Rebind("SELECT id, user_id FROM catmaid_userprofile WHERE user_id = ?"), userID)
	if err == nil {
		return &p, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get profile of user %d: %w", userID, err)
	}

	id, err := s.insert(ctx,
		`INSERT INTO catmaid_userprofile (user_id, independent_ontology_workspace_is_default,
		   show_text_label_tool, show_tagging_tool, show_cropping_tool, show_segmentation_tool,
		   show_tracing_tool, show_ontology_tool, show_roi_tool, color,
		   tracing_overlay_screen_scaling, tracing_overlay_scale, prefer_webgl_layers,
		   use_cursor_following_zoom, tile_linear_interpolation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, false,
		false, false, false, false,
		false, false, false, defaultProfileColor,
		true, defaultProfileScale, false,
		true, true)
	if err != nil {
		return nil, false, fmt.Errorf("create profile of user %d: %w", userID, err)
	}
	return &UserProfile{ID: id, UserID: userID}, true, nil
}

// DeleteUserProfile removes a profile. It must go before its user.
func (s *Store) DeleteUserProfile(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "catmaid_userprofile", id)
}

// GetOrCreateDataViewType looks up a type by code type, inserting it with title if missing.
func (s *Store) GetOrCreateDataViewType(ctx context.Context, codeType, title string) (*DataViewType, bool, error) {
	var t DataViewType
	err := s.db.GetContext(ctx, &t, s.db.Rebind("SELECT id, title, code_type FROM data_view_type WHERE code_type = ? ORDER BY id LIMIT 1"), codeType)
	if err == nil {
		return &t, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get data view type %q: %w", codeType, err)
	}

	id, err := s.insert(ctx, "INSERT INTO data_view_type (title, code_type, comment) VALUES (?, ?, '')", title, codeType)
	if err != nil {
		return nil, false, fmt.Errorf("create data view type %q: %w", codeType, err)
	}
	return &DataViewType{ID: id, Title: title, CodeType: codeType}, true, nil
}

// DeleteDataViewType removes a data view type. Views still referencing it make this fail.
func (s *Store) DeleteDataViewType(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "data_view_type", id)
}

// GetOrCreateDataView matches on title, type and default flag together.
func (s *Store) GetOrCreateDataView(ctx context.Context, title string, typeID int64, isDefault bool) (*DataView, bool, error) {
	var v DataView
	err := s.db.GetContext(ctx, &v, s.db.Rebind(
		`SELECT id, title, data_view_type_id, config, is_default, position
		 FROM data_view WHERE title = ? AND data_view_type_id = ? AND is_default = ? ORDER BY id LIMIT 1`),
		title, typeID, isDefault)
	if err == nil {
		return &v, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("get data view %q: %w", title, err)
	}

	v = DataView{Title: title, DataViewTypeID: typeID, Config: "{}", IsDefault: isDefault}
	id, err := s.insert(ctx,
		"INSERT INTO data_view (title, data_view_type_id, config, is_default, position, comment) VALUES (?, ?, ?, ?, ?, '')",
		v.Title, v.DataViewTypeID, v.Config, v.IsDefault, v.Position)
	if err != nil {
		return nil, false, fmt.Errorf("create data view %q: %w", title, err)
	}
	v.ID = id
	return &v, true, nil
}

// DeleteDataView removes a data view.
func (s *Store) DeleteDataView(ctx context.Context, id int64) (bool, error) {
	return s.deleteByID(ctx, "data_view", id)
}
