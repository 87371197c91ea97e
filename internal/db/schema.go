package db

// SQLiteSchema mirrors the subset of CATMAID's PostgreSQL schema the harness
// touches. Production runs against the real database, which Django migrations
// own; this schema exists for local stores and tests.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS auth_user (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	password     TEXT NOT NULL DEFAULT '',
	last_login   TIMESTAMP NULL,
	is_superuser BOOLEAN NOT NULL DEFAULT 0,
	username     TEXT NOT NULL UNIQUE,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	is_staff     BOOLEAN NOT NULL DEFAULT 0,
	is_active    BOOLEAN NOT NULL DEFAULT 1,
	date_joined  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS catmaid_userprofile (
	id                                        INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                                   INTEGER NOT NULL UNIQUE REFERENCES auth_user(id),
	independent_ontology_workspace_is_default BOOLEAN NOT NULL,
	show_text_label_tool                      BOOLEAN NOT NULL,
	show_tagging_tool                         BOOLEAN NOT NULL,
	show_cropping_tool                        BOOLEAN NOT NULL,
	show_segmentation_tool                    BOOLEAN NOT NULL,
	show_tracing_tool                         BOOLEAN NOT NULL,
	show_ontology_tool                        BOOLEAN NOT NULL,
	show_roi_tool                             BOOLEAN NOT NULL,
	color                                     TEXT NOT NULL,
	tracing_overlay_screen_scaling            BOOLEAN NOT NULL,
	tracing_overlay_scale                     REAL NOT NULL,
	prefer_webgl_layers                       BOOLEAN NOT NULL,
	use_cursor_following_zoom                 BOOLEAN NOT NULL,
	tile_linear_interpolation                 BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS data_view_type (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	title     TEXT NOT NULL,
	code_type TEXT NOT NULL,
	comment   TEXT NULL
);

CREATE TABLE IF NOT EXISTS data_view (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	title             TEXT NOT NULL,
	data_view_type_id INTEGER NOT NULL REFERENCES data_view_type(id),
	config            TEXT NOT NULL DEFAULT '{}',
	is_default        BOOLEAN NOT NULL DEFAULT 0,
	position          INTEGER NOT NULL DEFAULT 0,
	comment           TEXT NULL DEFAULT ''
);
`
