package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create plugin settings",
		SQL: `
			CREATE TABLE plugin_settings (
				plugin      TEXT NOT NULL,
				key         TEXT NOT NULL,
				value_json  TEXT NOT NULL,
				updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
				PRIMARY KEY (plugin, key)
			);
		`,
	},
	{
		Version: 2,
		Name:    "create game sessions",
		SQL: `
			CREATE TABLE game_sessions (
				id          TEXT PRIMARY KEY,
				player      TEXT NOT NULL DEFAULT '',
				started_at  TEXT NOT NULL,
				ended_at    TEXT
			);

			CREATE INDEX idx_game_sessions_started ON game_sessions (started_at);
		`,
	},
}
