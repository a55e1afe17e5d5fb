package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"
)

// SettingsStore persists plugin setting values keyed by plugin name.
type SettingsStore interface {
	LoadSettings(ctx context.Context, plugin string) (map[string]any, error)
	SaveSetting(ctx context.Context, plugin, key string, value any) error
	DeleteSettings(ctx context.Context, plugin string) error
	Plugins(ctx context.Context) ([]PluginSummary, error)
}

// PluginSummary describes the persisted state of one plugin.
type PluginSummary struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Keys      int       `json:"keys"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SQLiteSettings stores settings as JSON values in the plugin_settings table.
type SQLiteSettings struct {
	db *DB
}

func NewSQLiteSettings(db *DB) *SQLiteSettings {
	return &SQLiteSettings{db: db}
}

func (s *SQLiteSettings) LoadSettings(ctx context.Context, plugin string) (map[string]any, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT key, value_json FROM plugin_settings WHERE plugin = ?`, plugin)
	if err != nil {
		return nil, fmt.Errorf("loading settings for %s: %w", plugin, err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.db.log.Warn().Err(err).Str("plugin", plugin).Str("key", key).Msg("skipping corrupt setting")
			continue
		}
		out[key] = v
	}
	return out, rows.Err()
}

func (s *SQLiteSettings) SaveSetting(ctx context.Context, plugin, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s.%s: %w", plugin, key, err)
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO plugin_settings (plugin, key, value_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (plugin, key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		plugin, key, string(raw), time.Now().UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("saving %s.%s: %w", plugin, key, err)
	}
	return nil
}

func (s *SQLiteSettings) DeleteSettings(ctx context.Context, plugin string) error {
	_, err := s.db.sql.ExecContext(ctx, `DELETE FROM plugin_settings WHERE plugin = ?`, plugin)
	return err
}

// Plugins summarizes every plugin with persisted settings, ordered by name.
func (s *SQLiteSettings) Plugins(ctx context.Context) ([]PluginSummary, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT plugin,
		       COUNT(*),
		       MAX(updated_at),
		       COALESCE(MAX(CASE WHEN key = 'enable' THEN value_json END), 'false')
		FROM plugin_settings
		GROUP BY plugin
		ORDER BY plugin`)
	if err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}
	defer rows.Close()

	var out []PluginSummary
	for rows.Next() {
		var (
			sum     PluginSummary
			updated sql.NullString
			enabled string
		)
		if err := rows.Scan(&sum.Name, &sum.Keys, &updated, &enabled); err != nil {
			return nil, err
		}
		if updated.Valid {
			sum.UpdatedAt, _ = time.Parse(time.DateTime, updated.String)
		}
		sum.Enabled = enabled == "true"
		out = append(out, sum)
	}
	return out, rows.Err()
}

// MemorySettings is a SettingsStore kept in process memory. Values are
// round-tripped through JSON so they come back with the same types the
// SQLite store returns.
type MemorySettings struct {
	mu      sync.RWMutex
	data    map[string]map[string][]byte
	updated map[string]time.Time
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{
		data:    make(map[string]map[string][]byte),
		updated: make(map[string]time.Time),
	}
}

func (m *MemorySettings) LoadSettings(_ context.Context, plugin string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.data[plugin]))
	for key, raw := range m.data[plugin] {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (m *MemorySettings) SaveSetting(_ context.Context, plugin, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s.%s: %w", plugin, key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[plugin] == nil {
		m.data[plugin] = make(map[string][]byte)
	}
	m.data[plugin][key] = raw
	m.updated[plugin] = time.Now().UTC()
	return nil
}

func (m *MemorySettings) DeleteSettings(_ context.Context, plugin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, plugin)
	delete(m.updated, plugin)
	return nil
}

func (m *MemorySettings) Plugins(context.Context) ([]PluginSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := slices.Sorted(maps.Keys(m.data))
	out := make([]PluginSummary, 0, len(names))
	for _, name := range names {
		out = append(out, PluginSummary{
			Name:      name,
			Enabled:   string(m.data[name]["enable"]) == "true",
			Keys:      len(m.data[name]),
			UpdatedAt: m.updated[name],
		})
	}
	return out, nil
}
