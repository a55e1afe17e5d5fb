package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soyeahso/loadstone/internal/domain"
)

// SessionLog records game login sessions.
type SessionLog struct {
	db *DB
}

func NewSessionLog(db *DB) *SessionLog {
	return &SessionLog{db: db}
}

// Begin records the start of a session.
func (l *SessionLog) Begin(ctx context.Context, s domain.SessionInfo) error {
	_, err := l.db.sql.ExecContext(ctx,
		`INSERT INTO game_sessions (id, player, started_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, s.Player, s.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording session %s: %w", s.ID, err)
	}
	return nil
}

// End records the end of a session.
func (l *SessionLog) End(ctx context.Context, s domain.SessionInfo) error {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	_, err := l.db.sql.ExecContext(ctx,
		`UPDATE game_sessions SET ended_at = ? WHERE id = ?`,
		end.UTC().Format(time.RFC3339Nano), s.ID,
	)
	if err != nil {
		return fmt.Errorf("closing session %s: %w", s.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (l *SessionLog) Recent(ctx context.Context, limit int) ([]domain.SessionInfo, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.sql.QueryContext(ctx,
		`SELECT id, player, started_at, ended_at FROM game_sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionInfo
	for rows.Next() {
		var (
			s       domain.SessionInfo
			started string
			ended   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Player, &started, &ended); err != nil {
			return nil, err
		}
		s.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if ended.Valid {
			s.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
