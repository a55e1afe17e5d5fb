package domain

import "time"

// SessionInfo describes one logged-in game session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Player    string    `json:"player"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
}

// Active reports whether the session has not ended.
func (s SessionInfo) Active() bool { return !s.StartedAt.IsZero() && s.EndedAt.IsZero() }

// Duration returns the session length, measured to now for an active session.
func (s SessionInfo) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}
