package plugin

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicate          = errors.New("plugin already registered")
	ErrNotFound           = errors.New("plugin not found")
	ErrTransitionInFlight = errors.New("plugin transition already in flight")
	ErrNotInitialized     = errors.New("plugin failed to initialize")
)

// State is a plugin's lifecycle position.
type State int32

const (
	// StateUninitialized means Init has not succeeded. The plugin never starts.
	StateUninitialized State = iota
	StateStopped
	StateStarted
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	default:
		return "uninitialized"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StateUninitialized
	case "stopped":
		*s = StateStopped
	case "started":
		*s = StateStarted
	default:
		return fmt.Errorf("unknown plugin state %q", b)
	}
	return nil
}

// Info holds summary data about a plugin.
type Info struct {
	Name      string   `json:"name"`
	Author    string   `json:"author"`
	State     State    `json:"state"`
	Enabled   bool     `json:"enabled"`
	Hooks     []string `json:"hooks,omitempty"`
	LastError string   `json:"lastError,omitempty"`
}
