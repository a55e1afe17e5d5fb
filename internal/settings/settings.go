// Package settings implements the typed, validated configuration block each
// plugin carries. Values are bool (checkbox), float64 (range) or string
// (text, color).
package settings

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sync"
)

// Kind is the closed set of setting types a settings UI knows how to render.
type Kind string

const (
	Checkbox Kind = "checkbox"
	Range    Kind = "range"
	Text     Kind = "text"
	Color    Kind = "color"
)

// EnableKey is the mandatory on/off setting every plugin carries.
const EnableKey = "enable"

var (
	// ErrUnknownKey is returned when a key has no setting.
	ErrUnknownKey = errors.New("unknown setting")

	// ErrTypeMismatch is returned when a candidate's type does not fit the setting kind.
	ErrTypeMismatch = errors.New("setting type mismatch")

	// ErrRejected is returned when a validation predicate refuses a candidate.
	ErrRejected = errors.New("setting value rejected")

	// ErrDuplicateKey is returned by Add when the key already exists.
	ErrDuplicateKey = errors.New("setting already defined")
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Setting is one configurable field of a plugin.
type Setting struct {
	Key   string
	Text  string
	Kind  Kind
	Value any

	// Min, Max and Step bound Range settings. Max == Min means unbounded.
	Min, Max, Step float64

	// Validate, when set, must accept a candidate before it is stored.
	Validate func(candidate any) bool

	// OnChange runs after an accepted write. It takes no arguments; it reads
	// the new value back through the owning Set.
	OnChange func()
}

// Descriptor is the UI-facing snapshot of a setting.
type Descriptor struct {
	Key   string  `json:"key"`
	Text  string  `json:"text"`
	Type  Kind    `json:"type"`
	Value any     `json:"value"`
	Min   float64 `json:"min,omitempty"`
	Max   float64 `json:"max,omitempty"`
	Step  float64 `json:"step,omitempty"`
}

// Set is the ordered settings block of a single plugin.
type Set struct {
	mu    sync.RWMutex
	byKey map[string]*Setting
	order []string
}

// New creates a Set seeded with the enable checkbox, initially off.
func New() *Set {
	s := &Set{byKey: make(map[string]*Setting)}
	s.byKey[EnableKey] = &Setting{Key: EnableKey, Text: "Enable", Kind: Checkbox, Value: false}
	s.order = append(s.order, EnableKey)
	return s
}

// Add defines a new setting. Its initial value must already fit its kind.
func (s *Set) Add(st Setting) error {
	if st.Key == "" {
		return fmt.Errorf("setting key is empty")
	}
	v, err := normalize(st, st.Value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", st.Key, err)
	}
	st.Value = v

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byKey[st.Key]; exists {
		return fmt.Errorf("setting %q: %w", st.Key, ErrDuplicateKey)
	}
	s.byKey[st.Key] = &st
	s.order = append(s.order, st.Key)
	return nil
}

// MustAdd is Add for settings declared in plugin constructors.
func (s *Set) MustAdd(st Setting) {
	if err := s.Add(st); err != nil {
		panic(err)
	}
}

// SetValue validates candidate, stores it and runs the setting's OnChange
// exactly once. A rejected candidate leaves the stored value untouched and
// does not run OnChange.
func (s *Set) SetValue(key string, candidate any) error {
	cb, err := s.store(key, candidate)
	if err != nil {
		return err
	}
	// Outside the lock so the callback may read or write sibling settings.
	if cb != nil {
		cb()
	}
	return nil
}

// Load stores a persisted value without running OnChange. Validation still
// applies, so a stale persisted value that no longer passes is refused.
func (s *Set) Load(key string, candidate any) error {
	_, err := s.store(key, candidate)
	return err
}

func (s *Set) store(key string, candidate any) (func(), error) {
	s.mu.RLock()
	st, ok := s.byKey[key]
	var decl Setting
	if ok {
		decl = *st
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}

	v, err := normalize(decl, candidate)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", key, err)
	}
	if decl.Validate != nil && !decl.Validate(v) {
		return nil, fmt.Errorf("%q = %v: %w", key, candidate, ErrRejected)
	}

	s.mu.Lock()
	st.Value = v
	cb := st.OnChange
	s.mu.Unlock()
	return cb, nil
}

// Get returns a copy of the setting for key.
func (s *Set) Get(key string) (Setting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byKey[key]
	if !ok {
		return Setting{}, false
	}
	return *st, true
}

// Value returns the current value for key, or nil.
func (s *Set) Value(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.byKey[key]; ok {
		return st.Value
	}
	return nil
}

// Bool returns a checkbox value; false when absent or not a bool.
func (s *Set) Bool(key string) bool {
	b, _ := s.Value(key).(bool)
	return b
}

// Number returns a range value; 0 when absent.
func (s *Set) Number(key string) float64 {
	f, _ := s.Value(key).(float64)
	return f
}

// String returns a text or color value; "" when absent.
func (s *Set) String(key string) string {
	str, _ := s.Value(key).(string)
	return str
}

// Enabled reports the enable checkbox.
func (s *Set) Enabled() bool { return s.Bool(EnableKey) }

// Keys returns setting keys in declaration order.
func (s *Set) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Describe returns descriptors in declaration order.
func (s *Set) Describe() []Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Descriptor, 0, len(s.order))
	for _, k := range s.order {
		st := s.byKey[k]
		out = append(out, Descriptor{
			Key:   st.Key,
			Text:  st.Text,
			Type:  st.Kind,
			Value: st.Value,
			Min:   st.Min,
			Max:   st.Max,
			Step:  st.Step,
		})
	}
	return out
}

// normalize checks candidate against the setting kind, converting integer
// numbers to float64 for Range settings.
func normalize(st Setting, candidate any) (any, error) {
	switch st.Kind {
	case Checkbox:
		if b, ok := candidate.(bool); ok {
			return b, nil
		}
	case Range:
		f, ok := toFloat(candidate)
		if !ok {
			break
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%v is not a finite number: %w", f, ErrRejected)
		}
		if st.Max > st.Min && (f < st.Min || f > st.Max) {
			return nil, fmt.Errorf("%v outside [%v, %v]: %w", f, st.Min, st.Max, ErrRejected)
		}
		return f, nil
	case Text:
		if str, ok := candidate.(string); ok {
			return str, nil
		}
	case Color:
		str, ok := candidate.(string)
		if !ok {
			break
		}
		if !colorPattern.MatchString(str) {
			return nil, fmt.Errorf("%q is not #rrggbb: %w", str, ErrRejected)
		}
		return str, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", st.Kind)
	}
	return nil, fmt.Errorf("%T for %s: %w", candidate, st.Kind, ErrTypeMismatch)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
