// Package ui tracks overlay elements created by plugins. Each element has an
// owner so a stopping plugin can release everything it created in one call.
package ui

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/soyeahso/loadstone/internal/logging"
)

var (
	ErrNotFound = errors.New("ui: element not found")
	ErrNotOwner = errors.New("ui: element belongs to another owner")
)

// Element is one overlay node.
type Element struct {
	ID     string            `json:"id"`
	Owner  string            `json:"owner"`
	Kind   string            `json:"kind"`
	Parent string            `json:"parent,omitempty"`
	Text   string            `json:"text,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func (e *Element) clone() Element {
	c := *e
	c.Attrs = maps.Clone(e.Attrs)
	return c
}

// Manager owns all elements.
type Manager struct {
	mu    sync.RWMutex
	seq   int
	elems map[string]*Element
	order []string
	log   *logging.Logger
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		elems: make(map[string]*Element),
		log:   log.Sub("ui"),
	}
}

// Create adds an element under parentID, or at the root when parentID is
// empty.
func (m *Manager) Create(owner, kind, parentID string) (Element, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if parentID != "" {
		if _, ok := m.elems[parentID]; !ok {
			return Element{}, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
		}
	}
	m.seq++
	e := &Element{
		ID:     fmt.Sprintf("ui-%d", m.seq),
		Owner:  owner,
		Kind:   kind,
		Parent: parentID,
	}
	m.elems[e.ID] = e
	m.order = append(m.order, e.ID)
	return e.clone(), nil
}

// SetText replaces an element's text.
func (m *Manager) SetText(owner, id, text string) error {
	return m.update(owner, id, func(e *Element) { e.Text = text })
}

// SetAttr sets one attribute on an element.
func (m *Manager) SetAttr(owner, id, key, value string) error {
	return m.update(owner, id, func(e *Element) {
		if e.Attrs == nil {
			e.Attrs = make(map[string]string)
		}
		e.Attrs[key] = value
	})
}

func (m *Manager) update(owner, id string, fn func(e *Element)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.owned(owner, id)
	if err != nil {
		return err
	}
	fn(e)
	return nil
}

// Remove deletes an element and its descendants.
func (m *Manager) Remove(owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(owner, id); err != nil {
		return err
	}
	m.removeLocked(func(e *Element) bool { return e.ID == id })
	return nil
}

// RemoveAll deletes every element owned by owner, plus anything nested under
// them, and returns how many elements were removed.
func (m *Manager) RemoveAll(owner string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.removeLocked(func(e *Element) bool { return e.Owner == owner })
	if n > 0 {
		m.log.Debug().Str("owner", owner).Int("removed", n).Msg("released ui elements")
	}
	return n
}

// removeLocked removes elements matching root and all their descendants.
func (m *Manager) removeLocked(root func(e *Element) bool) int {
	doomed := make(map[string]bool)
	// order is creation order, so parents are always visited before children.
	for _, id := range m.order {
		e := m.elems[id]
		if root(e) || doomed[e.Parent] {
			doomed[id] = true
		}
	}
	if len(doomed) == 0 {
		return 0
	}
	for id := range doomed {
		delete(m.elems, id)
	}
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return doomed[id] })
	return len(doomed)
}

func (m *Manager) owned(owner, id string) (*Element, error) {
	e, ok := m.elems[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if e.Owner != owner {
		return nil, fmt.Errorf("%s: %w", id, ErrNotOwner)
	}
	return e, nil
}

// Get returns a copy of one element.
func (m *Manager) Get(id string) (Element, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.elems[id]
	if !ok {
		return Element{}, false
	}
	return e.clone(), true
}

// Snapshot returns copies of all elements in creation order.
func (m *Manager) Snapshot() []Element {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Element, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.elems[id].clone())
	}
	return out
}

// Count returns the number of elements owned by owner.
func (m *Manager) Count(owner string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.elems {
		if e.Owner == owner {
			n++
		}
	}
	return n
}

// Scope returns a view of the manager restricted to owner.
func (m *Manager) Scope(owner string) *Scope {
	return &Scope{m: m, owner: owner}
}

// Scope is an owner-bound handle handed to a plugin.
type Scope struct {
	m     *Manager
	owner string
}

func (s *Scope) Owner() string { return s.owner }

func (s *Scope) Create(kind, parentID string) (Element, error) {
	return s.m.Create(s.owner, kind, parentID)
}

func (s *Scope) SetText(id, text string) error { return s.m.SetText(s.owner, id, text) }

func (s *Scope) SetAttr(id, key, value string) error { return s.m.SetAttr(s.owner, id, key, value) }

func (s *Scope) Remove(id string) error { return s.m.Remove(s.owner, id) }

func (s *Scope) RemoveAll() int { return s.m.RemoveAll(s.owner) }

func (s *Scope) Count() int { return s.m.Count(s.owner) }
