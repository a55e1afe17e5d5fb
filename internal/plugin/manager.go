package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/ui"
)

// SettingsStore persists plugin setting values between runs.
type SettingsStore interface {
	LoadSettings(ctx context.Context, plugin string) (map[string]any, error)
	SaveSetting(ctx context.Context, plugin, key string, value any) error
}

// Deps are the shared host services handed to the manager. Hooks and Log
// are required.
type Deps struct {
	Hooks *hooks.Registry
	Game  *game.Engine
	UI    *ui.Manager
	Store SettingsStore
	Log   *logging.Logger
}

type entry struct {
	plugin Plugin
	api    API
	state  atomic.Int32

	// transition is held for the whole of a start or stop so that at most one
	// is in flight per plugin.
	transition sync.Mutex

	mu      sync.Mutex
	hooks   []string
	lastErr string
}

func (e *entry) State() State { return State(e.state.Load()) }

func (e *entry) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.lastErr = ""
		return
	}
	e.lastErr = err.Error()
}

// Manager owns the plugin population and drives every lifecycle transition.
// It is the only writer of plugin subscriptions on the hook registry.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // insertion order for deterministic lifecycle

	hooks *hooks.Registry
	game  *game.Engine
	ui    *ui.Manager
	store SettingsStore
	log   *logging.Logger

	lmu       sync.RWMutex
	listeners []func(Info)
}

// NewManager creates a manager, installs its dispatch gate on the registry and
// registers the login observer that auto-starts enabled plugins.
func NewManager(d Deps) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		hooks:   d.Hooks,
		game:    d.Game,
		ui:      d.UI,
		store:   d.Store,
		log:     d.Log.Sub("plugins"),
	}
	m.hooks.SetGate(m.receives)
	m.hooks.On(game.HookLoggedIn, "plugin-manager", func(ctx context.Context, _ hooks.Call) error {
		m.StartEnabled(ctx)
		return nil
	})
	return m
}

// receives is the dispatch gate: only started plugins see hook calls.
func (m *Manager) receives(owner string) bool {
	e, ok := m.entry(owner)
	return ok && e.State() == StateStarted
}

// Register adds a plugin, calls Init exactly once and subscribes it to every
// hook it implements. Duplicate names are rejected and the existing plugin
// is kept. A plugin whose Init fails stays listed but never starts.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	name := p.Name()
	if name == "" {
		return errors.New("plugin has no name")
	}
	set := p.Settings()
	if set == nil {
		return fmt.Errorf("plugin %s has no settings", name)
	}
	if _, ok := set.Get(settings.EnableKey); !ok {
		_ = set.Add(settings.Setting{Key: settings.EnableKey, Text: "Enable", Kind: settings.Checkbox, Value: false})
	}

	m.mu.Lock()
	if _, exists := m.entries[name]; exists {
		m.mu.Unlock()
		m.log.Warn().Str("plugin", name).Msg("duplicate plugin name; keeping the first registration")
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	e := &entry{plugin: p}
	m.entries[name] = e
	m.order = append(m.order, name)
	m.mu.Unlock()

	e.api = m.apiFor(name)
	if b, ok := p.(bindable); ok {
		b.bind(e.api)
	}

	if err := protect(func() error { return p.Init(ctx, e.api) }); err != nil {
		e.setErr(err)
		m.log.Error().Err(err).Str("plugin", name).Msg("plugin init failed")
		m.notify(e)
		return fmt.Errorf("init plugin %s: %w", name, err)
	}
	e.state.Store(int32(StateStopped))
	bound := m.hooks.Subscribe(name, p)
	e.mu.Lock()
	e.hooks = bound
	e.mu.Unlock()
	m.loadSettings(ctx, name, set)

	m.log.Info().
		Str("plugin", name).
		Str("author", p.Author()).
		Strs("hooks", bound).
		Bool("enabled", set.Enabled()).
		Msg("plugin registered")
	m.notify(e)

	if set.Enabled() && m.game != nil && m.game.Socket.InSession() {
		m.startLocked(ctx, e)
	}
	return nil
}

func (m *Manager) apiFor(name string) API {
	api := API{
		Log:     m.log.Plugin(name),
		Hooks:   m.hooks,
		Game:    m.game,
		Plugins: m,
	}
	if m.ui != nil {
		api.UI = m.ui.Scope(name)
	}
	return api
}

// SetEnabled is the single enable path: it records the enable setting and
// runs the matching start or stop. Enabling an already started plugin, or
// disabling a stopped one, only records the value.
func (m *Manager) SetEnabled(ctx context.Context, name string, enabled bool) error {
	e, ok := m.entry(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !e.transition.TryLock() {
		m.log.Warn().Str("plugin", name).Bool("enabled", enabled).Msg("ignoring toggle during transition")
		return fmt.Errorf("%w: %s", ErrTransitionInFlight, name)
	}
	defer e.transition.Unlock()

	set := e.plugin.Settings()
	if err := set.SetValue(settings.EnableKey, enabled); err != nil {
		return err
	}
	m.persist(ctx, name, settings.EnableKey, enabled)

	if enabled {
		return m.start(ctx, e)
	}
	m.stop(ctx, e)
	return nil
}

// SetSetting writes one setting. The enable key is routed to SetEnabled;
// other accepted values are persisted. Rejected values leave the setting
// untouched and return the validation error.
func (m *Manager) SetSetting(ctx context.Context, name, key string, value any) error {
	if key == settings.EnableKey {
		enabled, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%q: %w", key, settings.ErrTypeMismatch)
		}
		return m.SetEnabled(ctx, name, enabled)
	}
	e, ok := m.entry(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	set := e.plugin.Settings()
	if err := set.SetValue(key, value); err != nil {
		m.log.Warn().Err(err).Str("plugin", name).Str("key", key).Msg("setting write rejected")
		return err
	}
	m.persist(ctx, name, key, set.Value(key))
	return nil
}

// Settings describes a plugin's settings in display order.
func (m *Manager) Settings(name string) ([]settings.Descriptor, error) {
	e, ok := m.entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.plugin.Settings().Describe(), nil
}

// StartEnabled starts every enabled plugin that is not already started, in
// registration order. It runs on login ahead of plugin login hooks.
func (m *Manager) StartEnabled(ctx context.Context) {
	for _, e := range m.snapshot() {
		if !e.plugin.Settings().Enabled() || e.State() != StateStopped {
			continue
		}
		m.startLocked(ctx, e)
	}
}

// Shutdown stops every started plugin in reverse registration order.
func (m *Manager) Shutdown(ctx context.Context) {
	entries := m.snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.State() != StateStarted {
			continue
		}
		e.transition.Lock()
		m.stop(ctx, e)
		e.transition.Unlock()
	}
}

func (m *Manager) startLocked(ctx context.Context, e *entry) {
	if !e.transition.TryLock() {
		return
	}
	defer e.transition.Unlock()
	_ = m.start(ctx, e)
}

// start runs Start. The caller holds e.transition. A failing Start disables
// the plugin again.
func (m *Manager) start(ctx context.Context, e *entry) error {
	name := e.plugin.Name()
	switch e.State() {
	case StateStarted:
		return nil
	case StateUninitialized:
		return fmt.Errorf("%w: %s", ErrNotInitialized, name)
	}

	if err := protect(func() error { return e.plugin.Start(ctx) }); err != nil {
		m.release(e)
		e.setErr(err)
		set := e.plugin.Settings()
		_ = set.Load(settings.EnableKey, false)
		m.persist(ctx, name, settings.EnableKey, false)
		m.log.Error().Err(err).Str("plugin", name).Msg("plugin failed to start; disabled")
		m.notify(e)
		return fmt.Errorf("start plugin %s: %w", name, err)
	}
	e.setErr(nil)
	e.state.Store(int32(StateStarted))
	m.log.Info().Str("plugin", name).Msg("plugin started")
	m.notify(e)
	return nil
}

// stop runs Stop and then releases whatever the plugin left registered. The
// caller holds e.transition.
func (m *Manager) stop(ctx context.Context, e *entry) {
	if e.State() != StateStarted {
		return
	}
	name := e.plugin.Name()
	// Flip the state first so no hook reaches a plugin mid-stop.
	e.state.Store(int32(StateStopped))
	err := protect(func() error { return e.plugin.Stop(ctx) })
	m.release(e)
	if err != nil {
		e.setErr(err)
		m.log.Error().Err(err).Str("plugin", name).Msg("plugin stop failed")
	} else {
		m.log.Info().Str("plugin", name).Msg("plugin stopped")
	}
	m.notify(e)
}

func (m *Manager) release(e *entry) {
	if b, ok := e.plugin.(bindable); ok {
		if err := protect(func() error { b.release(); return nil }); err != nil {
			m.log.Error().Err(err).Str("plugin", e.plugin.Name()).Msg("plugin cleanup failed")
		}
	}
	if m.ui != nil {
		m.ui.RemoveAll(e.plugin.Name())
	}
}

func (m *Manager) loadSettings(ctx context.Context, name string, set *settings.Set) {
	if m.store == nil {
		return
	}
	values, err := m.store.LoadSettings(ctx, name)
	if err != nil {
		m.log.Warn().Err(err).Str("plugin", name).Msg("failed to load persisted settings")
		return
	}
	for key, v := range values {
		if err := set.Load(key, v); err != nil {
			m.log.Warn().Err(err).Str("plugin", name).Str("key", key).Msg("ignoring persisted setting")
		}
	}
}

func (m *Manager) persist(ctx context.Context, name, key string, value any) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSetting(ctx, name, key, value); err != nil {
		m.log.Warn().Err(err).Str("plugin", name).Str("key", key).Msg("failed to persist setting")
	}
}

// OnStateChange registers fn to receive a plugin's Info after every
// lifecycle change.
func (m *Manager) OnStateChange(fn func(Info)) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify(e *entry) {
	info := m.info(e)
	m.lmu.RLock()
	listeners := slices.Clone(m.listeners)
	m.lmu.RUnlock()
	for _, fn := range listeners {
		fn(info)
	}
}

func (m *Manager) entry(name string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	return e, ok
}

func (m *Manager) snapshot() []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*entry, len(m.order))
	for i, name := range m.order {
		out[i] = m.entries[name]
	}
	return out
}

// Get returns a plugin by name.
func (m *Manager) Get(name string) (Plugin, bool) {
	e, ok := m.entry(name)
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// State returns a plugin's lifecycle state.
func (m *Manager) State(name string) (State, bool) {
	e, ok := m.entry(name)
	if !ok {
		return StateUninitialized, false
	}
	return e.State(), true
}

// List returns all registered plugin names in registration order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order)
}

// Count returns the number of registered plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Info returns summary information about all registered plugins.
func (m *Manager) Info() []Info {
	entries := m.snapshot()
	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, m.info(e))
	}
	return infos
}

func (m *Manager) info(e *entry) Info {
	e.mu.Lock()
	lastErr := e.lastErr
	bound := e.hooks
	e.mu.Unlock()
	return Info{
		Name:      e.plugin.Name(),
		Author:    e.plugin.Author(),
		State:     e.State(),
		Enabled:   e.plugin.Settings().Enabled(),
		Hooks:     bound,
		LastError: lastErr,
	}
}

// protect runs fn, turning a panic into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
