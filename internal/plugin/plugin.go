// Package plugin provides the plugin contract and lifecycle management for
// loadstone.
package plugin

import (
	"context"
	"io"
	"sync"

	"github.com/soyeahso/loadstone/internal/game"
	"github.com/soyeahso/loadstone/internal/hooks"
	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/soyeahso/loadstone/internal/settings"
	"github.com/soyeahso/loadstone/internal/ui"
)

// Plugin is the interface that all loadstone plugins must implement.
//
// Hook callbacks are opted into by implementing the typed observer interfaces
// in package game (game.GameLoopUpdater, game.LoginObserver, ...) or
// hooks.Provider. A plugin that implements none of them is simply never
// dispatched to.
type Plugin interface {
	// Name is the unique display name.
	Name() string

	Author() string

	// Settings returns the plugin's settings. It must contain the enable
	// checkbox; settings.New seeds it.
	Settings() *settings.Set

	// Init runs once at registration. No game session can be assumed.
	Init(ctx context.Context, api API) error

	// Start activates the plugin. It is not called again until Stop.
	Start(ctx context.Context) error

	// Stop releases everything acquired since Start.
	Stop(ctx context.Context) error
}

// Finder looks up registered plugins by name.
type Finder interface {
	Get(name string) (Plugin, bool)
}

// API is what the manager hands each plugin. Everything in it is shared
// with other plugins and owned by the host.
type API struct {
	Log     *logging.Logger
	Hooks   *hooks.Registry
	Game    *game.Engine
	UI      *ui.Scope
	Plugins Finder
}

// Lookups returns the static game tables, which may be nil.
func (a API) Lookups() *game.Lookups {
	if a.Game == nil {
		return nil
	}
	return a.Game.Lookups
}

var nopLog = logging.New(io.Discard, "silent")

// Base carries the capabilities every plugin gets. Embed a *Base created by
// NewBase; the manager fills in the API before Init.
type Base struct {
	name     string
	author   string
	settings *settings.Set

	mu       sync.Mutex
	api      API
	cleanups []func()
}

// NewBase creates a Base with a settings set holding only enable.
func NewBase(name, author string) *Base {
	return &Base{name: name, author: author, settings: settings.New()}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Author() string          { return b.author }
func (b *Base) Settings() *settings.Set { return b.settings }

// Log returns a logger tagged with the plugin name.
func (b *Base) Log() *logging.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.api.Log == nil {
		return nopLog
	}
	return b.api.Log
}

// API returns the capabilities handed over at registration.
func (b *Base) API() API {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.api
}

// Game returns the host engine, or nil before registration.
func (b *Base) Game() *game.Engine { return b.API().Game }

// UI returns the plugin's owner-scoped UI handle, or nil before registration.
func (b *Base) UI() *ui.Scope { return b.API().UI }

// Lookups returns the shared static tables, which may be nil.
func (b *Base) Lookups() *game.Lookups { return b.API().Lookups() }

// OnStop registers fn to run after the plugin's next Stop, or after a failed
// Start. Cleanups run last registered first.
func (b *Base) OnStop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanups = append(b.cleanups, fn)
}

func (b *Base) bind(api API) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.api = api
}

func (b *Base) release() {
	b.mu.Lock()
	fns := b.cleanups
	b.cleanups = nil
	b.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// bindable is satisfied by any plugin embedding *Base.
type bindable interface {
	bind(api API)
	release()
}
