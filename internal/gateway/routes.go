package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/loadstone/internal/plugin"
	"github.com/soyeahso/loadstone/internal/settings"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up the RPC methods the attached components allow.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("events.subscribe", s.rpcEventsSubscribe)
	if s.plugins != nil {
		s.Handle("plugins.list", s.rpcPluginsList)
		s.Handle("plugins.enable", s.rpcPluginsEnable)
		s.Handle("settings.get", s.rpcSettingsGet)
		s.Handle("settings.set", s.rpcSettingsSet)
	}
	if s.engine != nil {
		s.Handle("session.get", s.rpcSessionGet)
		s.Handle("hooks.stats", s.rpcHooksStats)
	}
	if s.queue != nil {
		s.Handle("packetqueue.status", s.rpcPacketQueueStatus)
	}
	if s.ui != nil {
		s.Handle("ui.snapshot", s.rpcUISnapshot)
	}
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.count(),
	}
	if up := s.Uptime(); up > 0 {
		resp.Uptime = up.Round(time.Second).String()
	}
	if s.plugins != nil {
		resp.Plugins = len(s.plugins.Info())
	}
	rc.Respond(resp)
}

type eventsSubscribeParams struct {
	Events []string `json:"events"`
}

// rpcEventsSubscribe replaces the caller's event subscriptions. An empty
// list restores every event.
func (s *Server) rpcEventsSubscribe(rc *RequestContext) {
	var p eventsSubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if bad := unknownEvents(p.Events); len(bad) > 0 {
		rc.RespondError(CodeInvalidParams, "unknown events: "+strings.Join(bad, ", "))
		return
	}
	rc.Client.Subscribe(p.Events)
	rc.Respond(map[string]any{"events": rc.Client.Subscriptions()})
}

func (s *Server) rpcPluginsList(rc *RequestContext) {
	rc.Respond(map[string]any{"plugins": s.plugins.Info()})
}

type pluginsEnableParams struct {
	Name    string `json:"name"`
	Enabled *bool  `json:"enabled"`
}

func (s *Server) rpcPluginsEnable(rc *RequestContext) {
	var p pluginsEnableParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Name == "" || p.Enabled == nil {
		rc.RespondError(CodeInvalidParams, "name and enabled are required")
		return
	}
	if err := s.plugins.SetEnabled(rc.Context(), p.Name, *p.Enabled); err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(map[string]any{"name": p.Name, "enabled": *p.Enabled})
}

type settingsGetParams struct {
	Plugin string `json:"plugin"`
}

func (s *Server) rpcSettingsGet(rc *RequestContext) {
	var p settingsGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Plugin == "" {
		rc.RespondError(CodeInvalidParams, "plugin is required")
		return
	}
	descs, err := s.plugins.Settings(p.Plugin)
	if err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(map[string]any{"plugin": p.Plugin, "settings": descs})
}

type settingsSetParams struct {
	Plugin string `json:"plugin"`
	Key    string `json:"key"`
	Value  any    `json:"value"`
}

func (s *Server) rpcSettingsSet(rc *RequestContext) {
	var p settingsSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	if p.Plugin == "" || p.Key == "" {
		rc.RespondError(CodeInvalidParams, "plugin and key are required")
		return
	}
	if err := s.plugins.SetSetting(rc.Context(), p.Plugin, p.Key, p.Value); err != nil {
		rc.RespondError(errorCode(err), err.Error())
		return
	}
	rc.Respond(map[string]any{"plugin": p.Plugin, "key": p.Key, "value": p.Value})
}

func (s *Server) rpcSessionGet(rc *RequestContext) {
	info := s.engine.Socket.Session()
	rc.Respond(map[string]any{"session": info, "active": info.Active()})
}

func (s *Server) rpcHooksStats(rc *RequestContext) {
	hooks := make(map[string][]string)
	for _, h := range s.engine.Hooks.Hooks() {
		if subs := s.engine.Hooks.Subscribers(h); len(subs) > 0 {
			hooks[h] = subs
		}
	}
	rc.Respond(map[string]any{"stats": s.engine.Hooks.Stats(), "subscribers": hooks})
}

func (s *Server) rpcPacketQueueStatus(rc *RequestContext) {
	rc.Respond(s.queue.Status())
}

func (s *Server) rpcUISnapshot(rc *RequestContext) {
	rc.Respond(map[string]any{"elements": s.ui.Snapshot()})
}

// errorCode maps domain errors to RPC error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, plugin.ErrNotFound), errors.Is(err, settings.ErrUnknownKey):
		return CodeNotFound
	case errors.Is(err, plugin.ErrTransitionInFlight):
		return CodeBusy
	case errors.Is(err, settings.ErrRejected), errors.Is(err, settings.ErrTypeMismatch):
		return CodeInvalidValue
	default:
		return CodeFailed
	}
}
