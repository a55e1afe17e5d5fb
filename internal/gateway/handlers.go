package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// requestTimeout bounds how long an RPC waits for the game loop.
const requestTimeout = 10 * time.Second

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"clients,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Plugins int    `json:"plugins,omitempty"`
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(ctx *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server

	ctx       context.Context
	responded atomic.Bool
}

// Context is the context the handler runs under.
func (rc *RequestContext) Context() context.Context {
	if rc.ctx == nil {
		return context.Background()
	}
	return rc.ctx
}

// Respond sends a success response. Only the first response for a request
// is delivered.
func (rc *RequestContext) Respond(payload any) {
	if !rc.responded.CompareAndSwap(false, true) {
		return
	}
	f, err := newResponse(rc.Frame.ID, payload)
	if err != nil {
		rc.Server.log.Error().Err(err).Str("method", rc.Frame.Method).Msg("encoding response")
		f = newErrorResponse(rc.Frame.ID, CodeFailed, "response could not be encoded")
	}
	rc.send(f)
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	if !rc.responded.CompareAndSwap(false, true) {
		return
	}
	rc.send(newErrorResponse(rc.Frame.ID, code, message))
}

func (rc *RequestContext) send(f Frame) {
	if err := rc.Client.Send(f); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
