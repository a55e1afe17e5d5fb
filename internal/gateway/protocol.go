package gateway

import (
	"encoding/json"
	"slices"

	"github.com/soyeahso/loadstone/internal/domain"
	"github.com/soyeahso/loadstone/internal/plugin"
)

// ProtocolVersion is the only protocol revision the gateway speaks.
const ProtocolVersion = 1

// maxPayload bounds a single inbound frame.
const maxPayload = 1 << 20

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed to clients. Only the challenge is sent unconditionally;
// the rest go to clients subscribed to them.
const (
	EventChallenge   = "connect.challenge"
	EventPluginState = "plugin.state"
	EventSession     = "session.state"
)

// Events lists the events a client can subscribe to.
var Events = []string{EventPluginState, EventSession}

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol       = "protocol_error"
	CodeUnauthorized   = "unauthorized"
	CodeMethodNotFound = "method_not_found"
	CodeInvalidParams  = "invalid_params"
	CodeNotFound       = "not_found"
	CodeBusy           = "busy"
	CodeInvalidValue   = "invalid_value"
	CodeFailed         = "failed"
	CodeUnavailable    = "unavailable"
)

// Frame is the envelope for every WebSocket message. Type selects which of
// the remaining fields are meaningful.
type Frame struct {
	Type string `json:"type"`

	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Challenge opens every connection.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// ConnectParams is the body of the first request on a connection.
type ConnectParams struct {
	Protocol int          `json:"protocol"`
	Client   ClientInfo   `json:"client"`
	Auth     *ConnectAuth `json:"auth,omitempty"`
	// Events limits which events the client receives. Empty means all.
	Events []string `json:"events,omitempty"`
}

// ClientInfo describes the connecting settings UI or tool.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Mode    string `json:"mode,omitempty"` // "ui" | "cli"
}

// ConnectAuth carries credentials.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// HelloOK answers a successful connect.
type HelloOK struct {
	Protocol   int      `json:"protocol"`
	ConnID     string   `json:"connId"`
	Version    string   `json:"version"`
	Methods    []string `json:"methods"`
	Events     []string `json:"events"`
	MaxPayload int      `json:"maxPayload"`
}

// PluginStateEvent is the payload of plugin.state.
type PluginStateEvent struct {
	Name      string       `json:"name"`
	State     plugin.State `json:"state"`
	Enabled   bool         `json:"enabled"`
	LastError string       `json:"lastError,omitempty"`
}

func pluginStateEvent(info plugin.Info) PluginStateEvent {
	return PluginStateEvent{
		Name:      info.Name,
		State:     info.State,
		Enabled:   info.Enabled,
		LastError: info.LastError,
	}
}

// SessionEvent is the payload of session.state.
type SessionEvent struct {
	Kind    string             `json:"kind"` // "login" | "logout"
	Session domain.SessionInfo `json:"session"`
	Active  bool               `json:"active"`
}

// unknownEvents returns the names in events that cannot be subscribed to.
func unknownEvents(events []string) []string {
	var bad []string
	for _, e := range events {
		if !slices.Contains(Events, e) {
			bad = append(bad, e)
		}
	}
	return bad
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

func newResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Type: FrameTypeResponse, ID: id, OK: &ok, Payload: raw}, nil
}

func newErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{
		Type:  FrameTypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &ErrorShape{Code: code, Message: message},
	}
}

func newEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}
