package domain

import (
	"encoding/json"
	"fmt"
)

// Packet is one outbound message from the game client to the game server.
// Event is the socket event name; Action discriminates packet types within
// an event and is what coalescing keys on.
type Packet struct {
	Event  string          `json:"event"`
	Action int             `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewPacket builds a packet, marshalling data to JSON.
func NewPacket(event string, action int, data any) (Packet, error) {
	p := Packet{Event: event, Action: action}
	if data == nil {
		return p, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Packet{}, fmt.Errorf("marshal packet data: %w", err)
	}
	p.Data = raw
	return p, nil
}

// Size returns the approximate wire size of the packet payload.
func (p Packet) Size() int {
	return len(p.Event) + len(p.Data)
}

// String returns a short form for logs.
func (p Packet) String() string {
	return fmt.Sprintf("%s#%d", p.Event, p.Action)
}
