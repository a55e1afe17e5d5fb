package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacket(t *testing.T) {
	p, err := NewPacket("action", 10, map[string]int{"x": 4, "y": 7})
	require.NoError(t, err)
	assert.Equal(t, "action", p.Event)
	assert.Equal(t, 10, p.Action)
	assert.JSONEq(t, `{"x":4,"y":7}`, string(p.Data))
	assert.Equal(t, "action#10", p.String())
}

func TestNewPacket_NilData(t *testing.T) {
	p, err := NewPacket("ping", 0, nil)
	require.NoError(t, err)
	assert.Nil(t, p.Data)
	assert.Equal(t, 4, p.Size())
}

func TestNewPacket_Unmarshalable(t *testing.T) {
	_, err := NewPacket("bad", 1, make(chan int))
	assert.Error(t, err)
}

func TestPacketJSONShape(t *testing.T) {
	p := Packet{Event: "action", Action: 11, Data: json.RawMessage(`{"target":3}`)}
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"action","action":11,"data":{"target":3}}`, string(raw))
}

func TestChatMessage_IsPrivate(t *testing.T) {
	assert.True(t, ChatMessage{Kind: ChatPrivate}.IsPrivate())
	assert.False(t, ChatMessage{Kind: ChatPublic}.IsPrivate())
}

func TestSessionInfo_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)

	active := SessionInfo{ID: "s1", StartedAt: start}
	assert.True(t, active.Active())
	assert.Equal(t, 90*time.Minute, active.Duration(now))

	ended := SessionInfo{ID: "s2", StartedAt: start, EndedAt: start.Add(time.Hour)}
	assert.False(t, ended.Active())
	assert.Equal(t, time.Hour, ended.Duration(now))

	assert.Zero(t, SessionInfo{}.Duration(now))
	assert.False(t, SessionInfo{}.Active())
}
