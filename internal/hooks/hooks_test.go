package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/soyeahso/loadstone/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookUpdate = "GameLoop_update"

type updater interface {
	OnUpdate(dt int) error
}

type recorder struct {
	name  string
	order *[]string
	fail  error
	panic bool
}

func (p *recorder) OnUpdate(dt int) error {
	*p.order = append(*p.order, p.name)
	if p.panic {
		panic("boom")
	}
	return p.fail
}

// plain has no hook methods at all.
type plain struct{}

type byName struct {
	hooks map[string]Handler
}

func (p *byName) Hooks() map[string]Handler { return p.hooks }

func bindUpdate(target any) (Handler, bool) {
	u, ok := target.(updater)
	if !ok {
		return nil, false
	}
	return func(_ context.Context, c Call) error {
		return u.OnUpdate(c.Arg(0).(int))
	}, true
}

func testRegistry() *Registry {
	r := NewRegistry(logging.New(nil, "silent"))
	r.Define(hookUpdate, bindUpdate)
	return r
}

func TestRegistry_Define_Idempotent(t *testing.T) {
	r := testRegistry()
	assert.False(t, r.Define(hookUpdate, bindUpdate))
	assert.Equal(t, []string{hookUpdate}, r.Hooks())

	var order []string
	r.Subscribe("a", &recorder{name: "a", order: &order})
	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"a"}, order, "redefining must not double-deliver")
}

func TestRegistry_Invoke_OriginalThenPluginsInOrder(t *testing.T) {
	r := testRegistry()

	var order []string
	r.Subscribe("p1", &recorder{name: "p1", order: &order})
	r.Subscribe("none", &plain{})
	r.Subscribe("p2", &recorder{name: "p2", order: &order})
	r.Subscribe("p3", &recorder{name: "p3", order: &order})

	err := r.Invoke(context.Background(), hookUpdate, func() error {
		order = append(order, "original")
		return nil
	}, 16)
	require.NoError(t, err)
	assert.Equal(t, []string{"original", "p1", "p2", "p3"}, order)
	assert.Equal(t, []string{"p1", "p2", "p3"}, r.Subscribers(hookUpdate))
}

func TestRegistry_Dispatch_IsolatesErrorsAndPanics(t *testing.T) {
	r := testRegistry()

	var order []string
	r.Subscribe("a", &recorder{name: "a", order: &order, fail: errors.New("bad")})
	r.Subscribe("b", &recorder{name: "b", order: &order, panic: true})
	r.Subscribe("c", &recorder{name: "c", order: &order})

	got, err := Wrap(context.Background(), r, hookUpdate, func() (int, error) { return 42, nil }, 16)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, int64(2), r.Stats().Failures)
}

func TestRegistry_Invoke_OriginalErrorPropagates(t *testing.T) {
	r := testRegistry()

	var order []string
	r.Subscribe("a", &recorder{name: "a", order: &order})

	err := r.Invoke(context.Background(), hookUpdate, func() error { return assert.AnError }, 16)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, order)
}

func TestRegistry_Invoke_OriginalPanicPropagates(t *testing.T) {
	r := testRegistry()
	assert.Panics(t, func() {
		_ = r.Invoke(context.Background(), hookUpdate, func() error { panic("engine") })
	})
}

func TestRegistry_Gate(t *testing.T) {
	r := testRegistry()

	var order []string
	r.Subscribe("on", &recorder{name: "on", order: &order})
	r.Subscribe("off", &recorder{name: "off", order: &order})

	enabled := map[string]bool{"on": true}
	r.SetGate(func(owner string) bool { return enabled[owner] })

	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"on"}, order)

	enabled["off"] = true
	enabled["on"] = false
	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"on", "off"}, order)
}

func TestRegistry_Observers_UngatedAndFirst(t *testing.T) {
	r := testRegistry()
	r.SetGate(func(string) bool { return false })

	var order []string
	r.Subscribe("p", &recorder{name: "p", order: &order})
	r.On(hookUpdate, "host", func(_ context.Context, _ Call) error {
		order = append(order, "host")
		return nil
	})

	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"host"}, order)

	r.Off(hookUpdate, "host")
	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"host"}, order)
}

func TestRegistry_Provider(t *testing.T) {
	r := testRegistry()

	var got []any
	p := &byName{hooks: map[string]Handler{
		"ChatManager_addChatMessage": func(_ context.Context, c Call) error {
			got = append(got, c.Args...)
			return nil
		},
	}}
	names := r.Subscribe("script", p)
	assert.Equal(t, []string{"ChatManager_addChatMessage"}, names)

	r.Dispatch(context.Background(), "ChatManager_addChatMessage", "hello", 3)
	assert.Equal(t, []any{"hello", 3}, got)
}

func TestRegistry_Subscribe_ProviderNamesStable(t *testing.T) {
	r := testRegistry()
	r.Define("ChatManager_addChatMessage", func(any) (Handler, bool) { return nil, false })
	noop := func(context.Context, Call) error { return nil }

	for i := 0; i < 20; i++ {
		p := &byName{hooks: map[string]Handler{
			"Zed_event":                  noop,
			"ChatManager_addChatMessage": noop,
			"Alpha_event":                noop,
			hookUpdate:                   noop,
		}}
		names := r.Subscribe(fmt.Sprintf("script-%d", i), p)
		assert.Equal(t, []string{hookUpdate, "ChatManager_addChatMessage", "Alpha_event", "Zed_event"}, names)
	}
}

func TestRegistry_Subscribe_Twice(t *testing.T) {
	r := testRegistry()
	var order []string
	p := &recorder{name: "a", order: &order}

	assert.NotEmpty(t, r.Subscribe("a", p))
	assert.Nil(t, r.Subscribe("a", p))
	assert.Equal(t, 1, r.Count(hookUpdate))
}

func TestRegistry_Unsubscribe(t *testing.T) {
	r := testRegistry()
	var order []string
	r.Subscribe("a", &recorder{name: "a", order: &order})
	r.Subscribe("b", &recorder{name: "b", order: &order})

	r.Unsubscribe("a")
	r.Dispatch(context.Background(), hookUpdate, 16)
	assert.Equal(t, []string{"b"}, order)
}

func TestRegistry_Dispatch_NoHandlers(t *testing.T) {
	r := testRegistry()
	r.Dispatch(context.Background(), "Nothing_here")
	assert.Equal(t, int64(1), r.Stats().Invocations)
}

func TestCall_Arg(t *testing.T) {
	c := Call{Hook: "h", Args: []any{1, "two"}}
	assert.Equal(t, 1, c.Arg(0))
	assert.Equal(t, "two", c.Arg(1))
	assert.Nil(t, c.Arg(2))
	assert.Nil(t, c.Arg(-1))
}
