package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/mudportal/internal/portal"
	"github.com/cory-johannsen/mudportal/internal/portal/wire"
)

// Conn pointers are only used as registry keys in these tests; the zero
// value is never driven, so no transport or dispatcher wiring is needed.
func testConn() *portal.Conn { return &portal.Conn{} }

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	c1, c2 := testConn(), testConn()

	reg.Register(c1, "websocket", "198.51.100.4:100")
	reg.Register(c2, "websocket", "198.51.100.4:101")
	assert.Equal(t, 2, reg.Count())

	s1, ok := reg.Get(c1)
	require.True(t, ok)
	s2, ok := reg.Get(c2)
	require.True(t, ok)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, "websocket", s1.ChannelKind)
	assert.Equal(t, "198.51.100.4:100", s1.RemoteAddr)
	assert.False(t, s1.ConnectedAt.IsZero())

	reg.Unregister(c1)
	assert.Equal(t, 1, reg.Count())
	_, ok = reg.Get(c1)
	assert.False(t, ok)

	// Unregistering an unknown connection is a no-op.
	reg.Unregister(c1)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_RouteText(t *testing.T) {
	var got []string
	reg := NewRegistry(zaptest.NewLogger(t), func(_ *portal.Conn, text string) {
		got = append(got, text)
	})

	conn := testConn()
	reg.RouteText(conn, "look")
	reg.RouteText(conn, "say hi")

	assert.Equal(t, []string{"look", "say hi"}, got)
}

func TestRegistry_RouteTextNilHandler(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	assert.NotPanics(t, func() {
		reg.RouteText(testConn(), "look")
	})
}

func TestRegistry_RouteOOBFanOutInOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	reg.HandleFunc("f", func(_ *portal.Conn, inst wire.Instruction) {
		calls = append(calls, "f")
	})
	reg.HandleFunc("g", func(_ *portal.Conn, inst wire.Instruction) {
		calls = append(calls, "g")
	})

	reg.RouteOOB(testConn(), wire.Batch{
		{Name: "g"},
		{Name: "f"},
		{Name: "g"},
	})

	assert.Equal(t, []string{"g", "f", "g"}, calls)
}

func TestRegistry_RouteOOBUnknownFunctionSkipped(t *testing.T) {
	var calls []wire.Instruction
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	reg.HandleFunc("known", func(_ *portal.Conn, inst wire.Instruction) {
		calls = append(calls, inst)
	})

	reg.RouteOOB(testConn(), wire.Batch{
		{Name: "mystery"},
		{Name: "known", Args: []any{"x"}},
	})

	require.Len(t, calls, 1)
	assert.Equal(t, "known", calls[0].Name)
	assert.Equal(t, []any{"x"}, calls[0].Args)
}

// lineTransport is a minimal portal.Transport for driving real connections.
type lineTransport struct {
	lines  []string
	closed bool
}

func (t *lineTransport) WriteLine(text string) error {
	t.lines = append(t.lines, text)
	return nil
}
func (t *lineTransport) Close() error { t.closed = true; return nil }

func (t *lineTransport) RemoteAddr() string { return "192.0.2.9:4242" }

func TestRegistry_DisconnectAll(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)
	passthrough := func(text string, _ bool) string { return text }

	t1, t2 := &lineTransport{}, &lineTransport{}
	c1 := portal.NewConn(t1, reg, passthrough, "utf-8", "websocket", zaptest.NewLogger(t))
	c2 := portal.NewConn(t2, reg, passthrough, "utf-8", "websocket", zaptest.NewLogger(t))
	c1.OnConnect()
	c2.OnConnect()
	require.Equal(t, 2, reg.Count())

	reg.DisconnectAll("server restarting")

	assert.Zero(t, reg.Count())
	assert.Equal(t, portal.StateDisconnected, c1.State())
	assert.Equal(t, portal.StateDisconnected, c2.State())
	assert.True(t, t1.closed)
	assert.Equal(t, []string{"server restarting"}, t1.lines)
}

func TestRegistry_OOBWireStructure(t *testing.T) {
	reg := NewRegistry(zaptest.NewLogger(t), nil)

	inst := wire.Instruction{Name: "f", Args: []any{1}}
	batch := wire.Batch{inst, {Name: "g"}}

	assert.Equal(t, wire.Batch{inst}, reg.OOBWireStructure(inst))
	assert.Equal(t, batch, reg.OOBWireStructure(batch))
	assert.Equal(t, batch, reg.OOBWireStructure([]wire.Instruction(batch)))
	assert.Equal(t, wire.Batch{{Name: "ping"}}, reg.OOBWireStructure("ping"))

	// Caller-built structures pass through untouched.
	custom := map[string]any{"shape": "custom"}
	assert.Equal(t, custom, reg.OOBWireStructure(custom))
}
