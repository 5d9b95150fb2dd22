// Package portal implements the per-connection protocol adapter between a
// text-message transport and the session dispatcher. Each Conn demultiplexes
// inbound frames into game input or out-of-band instruction batches, encodes
// outbound text and OOB payloads into wire frames, and tracks the connection
// lifecycle. Malformed input is logged and dropped; it never tears down the
// connection or reaches the dispatcher.
package portal

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudportal/internal/portal/textenc"
	"github.com/cory-johannsen/mudportal/internal/portal/wire"
)

// Transport delivers wire frames for one client connection. Write failures
// are treated as a disconnect signal.
type Transport interface {
	// WriteLine sends one logical text message to the client.
	WriteLine(text string) error
	// Close releases the underlying connection.
	Close() error
	// RemoteAddr returns the client's remote network address.
	RemoteAddr() string
}

// Dispatcher is the session registry and input router shared across all
// connections. It is injected at construction so tests can substitute a
// fake; implementations must be safe for concurrent use.
type Dispatcher interface {
	// Register adds a newly connected Conn under its logical channel kind.
	Register(c *Conn, channelKind, remoteAddr string)
	// Unregister removes a Conn. Called exactly once per connection.
	Unregister(c *Conn)
	// RouteText delivers plain game input.
	RouteText(c *Conn, text string)
	// RouteOOB delivers a decoded instruction batch, preserving order.
	RouteOOB(c *Conn, batch wire.Batch)
	// OOBWireStructure normalizes an outbound OOB payload into the
	// structure that is JSON-encoded onto the wire.
	OOBWireStructure(payload any) any
}

// RenderFunc is the markup transform applied to outbound text. When strip is
// true all markup tokens are removed instead of translated.
type RenderFunc func(text string, strip bool) string

// State is the connection lifecycle state.
type State int

const (
	// StateInit is the state before the transport reports the connection.
	StateInit State = iota
	// StateConnected means the Conn is registered and may send and receive.
	StateConnected
	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SendOptions controls how a single outbound call is encoded.
type SendOptions struct {
	// OOB, when non-nil, is a payload encoded as a separate prefixed wire
	// line, written before any accompanying text line.
	OOB any
	// Raw sends the text verbatim with no markup transform.
	Raw bool
	// NoMarkup strips markup tokens instead of translating them. Ignored
	// when Raw is set.
	NoMarkup bool
}

// Conn is the protocol adapter for one client connection.
type Conn struct {
	transport   Transport
	dispatcher  Dispatcher
	render      RenderFunc
	logger      *zap.Logger
	encoding    string
	channelKind string

	mu         sync.Mutex
	state      State
	remoteAddr string
}

// NewConn creates the adapter for one accepted transport connection.
// The connection starts in StateInit; nothing is dispatched until OnConnect.
//
// Precondition: transport, dispatcher, render, and logger must be non-nil.
func NewConn(transport Transport, dispatcher Dispatcher, render RenderFunc, encoding, channelKind string, logger *zap.Logger) *Conn {
	return &Conn{
		transport:   transport,
		dispatcher:  dispatcher,
		render:      render,
		logger:      logger,
		encoding:    encoding,
		channelKind: channelKind,
		state:       StateInit,
	}
}

// OnConnect transitions Init to Connected and registers the connection with
// the dispatcher under its channel kind. Calls after the first are no-ops.
func (c *Conn) OnConnect() {
	c.mu.Lock()
	if c.state != StateInit {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.remoteAddr = c.transport.RemoteAddr()
	addr := c.remoteAddr
	c.mu.Unlock()

	c.dispatcher.Register(c, c.channelKind, addr)
	c.logger.Info("client connected",
		zap.String("remote_addr", addr),
		zap.String("channel", c.channelKind),
	)
}

// Disconnect tears the connection down. A non-empty reason is sent to the
// client as a final text frame, best-effort. Safe to call from either the
// transport or the dispatcher side, and safe to call more than once: the
// dispatcher is unregistered exactly once and repeat calls are no-ops.
func (c *Conn) Disconnect(reason string) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	addr := c.remoteAddr
	c.mu.Unlock()

	if reason != "" && wasConnected {
		// Best-effort farewell. The state is already Disconnected, so a
		// write failure inside emit cannot re-enter teardown.
		c.emit(reason, SendOptions{})
	}

	if wasConnected {
		c.dispatcher.Unregister(c)
	}
	_ = c.transport.Close()

	c.logger.Info("client disconnected",
		zap.String("remote_addr", addr),
		zap.String("reason", reason),
	)
}

// HandleInbound processes one frame from the transport. Frames arriving
// after disconnection are dropped. A malformed OOB frame is logged with its
// raw payload and discarded; the connection remains usable.
func (c *Conn) HandleInbound(frame string) {
	if c.State() == StateDisconnected {
		c.logger.Debug("dropping frame after disconnect")
		return
	}

	msg, err := wire.ParseInbound(frame)
	if err != nil {
		c.logger.Warn("malformed OOB request",
			zap.String("frame", frame),
			zap.Error(err),
		)
		return
	}

	switch msg.Kind {
	case wire.KindText:
		c.dispatcher.RouteText(c, msg.Text)
	case wire.KindOOB:
		c.dispatcher.RouteOOB(c, msg.OOB)
	}
}

// Send encodes an outbound call into wire frames. An OOB payload, when
// present, is written first as its own prefixed line. The text line follows
// unless the call carried an OOB payload and no text, in which case no text
// line is written. Encoding and transform failures are contained: a
// diagnostic line is delivered in place of the content and the call returns.
// Sends after disconnection are dropped.
func (c *Conn) Send(text string, opts SendOptions) {
	if c.State() != StateConnected {
		c.logger.Debug("dropping send on inactive connection",
			zap.Stringer("state", c.State()),
		)
		return
	}

	c.emit(text, opts)
}

// emit performs the actual frame encoding without the lifecycle gate, so
// Disconnect can reuse it for the farewell frame. The conversion step runs
// first: on failure a single diagnostic line replaces the whole call,
// including any OOB payload (degraded delivery, never a dropped connection).
func (c *Conn) emit(text string, opts SendOptions) {
	converted, err := textenc.Convert(text, c.encoding)
	if err != nil {
		c.logger.Warn("encoding conversion failed",
			zap.String("encoding", c.encoding),
			zap.Error(err),
		)
		c.write(fmt.Sprintf("could not encode output as %s: %v", c.encoding, err))
		return
	}

	if opts.OOB != nil {
		structure := c.dispatcher.OOBWireStructure(opts.OOB)
		line, err := wire.EncodeOOB(structure)
		if err != nil {
			c.logger.Warn("encoding OOB payload", zap.Error(err))
		} else {
			c.write(line)
		}
		// An OOB-only call produces no text line.
		if text == "" {
			return
		}
	}

	if opts.Raw {
		c.write(converted)
		return
	}
	c.write(c.render(converted, opts.NoMarkup))
}

// write hands one wire line to the transport. A write failure is a
// disconnect signal from below; teardown is idempotent so a failure during
// teardown itself is harmless.
func (c *Conn) write(line string) {
	if err := c.transport.WriteLine(line); err != nil {
		c.logger.Debug("transport write failed", zap.Error(err))
		c.Disconnect("")
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteAddr returns the client's remote address, empty before OnConnect.
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}
