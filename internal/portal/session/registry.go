// Package session tracks connected portal sessions and routes decoded input.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudportal/internal/portal"
	"github.com/cory-johannsen/mudportal/internal/portal/wire"
)

// InputHandler receives plain game input for a connection.
type InputHandler func(conn *portal.Conn, text string)

// OOBFunc handles one out-of-band instruction addressed to it by name.
type OOBFunc func(conn *portal.Conn, inst wire.Instruction)

// Session is the registry's record of one connected client.
type Session struct {
	// ID is the unique session identifier.
	ID string
	// ChannelKind is the logical transport channel ("websocket").
	ChannelKind string
	// RemoteAddr is the client's remote network address.
	RemoteAddr string
	// ConnectedAt is when the connection registered.
	ConnectedAt time.Time
}

// Registry tracks active sessions and fans decoded input out to handlers.
// It implements portal.Dispatcher and is shared across all connections;
// all methods are safe for concurrent use.
type Registry struct {
	logger *zap.Logger
	input  InputHandler

	mu       sync.RWMutex
	sessions map[*portal.Conn]*Session
	oobFuncs map[string]OOBFunc
}

// NewRegistry creates an empty session Registry. The input handler receives
// all plain text input; a nil handler logs and drops input.
//
// Precondition: logger must be non-nil.
func NewRegistry(logger *zap.Logger, input InputHandler) *Registry {
	return &Registry{
		logger:   logger,
		input:    input,
		sessions: make(map[*portal.Conn]*Session),
		oobFuncs: make(map[string]OOBFunc),
	}
}

// HandleFunc registers a handler for out-of-band instructions with the given
// function name. Registering the same name again replaces the handler.
//
// Precondition: name must be non-empty; fn must be non-nil.
func (r *Registry) HandleFunc(name string, fn OOBFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oobFuncs[name] = fn
}

// Register adds a newly connected portal connection.
func (r *Registry) Register(conn *portal.Conn, channelKind, remoteAddr string) {
	sess := &Session{
		ID:          uuid.NewString(),
		ChannelKind: channelKind,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[conn] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	r.logger.Info("session registered",
		zap.String("session_id", sess.ID),
		zap.String("channel", channelKind),
		zap.String("remote_addr", remoteAddr),
		zap.Int("active_sessions", count),
	)
}

// Unregister removes a connection's session. Unknown connections are a no-op
// so teardown races stay harmless.
func (r *Registry) Unregister(conn *portal.Conn) {
	r.mu.Lock()
	sess, ok := r.sessions[conn]
	if ok {
		delete(r.sessions, conn)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.logger.Info("session unregistered",
		zap.String("session_id", sess.ID),
		zap.Duration("session_duration", time.Since(sess.ConnectedAt)),
		zap.Int("active_sessions", count),
	)
}

// RouteText delivers plain game input to the input handler.
func (r *Registry) RouteText(conn *portal.Conn, text string) {
	if r.input == nil {
		r.logger.Debug("no input handler, dropping text input",
			zap.String("text", text),
		)
		return
	}
	r.input(conn, text)
}

// RouteOOB fans a batch out to registered handlers, one instruction at a
// time, in batch order. Instructions with no registered handler are logged
// and skipped; the rest of the batch still runs.
func (r *Registry) RouteOOB(conn *portal.Conn, batch wire.Batch) {
	for _, inst := range batch {
		r.mu.RLock()
		fn, ok := r.oobFuncs[inst.Name]
		r.mu.RUnlock()

		if !ok {
			r.logger.Warn("no handler for OOB function",
				zap.String("function", inst.Name),
			)
			continue
		}
		fn(conn, inst)
	}
}

// OOBWireStructure normalizes an outbound OOB payload into the batch-of-
// triples structure that goes on the wire. Instructions and batches pass
// through in wire shape; a bare string becomes a no-argument instruction;
// anything else is already a caller-built structure and is sent as-is.
func (r *Registry) OOBWireStructure(payload any) any {
	switch p := payload.(type) {
	case wire.Instruction:
		return wire.Batch{p}
	case []wire.Instruction:
		return wire.Batch(p)
	case wire.Batch:
		return p
	case string:
		return wire.Batch{{Name: p}}
	default:
		return payload
	}
}

// Get returns the session record for a connection.
//
// Postcondition: Returns (session, true) if registered, or (nil, false) otherwise.
func (r *Registry) Get(conn *portal.Conn) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[conn]
	return sess, ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DisconnectAll asks every active connection to disconnect with the given
// reason. Used for server shutdown.
func (r *Registry) DisconnectAll(reason string) {
	r.mu.RLock()
	conns := make([]*portal.Conn, 0, len(r.sessions))
	for conn := range r.sessions {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		conn.Disconnect(reason)
	}
}
