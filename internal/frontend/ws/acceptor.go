// Package ws provides the WebSocket frontend for the portal: an HTTP server
// that upgrades connections and drives one portal.Conn per client.
package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mudportal/internal/config"
	"github.com/cory-johannsen/mudportal/internal/portal"
)

// Acceptor listens for WebSocket connections and dispatches each to a
// per-connection protocol adapter. Frames for one connection are delivered
// sequentially from a single read loop.
type Acceptor struct {
	cfg        config.WebSocketConfig
	portalCfg  config.PortalConfig
	dispatcher portal.Dispatcher
	render     portal.RenderFunc
	logger     *zap.Logger

	upgrader websocket.Upgrader
	server   *http.Server

	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	listener net.Listener
	conns    map[*portal.Conn]struct{}
}

// NewAcceptor creates a WebSocket acceptor with the given configuration.
//
// Precondition: dispatcher, render, and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, portalCfg config.PortalConfig, dispatcher portal.Dispatcher, render portal.RenderFunc, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:        cfg,
		portalCfg:  portalCfg,
		dispatcher: dispatcher,
		render:     render,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the fronting proxy; the portal
			// accepts web clients served from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit:  make(chan struct{}),
		conns: make(map[*portal.Conn]struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves WebSocket upgrades on
// the configured path until Stop is called. This method blocks until the
// acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.handleUpgrade)
	server := &http.Server{Handler: mux}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		select {
		case <-a.quit:
			return nil
		default:
			return fmt.Errorf("serving websocket: %w", err)
		}
	}
	return nil
}

// handleUpgrade upgrades one HTTP request and runs the connection's read
// loop in the handler goroutine, so inbound frames are processed one at a
// time per connection.
func (a *Acceptor) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	start := time.Now()
	if a.cfg.MaxMessageBytes > 0 {
		raw.SetReadLimit(a.cfg.MaxMessageBytes)
	}

	conn := portal.NewConn(
		newTransport(raw, a.cfg.WriteTimeout),
		a.dispatcher,
		a.render,
		a.portalCfg.Encoding,
		a.portalCfg.ChannelKind,
		a.logger,
	)

	a.mu.Lock()
	a.conns[conn] = struct{}{}
	a.mu.Unlock()
	a.wg.Add(1)

	defer func() {
		conn.Disconnect("")
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		a.wg.Done()
		a.logger.Debug("read loop ended",
			zap.String("remote_addr", raw.RemoteAddr().String()),
			zap.Duration("duration", time.Since(start)),
		)
	}()

	conn.OnConnect()

	for {
		if a.cfg.ReadTimeout > 0 {
			_ = raw.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}
		msgType, data, err := raw.ReadMessage()
		if err != nil {
			// Read failure is the disconnect signal from below.
			return
		}
		if msgType != websocket.TextMessage {
			a.logger.Debug("ignoring non-text frame",
				zap.Int("message_type", msgType),
			)
			continue
		}
		conn.HandleInbound(string(data))
	}
}

// Stop gracefully stops the acceptor: active connections are disconnected,
// the listener is closed, and all read loops are waited for.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	conns := make([]*portal.Conn, 0, len(a.conns))
	for conn := range a.conns {
		conns = append(conns, conn)
	}
	server := a.server
	a.mu.Unlock()

	for _, conn := range conns {
		conn.Disconnect("server closed")
	}
	if server != nil {
		_ = server.Close()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
