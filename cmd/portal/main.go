// Package main provides the WebSocket portal server. It accepts client
// connections, demultiplexes game input from out-of-band instructions, and
// routes both through the session registry.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mudportal/internal/config"
	"github.com/cory-johannsen/mudportal/internal/frontend/ws"
	"github.com/cory-johannsen/mudportal/internal/observability"
	"github.com/cory-johannsen/mudportal/internal/portal"
	"github.com/cory-johannsen/mudportal/internal/portal/markup"
	"github.com/cory-johannsen/mudportal/internal/portal/session"
	"github.com/cory-johannsen/mudportal/internal/portal/wire"
	"github.com/cory-johannsen/mudportal/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting portal",
		zap.String("websocket_addr", cfg.WebSocket.Addr()),
		zap.String("websocket_path", cfg.WebSocket.Path),
		zap.String("encoding", cfg.Portal.Encoding),
	)

	// Until a game backend is attached, input is acknowledged back to the
	// sender so the wire path can be exercised end to end.
	registry := session.NewRegistry(logger, func(conn *portal.Conn, text string) {
		logger.Debug("game input",
			zap.String("remote_addr", conn.RemoteAddr()),
			zap.String("text", text),
		)
		conn.Send("\033[2m> "+text+"\033[0m", portal.SendOptions{})
	})

	registry.HandleFunc("echo", func(conn *portal.Conn, inst wire.Instruction) {
		conn.Send("", portal.SendOptions{OOB: inst})
	})
	registry.HandleFunc("ping", func(conn *portal.Conn, inst wire.Instruction) {
		conn.Send("", portal.SendOptions{OOB: wire.Instruction{Name: "pong", Args: inst.Args}})
	})

	acceptor := ws.NewAcceptor(cfg.WebSocket, cfg.Portal, registry, markup.Render, logger)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			registry.DisconnectAll("server shutting down")
			acceptor.Stop()
		},
	})

	logger.Info("portal initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
