// Package app wires the wire listener together from config, shared by
// cmd/server (the standalone binary) and cmd/cli's serve subcommand
// (spec's AMBIENT STACK "CLI / admin tooling").
package app

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaydb/relaydb/internal/backend"
	"github.com/relaydb/relaydb/internal/config"
	"github.com/relaydb/relaydb/internal/cursor"
	"github.com/relaydb/relaydb/internal/dispatch"
	"github.com/relaydb/relaydb/internal/docstore"
	"github.com/relaydb/relaydb/internal/olap"
	"github.com/relaydb/relaydb/internal/wire"
)

// Serve opens the document store (and the OLAP backend, if configured),
// binds the wire listener, and blocks until SIGINT/SIGTERM, then drains
// within cfg.Server.ShutdownTimeout.
func Serve(cfg *config.Config, logger *zap.Logger) error {
	store, err := docstore.Open(docstore.Config{
		Path:          cfg.DocStore.Path,
		BusyTimeoutMS: cfg.DocStore.BusyTimeoutMS,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	router := dispatch.Router{Default: store}
	if cfg.OLAP.Enabled {
		olapBackend := olap.NewBackend(olap.Config{
			Endpoint:         cfg.OLAP.Endpoint,
			Database:         cfg.OLAP.Database,
			Username:         cfg.OLAP.Username,
			Password:         cfg.OLAP.Password,
			MaxExecutionTime: cfg.OLAP.MaxExecutionTime,
			PoolSize:         cfg.OLAP.PoolSize,
			UseFinal:         cfg.OLAP.UseFinal,
			MaxRetries:       cfg.OLAP.MaxRetries,
			InitialBackoff:   cfg.OLAP.InitialBackoff,
		}, func(ns string) string { return ns })
		router.OLAP = map[string]backend.Backend{cfg.OLAP.Database: olapBackend}
	}

	cursors := cursor.New(cfg.Server.CursorTTL)
	dispatcher := dispatch.New(router, cursors, logger, cfg.Server.DefaultBatch)

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.String("addr", addr))

	cleanupStop := make(chan struct{})
	go runCursorCleanup(cursors, cleanupStop)
	limiter := rate.NewLimiter(rate.Limit(cfg.Server.AcceptRate), cfg.Server.AcceptBurst)
	go acceptLoop(listener, dispatcher, limiter, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(cleanupStop)
	listener.Close()
	time.Sleep(cfg.Server.ShutdownTimeout)
	logger.Info("shutdown complete")
	return nil
}

func runCursorCleanup(cursors *cursor.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cursors.CleanupExpired()
		case <-stop:
			return
		}
	}
}

// acceptLoop accepts connections and hands each to handleConnection in its
// own goroutine, gated by limiter so a burst of new connections can't starve
// the goroutines already serving requests (the teacher's HTTP middleware
// stack rate-limited per-request; a wire listener has no per-request hook,
// so the same golang.org/x/time/rate budget is spent at accept time
// instead).
func acceptLoop(listener net.Listener, dispatcher *dispatch.Dispatcher, limiter *rate.Limiter, logger *zap.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("accept failed", zap.Error(err))
			continue
		}
		if err := limiter.Wait(context.Background()); err != nil {
			conn.Close()
			continue
		}
		go handleConnection(conn, dispatcher, logger)
	}
}

func handleConnection(conn net.Conn, dispatcher *dispatch.Dispatcher, logger *zap.Logger) {
	defer conn.Close()
	ctx := context.Background()
	for {
		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}

		database, _ := msg.Command["$db"].(string)
		if database == "" {
			database = "admin"
		}

		reply := dispatcher.Handle(ctx, database, msg.Command)
		if err := wire.WriteReply(conn, msg.RequestID, reply); err != nil {
			logger.Debug("write reply failed", zap.Error(err))
			return
		}
	}
}
